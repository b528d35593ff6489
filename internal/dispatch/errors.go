package dispatch

import "errors"

// Sentinel errors for the outbound dispatcher (spec §7): the small set
// of fatal-to-the-caller conditions it can report.
var (
	// ErrNoTargets is returned when SendToNodes is called with an empty
	// node-set (spec §4.1 step 1, §7).
	ErrNoTargets = errors.New("dispatch: no target nodes")

	// ErrQuorumUnreachable is returned when the configured quorum
	// exceeds the target node-set size and the partition's
	// FailWhenAvailableLessThanQuorum policy is set (spec §4.1.1, §7,
	// §8 P4).
	ErrQuorumUnreachable = errors.New("dispatch: quorum unreachable")

	// ErrDispatchFailed wraps any failure during the broadcast-under-
	// lock step: lock acquisition timeout, offer timeout, or
	// accumulated per-node offer errors (spec §4.1 step 10, §7).
	ErrDispatchFailed = errors.New("dispatch: broadcast failed")

	// ErrTotalTimeout is returned when no node has responded by the time
	// the task's total timeout elapses (spec §4.1.2(c), §7).
	ErrTotalTimeout = errors.New("dispatch: total timeout exceeded")
)
