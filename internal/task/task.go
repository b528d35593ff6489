// Package task defines the request/response data model and the Task
// capability interface the outbound dispatcher and inbound executor
// operate on (spec §3 "Request"/"Response", §6 "task" capability set).
package task

import (
	"context"
	"time"
)

// QuorumType selects how a dispatch's quorum is computed (spec §4.1.1).
type QuorumType int

const (
	QuorumNone QuorumType = iota
	QuorumRead
	QuorumWrite
	QuorumAll
)

func (q QuorumType) String() string {
	switch q {
	case QuorumNone:
		return "NONE"
	case QuorumRead:
		return "READ"
	case QuorumWrite:
		return "WRITE"
	case QuorumAll:
		return "ALL"
	default:
		return "UNKNOWN"
	}
}

// ResultStrategy selects how per-node responses are reduced to one
// aggregated result (spec §4.3, GLOSSARY "Result strategy").
type ResultStrategy int

const (
	ResultFirst ResultStrategy = iota
	ResultMajority
	ResultUnion
	ResultAny
)

func (r ResultStrategy) String() string {
	switch r {
	case ResultFirst:
		return "FIRST"
	case ResultMajority:
		return "MAJORITY"
	case ResultUnion:
		return "UNION"
	case ResultAny:
		return "ANY"
	default:
		return "UNKNOWN"
	}
}

// ExecutionMode selects whether a dispatch waits for responses (spec §3).
type ExecutionMode int

const (
	ModeResponse ExecutionMode = iota
	ModeNoResponse
	ModeResync
)

// Task is the capability set every dispatched request's payload exposes
// (spec §3, §6). Implementations are expected to be small, serializable
// value types; TaskType returns a stable tag used for the inbound
// executor's wait_for_task_type gating instead of reflective type
// comparison (spec §9 design note).
type Task interface {
	QuorumType() QuorumType
	ResultStrategy() ResultStrategy

	// SynchronousTimeout bounds how long the ResponseManager waits for
	// expectedSync responses before returning best-effort (spec §4.1.2).
	SynchronousTimeout(expectedSync int) time.Duration

	// TotalTimeout bounds how long the ResponseManager waits overall
	// before failing with TotalTimeout (spec §4.1.2).
	TotalTimeout(queueSize int) time.Duration

	// RequiresNodeOnline gates execution on the inbound executor's
	// online flag (spec §3 invariant I5, §4.2 WAITING_FOR_ONLINE).
	RequiresNodeOnline() bool

	// TaskType is a stable tag compared with == by the inbound
	// executor's wait_for_task_type filter (spec §9).
	TaskType() string

	// Execute runs the task against the local database. sender is the
	// node name the request originated from. Implementations must treat
	// replays (ctx carrying IsReplicated) as idempotent (spec §8 P2).
	Execute(ctx context.Context, db LocalDatabase, sender string) ([]byte, error)

	// Equal reports whether two payloads produced by different nodes
	// should be considered the same response for ResultMajority's modal
	// comparison (spec §4.3).
	Equal(a, b []byte) bool
}

// LocalDatabase is the narrow contract the coordinator needs from the
// in-process document store it replicates writes into (spec §6 "Local
// database contract"). Serialization of requests/responses and the
// query/expression layer are out of scope (spec §1) and live entirely
// behind this interface.
type LocalDatabase interface {
	Execute(ctx context.Context, req *Request) ([]byte, error)
	ClearLevel1Cache()
	Close() error
}

// Request is a single outbound/inbound replication message (spec §3).
type Request struct {
	ID       string
	Sender   string
	Database string
	// Cluster is the shard name; nil is resolved as the empty shard
	// name "".
	Cluster *string
	Task    Task
	Mode    ExecutionMode
}

// Response is a single node's reply to a Request (spec §3). Err is set
// when the task raised ExecutorTaskError (spec §7); Payload carries
// whatever the task returned alongside the error, and response
// reduction ignores it whenever Err is set.
type Response struct {
	RequestID string
	FromNode  string
	ToNode    string
	Payload   []byte
	Err       error
}

type replicatedKey struct{}

// WithReplicated scopes ctx to mark that execution originates from the
// inbound executor's PROCESSING state, so LocalDatabase implementations
// can suppress re-broadcasting writes they perform (spec §4.2 step 2,
// §9 "ambient thread-local distributed run mode" design note — resolved
// here as an explicit context value instead of a thread-local).
func WithReplicated(ctx context.Context) context.Context {
	return context.WithValue(ctx, replicatedKey{}, true)
}

// IsReplicated reports whether ctx was scoped by WithReplicated.
func IsReplicated(ctx context.Context) bool {
	v, _ := ctx.Value(replicatedKey{}).(bool)
	return v
}

// ResyncTask is the built-in anti-entropy task the recovery coordinator
// dispatches to its own partition on every resync tick (spec §4.4,
// scenario 6). Its Execute is a no-op ack: real anti-entropy logic
// (diffing and repairing divergent state) belongs to the local database
// and is invoked via the sync hook, not implemented here.
type ResyncTask struct {
	// SyncHook, if set, is invoked during Execute so callers can observe
	// or drive real anti-entropy behavior; nil means "ack only".
	SyncHook             func(ctx context.Context, db LocalDatabase, sender string) ([]byte, error)
	SyncTimeout          time.Duration
	TotalTimeoutDuration time.Duration
}

func (r ResyncTask) QuorumType() QuorumType { return QuorumWrite }

func (r ResyncTask) ResultStrategy() ResultStrategy { return ResultAny }

func (r ResyncTask) SynchronousTimeout(int) time.Duration {
	if r.SyncTimeout > 0 {
		return r.SyncTimeout
	}
	return 5 * time.Second
}

func (r ResyncTask) TotalTimeout(int) time.Duration {
	if r.TotalTimeoutDuration > 0 {
		return r.TotalTimeoutDuration
	}
	return 30 * time.Second
}

func (r ResyncTask) RequiresNodeOnline() bool { return true }

func (r ResyncTask) TaskType() string { return "resync" }

func (r ResyncTask) Equal(a, b []byte) bool { return string(a) == string(b) }

func (r ResyncTask) Execute(ctx context.Context, db LocalDatabase, sender string) ([]byte, error) {
	if r.SyncHook != nil {
		return r.SyncHook(ctx, db, sender)
	}
	return []byte("resync-ack"), nil
}
