// Package response implements the per-request ResponseManager of spec
// §4.3: it aggregates per-node responses to one outbound dispatch,
// enforces the synchronous-response threshold and timeouts, and reduces
// the collected responses per the task's ResultStrategy.
package response

import (
	"bytes"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNoResponses is returned by GetResponse when no non-error payload
// was ever recorded.
var ErrNoResponses = errors.New("response: no responses recorded")

// received is one node's recorded response: a payload, or an error, in
// which case the payload is ignored by every reduction.
type received struct {
	node    string
	payload []byte
	err     error
	seq     int
}

// EqualFunc compares two payloads for the purposes of ResultMajority's
// modal comparison; it is the task's equality, not a fixed byte compare,
// since a task may want semantic equality (spec §4.3).
type EqualFunc func(a, b []byte) bool

// Manager is the ResponseManager of spec §4.3. One Manager exists per
// in-flight outbound request (spec §2 component 4). Uses a
// mutex+condition-variable+counter idiom: "signal on a condition
// variable" rather than "poll on a ticker", because a ResponseManager
// must wake the instant a response lands, not on the next tick, and a
// counter-reaches-threshold check to decide when to signal the waiter.
// Thread Safety:
// All exported Manager methods are safe for concurrent use. OnResponse
// is expected to be called once per node's reply, from whatever
// goroutine demultiplexes the response queue; WaitForSynchronousResponses
// and GetResponse are expected to be called once each by the dispatcher
// that created the Manager, but nothing prevents additional callers.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	expectedSync int
	waitLocal    bool
	localNode    string

	syncTimeout  time.Duration
	totalTimeout time.Duration
	startedAt    time.Time

	responses      []received
	receivedFrom   map[string]bool
	receivedLocal  bool
	thresholdReach bool
	closed         bool
	nextSeq        int
}

// New creates a Manager for a dispatch expecting expectedSync
// synchronous responses (clamped per spec §4.1 step 5), optionally
// requiring the local node specifically (read-your-writes, spec §4.1
// step 6 / §8 P6), with the given synchronous and total timeouts
// (spec §4.1 step 7).
//
// Parameters:
//   - expectedSync: number of distinct nodes' responses to wait for
//     before WaitForSynchronousResponses returns WaitThresholdMet.
//   - waitLocal: when true, the threshold additionally requires a
//     response specifically from localNode (read-your-writes).
//   - localNode: the node name waitLocal checks against; ignored when
//     waitLocal is false.
//   - syncTimeout, totalTimeout: measured from the instant New is
//     called (see WaitForSynchronousResponses).
//
// Returns a Manager ready to record responses via OnResponse.
func New(expectedSync int, waitLocal bool, localNode string, syncTimeout, totalTimeout time.Duration) *Manager {
	m := &Manager{
		expectedSync: expectedSync,
		waitLocal:    waitLocal,
		localNode:    localNode,
		syncTimeout:  syncTimeout,
		totalTimeout: totalTimeout,
		startedAt:    time.Now(),
		receivedFrom: make(map[string]bool),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// OnResponse records fromNode's response and wakes any waiter if the
// synchronous threshold is now met (spec §4.3 on_response). A node that
// responds more than once (e.g. a duplicate delivery) only counts once
// toward the threshold but every response is retained for GetResponse.
//
// Parameters:
//   - fromNode: the responding node's name.
//   - payload: the response payload; ignored by reduction strategies
//     when err is non-nil.
//   - err: the per-node error, if the task failed on that node; nil on
//     success.
//
// Thread Safety: safe to call concurrently with other OnResponse calls
// and with WaitForSynchronousResponses/GetResponse/Close. A no-op after
// Close.
func (m *Manager) OnResponse(fromNode string, payload []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.nextSeq++
	m.responses = append(m.responses, received{node: fromNode, payload: payload, err: err, seq: m.nextSeq})
	if !m.receivedFrom[fromNode] {
		m.receivedFrom[fromNode] = true
	}
	if fromNode == m.localNode {
		m.receivedLocal = true
	}

	if m.thresholdMet() {
		m.thresholdReach = true
		m.cond.Broadcast()
	}
}

// thresholdMet implements spec §4.1.2(a): at least expectedSync
// responses received, and if waitLocal, the local node is among them
// (spec §8 P6). Must be called with m.mu held.
func (m *Manager) thresholdMet() bool {
	if len(m.receivedFrom) < m.expectedSync {
		return false
	}
	if m.waitLocal && !m.receivedLocal {
		return false
	}
	return true
}

// WaitResult reports which of the three outcomes in spec §4.1.2 ended
// the wait.
type WaitResult int

const (
	WaitThresholdMet WaitResult = iota
	WaitSynchronousTimeout
	WaitTotalTimeout
)

// WaitForSynchronousResponses blocks until the threshold is met, the
// synchronous timeout elapses, or the total timeout elapses (spec
// §4.1.2). The synchronous timeout ends the wait only when at least one
// node has responded; with no response at all, the wait continues until
// the total timeout. Both timeouts are measured from the instant the
// Manager was created. The dispatcher creates it before it takes the
// broadcast lock, so the lock wait and the queue offers count against
// both timeouts.
//
// Returns one of WaitThresholdMet, WaitSynchronousTimeout, or
// WaitTotalTimeout; the caller decides what to do next (spec §4.1.2(b)-(c)
// — dispatch.Dispatcher.collect still attempts a best-effort GetResponse
// after WaitSynchronousTimeout).
//
// Thread Safety: intended to be called once, by the goroutine that
// created the Manager; concurrent calls would all observe the same
// threshold/timeout state and return compatible results, but there is
// no use case for more than one waiter.
func (m *Manager) WaitForSynchronousResponses() WaitResult {
	deadline := m.startedAt.Add(m.syncTimeout)
	totalDeadline := m.startedAt.Add(m.totalTimeout)

	timer := time.AfterFunc(time.Until(deadline), func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer timer.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.thresholdReach {
		now := time.Now()
		if now.After(totalDeadline) || now.Equal(totalDeadline) {
			return WaitTotalTimeout
		}
		if now.After(deadline) || now.Equal(deadline) {
			if len(m.receivedFrom) > 0 {
				return WaitSynchronousTimeout
			}
			// Nothing has arrived yet: keep waiting, with the timer
			// re-armed for the total deadline.
			timer.Reset(time.Until(totalDeadline))
		}
		m.cond.Wait()
	}
	return WaitThresholdMet
}

// Close marks the Manager closed; subsequent OnResponse calls are
// no-ops. Callers must still call messaging.Service.UnregisterPending to
// remove it from the pending-request registry (spec §3 "PendingRequest"
// lifetime).
//
// Thread Safety: safe to call concurrently with OnResponse and
// WaitForSynchronousResponses; wakes any waiter immediately.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}

// ReceivedCount returns how many distinct nodes have responded so far.
func (m *Manager) ReceivedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.receivedFrom)
}

// GetResponse reduces the recorded responses per strategy (spec §4.3).
//
// Parameters:
//   - strategy: which reduction to apply (StrategyFirst/Any,
//     StrategyUnion, StrategyMajority).
//   - equal: the task's payload-equality function, used only by
//     StrategyMajority's modal grouping; may be nil, in which case a
//     plain byte-equal comparison is used.
//
// Returns:
//   - the reduced payload and nil error, if at least one non-error
//     response was recorded.
//   - nil and ErrNoResponses if every recorded response (or no response
//     at all) was an error.
//
// Thread Safety: safe to call concurrently with OnResponse; takes a
// snapshot of the recorded responses under lock before reducing.
func (m *Manager) GetResponse(strategy Strategy, equal EqualFunc) ([]byte, error) {
	m.mu.Lock()
	items := make([]received, len(m.responses))
	copy(items, m.responses)
	m.mu.Unlock()

	var ok []received
	for _, r := range items {
		if r.err == nil {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return nil, ErrNoResponses
	}

	switch strategy {
	case StrategyFirst, StrategyAny:
		sort.Slice(ok, func(i, j int) bool { return ok[i].seq < ok[j].seq })
		return ok[0].payload, nil
	case StrategyUnion:
		return unionPayloads(ok), nil
	case StrategyMajority:
		return majorityPayload(ok, equal), nil
	default:
		sort.Slice(ok, func(i, j int) bool { return ok[i].seq < ok[j].seq })
		return ok[0].payload, nil
	}
}

// Strategy mirrors task.ResultStrategy without importing the task
// package, keeping response dependency-free of task/dispatch so it can
// be unit tested in isolation.
type Strategy int

const (
	StrategyFirst Strategy = iota
	StrategyMajority
	StrategyUnion
	StrategyAny
)

// unionPayloads concatenates every payload, duplicates included, in
// arrival order with a newline separator — the generic, strategy-agnostic fallback a task's own
// Execute/merge logic can refine (spec §4.3 "the task knows how").
func unionPayloads(items []received) []byte {
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	var buf bytes.Buffer
	for i, r := range items {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(r.payload)
	}
	return buf.Bytes()
}

// majorityPayload picks the modal payload per equal, tie-breaking
// deterministically by payload hash then responder name (spec §4.3).
func majorityPayload(items []received, equal EqualFunc) []byte {
	if equal == nil {
		equal = func(a, b []byte) bool { return bytes.Equal(a, b) }
	}
	type group struct {
		payload []byte
		count   int
		firstOf string
	}
	var groups []group
	for _, r := range items {
		found := false
		for i := range groups {
			if equal(groups[i].payload, r.payload) {
				groups[i].count++
				found = true
				break
			}
		}
		if !found {
			groups = append(groups, group{payload: r.payload, count: 1, firstOf: r.node})
		}
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		hi, hj := payloadHash(groups[i].payload), payloadHash(groups[j].payload)
		if hi != hj {
			return hi < hj
		}
		return groups[i].firstOf < groups[j].firstOf
	})
	return groups[0].payload
}

func payloadHash(b []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}
