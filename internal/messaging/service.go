package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dreamware/replicator/internal/primitives"
	"github.com/dreamware/replicator/internal/response"
	"github.com/dreamware/replicator/internal/task"
)

// ClusterFactory creates the named cluster primitives a Service vends.
// Production code supplies a factory backed by a real distributed map/
// queue/lock service; tests use NewMemoryClusterFactory.
type ClusterFactory interface {
	Queue(name string) primitives.Queue[*task.Request]
	ResponseQueue(name string) primitives.Queue[*task.Response]
	UndoMap(name string) primitives.Map[string, *task.Request]
	Lock(name string) primitives.Mutex
}

// memoryClusterFactory backs ClusterFactory with process-local
// primitives, memoizing handles by name so repeated calls for the same
// name return the same instance — the in-process analogue of a real
// cluster service's "same name resolves to the same durable object"
// guarantee.
type memoryClusterFactory struct {
	mu       sync.Mutex
	queues   map[string]primitives.Queue[*task.Request]
	respQs   map[string]primitives.Queue[*task.Response]
	undoMaps map[string]primitives.Map[string, *task.Request]
	locks    map[string]primitives.Mutex
}

// NewMemoryClusterFactory creates a ClusterFactory backed entirely by
// in-process primitives (primitives.MemoryQueue/MemoryMap/MemoryMutex).
func NewMemoryClusterFactory() ClusterFactory {
	return &memoryClusterFactory{
		queues:   make(map[string]primitives.Queue[*task.Request]),
		respQs:   make(map[string]primitives.Queue[*task.Response]),
		undoMaps: make(map[string]primitives.Map[string, *task.Request]),
		locks:    make(map[string]primitives.Mutex),
	}
}

func (f *memoryClusterFactory) Queue(name string) primitives.Queue[*task.Request] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queues[name]; ok {
		return q
	}
	q := primitives.NewMemoryQueue[*task.Request]()
	f.queues[name] = q
	return q
}

func (f *memoryClusterFactory) ResponseQueue(name string) primitives.Queue[*task.Response] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.respQs[name]; ok {
		return q
	}
	q := primitives.NewMemoryQueue[*task.Response]()
	f.respQs[name] = q
	return q
}

func (f *memoryClusterFactory) UndoMap(name string) primitives.Map[string, *task.Request] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.undoMaps[name]; ok {
		return m
	}
	m := primitives.NewMemoryMap[string, *task.Request]()
	f.undoMaps[name] = m
	return m
}

func (f *memoryClusterFactory) Lock(name string) primitives.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.locks[name]; ok {
		return l
	}
	l := primitives.NewMemoryMutex()
	f.locks[name] = l
	return l
}

// Service names and vends request/response/undo/lock handles and holds
// the pending-request registry that demultiplexes inbound responses by
// request id (spec §2 component 3, §3 "PendingRequest"). Service itself
// caches no handles: memoization by name is the ClusterFactory's job
// (spec §9 "static per-process queue cache" design note, resolved in
// memoryClusterFactory as an explicit owned cache rather than a
// package-level global).
type Service struct {
	factory ClusterFactory

	mu      sync.Mutex
	pending map[string]*response.Manager
}

// NewService creates a Service backed by factory.
func NewService(factory ClusterFactory) *Service {
	return &Service{
		factory: factory,
		pending: make(map[string]*response.Manager),
	}
}

// RequestQueue returns node's request queue for database.
func (s *Service) RequestQueue(node, database string) primitives.Queue[*task.Request] {
	return s.factory.Queue(RequestQueueName(node, database))
}

// ResponseQueue returns node's response queue.
func (s *Service) ResponseQueue(node string) primitives.Queue[*task.Response] {
	return s.factory.ResponseQueue(ResponseQueueName(node))
}

// UndoMap returns the undo-record map for (node, database).
func (s *Service) UndoMap(node, database string) primitives.Map[string, *task.Request] {
	return s.factory.UndoMap(UndoMapName(node, database))
}

// RequestLock returns the per-database broadcast mutex.
func (s *Service) RequestLock(database string) primitives.Mutex {
	return s.factory.Lock(RequestLockName(database))
}

// NewRequestID generates a cluster-unique id for requests the caller
// leaves blank, satisfying spec §3 invariant I1. UUIDv4 is used absent a
// cluster-wide sequence generator (SPEC_FULL §3).
func (s *Service) NewRequestID() string {
	return uuid.NewString()
}

// RegisterPending registers mgr under id so an inbound response can be
// demultiplexed to it (spec §3 "PendingRequest"). Returns an error if id
// is already registered, which would violate I1.
func (s *Service) RegisterPending(id string, mgr *response.Manager) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[id]; exists {
		return fmt.Errorf("messaging: request id %q already registered", id)
	}
	s.pending[id] = mgr
	return nil
}

// UnregisterPending removes id's registration. Called when the
// ResponseManager closes: quorum reached, total timeout elapsed, or all
// nodes responded (spec §3 "PendingRequest" lifetime).
func (s *Service) UnregisterPending(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// Dispatch routes resp to its registered ResponseManager, if any. A
// response for an id with no registration (already closed, or never
// registered) is dropped — this is expected for late responses arriving
// after a ResponseManager has already reached quorum (spec scenario 1:
// "the third's later response is discarded but recorded").
func (s *Service) Dispatch(resp *task.Response) bool {
	s.mu.Lock()
	mgr, ok := s.pending[resp.RequestID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	mgr.OnResponse(resp.FromNode, resp.Payload, resp.Err)
	return true
}

// ListenForResponses drains node's response queue until ctx is
// canceled, dispatching every response it receives. Callers run this as
// a background goroutine per node, as cmd/replicator's server does (mirrors the
// inbound executor's dedicated per-(node,database) goroutine, but for
// the per-node response queue instead).
func (s *Service) ListenForResponses(ctx context.Context, node string) error {
	q := s.ResponseQueue(node)
	for {
		resp, err := q.Take(ctx)
		if err != nil {
			return err
		}
		s.Dispatch(resp)
	}
}
