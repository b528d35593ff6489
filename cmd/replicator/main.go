// Command replicator runs one replication coordinator process: an
// outbound dispatcher, a recovery coordinator, and an inbound executor
// per (node, database) pair it has been told to host.
//
// Because the messaging layer's cluster primitives (queues, locks, the
// undo map) are provided in-process by messaging.NewMemoryClusterFactory
// rather than a real distributed backend — spec.md's own Non-goals
// leave "a pre-existing cluster primitive providing cluster-wide
// ordered queues and locks" external to this design — this binary plays
// every configured node's role in a single process. A production
// deployment would run one process per node against a shared
// ClusterFactory implementation backed by that external primitive; the
// HTTP surface below, the dispatcher, and the recovery coordinator
// would not change.
//
// Configuration:
//   - REPLICATOR_NODE_ID: this process's local node identity (required)
//   - REPLICATOR_PEERS: comma-separated additional node identities to
//     simulate alongside the local one
//   - REPLICATOR_LISTEN: HTTP listen address (default ":8090")
//   - REPLICATOR_QUEUE_TIMEOUT, REPLICATOR_LOCK_TIMEOUT,
//     REPLICATOR_CHURN_DEBOUNCE, REPLICATOR_LOG_LEVEL: see
//     internal/telemetry.
//
// Example usage:
//
//	REPLICATOR_NODE_ID=n1 REPLICATOR_PEERS=n2,n3 ./replicator
//
//	curl -X POST localhost:8090/databases/configure -d '{
//	  "database": "docs", "shard": "s0", "nodes": ["n1","n2","n3"],
//	  "write_quorum": 2, "read_quorum": 1
//	}'
//
//	curl -X POST localhost:8090/send -d '{
//	  "database": "docs", "shard": "s0", "op": "put",
//	  "key": "user:1", "value": "YWxpY2U="
//	}'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/replicator/internal/config"
	"github.com/dreamware/replicator/internal/dispatch"
	"github.com/dreamware/replicator/internal/executor"
	"github.com/dreamware/replicator/internal/messaging"
	"github.com/dreamware/replicator/internal/primitives"
	"github.com/dreamware/replicator/internal/recovery"
	"github.com/dreamware/replicator/internal/task"
	"github.com/dreamware/replicator/internal/telemetry"
)

func main() {
	cfg, err := telemetry.LoadConfig()
	if err != nil {
		logrus.Fatal(err)
	}
	log, err := telemetry.NewLogger(cfg)
	if err != nil {
		logrus.Fatal(err)
	}
	registry := telemetry.NewRegistry()

	srv := newServer(cfg, log, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.startResponseListeners(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/nodes", srv.handleNodes)
	mux.HandleFunc("/databases/configure", srv.handleConfigureDatabase)
	mux.HandleFunc("/send", srv.handleSend)
	mux.HandleFunc("/membership/alive", srv.handleMembershipAlive)
	mux.HandleFunc("/membership/remove", srv.handleMembershipRemove)
	mux.HandleFunc("/membership/check", srv.handleMembershipCheck)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("replicator listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	cancel()
	srv.shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown error")
	}
	log.Info("replicator stopped")
}

// server holds the coordinator's wired components: the pieces spec §2
// names (outbound dispatcher, recovery coordinator, inbound executors)
// plus the node-identity bookkeeping the single-process simulation
// needs to host more than one node's role.
type server struct {
	cfg        telemetry.Config
	log        *logrus.Logger
	svc        *messaging.Service
	store      *config.Store
	membership *primitives.StaticMembership
	dispatcher *dispatch.Dispatcher
	execMetric *executor.Metrics
	recMetric  *recovery.Metrics

	nodes []string

	mu           sync.Mutex
	coordinators map[string]*recovery.Coordinator
	databases    map[string]map[string]*task.MemoryDatabase // node -> database -> store
}

func newServer(cfg telemetry.Config, log *logrus.Logger, registry *telemetry.Registry) *server {
	var peers []string
	if raw := strings.TrimSpace(os.Getenv("REPLICATOR_PEERS")); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				peers = append(peers, p)
			}
		}
	}
	nodes := append([]string{cfg.NodeID}, peers...)

	svc := messaging.NewService(messaging.NewMemoryClusterFactory())
	store := config.NewStore()
	membership := primitives.NewStaticMembership(cfg.NodeID, nodes...)
	dispatcher := dispatch.New(svc, store, membership, cfg.QueueTimeout, cfg.LockTimeout, log, dispatch.NewMetrics(registry))

	s := &server{
		cfg:          cfg,
		log:          log,
		svc:          svc,
		store:        store,
		membership:   membership,
		dispatcher:   dispatcher,
		execMetric:   executor.NewMetrics(registry),
		recMetric:    recovery.NewMetrics(registry),
		nodes:        nodes,
		coordinators: make(map[string]*recovery.Coordinator),
		databases:    make(map[string]map[string]*task.MemoryDatabase),
	}
	for _, n := range nodes {
		s.coordinator(n)
	}
	return s
}

// coordinator returns the Coordinator for node, creating it on first use.
func (s *server) coordinator(node string) *recovery.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.coordinators[node]; ok {
		return c
	}
	c := recovery.NewCoordinator(node, s.svc, s.store, s.dispatcher, s.cfg.ChurnDebounce, s.log, s.recMetric, s.execMetric)
	c.SetConfigBroadcastHook(func(_ context.Context, cfg config.PartitionConfig) {
		s.log.WithFields(logrus.Fields{"database": cfg.Database, "shard": cfg.Shard}).
			Debug("partition configuration changed")
	})
	s.coordinators[node] = c
	return c
}

// localDatabase returns (node, database)'s MemoryDatabase, creating it
// on first use. Every node hosting a database gets its own instance:
// replication writes into each node's local copy independently, per
// spec §4.2's PROCESSING step.
func (s *server) localDatabase(node, database string) *task.MemoryDatabase {
	s.mu.Lock()
	defer s.mu.Unlock()
	perNode, ok := s.databases[node]
	if !ok {
		perNode = make(map[string]*task.MemoryDatabase)
		s.databases[node] = perNode
	}
	db, ok := perNode[database]
	if !ok {
		db = task.NewMemoryDatabase()
		perNode[database] = db
	}
	return db
}

// startResponseListeners runs one background drain loop per node's
// response queue, demultiplexing replies to the pending ResponseManager
// that's waiting on them (messaging.Service.ListenForResponses).
func (s *server) startResponseListeners(ctx context.Context) {
	for _, n := range s.nodes {
		node := n
		go func() {
			if err := s.svc.ListenForResponses(ctx, node); err != nil && ctx.Err() == nil {
				s.log.WithError(err).WithField("node", node).Warn("response listener stopped")
			}
		}()
	}
}

func (s *server) shutdown() {
	s.mu.Lock()
	coords := make([]*recovery.Coordinator, 0, len(s.coordinators))
	for _, c := range s.coordinators {
		coords = append(coords, c)
	}
	s.mu.Unlock()
	for _, c := range coords {
		c.Shutdown()
	}
}

func (s *server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	type nodeStatus struct {
		ID    string `json:"id"`
		Alive bool   `json:"alive"`
		Local bool   `json:"local"`
	}
	out := make([]nodeStatus, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = nodeStatus{ID: n, Alive: s.membership.IsAlive(n), Local: n == s.cfg.NodeID}
	}
	writeJSON(w, http.StatusOK, struct {
		Nodes []nodeStatus `json:"nodes"`
	}{Nodes: out})
}

// configureDatabaseRequest mirrors config.PartitionConfig's fields for
// the wire request, with ResyncEvery as a duration string.
type configureDatabaseRequest struct {
	Database                        string   `json:"database"`
	Shard                           string   `json:"shard"`
	Nodes                           []string `json:"nodes"`
	ReadQuorum                      int      `json:"read_quorum"`
	WriteQuorum                     int      `json:"write_quorum"`
	ReadYourWrites                  bool     `json:"read_your_writes"`
	FailWhenAvailableLessThanQuorum bool     `json:"fail_when_available_less_than_quorum"`
	PartitionStrategy               string   `json:"partition_strategy"`
	ResyncEvery                     string   `json:"resync_every"`
}

// handleConfigureDatabase installs a PartitionConfig and brings every
// named node's executor for (database, shard) online, implementing
// spec §4.4's configure_database end to end from one HTTP call.
//
// Endpoint: POST /databases/configure
func (s *server) handleConfigureDatabase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req configureDatabaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Database == "" || req.Shard == "" || len(req.Nodes) == 0 {
		http.Error(w, "database, shard and nodes are required", http.StatusBadRequest)
		return
	}
	var resyncEvery time.Duration
	if req.ResyncEvery != "" {
		d, err := time.ParseDuration(req.ResyncEvery)
		if err != nil {
			http.Error(w, "bad resync_every: "+err.Error(), http.StatusBadRequest)
			return
		}
		resyncEvery = d
	}

	cfg := config.PartitionConfig{
		Database:                        req.Database,
		Shard:                           req.Shard,
		Nodes:                           req.Nodes,
		ReadQuorum:                      req.ReadQuorum,
		WriteQuorum:                     req.WriteQuorum,
		ReadYourWrites:                  req.ReadYourWrites,
		FailWhenAvailableLessThanQuorum: req.FailWhenAvailableLessThanQuorum,
		PartitionStrategy:               req.PartitionStrategy,
		ResyncEvery:                     resyncEvery,
	}
	s.store.Set(cfg)

	// The executors must outlive this request, whose context is canceled
	// when the handler returns; server.shutdown stops them.
	ctx := context.Background()
	for _, node := range cfg.Nodes {
		c := s.coordinator(node)
		db := s.localDatabase(node, cfg.Database)
		if _, err := c.ConfigureDatabase(ctx, cfg.Database, db, s.cfg.QueueTimeout, true, true); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if resyncEvery > 0 {
		s.coordinator(s.cfg.NodeID).StartResync(context.Background(), cfg.Database, cfg.Shard, resyncEvery)
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendRequest is the wire shape for a dispatched KVRequest. Value is
// base64-encoded JSON bytes, matching encoding/json's default []byte
// marshaling.
type sendRequest struct {
	Database       string `json:"database"`
	Shard          string `json:"shard"`
	Op             string `json:"op"`
	Key            string `json:"key"`
	Value          []byte `json:"value"`
	Quorum         string `json:"quorum"`
	Strategy       string `json:"strategy"`
	OnlineRequired bool   `json:"online_required"`
	NoResponse     bool   `json:"no_response"`
}

func parseOp(s string) (task.MemoryOp, error) {
	switch strings.ToLower(s) {
	case "get":
		return task.OpGet, nil
	case "put", "":
		return task.OpPut, nil
	case "delete":
		return task.OpDelete, nil
	default:
		return 0, errors.New("unknown op " + s)
	}
}

func parseQuorum(s string) task.QuorumType {
	switch strings.ToUpper(s) {
	case "NONE":
		return task.QuorumNone
	case "READ":
		return task.QuorumRead
	case "ALL":
		return task.QuorumAll
	default:
		return task.QuorumWrite
	}
}

func parseStrategy(s string) task.ResultStrategy {
	switch strings.ToUpper(s) {
	case "MAJORITY":
		return task.ResultMajority
	case "UNION":
		return task.ResultUnion
	case "ANY":
		return task.ResultAny
	default:
		return task.ResultFirst
	}
}

// handleSend dispatches a single KVRequest through the outbound
// dispatcher and returns the aggregated result (spec §4.1 end to end).
//
// Endpoint: POST /send
func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Database == "" || req.Key == "" {
		http.Error(w, "database and key are required", http.StatusBadRequest)
		return
	}
	op, err := parseOp(req.Op)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mode := task.ModeResponse
	if req.NoResponse {
		mode = task.ModeNoResponse
	}
	var shard *string
	if req.Shard != "" {
		shard = &req.Shard
	}

	dispatchReq := &task.Request{
		Database: req.Database,
		Cluster:  shard,
		Mode:     mode,
		Task: task.KVRequest{
			Op:             op,
			Key:            req.Key,
			Value:          req.Value,
			Quorum:         parseQuorum(req.Quorum),
			Strategy:       parseStrategy(req.Strategy),
			OnlineRequired: req.OnlineRequired,
		},
	}

	payload, err := s.dispatcher.Send(r.Context(), dispatchReq)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dispatch.ErrNoTargets) || errors.Is(err, config.ErrNoSuchShard) {
			status = http.StatusServiceUnavailable
		} else if errors.Is(err, dispatch.ErrQuorumUnreachable) || errors.Is(err, dispatch.ErrTotalTimeout) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Value []byte `json:"value,omitempty"`
	}{Value: payload})
}

// handleMembershipAlive flips a node's liveness for the local
// StaticMembership, for exercising quorum downgrade/failure scenarios
// without a real failure detector.
//
// Endpoint: POST /membership/alive
func (s *server) handleMembershipAlive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Node  string `json:"node"`
		Alive bool   `json:"alive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	s.membership.SetAlive(req.Node, req.Alive)
	w.WriteHeader(http.StatusNoContent)
}

// handleMembershipRemove implements spec §4.4's remove_node(node, force),
// debounced against flapping.
//
// Endpoint: POST /membership/remove
func (s *server) handleMembershipRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Node  string `json:"node"`
		Force bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node == "" {
		http.Error(w, "node is required", http.StatusBadRequest)
		return
	}
	s.coordinator(s.cfg.NodeID).RemoveNode(req.Node, req.Force)
	w.WriteHeader(http.StatusNoContent)
}

// handleMembershipCheck implements spec §4.4's startup
// check_local_in_configuration for this process's local node.
//
// Endpoint: POST /membership/check
func (s *server) handleMembershipCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.coordinator(s.cfg.NodeID).CheckLocalInConfiguration(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
