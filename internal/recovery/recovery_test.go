package recovery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/replicator/internal/config"
	"github.com/dreamware/replicator/internal/dispatch"
	"github.com/dreamware/replicator/internal/messaging"
	"github.com/dreamware/replicator/internal/primitives"
	"github.com/dreamware/replicator/internal/task"
)

type fakeDB struct {
	clearCalls int32
}

func (f *fakeDB) Execute(ctx context.Context, req *task.Request) ([]byte, error) {
	return req.Task.Execute(ctx, f, req.Sender)
}
func (f *fakeDB) ClearLevel1Cache() { atomic.AddInt32(&f.clearCalls, 1) }
func (f *fakeDB) Close() error      { return nil }

type echoTask struct{ online bool }

func (e echoTask) QuorumType() task.QuorumType          { return task.QuorumWrite }
func (e echoTask) ResultStrategy() task.ResultStrategy  { return task.ResultFirst }
func (e echoTask) SynchronousTimeout(int) time.Duration { return 500 * time.Millisecond }
func (e echoTask) TotalTimeout(int) time.Duration       { return time.Second }
func (e echoTask) RequiresNodeOnline() bool             { return e.online }
func (e echoTask) TaskType() string                     { return "echo" }
func (e echoTask) Equal(a, b []byte) bool               { return string(a) == string(b) }
func (e echoTask) Execute(_ context.Context, _ task.LocalDatabase, sender string) ([]byte, error) {
	return []byte(sender), nil
}

func newTestCoordinator(t *testing.T, node string, debounce time.Duration) (*Coordinator, *messaging.Service, *config.Store) {
	t.Helper()
	svc := messaging.NewService(messaging.NewMemoryClusterFactory())
	store := config.NewStore()
	membership := primitives.NewStaticMembership(node, node)
	d := dispatch.New(svc, store, membership, time.Second, time.Second, nil, nil)
	return NewCoordinator(node, svc, store, d, debounce, nil, nil, nil), svc, store
}

func TestCoordinator_ConfigureDatabase_StartsExecutorAndGoesOnline(t *testing.T) {
	c, svc, _ := newTestCoordinator(t, "n1", time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := &fakeDB{}
	ex, err := c.ConfigureDatabase(ctx, "db1", db, time.Second, false, false)
	require.NoError(t, err)

	require.NoError(t, svc.RequestQueue("n1", "db1").Offer(ctx, &task.Request{
		ID: "r1", Sender: "sender", Database: "db1", Task: echoTask{online: true},
	}, time.Second))

	resp, err := svc.ResponseQueue("sender").Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", resp.RequestID)

	got, ok := c.Executor("db1")
	require.True(t, ok)
	assert.Same(t, ex, got)
}

func TestCoordinator_ConfigureDatabase_ReplaysUndoRecord(t *testing.T) {
	c, svc, _ := newTestCoordinator(t, "n1", time.Millisecond)
	ctx := context.Background()

	require.NoError(t, svc.UndoMap("n1", "db1").Put(ctx, "db1", &task.Request{
		ID: "stale", Sender: "sender", Database: "db1", Task: echoTask{},
	}))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	db := &fakeDB{}
	_, err := c.ConfigureDatabase(runCtx, "db1", db, time.Second, true, false)
	require.NoError(t, err)

	_, ok, err := svc.UndoMap("n1", "db1").Get(ctx, "db1")
	require.NoError(t, err)
	assert.False(t, ok, "undo record must be replayed and cleared")
}

func TestCoordinator_ConfigureDatabase_DrainsPending(t *testing.T) {
	c, svc, _ := newTestCoordinator(t, "n1", time.Millisecond)
	ctx := context.Background()

	require.NoError(t, svc.RequestQueue("n1", "db1").Offer(ctx, &task.Request{
		ID: "pre-queued", Sender: "sender", Database: "db1", Task: echoTask{}, Mode: task.ModeNoResponse,
	}, time.Second))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	db := &fakeDB{}
	_, err := c.ConfigureDatabase(runCtx, "db1", db, time.Second, false, true)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&db.clearCalls), "drained request must have been processed")
}

func TestCoordinator_CheckLocalInConfiguration_AddsNodeAndBroadcasts(t *testing.T) {
	c, _, store := newTestCoordinator(t, "n1", time.Millisecond)
	store.Set(config.PartitionConfig{Database: "db1", Shard: "s1", Nodes: []string{"n2"}})

	var broadcast []config.PartitionConfig
	c.SetConfigBroadcastHook(func(_ context.Context, cfg config.PartitionConfig) {
		broadcast = append(broadcast, cfg)
	})

	c.CheckLocalInConfiguration(context.Background())

	cfg, err := store.Resolve("db1", "s1")
	require.NoError(t, err)
	assert.True(t, cfg.HasNode("n1"))
	require.Len(t, broadcast, 1)
	assert.Equal(t, "db1", broadcast[0].Database)
}

func TestCoordinator_RemoveNode_DebouncesRepeatedCalls(t *testing.T) {
	c, _, store := newTestCoordinator(t, "n1", 60*time.Millisecond)
	store.Set(config.PartitionConfig{Database: "db1", Shard: "s1", Nodes: []string{"n1", "n2"}})

	var removedCount int32
	c.SetConfigBroadcastHook(func(_ context.Context, _ config.PartitionConfig) {
		atomic.AddInt32(&removedCount, 1)
	})

	c.RemoveNode("n2", false)
	time.Sleep(20 * time.Millisecond)
	c.RemoveNode("n2", false) // restarts the debounce window

	cfg, err := store.Resolve("db1", "s1")
	require.NoError(t, err)
	assert.True(t, cfg.HasNode("n2"), "removal must not apply before the debounce window elapses")

	require.Eventually(t, func() bool {
		cfg, err := store.Resolve("db1", "s1")
		return err == nil && !cfg.HasNode("n2")
	}, 200*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&removedCount), "two rapid RemoveNode calls must coalesce into one broadcast")
}

func TestCoordinator_StartResync_IssuesResyncTask(t *testing.T) {
	c, svc, store := newTestCoordinator(t, "n1", time.Millisecond)
	store.Set(config.PartitionConfig{Database: "db1", Shard: "s1", Nodes: []string{"n1"}, WriteQuorum: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seenResync int32
	go func() {
		for {
			req, err := svc.RequestQueue("n1", "db1").Take(ctx)
			if err != nil {
				return
			}
			if req.Task.TaskType() == "resync" {
				atomic.AddInt32(&seenResync, 1)
			}
			payload, _ := req.Task.Execute(ctx, nil, "n1")
			_ = svc.ResponseQueue(req.Sender).Offer(ctx, &task.Response{
				RequestID: req.ID, FromNode: "n1", ToNode: req.Sender, Payload: payload,
			}, time.Second)
		}
	}()

	c.StartResync(ctx, "db1", "s1", 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&seenResync) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_Shutdown_StopsExecutors(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "n1", time.Millisecond)
	db := &fakeDB{}
	_, err := c.ConfigureDatabase(context.Background(), "db1", db, time.Second, false, false)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return")
	}
}
