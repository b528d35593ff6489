package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/replicator/internal/response"
	"github.com/dreamware/replicator/internal/task"
)

func TestService_VendsSameHandleForSameName(t *testing.T) {
	svc := NewService(NewMemoryClusterFactory())

	q1 := svc.RequestQueue("n1", "db1")
	q2 := svc.RequestQueue("n1", "db1")
	assert.Same(t, q1, q2)
}

func TestService_NewRequestID_Unique(t *testing.T) {
	svc := NewService(NewMemoryClusterFactory())
	a := svc.NewRequestID()
	b := svc.NewRequestID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestService_RegisterPending_RejectsDuplicate(t *testing.T) {
	svc := NewService(NewMemoryClusterFactory())
	mgr := response.New(1, false, "n1", time.Second, time.Second)

	require.NoError(t, svc.RegisterPending("req-1", mgr))
	err := svc.RegisterPending("req-1", mgr)
	assert.Error(t, err)
}

func TestService_Dispatch_RoutesToRegisteredManager(t *testing.T) {
	svc := NewService(NewMemoryClusterFactory())
	mgr := response.New(1, false, "n1", time.Second, time.Second)
	require.NoError(t, svc.RegisterPending("req-1", mgr))

	ok := svc.Dispatch(&task.Response{RequestID: "req-1", FromNode: "n2", Payload: []byte("v")})
	assert.True(t, ok)
	assert.Equal(t, 1, mgr.ReceivedCount())
}

func TestService_Dispatch_DropsUnregistered(t *testing.T) {
	svc := NewService(NewMemoryClusterFactory())
	ok := svc.Dispatch(&task.Response{RequestID: "unknown", FromNode: "n2"})
	assert.False(t, ok)
}

func TestService_UnregisterPending(t *testing.T) {
	svc := NewService(NewMemoryClusterFactory())
	mgr := response.New(1, false, "n1", time.Second, time.Second)
	require.NoError(t, svc.RegisterPending("req-1", mgr))

	svc.UnregisterPending("req-1")
	ok := svc.Dispatch(&task.Response{RequestID: "req-1", FromNode: "n2"})
	assert.False(t, ok)
}

func TestService_ListenForResponses(t *testing.T) {
	svc := NewService(NewMemoryClusterFactory())
	mgr := response.New(1, false, "n1", time.Second, time.Second)
	require.NoError(t, svc.RegisterPending("req-1", mgr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.ListenForResponses(ctx, "n1")

	require.NoError(t, svc.ResponseQueue("n1").Offer(ctx, &task.Response{
		RequestID: "req-1", FromNode: "n2", Payload: []byte("v"),
	}, time.Second))

	require.Eventually(t, func() bool {
		return mgr.ReceivedCount() == 1
	}, time.Second, 5*time.Millisecond)
}
