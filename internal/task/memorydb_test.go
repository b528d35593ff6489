package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDatabase_PutGetDelete(t *testing.T) {
	db := NewMemoryDatabase()
	ctx := context.Background()

	_, err := db.Execute(ctx, &Request{ID: "r1", Sender: "n1", Task: KVRequest{Op: OpGet, Key: "k"}})
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = db.Execute(ctx, &Request{ID: "r2", Sender: "n1", Task: KVRequest{Op: OpPut, Key: "k", Value: []byte("v")}})
	require.NoError(t, err)

	v, err := db.Execute(ctx, &Request{ID: "r3", Sender: "n1", Task: KVRequest{Op: OpGet, Key: "k"}})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	_, err = db.Execute(ctx, &Request{ID: "r4", Sender: "n1", Task: KVRequest{Op: OpDelete, Key: "k"}})
	require.NoError(t, err)

	_, err = db.Execute(ctx, &Request{ID: "r5", Sender: "n1", Task: KVRequest{Op: OpGet, Key: "k"}})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryDatabase_ReturnsValueCopies(t *testing.T) {
	db := NewMemoryDatabase()
	ctx := context.Background()

	value := []byte("original")
	_, err := db.Execute(ctx, &Request{ID: "r1", Task: KVRequest{Op: OpPut, Key: "k", Value: value}})
	require.NoError(t, err)
	value[0] = 'X'

	got, err := db.Execute(ctx, &Request{ID: "r2", Task: KVRequest{Op: OpGet, Key: "k"}})
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got, "store must not alias caller's buffer")
}

func TestMemoryDatabase_RecordsExecutedEvents(t *testing.T) {
	db := NewMemoryDatabase()
	ctx := WithReplicated(context.Background())

	_, err := db.Execute(ctx, &Request{ID: "r1", Sender: "n2", Task: KVRequest{Op: OpPut, Key: "k", Value: []byte("v")}})
	require.NoError(t, err)

	events := db.ExecutedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "r1", events[0].RequestID)
	assert.Equal(t, "n2", events[0].Sender)
	assert.True(t, events[0].Replicated)
}

func TestMemoryDatabase_ClearLevel1Cache(t *testing.T) {
	db := NewMemoryDatabase()
	assert.Equal(t, 0, db.CacheClears())
	db.ClearLevel1Cache()
	db.ClearLevel1Cache()
	assert.Equal(t, 2, db.CacheClears())
}

func TestMemoryDatabase_Close(t *testing.T) {
	db := NewMemoryDatabase()
	assert.False(t, db.Closed())
	require.NoError(t, db.Close())
	assert.True(t, db.Closed())
}

func TestResyncTask_DefaultAck(t *testing.T) {
	db := NewMemoryDatabase()
	r := ResyncTask{}
	payload, err := r.Execute(context.Background(), db, "n1")
	require.NoError(t, err)
	assert.Equal(t, []byte("resync-ack"), payload)
	assert.Equal(t, QuorumWrite, r.QuorumType())
}
