package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/replicator/internal/config"
	"github.com/dreamware/replicator/internal/telemetry"
)

func testServer(t *testing.T, peers string) *server {
	t.Helper()
	if peers != "" {
		t.Setenv("REPLICATOR_PEERS", peers)
	}
	cfg := telemetry.Config{
		NodeID:        "n1",
		ListenAddr:    ":0",
		QueueTimeout:  time.Second,
		LockTimeout:   time.Second,
		ChurnDebounce: 20 * time.Millisecond,
		LogLevel:      "error",
	}
	log, err := telemetry.NewLogger(cfg)
	require.NoError(t, err)
	s := newServer(cfg, log, telemetry.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		s.shutdown()
	})
	s.startResponseListeners(ctx)
	return s
}

func doJSON(t *testing.T, h http.HandlerFunc, method, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestNewServer_CreatesCoordinatorPerNode(t *testing.T) {
	s := testServer(t, "n2,n3")
	assert.ElementsMatch(t, []string{"n1", "n2", "n3"}, s.nodes)
	for _, n := range s.nodes {
		_, ok := s.coordinators[n]
		assert.True(t, ok, "expected coordinator for %s", n)
	}
}

func TestHandleConfigureDatabase_RejectsMissingFields(t *testing.T) {
	s := testServer(t, "")
	rec := doJSON(t, s.handleConfigureDatabase, http.MethodPost, `{"database":"docs"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleConfigureDatabase_RejectsBadResyncDuration(t *testing.T) {
	s := testServer(t, "n2")
	body := `{"database":"docs","shard":"s0","nodes":["n1","n2"],"write_quorum":2,"resync_every":"not-a-duration"}`
	rec := doJSON(t, s.handleConfigureDatabase, http.MethodPost, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleConfigureDatabase_StartsExecutorsThenSendRoundTrips(t *testing.T) {
	s := testServer(t, "n2,n3")

	configureBody := `{
		"database": "docs", "shard": "s0", "nodes": ["n1","n2","n3"],
		"write_quorum": 2, "read_quorum": 1
	}`
	rec := doJSON(t, s.handleConfigureDatabase, http.MethodPost, configureBody)
	require.Equal(t, http.StatusNoContent, rec.Code)

	putBody := `{"database":"docs","shard":"s0","op":"put","key":"user:1","value":"YWxpY2U="}`
	putRec := doJSON(t, s.handleSend, http.MethodPost, putBody)
	require.Equal(t, http.StatusOK, putRec.Code, putRec.Body.String())

	getBody := `{"database":"docs","shard":"s0","op":"get","key":"user:1","quorum":"read"}`
	getRec := doJSON(t, s.handleSend, http.MethodPost, getBody)
	require.Equal(t, http.StatusOK, getRec.Code, getRec.Body.String())

	var resp struct {
		Value []byte `json:"value,omitempty"`
	}
	require.NoError(t, json.NewDecoder(getRec.Body).Decode(&resp))
	assert.Equal(t, "alice", string(resp.Value))
}

func TestHandleSend_NoSuchShardIsServiceUnavailable(t *testing.T) {
	s := testServer(t, "")
	body := `{"database":"missing","op":"put","key":"k","value":"dg=="}`
	rec := doJSON(t, s.handleSend, http.MethodPost, body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleSend_RejectsMissingKey(t *testing.T) {
	s := testServer(t, "")
	rec := doJSON(t, s.handleSend, http.MethodPost, `{"database":"docs"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSend_RejectsUnknownOp(t *testing.T) {
	s := testServer(t, "")
	rec := doJSON(t, s.handleSend, http.MethodPost, `{"database":"docs","key":"k","op":"frobnicate"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleNodes_ReportsLocalAndAliveStatus(t *testing.T) {
	s := testServer(t, "n2")
	rec := doJSON(t, s.handleNodes, http.MethodGet, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Nodes []struct {
			ID    string `json:"id"`
			Alive bool   `json:"alive"`
			Local bool   `json:"local"`
		} `json:"nodes"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got.Nodes, 2)
	for _, n := range got.Nodes {
		assert.True(t, n.Alive)
		assert.Equal(t, n.ID == "n1", n.Local)
	}
}

func TestHandleMembershipAlive_TogglesLiveness(t *testing.T) {
	s := testServer(t, "n2")
	rec := doJSON(t, s.handleMembershipAlive, http.MethodPost, `{"node":"n2","alive":false}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, s.membership.IsAlive("n2"))
}

func TestHandleMembershipCheck_AddsLocalNodeToPartitions(t *testing.T) {
	s := testServer(t, "")
	s.store.Set(config.PartitionConfig{Database: "docs", Shard: "s0", Nodes: []string{"n2"}})

	rec := doJSON(t, s.handleMembershipCheck, http.MethodPost, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	cfg, err := s.store.Resolve("docs", "s0")
	require.NoError(t, err)
	assert.True(t, cfg.HasNode("n1"))
}

func TestHandleMembershipRemove_EventuallyRemovesNode(t *testing.T) {
	s := testServer(t, "n2")
	s.store.Set(config.PartitionConfig{Database: "docs", Shard: "s0", Nodes: []string{"n1", "n2"}})

	rec := doJSON(t, s.handleMembershipRemove, http.MethodPost, `{"node":"n2","force":true}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.Eventually(t, func() bool {
		cfg, err := s.store.Resolve("docs", "s0")
		return err == nil && !cfg.HasNode("n2")
	}, time.Second, 5*time.Millisecond)
}

func TestHandleMembershipRemove_RejectsMissingNode(t *testing.T) {
	s := testServer(t, "")
	rec := doJSON(t, s.handleMembershipRemove, http.MethodPost, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
