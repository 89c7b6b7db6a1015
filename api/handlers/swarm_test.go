package handlers

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
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent/capability"
	"github.com/BaSui01/swarmflow/agent/events"
	"github.com/BaSui01/swarmflow/agent/persistence"
	"github.com/BaSui01/swarmflow/agent/queen"
	"github.com/BaSui01/swarmflow/agent/swarm"
	"github.com/BaSui01/swarmflow/api"
	"github.com/BaSui01/swarmflow/types"
)

const checkoutObjective = "optimize the checkout API and add tests"

// =============================================================================
// 🧪 测试辅助
// =============================================================================

func quickConfig(objective string) swarm.Config {
	cfg := swarm.DefaultConfig()
	cfg.Objective = objective
	cfg.Seed = 7
	cfg.CheckpointInterval = 0
	cfg.Fabric.AckTimeout = 500 * time.Millisecond
	cfg.Fabric.ConsensusTimeout = 2 * time.Second
	cfg.Fabric.HeartbeatInterval = 20 * time.Millisecond
	cfg.Fabric.OfflineAfter = 5 * time.Second
	cfg.Scheduler.RetryDelay = 10 * time.Millisecond
	cfg.Scheduler.TaskTimeout = 2 * time.Second
	return cfg
}

func newTestManagerWithDeps(t *testing.T, maxActive int, deps swarm.Deps) *swarm.Manager {
	t.Helper()
	m := swarm.NewManager(quickConfig("unused"), deps, maxActive, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func newTestManager(t *testing.T, maxActive int) *swarm.Manager {
	t.Helper()
	return newTestManagerWithDeps(t, maxActive, swarm.Deps{})
}

// slowGateway 的任务执行耗时一小时，实例会一直处于运行中
func slowGateway(t *testing.T) capability.Gateway {
	t.Helper()
	gw, err := capability.NewLocalGateway(capability.DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, capability.RegisterBuiltins(gw, time.Hour))
	return gw
}

func startSwarm(t *testing.T, m *swarm.Manager, cfg swarm.Config) *swarm.Swarm {
	t.Helper()
	s, err := m.Start(cfg)
	require.NoError(t, err)
	return s
}

func waitDone(t *testing.T, s *swarm.Swarm) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(20 * time.Second):
		t.Fatalf("swarm %s did not finish", s.ID())
	}
}

type testServer struct {
	mux         *http.ServeMux
	manager     *swarm.Manager
	checkpoints persistence.CheckpointStore
	knowledge   persistence.KnowledgeStore
}

func newTestServer(t *testing.T, gateway capability.Gateway, maxActive int) *testServer {
	t.Helper()
	checkpoints, err := persistence.NewFileCheckpointStore(t.TempDir())
	require.NoError(t, err)
	knowledge := persistence.NewMemoryKnowledgeStore()

	m := newTestManagerWithDeps(t, maxActive, swarm.Deps{
		Store:       knowledge,
		Checkpoints: checkpoints,
		Gateway:     gateway,
	})
	mux := http.NewServeMux()
	NewSwarmHandler(m, checkpoints, knowledge, zap.NewNop()).Register(mux)
	return &testServer{mux: mux, manager: m, checkpoints: checkpoints, knowledge: knowledge}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, r)
	return w
}

func (ts *testServer) create(t *testing.T, req api.CreateSwarmRequest) swarm.Status {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/swarms", req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var st swarm.Status
	decodeResponse(t, w, &st)
	return st
}

// =============================================================================
// 🧪 SwarmHandler 测试
// =============================================================================

func TestSwarmHandler_CreateAndGet(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	autoScale := false
	st := ts.create(t, api.CreateSwarmRequest{
		Objective:          checkoutObjective,
		MaxWorkers:         3,
		ConsensusAlgorithm: "Weighted",
		QueenType:          "tactical",
		AutoScale:          &autoScale,
		Seed:               11,
	})
	require.NotEmpty(t, st.ID)
	assert.Equal(t, checkoutObjective, st.Objective)

	s, err := ts.manager.Get(st.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Config().MaxWorkers)
	assert.Equal(t, queen.TypeTactical, s.Config().QueenType)
	waitDone(t, s)

	w := ts.do(t, http.MethodGet, "/api/v1/swarms/"+st.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got swarm.Status
	decodeResponse(t, w, &got)
	assert.Equal(t, swarm.StateCompleted, got.State)
	assert.Equal(t, queen.TypeTactical, got.QueenType)
	assert.NotEmpty(t, got.Decisions)
}

func TestSwarmHandler_CreateErrors(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"missing objective", `{"max_workers":2}`, http.StatusBadRequest},
		{"blank objective", `{"objective":"   "}`, http.StatusBadRequest},
		{"unknown algorithm", `{"objective":"x","consensus_algorithm":"raft"}`, http.StatusBadRequest},
		{"unknown field", `{"objective":"x","bogus":true}`, http.StatusBadRequest},
		{"malformed", `{"objective":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/swarms", bytes.NewBufferString(tt.body))
			r.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			ts.mux.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w, nil)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
		})
	}
	assert.Empty(t, ts.manager.List())
}

func TestSwarmHandler_CreateRequiresJSON(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/swarms", bytes.NewBufferString(`{"objective":"x"}`))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestSwarmHandler_CapacityExhausted(t *testing.T) {
	ts := newTestServer(t, slowGateway(t), 1)

	ts.create(t, api.CreateSwarmRequest{Objective: checkoutObjective})
	w := ts.do(t, http.MethodPost, "/api/v1/swarms", api.CreateSwarmRequest{Objective: checkoutObjective})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeResponse(t, w, nil)
	assert.Equal(t, string(types.ErrCapacityExhausted), resp.Error.Code)
}

func TestSwarmHandler_NotFound(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	for _, path := range []string{
		"/api/v1/swarms/missing",
		"/api/v1/swarms/missing/snapshot",
		"/api/v1/swarms/missing/events",
	} {
		w := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	w := ts.do(t, http.MethodPost, "/api/v1/swarms/missing/stop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSwarmHandler_ListFiltersByState(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	first := ts.create(t, api.CreateSwarmRequest{Objective: checkoutObjective})
	second := ts.create(t, api.CreateSwarmRequest{Objective: "write a short poem", MaxWorkers: 2})
	for _, id := range []string{first.ID, second.ID} {
		s, err := ts.manager.Get(id)
		require.NoError(t, err)
		waitDone(t, s)
	}

	w := ts.do(t, http.MethodGet, "/api/v1/swarms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list api.SwarmListResponse
	decodeResponse(t, w, &list)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, first.ID, list.Swarms[0].ID)
	assert.Equal(t, second.ID, list.Swarms[1].ID)

	w = ts.do(t, http.MethodGet, "/api/v1/swarms?state=running", nil)
	decodeResponse(t, w, &list)
	assert.Zero(t, list.Total)
	assert.Empty(t, list.Swarms)
}

func TestSwarmHandler_Stop(t *testing.T) {
	ts := newTestServer(t, slowGateway(t), 0)
	st := ts.create(t, api.CreateSwarmRequest{Objective: checkoutObjective})
	s, err := ts.manager.Get(st.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Status().Tasks.InProgress > 0 }, 5*time.Second, 10*time.Millisecond)

	w := ts.do(t, http.MethodPost, "/api/v1/swarms/"+st.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp api.StopSwarmResponse
	decodeResponse(t, w, &resp)
	assert.Equal(t, st.ID, resp.SwarmID)
	assert.Equal(t, swarm.StateFailed, resp.State)

	// 停止后记录仍可查询
	w = ts.do(t, http.MethodGet, "/api/v1/swarms/"+st.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSwarmHandler_SnapshotAndCheckpoint(t *testing.T) {
	ts := newTestServer(t, slowGateway(t), 0)
	st := ts.create(t, api.CreateSwarmRequest{Objective: checkoutObjective})
	s, err := ts.manager.Get(st.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Status().Tasks.InProgress > 0 }, 5*time.Second, 10*time.Millisecond)

	w := ts.do(t, http.MethodGet, "/api/v1/swarms/"+st.ID+"/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap swarm.Snapshot
	decodeResponse(t, w, &snap)
	assert.Equal(t, st.ID, snap.SwarmID)
	assert.Equal(t, swarm.StateRunning, snap.State)
	assert.NotEmpty(t, snap.WorkerStates)

	w = ts.do(t, http.MethodPost, "/api/v1/swarms/"+st.ID+"/checkpoint", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cp api.CheckpointResponse
	decodeResponse(t, w, &cp)
	assert.True(t, cp.Saved)
	require.NotNil(t, cp.Stored)
	assert.Positive(t, cp.Stored.Sequence)

	w = ts.do(t, http.MethodGet, "/api/v1/checkpoints/"+st.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var loaded api.CheckpointResponse
	decodeResponse(t, w, &loaded)
	assert.Equal(t, st.ID, loaded.Snapshot.SwarmID)
	assert.Equal(t, checkoutObjective, loaded.Snapshot.Objective)

	w = ts.do(t, http.MethodGet, "/api/v1/checkpoints", nil)
	var ids []string
	decodeResponse(t, w, &ids)
	assert.Contains(t, ids, st.ID)

	w = ts.do(t, http.MethodGet, "/api/v1/checkpoints/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSwarmHandler_CheckpointWithoutStore(t *testing.T) {
	m := newTestManager(t, 0)
	mux := http.NewServeMux()
	NewSwarmHandler(m, nil, nil, nil).Register(mux)
	s := startSwarm(t, m, quickConfig(checkoutObjective))
	waitDone(t, s)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/swarms/"+s.ID()+"/checkpoint", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var cp api.CheckpointResponse
	decodeResponse(t, w, &cp)
	assert.False(t, cp.Saved)
	assert.Nil(t, cp.Stored)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/checkpoints/"+s.ID(), nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/decisions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSwarmHandler_Events(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	st := ts.create(t, api.CreateSwarmRequest{Objective: checkoutObjective})
	s, err := ts.manager.Get(st.ID)
	require.NoError(t, err)
	waitDone(t, s)

	var list api.EventListResponse
	require.Eventually(t, func() bool {
		w := ts.do(t, http.MethodGet, "/api/v1/swarms/"+st.ID+"/events", nil)
		decodeResponse(t, w, &list)
		for _, ev := range list.Events {
			if ev.Type == events.SwarmCompleted {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, events.SwarmStarted, list.Events[0].Type)

	w := ts.do(t, http.MethodGet, "/api/v1/swarms/"+st.ID+"/events?type=decision_made,plan_created", nil)
	decodeResponse(t, w, &list)
	require.NotEmpty(t, list.Events)
	for _, ev := range list.Events {
		assert.Contains(t, []string{"decision_made", "plan_created"}, string(ev.Type))
	}
}

func TestSwarmHandler_Knowledge(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	st := ts.create(t, api.CreateSwarmRequest{Objective: checkoutObjective})
	s, err := ts.manager.Get(st.ID)
	require.NoError(t, err)
	waitDone(t, s)

	w := ts.do(t, http.MethodGet, "/api/v1/knowledge/"+queen.NamespaceDecisions+"?pattern=decision:*", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []persistence.Entry
	decodeResponse(t, w, &entries)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Equal(t, queen.NamespaceDecisions, e.Namespace)
		assert.Regexp(t, `^decision:`, e.Key)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/knowledge/empty", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries = nil
	decodeResponse(t, w, &entries)
	assert.Empty(t, entries)
}
