package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	queuememory "github.com/JakeFAU/healthsync/internal/queue/memory"
	"github.com/JakeFAU/healthsync/internal/runstore"
	"github.com/JakeFAU/healthsync/internal/source"
	"github.com/JakeFAU/healthsync/internal/syncer"
)

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("run-%d", f.n), nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type harness struct {
	server *Server
	queue  *queuememory.Queue
	runs   *runstore.Store
}

func newHarness(t *testing.T, cfg Config, capacity int) harness {
	t.Helper()
	reg := source.NewRegistry()
	reg.Register("oura", func(context.Context) (source.Source, error) { return nil, nil })
	q := queuememory.NewQueue(capacity)
	runs := runstore.New(0)
	clock := fakeClock{now: time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)}
	return harness{
		server: NewServer(q, runs, reg, &fakeIDGen{}, clock, cfg, zap.NewNop()),
		queue:  q,
		runs:   runs,
	}
}

func (h harness) do(method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitSyncQueuesRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, 4)
	rec := h.do(http.MethodPost, "/v1/sync/oura?date=2024-03-01&dry_run=true", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var run syncer.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Equal(t, "run-1", run.RunID)
	require.Equal(t, syncer.StatusQueued, run.Status)
	require.Equal(t, "2024-03-01", run.Day)

	req, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", req.RunID)
	require.True(t, req.DryRun)
	require.Equal(t, "2024-03-01", req.Day.Format(source.DateLayout))

	stored, err := h.runs.Get(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, syncer.StatusQueued, stored.Status)
}

func TestSubmitSyncDefaultsToYesterday(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, 1)
	rec := h.do(http.MethodPost, "/v1/sync/oura", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	req, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2024-03-10", req.Day.Format(source.DateLayout))
	require.False(t, req.DryRun)
}

func TestSubmitSyncRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		status int
	}{
		{name: "unknown source", target: "/v1/sync/fitbit", status: http.StatusNotFound},
		{name: "bad date", target: "/v1/sync/oura?date=03/01/2024", status: http.StatusBadRequest},
		{name: "bad dry run", target: "/v1/sync/oura?dry_run=maybe", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Config{}, 1)
			rec := h.do(http.MethodPost, tt.target, nil)
			require.Equal(t, tt.status, rec.Code)
			require.Zero(t, h.queue.Len())
		})
	}
}

func TestSubmitSyncQueueFull(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, 1)
	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/v1/sync/oura", nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodPost, "/v1/sync/oura", nil).Code)

	rejected, err := h.runs.Get(context.Background(), "run-2")
	require.NoError(t, err)
	require.Equal(t, syncer.StatusFailed, rejected.Status)
	require.Contains(t, rejected.Error, "not queued")
	require.False(t, rejected.FinishedAt.IsZero())

	queued, err := h.runs.Get(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, syncer.StatusQueued, queued.Status)
}

func TestRunsEndpoints(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, 4)
	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/v1/sync/oura", nil).Code)
	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/v1/sync/oura", nil).Code)

	rec := h.do(http.MethodGet, "/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []syncer.Report `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	require.Equal(t, "run-2", body.Runs[0].RunID)

	rec = h.do(http.MethodGet, "/v1/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"run_id":"run-1"`)

	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/runs/nope", nil).Code)
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{APIKey: "secret"}, 1)
	require.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/runs", nil).Code)
	require.Equal(t, http.StatusUnauthorized,
		h.do(http.MethodGet, "/v1/runs", map[string]string{"X-API-Key": "wrong"}).Code)
	require.Equal(t, http.StatusOK,
		h.do(http.MethodGet, "/v1/runs", map[string]string{"X-API-Key": "secret"}).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", nil).Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, 1)
	rec := h.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = h.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
