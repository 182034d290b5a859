package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/lurk"
	"github.com/JakeFAU/lurk/internal/storage/memory"
)

type fakeTrigger struct {
	mu      sync.Mutex
	pending bool
}

func (f *fakeTrigger) RequestRun() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		return false
	}
	f.pending = true
	return true
}

type brokenStore struct{}

func (brokenStore) SaveRun(context.Context, lurk.RunReport) error { return errors.New("down") }

func (brokenStore) GetRun(context.Context, string) (lurk.RunReport, error) {
	return lurk.RunReport{}, errors.New("down")
}

func (brokenStore) ListRuns(context.Context, int) ([]lurk.RunReport, error) {
	return nil, errors.New("down")
}

func seededStore(t *testing.T) *memory.RunStore {
	t.Helper()
	store := memory.NewRunStore()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, store.SaveRun(context.Background(), lurk.RunReport{
			ID:        id,
			Status:    lurk.RunStatusSucceeded,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	return store
}

func serve(t *testing.T, srv *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	srv := NewServer(seededStore(t), nil, Config{}, nil)

	rec := serve(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(t, srv, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	broken := NewServer(brokenStore{}, nil, Config{}, nil)
	rec = serve(t, broken, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, nil, Config{}, nil)
	rec := serve(t, srv, http.MethodGet, "/healthz", map[string]string{"X-Request-ID": "abc"})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, nil, Config{}, nil)
	serve(t, srv, http.MethodGet, "/healthz", nil)
	rec := serve(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	srv := NewServer(seededStore(t), nil, Config{}, nil)

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantIDs  []string
	}{
		{name: "default limit", target: "/v1/runs", wantCode: http.StatusOK, wantIDs: []string{"run-3", "run-2", "run-1"}},
		{name: "explicit limit", target: "/v1/runs?limit=2", wantCode: http.StatusOK, wantIDs: []string{"run-3", "run-2"}},
		{name: "bad limit", target: "/v1/runs?limit=zero", wantCode: http.StatusBadRequest},
		{name: "negative limit", target: "/v1/runs?limit=-1", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := serve(t, srv, http.MethodGet, tt.target, nil)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantIDs == nil {
				return
			}
			var body struct {
				Runs []lurk.RunReport `json:"runs"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			ids := make([]string, 0, len(body.Runs))
			for _, run := range body.Runs {
				ids = append(ids, run.ID)
			}
			require.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	srv := NewServer(seededStore(t), nil, Config{}, nil)

	rec := serve(t, srv, http.MethodGet, "/v1/runs/run-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run lurk.RunReport `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-2", body.Run.ID)
	require.Equal(t, lurk.RunStatusSucceeded, body.Run.Status)

	rec = serve(t, srv, http.MethodGet, "/v1/runs/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	broken := NewServer(brokenStore{}, nil, Config{}, nil)
	rec = serve(t, broken, http.MethodGet, "/v1/runs/run-2", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHistoryDisabled(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, nil, Config{}, nil)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, srv, http.MethodGet, "/v1/runs", nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, srv, http.MethodGet, "/v1/runs/x", nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, srv, http.MethodPost, "/v1/runs", nil).Code)
	require.Equal(t, http.StatusOK, serve(t, srv, http.MethodGet, "/readyz", nil).Code)
}

func TestTriggerRun(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, &fakeTrigger{}, Config{}, nil)

	rec := serve(t, srv, http.MethodPost, "/v1/runs", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"status":"scheduled"}`, rec.Body.String())

	rec = serve(t, srv, http.MethodPost, "/v1/runs", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPIKeyGuard(t *testing.T) {
	t.Parallel()

	srv := NewServer(seededStore(t), &fakeTrigger{}, Config{APIKey: "secret"}, nil)

	require.Equal(t, http.StatusUnauthorized, serve(t, srv, http.MethodGet, "/v1/runs", nil).Code)
	require.Equal(t, http.StatusUnauthorized,
		serve(t, srv, http.MethodGet, "/v1/runs", map[string]string{"X-API-Key": "wrong"}).Code)
	require.Equal(t, http.StatusOK,
		serve(t, srv, http.MethodGet, "/v1/runs", map[string]string{"X-API-Key": "secret"}).Code)
	require.Equal(t, http.StatusOK, serve(t, srv, http.MethodGet, "/healthz", nil).Code, "health checks stay open")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(nopLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func nopLogger() *zap.Logger {
	return zap.NewNop()
}
