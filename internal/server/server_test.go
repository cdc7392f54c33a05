package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/flag-sentinel/internal/eval"
	"github.com/nholik/flag-sentinel/internal/flags"
	"github.com/nholik/flag-sentinel/internal/healthcheck"
	"github.com/nholik/flag-sentinel/internal/mutate"
	"github.com/nholik/flag-sentinel/internal/rollback"
	"github.com/nholik/flag-sentinel/internal/store"
	syncpkg "github.com/nholik/flag-sentinel/internal/sync"
)

type fakeRemote struct {
	content  []byte
	fetchErr error
	pushes   int
}

func (f *fakeRemote) FetchLatest(ctx context.Context) ([]byte, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.content, nil
}

func (f *fakeRemote) Publish(ctx context.Context, content []byte, description string) error {
	f.pushes++
	return nil
}

func newTestServer(t *testing.T, snapshot string) (*Server, *store.Store) {
	t.Helper()

	flagStore := store.New()
	remoteStore := &fakeRemote{content: []byte(snapshot)}
	logger := zerolog.Nop()
	tracker := healthcheck.NewTracker()

	synchronizer := syncpkg.New(logger, flagStore, remoteStore, nil, 30*time.Second,
		syncpkg.WithTracker(tracker),
	)
	if _, err := synchronizer.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh failed: %v", err)
	}

	engine := eval.New(logger, flagStore, nil)
	mutations := mutate.New(logger, flagStore, remoteStore, nil)
	rollbacks := rollback.New(logger, flagStore, mutations, nil, nil)

	api := New(Deps{
		Logger:       logger,
		Engine:       engine,
		Mutations:    mutations,
		Synchronizer: synchronizer,
		Rollbacks:    rollbacks,
		Tracker:      tracker,
		PollInterval: 30 * time.Second,
	})
	return api, flagStore
}

const testSnapshot = `{
	"version": "1.0.0",
	"lastUpdated": "2026-08-30T12:00:00Z",
	"flags": {
		"checkout-v2": {
			"enabled": true,
			"rolloutPercentage": 100,
			"targeting": {"userIds": [], "userGroups": []},
			"variants": [{"name": "control", "weight": 100}],
			"metadata": {"owner": "payments"}
		}
	}
}`

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestListFlags(t *testing.T) {
	api, _ := newTestServer(t, testSnapshot)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/flags", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Version   string                           `json:"version"`
		Flags     map[string]flags.Definition      `json:"flags"`
		CacheInfo struct {
			TotalFlags int `json:"totalFlags"`
		} `json:"cacheInfo"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Version != "1.0.0" || resp.CacheInfo.TotalFlags != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, ok := resp.Flags["checkout-v2"]; !ok {
		t.Fatalf("expected checkout-v2 in listing")
	}
}

func TestGetFlag(t *testing.T) {
	api, _ := newTestServer(t, testSnapshot)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/flags/checkout-v2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/flags/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown flag, got %d", rec.Code)
	}
}

func TestUpsertFlag(t *testing.T) {
	api, flagStore := newTestServer(t, testSnapshot)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/flags/new-feature", map[string]any{
		"enabled":           true,
		"rolloutPercentage": 20,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := flagStore.Get("new-feature"); !ok {
		t.Fatalf("flag not stored")
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/flags/bad", map[string]any{
		"enabled": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing rollout, got %d", rec.Code)
	}
}

func TestDeleteFlag(t *testing.T) {
	api, flagStore := newTestServer(t, testSnapshot)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodDelete, "/api/flags/checkout-v2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if _, ok := flagStore.Get("checkout-v2"); ok {
		t.Fatalf("flag still present after delete")
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/flags/checkout-v2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for repeat delete, got %d", rec.Code)
	}
}

func TestSetRollout(t *testing.T) {
	api, flagStore := newTestServer(t, testSnapshot)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPut, "/api/flags/checkout-v2/rollout", map[string]any{
		"percentage": 40,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if def, _ := flagStore.Get("checkout-v2"); def.RolloutPercentage != 40 {
		t.Fatalf("rollout not applied: %+v", def)
	}

	rec = doJSON(t, handler, http.MethodPut, "/api/flags/checkout-v2/rollout", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing percentage, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPut, "/api/flags/checkout-v2/rollout", map[string]any{
		"percentage": 120,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range percentage, got %d", rec.Code)
	}
}

func TestEvaluate(t *testing.T) {
	api, _ := newTestServer(t, testSnapshot)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/flags/checkout-v2/evaluate", map[string]any{
		"userId": "user-123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result eval.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Enabled || result.Variant != "control" {
		t.Fatalf("unexpected result: %+v", result)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/flags/checkout-v2/evaluate", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing userId, got %d", rec.Code)
	}
}

func TestBatchEvaluate(t *testing.T) {
	api, _ := newTestServer(t, testSnapshot)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/flags/batch-evaluate", map[string]any{
		"userId":    "user-123",
		"flagNames": []string{"checkout-v2", "ghost"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var results map[string]eval.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if !results["checkout-v2"].Enabled {
		t.Fatalf("expected checkout-v2 enabled: %+v", results)
	}
	if results["ghost"].Error == "" {
		t.Fatalf("expected per-flag error for ghost: %+v", results)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/flags/batch-evaluate", map[string]any{
		"userId": "user-123",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing flagNames, got %d", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	api, _ := newTestServer(t, testSnapshot)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/flags/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats eval.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalFlags != 1 || stats.EnabledFlags != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAlarmWebhook(t *testing.T) {
	api, flagStore := newTestServer(t, testSnapshot)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/webhooks/alarm", map[string]any{
		"AlarmName":      "FeatureFlag-checkout-v2-ErrorRate",
		"NewStateValue":  "ALARM",
		"NewStateReason": "error rate above threshold",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result rollback.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Outcome != rollback.OutcomeRolledBack {
		t.Fatalf("unexpected outcome: %+v", result)
	}
	if def, _ := flagStore.Get("checkout-v2"); def.Enabled {
		t.Fatalf("flag not disabled by webhook")
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/webhooks/alarm", map[string]any{
		"AlarmName":     "NotAFlagAlarm",
		"NewStateValue": "ALARM",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad alarm name, got %d", rec.Code)
	}
}

func TestAlarmEndpointsWithoutBackend(t *testing.T) {
	api, _ := newTestServer(t, testSnapshot)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPut, "/api/flags/checkout-v2/alarm", map[string]any{
		"threshold": 5,
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without alarm backend, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/flags/checkout-v2/metrics", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without alarm backend, got %d", rec.Code)
	}
}

func TestInvokeWithoutBackend(t *testing.T) {
	api, _ := newTestServer(t, testSnapshot)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/ops/invoke", map[string]any{
		"functionName": "rollback-handler",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without invoker, got %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	api, _ := newTestServer(t, testSnapshot)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready after seed refresh, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthy after seed refresh, got %d", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	api, _ := newTestServer(t, testSnapshot)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/flags/stats", nil)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id header")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/flags/stats", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") != "caller-supplied" {
		t.Fatalf("expected caller request id echoed, got %q", rec.Header().Get("X-Request-Id"))
	}
}
