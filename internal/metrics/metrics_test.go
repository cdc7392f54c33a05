package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nholik/flag-sentinel/internal/telemetry"
)

func TestMetricsUpdates(t *testing.T) {
	m := New()

	m.ObserveRefreshDuration(2 * time.Second)
	m.IncRemoteStoreErrors()
	m.SetLastSuccessfulRefreshTimestamp(time.Unix(100, 0))

	if got := testutil.ToFloat64(m.remoteStoreErrorsTotal); got != 1 {
		t.Fatalf("expected remote store errors 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastSuccessfulRefreshGauge); got != 100 {
		t.Fatalf("expected last refresh 100, got %v", got)
	}
	if count := testutil.CollectAndCount(m.refreshDurationSeconds); count == 0 {
		t.Fatalf("expected refresh duration histogram to be collected")
	}
}

func TestTryEmitMapsEvents(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.TryEmit(ctx, telemetry.Count(telemetry.EventCacheRefresh, nil))
	m.TryEmit(ctx, telemetry.Count(telemetry.EventEvaluation, map[string]string{
		telemetry.DimensionFlagName: "checkout",
		telemetry.DimensionResult:   "enabled",
	}))
	m.TryEmit(ctx, telemetry.Count(telemetry.EventVariantAssignment, map[string]string{
		telemetry.DimensionFlagName: "checkout",
		telemetry.DimensionVariant:  "treatment",
	}))
	m.TryEmit(ctx, telemetry.Count(telemetry.EventFlagUpdate, nil))
	m.TryEmit(ctx, telemetry.Count(telemetry.EventFlagDelete, nil))
	m.TryEmit(ctx, telemetry.Count(telemetry.EventRolloutUpdate, nil))
	m.TryEmit(ctx, telemetry.Count(telemetry.EventAutomatedRollback, map[string]string{
		telemetry.DimensionFlagName: "checkout",
	}))

	if got := testutil.ToFloat64(m.cacheRefreshesTotal); got != 1 {
		t.Fatalf("expected cache refreshes 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.evaluationsTotal.WithLabelValues("checkout", "enabled")); got != 1 {
		t.Fatalf("expected evaluations 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.variantAssignmentsTotal.WithLabelValues("checkout", "treatment")); got != 1 {
		t.Fatalf("expected variant assignments 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.mutationsTotal.WithLabelValues("upsert")); got != 1 {
		t.Fatalf("expected upsert mutations 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.mutationsTotal.WithLabelValues("delete")); got != 1 {
		t.Fatalf("expected delete mutations 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.mutationsTotal.WithLabelValues("rollout")); got != 1 {
		t.Fatalf("expected rollout mutations 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.rollbacksTotal.WithLabelValues("checkout")); got != 1 {
		t.Fatalf("expected rollbacks 1, got %v", got)
	}
}

func TestNilReceiverSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRefreshDuration(time.Second)
	m.IncRemoteStoreErrors()
	m.SetLastSuccessfulRefreshTimestamp(time.Now())
	m.TryEmit(context.Background(), telemetry.Count(telemetry.EventCacheRefresh, nil))
	if m.Handler() == nil {
		t.Fatalf("expected fallback handler for nil metrics")
	}
}
