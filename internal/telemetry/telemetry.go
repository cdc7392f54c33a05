// Package telemetry is the fire-and-forget sink for evaluation and rollout
// health counters. Emission is best-effort by contract: a sink that cannot
// deliver logs and drops, it never surfaces an error to the caller.
package telemetry

import "context"

// Namespace is the metric namespace shared with the alarm backend.
const Namespace = "FeatureFlags"

// Metric names recorded by the system. The alarm backend keys off these, so
// they are part of the external contract.
const (
	EventCacheRefresh      = "CacheRefresh"
	EventEvaluation        = "FeatureFlagEvaluation"
	EventVariantAssignment = "VariantAssignment"
	EventFlagUpdate        = "FeatureFlagUpdate"
	EventFlagDelete        = "FeatureFlagDelete"
	EventRolloutUpdate     = "RolloutPercentageUpdate"
	EventAutomatedRollback = "AutomatedRollback"
)

// Dimension names attached to events.
const (
	DimensionFlagName = "FeatureFlagName"
	DimensionResult   = "Result"
	DimensionVariant  = "Variant"
)

// Event is a single counter or gauge observation.
type Event struct {
	Name       string
	Value      float64
	Unit       string
	Dimensions map[string]string
}

// Count builds a unit-count event with the given dimensions.
func Count(name string, dimensions map[string]string) Event {
	return Event{Name: name, Value: 1, Unit: "Count", Dimensions: dimensions}
}

// Emitter delivers events to a metrics backend.
type Emitter interface {
	// TryEmit records the event best-effort and never returns an error.
	TryEmit(ctx context.Context, event Event)
}

// MultiEmitter fans events out to several sinks.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that dispatches to all provided sinks,
// skipping nil entries.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	filtered := make([]Emitter, 0, len(emitters))
	for _, emitter := range emitters {
		if emitter == nil {
			continue
		}
		filtered = append(filtered, emitter)
	}
	return &MultiEmitter{emitters: filtered}
}

// TryEmit implements Emitter.
func (m *MultiEmitter) TryEmit(ctx context.Context, event Event) {
	for _, emitter := range m.emitters {
		emitter.TryEmit(ctx, event)
	}
}

// NoopEmitter drops all events.
type NoopEmitter struct{}

// TryEmit implements Emitter.
func (NoopEmitter) TryEmit(context.Context, Event) {}
