// Package eval decides whether a flag is enabled for a user and which
// variant the user is assigned. Decisions read only the in-process store and
// the bucketing hash, so evaluation latency is independent of remote health.
package eval

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nholik/flag-sentinel/internal/flags"
	"github.com/nholik/flag-sentinel/internal/store"
	"github.com/nholik/flag-sentinel/internal/telemetry"
)

// Engine evaluates flags against the current snapshot.
type Engine struct {
	logger    zerolog.Logger
	flagStore *store.Store
	emitter   telemetry.Emitter
}

// New constructs an Engine.
func New(logger zerolog.Logger, flagStore *store.Store, emitter telemetry.Emitter) *Engine {
	if emitter == nil {
		emitter = telemetry.NoopEmitter{}
	}
	return &Engine{
		logger:    logger,
		flagStore: flagStore,
		emitter:   emitter,
	}
}

// Flag returns a copy of a single definition from the current snapshot.
func (e *Engine) Flag(flagName string) (flags.Definition, bool) {
	return e.flagStore.Get(flagName)
}

// SnapshotSet returns the current snapshot without touching the remote store.
func (e *Engine) SnapshotSet() flags.Set {
	return e.flagStore.Snapshot()
}

// IsEnabled reports whether the named flag is on for the user. Rules apply
// in order and the first match decides: unknown flag and kill switch force
// false, the explicit user allow-list forces true, a non-empty group
// restriction excludes users outside it, and finally the user's percentile
// bucket is compared against the rollout percentage.
func (e *Engine) IsEnabled(ctx context.Context, flagName string, user flags.Context) bool {
	def, ok := e.flagStore.Get(flagName)
	if !ok {
		e.logger.Warn().Str("flag", flagName).Msg("unknown flag evaluated")
		return false
	}

	if !def.Enabled {
		return false
	}

	if contains(def.Targeting.UserIDs, user.UserID) {
		e.emitEnabled(ctx, flagName)
		return true
	}

	if len(def.Targeting.UserGroups) > 0 && !intersects(user.UserGroups, def.Targeting.UserGroups) {
		return false
	}

	if def.RolloutPercentage < 100 {
		if flags.Percentile(user.UserID, flagName) >= def.RolloutPercentage {
			return false
		}
	}

	e.emitEnabled(ctx, flagName)
	return true
}

// GetVariant returns the user's variant assignment for an enabled flag. The
// second return is false when the flag resolves to disabled.
func (e *Engine) GetVariant(ctx context.Context, flagName string, user flags.Context) (string, bool) {
	if !e.IsEnabled(ctx, flagName, user) {
		return "", false
	}

	def, ok := e.flagStore.Get(flagName)
	if !ok {
		return "", false
	}

	// Written flags always carry at least a control variant, but a snapshot
	// taken from the remote store may predate that guarantee.
	if len(def.Variants) == 0 {
		return flags.DefaultVariant, true
	}
	if len(def.Variants) == 1 {
		e.emitVariant(ctx, flagName, def.Variants[0].Name)
		return def.Variants[0].Name, true
	}

	var totalWeight float64
	for _, variant := range def.Variants {
		totalWeight += variant.Weight
	}
	if totalWeight <= 0 {
		return def.Variants[0].Name, true
	}

	selector := flags.VariantSelector(user.UserID, flagName, totalWeight)
	var cumulative float64
	for _, variant := range def.Variants {
		cumulative += variant.Weight
		if selector < cumulative {
			e.emitVariant(ctx, flagName, variant.Name)
			return variant.Name, true
		}
	}

	// Unreachable given the modulo bound, kept as a guard.
	return def.Variants[0].Name, true
}

// Result is the combined outcome of a single evaluation.
type Result struct {
	Enabled bool   `json:"enabled"`
	Variant string `json:"variant,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Evaluate runs both checks for one flag.
func (e *Engine) Evaluate(ctx context.Context, flagName string, user flags.Context) Result {
	result := Result{Enabled: e.IsEnabled(ctx, flagName, user)}
	if result.Enabled {
		if variant, ok := e.GetVariant(ctx, flagName, user); ok {
			result.Variant = variant
		}
	}
	return result
}

// BatchEvaluate evaluates many flags for one user. Each flag resolves
// independently; an unknown flag records a per-flag error without aborting
// the batch.
func (e *Engine) BatchEvaluate(ctx context.Context, flagNames []string, user flags.Context) map[string]Result {
	results := make(map[string]Result, len(flagNames))
	for _, flagName := range flagNames {
		if _, ok := e.flagStore.Get(flagName); !ok {
			results[flagName] = Result{Error: "feature flag not found"}
			continue
		}
		results[flagName] = e.Evaluate(ctx, flagName, user)
	}
	return results
}

// CacheInfo describes the snapshot backing the stats.
type CacheInfo struct {
	LastUpdated string `json:"lastUpdated"`
	Version     string `json:"version"`
}

// Stats summarizes the current snapshot.
type Stats struct {
	TotalFlags      int       `json:"totalFlags"`
	EnabledFlags    int       `json:"enabledFlags"`
	DisabledFlags   int       `json:"disabledFlags"`
	PartialRollouts int       `json:"partialRollouts"`
	ABTestFlags     int       `json:"abTestFlags"`
	CacheInfo       CacheInfo `json:"cacheInfo"`
}

// Stats computes summary counts over the current snapshot.
func (e *Engine) Stats() Stats {
	set := e.flagStore.Snapshot()

	stats := Stats{
		TotalFlags: len(set.Flags),
		CacheInfo: CacheInfo{
			LastUpdated: set.LastUpdated,
			Version:     set.Version,
		},
	}
	for _, def := range set.Flags {
		if def.Enabled {
			stats.EnabledFlags++
		}
		if def.RolloutPercentage > 0 && def.RolloutPercentage < 100 {
			stats.PartialRollouts++
		}
		if len(def.Variants) > 1 {
			stats.ABTestFlags++
		}
	}
	stats.DisabledFlags = stats.TotalFlags - stats.EnabledFlags
	return stats
}

func (e *Engine) emitEnabled(ctx context.Context, flagName string) {
	e.emitter.TryEmit(ctx, telemetry.Count(telemetry.EventEvaluation, map[string]string{
		telemetry.DimensionFlagName: flagName,
		telemetry.DimensionResult:   "enabled",
	}))
}

func (e *Engine) emitVariant(ctx context.Context, flagName, variant string) {
	e.emitter.TryEmit(ctx, telemetry.Count(telemetry.EventVariantAssignment, map[string]string{
		telemetry.DimensionFlagName: flagName,
		telemetry.DimensionVariant:  variant,
	}))
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, value := range a {
		if contains(b, value) {
			return true
		}
	}
	return false
}
