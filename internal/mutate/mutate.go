// Package mutate applies administrator-initiated flag changes. The local
// cache is authoritative for serving traffic: a mutation is applied once the
// store accepts it, and the remote push is a durability step whose failure
// is logged rather than raised.
package mutate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/flag-sentinel/internal/flags"
	"github.com/nholik/flag-sentinel/internal/remote"
	"github.com/nholik/flag-sentinel/internal/store"
	"github.com/nholik/flag-sentinel/internal/telemetry"
)

// Service applies flag mutations to the store and propagates them.
type Service struct {
	logger      zerolog.Logger
	flagStore   *store.Store
	remoteStore remote.Store
	emitter     telemetry.Emitter
	clock       func() time.Time
}

// Option customizes service behavior.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// New constructs a Service. remoteStore may be nil, in which case mutations
// stay local.
func New(logger zerolog.Logger, flagStore *store.Store, remoteStore remote.Store, emitter telemetry.Emitter, opts ...Option) *Service {
	s := &Service{
		logger:      logger,
		flagStore:   flagStore,
		remoteStore: remoteStore,
		emitter:     emitter,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.emitter == nil {
		s.emitter = telemetry.NoopEmitter{}
	}
	return s
}

// Upsert validates and writes a flag definition, then pushes the new
// snapshot to the remote store.
func (s *Service) Upsert(ctx context.Context, flagName string, req flags.Upsert) (flags.Definition, error) {
	now := s.clock()

	def, err := flags.Validate(req, now)
	if err != nil {
		return flags.Definition{}, err
	}
	def.Metadata.LastUpdated = flags.Timestamp(now)

	snapshot := s.flagStore.Upsert(flagName, def, now)
	s.push(ctx, snapshot, fmt.Sprintf("Update of flag %s", flagName))

	s.emitter.TryEmit(ctx, telemetry.Count(telemetry.EventFlagUpdate, map[string]string{
		telemetry.DimensionFlagName: flagName,
	}))

	s.logger.Info().
		Str("flag", flagName).
		Bool("enabled", def.Enabled).
		Int("rollout", def.RolloutPercentage).
		Msg("flag updated")

	return def, nil
}

// Delete removes a flag. Unknown names fail with a NotFoundError.
func (s *Service) Delete(ctx context.Context, flagName string) error {
	now := s.clock()

	snapshot, ok := s.flagStore.Remove(flagName, now)
	if !ok {
		return &flags.NotFoundError{Name: flagName}
	}
	s.push(ctx, snapshot, fmt.Sprintf("Deletion of flag %s", flagName))

	s.emitter.TryEmit(ctx, telemetry.Count(telemetry.EventFlagDelete, map[string]string{
		telemetry.DimensionFlagName: flagName,
	}))

	s.logger.Info().Str("flag", flagName).Msg("flag deleted")
	return nil
}

// SetRollout updates only the rollout percentage, carrying every other
// field of the existing definition through.
func (s *Service) SetRollout(ctx context.Context, flagName string, percentage int) (flags.Definition, error) {
	if percentage < 0 || percentage > 100 {
		return flags.Definition{}, &flags.ValidationError{Reason: "rollout percentage must be between 0 and 100"}
	}

	existing, ok := s.flagStore.Get(flagName)
	if !ok {
		return flags.Definition{}, &flags.NotFoundError{Name: flagName}
	}

	req := existing.AsUpsert()
	req.RolloutPercentage = &percentage

	def, err := s.Upsert(ctx, flagName, req)
	if err != nil {
		return flags.Definition{}, err
	}

	s.emitter.TryEmit(ctx, telemetry.Event{
		Name:  telemetry.EventRolloutUpdate,
		Value: float64(percentage),
		Unit:  "Percent",
		Dimensions: map[string]string{
			telemetry.DimensionFlagName: flagName,
		},
	})

	return def, nil
}

func (s *Service) push(ctx context.Context, snapshot flags.Set, description string) {
	if s.remoteStore == nil {
		return
	}

	content, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal snapshot for push")
		return
	}
	if err := s.remoteStore.Publish(ctx, content, description); err != nil {
		s.logger.Warn().Err(err).Msg("remote push failed, local mutation kept")
	}
}
