// Package sync pulls the authoritative snapshot from the remote
// configuration store into the local flag store. Scheduled polling and
// explicit read-after-write refreshes funnel through the same
// fetch/validate/replace sequence.
package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/flag-sentinel/internal/flags"
	"github.com/nholik/flag-sentinel/internal/healthcheck"
	"github.com/nholik/flag-sentinel/internal/metrics"
	"github.com/nholik/flag-sentinel/internal/remote"
	"github.com/nholik/flag-sentinel/internal/store"
	"github.com/nholik/flag-sentinel/internal/telemetry"
)

// Ticker is the minimal interface needed for driving the poll loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Synchronizer keeps the flag store in step with the remote store.
type Synchronizer struct {
	logger        zerolog.Logger
	flagStore     *store.Store
	remoteStore   remote.Store
	emitter       telemetry.Emitter
	localMetrics  *metrics.Metrics
	tracker       *healthcheck.Tracker
	pollInterval  time.Duration
	tickerFactory func(time.Duration) Ticker
	clock         func() time.Time

	mu            sync.Mutex
	refreshedOnce bool
}

// Option customizes synchronizer behavior.
type Option func(*Synchronizer)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(s *Synchronizer) {
		s.tickerFactory = factory
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Synchronizer) {
		s.clock = clock
	}
}

// WithLocalMetrics wires the local Prometheus collectors.
func WithLocalMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) {
		s.localMetrics = m
	}
}

// WithTracker wires the refresh cycle tracker used by health endpoints.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(s *Synchronizer) {
		s.tracker = tracker
	}
}

// New constructs a Synchronizer.
func New(logger zerolog.Logger, flagStore *store.Store, remoteStore remote.Store, emitter telemetry.Emitter, pollInterval time.Duration, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		logger:       logger,
		flagStore:    flagStore,
		remoteStore:  remoteStore,
		emitter:      emitter,
		pollInterval: pollInterval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.emitter == nil {
		s.emitter = telemetry.NoopEmitter{}
	}
	return s
}

// Run starts the poll loop and blocks until the context is canceled. An
// initial refresh happens immediately so evaluation never waits a full tick.
func (s *Synchronizer) Run(ctx context.Context) error {
	if s.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial refresh failed")
	}

	ticker := s.tickerFactory(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("synchronizer stopped")
			return nil
		case <-ticker.C():
			if _, err := s.Refresh(ctx); err != nil {
				s.logger.Error().Err(err).Msg("refresh failed")
			}
		}
	}
}

// Refresh fetches the authoritative snapshot and atomically replaces the
// store contents. On fetch or parse failure the previous snapshot stays
// intact, except on the very first refresh after process start, where a
// built-in default is installed so the system never serves zero flags. The
// returned set is whatever the store holds after the attempt.
func (s *Synchronizer) Refresh(ctx context.Context) (flags.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.clock()

	content, err := s.remoteStore.FetchLatest(ctx)
	if err != nil {
		return s.handleFailure(err), err
	}

	if content == nil {
		// Remote reported no change since the last poll.
		s.refreshedOnce = true
		s.recordCycle(started)
		return s.flagStore.Snapshot(), nil
	}

	set, err := flags.ParseSet(content)
	if err != nil {
		return s.handleFailure(err), err
	}

	now := s.clock()
	s.flagStore.Replace(set, now)
	s.refreshedOnce = true

	s.emitter.TryEmit(ctx, telemetry.Count(telemetry.EventCacheRefresh, nil))
	s.localMetrics.SetLastSuccessfulRefreshTimestamp(now)
	s.recordCycle(started)

	s.logger.Info().
		Str("version", set.Version).
		Int("flags", len(set.Flags)).
		Msg("snapshot refreshed")

	return s.flagStore.Snapshot(), nil
}

func (s *Synchronizer) handleFailure(cause error) flags.Set {
	s.localMetrics.IncRemoteStoreErrors()

	if !s.refreshedOnce {
		now := s.clock()
		fallback := flags.DefaultSet(now)
		s.flagStore.Replace(fallback, now)
		s.refreshedOnce = true
		s.logger.Warn().Err(cause).Msg("first refresh failed, installed default flags")
		return s.flagStore.Snapshot()
	}

	s.logger.Warn().Err(cause).Msg("refresh failed, keeping previous snapshot")
	return s.flagStore.Snapshot()
}

func (s *Synchronizer) recordCycle(started time.Time) {
	elapsed := s.clock().Sub(started)
	s.localMetrics.ObserveRefreshDuration(elapsed)
	s.tracker.RecordCycle(elapsed, len(s.flagStore.Snapshot().Flags))
}
