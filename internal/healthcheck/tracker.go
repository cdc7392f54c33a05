package healthcheck

import (
	"sync"
	"time"
)

// Snapshot describes the latest refresh cycle timing details.
type Snapshot struct {
	LastRefreshTime   *time.Time `json:"last_refresh_time"`
	RefreshDurationMS int64      `json:"refresh_duration_ms"`
	FlagsLoaded       int        `json:"flags_loaded"`
}

// Tracker records refresh cycle timing for health endpoints.
type Tracker struct {
	mu              sync.RWMutex
	lastRefresh     time.Time
	refreshDuration time.Duration
	flagsLoaded     int
	ready           bool
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordCycle updates refresh timing and readiness.
func (t *Tracker) RecordCycle(duration time.Duration, flagsLoaded int) {
	if t == nil {
		return
	}
	now := time.Now().UTC()
	t.mu.Lock()
	t.lastRefresh = now
	t.refreshDuration = duration
	t.flagsLoaded = flagsLoaded
	t.ready = true
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastRefresh.IsZero() {
		value := t.lastRefresh
		last = &value
	}
	return Snapshot{
		LastRefreshTime:   last,
		RefreshDurationMS: int64(t.refreshDuration / time.Millisecond),
		FlagsLoaded:       t.flagsLoaded,
	}
}

// Ready reports whether at least one refresh cycle has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the last refresh completed within 2x the poll interval.
func (t *Tracker) Healthy(now time.Time, pollInterval time.Duration) bool {
	if t == nil {
		return false
	}
	if pollInterval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastRefresh.IsZero() {
		return false
	}
	return now.Sub(t.lastRefresh) <= 2*pollInterval
}
