// Package store holds the in-process cache of flag definitions. It is the
// only shared mutable resource in the evaluation path and never touches the
// network: reads return deep copies, so callers can hold a snapshot without
// observing later mutation.
package store

import (
	"sync"
	"time"

	"github.com/nholik/flag-sentinel/internal/flags"
)

// Store is the last-known-good snapshot of all flag definitions.
type Store struct {
	mu          sync.RWMutex
	set         flags.Set
	refreshedAt time.Time
}

// New returns an empty store. The synchronizer installs the first snapshot.
func New() *Store {
	return &Store{
		set: flags.Set{Flags: map[string]flags.Definition{}},
	}
}

// Snapshot returns the current set by value.
func (s *Store) Snapshot() flags.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Clone()
}

// Get returns a copy of a single definition.
func (s *Store) Get(name string) (flags.Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.set.Flags[name]
	if !ok {
		return flags.Definition{}, false
	}
	return def.Clone(), true
}

// Replace atomically swaps in a whole new snapshot. Used exclusively by the
// configuration synchronizer; deletions on the remote side are honored
// because the old set is discarded wholesale.
func (s *Store) Replace(set flags.Set, now time.Time) {
	clone := set.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = clone
	s.refreshedAt = now.UTC()
}

// Upsert writes one definition and bumps the snapshot version. It returns
// the resulting set so the caller can push it to the remote store without
// re-reading under a second lock.
func (s *Store) Upsert(name string, def flags.Definition, now time.Time) flags.Set {
	clone := def.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set.Flags == nil {
		s.set.Flags = map[string]flags.Definition{}
	}
	s.set.Flags[name] = clone
	s.bumpLocked(now)
	return s.set.Clone()
}

// Remove deletes one definition and bumps the snapshot version. The second
// return reports whether the flag existed.
func (s *Store) Remove(name string, now time.Time) (flags.Set, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set.Flags[name]; !ok {
		return flags.Set{}, false
	}
	delete(s.set.Flags, name)
	s.bumpLocked(now)
	return s.set.Clone(), true
}

// LastRefreshed reports when a snapshot was last installed or mutated.
func (s *Store) LastRefreshed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt
}

func (s *Store) bumpLocked(now time.Time) {
	s.set.Version = flags.NewVersion(now)
	s.set.LastUpdated = flags.Timestamp(now)
	s.refreshedAt = now.UTC()
}
