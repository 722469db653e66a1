// Package corpus owns the property snapshot the match engine reads: an
// in-memory current snapshot with atomic swap semantics, JSON file
// persistence, and archival of outgoing snapshots to local disk or S3.
package corpus

import (
	"errors"
	"sync"
	"time"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
)

// ErrNoCorpus is returned when no snapshot has been loaded yet. Agent checks
// treat this as a skipped check, not a caller-visible failure.
var ErrNoCorpus = errors.New("no corpus snapshot loaded")

// ErrStaleSnapshot is returned by Swap when the incoming snapshot was
// generated before the one currently being served.
var ErrStaleSnapshot = errors.New("snapshot is older than the current one")

// Store serves the current snapshot. Readers get a stable pointer: a swap
// never mutates a snapshot handed out earlier, so an in-progress check reads
// one generation end to end.
type Store struct {
	mu   sync.RWMutex
	snap *domain.Snapshot
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the snapshot being served, or ErrNoCorpus before the first
// successful load.
func (s *Store) Current() (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, ErrNoCorpus
	}
	return s.snap, nil
}

// Swap replaces the current snapshot. Generation time must not move
// backwards; reloading an equally-timestamped snapshot is allowed so an
// identical reload stays idempotent.
func (s *Store) Swap(next *domain.Snapshot) error {
	if next == nil {
		return errors.New("nil snapshot")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil && next.GeneratedAt.Before(s.snap.GeneratedAt) {
		return ErrStaleSnapshot
	}
	s.snap = next
	return nil
}

// Stats reports the current generation time and property count for health
// reporting. ok is false before the first load.
func (s *Store) Stats() (generatedAt time.Time, properties int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return time.Time{}, 0, false
	}
	return s.snap.GeneratedAt, len(s.snap.Properties), true
}
