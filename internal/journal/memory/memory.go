// Package memory keeps journal records in memory. It backs tests and the
// diagnostics endpoint when no database is configured.
package memory

import (
	"sync"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

// SessionRecord groups a session with everything recorded during it.
type SessionRecord struct {
	Session    core.Session
	Fixes      []core.Fix
	Placements []core.PlacementSample
	Ended      bool
}

// Backend stores journal records in memory.
type Backend struct {
	sessions []*SessionRecord
	current  *SessionRecord
	limit    int

	mu sync.RWMutex
}

// New creates a memory backend. When limit is positive each session keeps
// at most that many fixes and placements, the oldest being discarded.
func New(limit int) *Backend {
	return &Backend{limit: limit}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins a new session record.
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := &SessionRecord{Session: *s}
	b.sessions = append(b.sessions, rec)
	b.current = rec
	return nil
}

// EndSession marks the current session as ended.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return journal.ErrNoSession
	}
	b.current.Ended = true
	b.current = nil
	return nil
}

// RecordFix appends a fix to the current session.
func (b *Backend) RecordFix(f *core.Fix) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return journal.ErrNoSession
	}
	b.current.Fixes = trim(append(b.current.Fixes, *f), b.limit)
	return nil
}

// RecordPlacements appends samples to the current session.
func (b *Backend) RecordPlacements(samples []core.PlacementSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return journal.ErrNoSession
	}
	b.current.Placements = trim(append(b.current.Placements, samples...), b.limit)
	return nil
}

// Sessions returns a copy of every session recorded so far.
func (b *Backend) Sessions() []SessionRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]SessionRecord, len(b.sessions))
	for i, rec := range b.sessions {
		out[i] = SessionRecord{
			Session:    rec.Session,
			Fixes:      append([]core.Fix(nil), rec.Fixes...),
			Placements: append([]core.PlacementSample(nil), rec.Placements...),
			Ended:      rec.Ended,
		}
	}
	return out
}

// LastFix returns the most recent fix of the current session.
func (b *Backend) LastFix() (core.Fix, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.current == nil || len(b.current.Fixes) == 0 {
		return core.Fix{}, false
	}
	return b.current.Fixes[len(b.current.Fixes)-1], true
}

func trim[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return append(items[:0:0], items[len(items)-limit:]...)
}
