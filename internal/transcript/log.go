// Package transcript records the conversation as a sequence of turns.
//
// Every finalized utterance, user or agent, becomes one [Entry]. The
// in-memory store keeps a bounded rolling window for live UI and review;
// the Postgres store persists full history across sessions.
package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Entry is one finalized conversation turn.
type Entry struct {
	ID        string
	SessionID string
	TurnID    string
	Speaker   Speaker
	Text      string
	CreatedAt time.Time
}

func newEntryID() string { return uuid.NewString() }

// Store persists conversation turns.
type Store interface {
	// Append records one turn. Missing ID and CreatedAt are filled in.
	Append(ctx context.Context, e *Entry) error

	// Recent returns up to limit most recent turns for a session, in
	// chronological order.
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
}

// ── MemoryStore ────────────────────────────────────────────────────────────────

// MemoryStore is a bounded in-memory [Store]. Old entries are evicted by
// count and by age, whichever trips first.
type MemoryStore struct {
	maxEntries int
	maxAge     time.Duration

	mu      sync.Mutex
	entries []Entry
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore holding at most maxEntries turns no
// older than maxAge. Zero values mean 1000 entries / 1 hour.
func NewMemoryStore(maxEntries int, maxAge time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &MemoryStore{maxEntries: maxEntries, maxAge: maxAge}
}

// Append implements [Store].
func (s *MemoryStore) Append(_ context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = newEntryID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	s.evict()
	return nil
}

// evict must be called with s.mu held.
func (s *MemoryStore) evict() {
	cutoff := time.Now().Add(-s.maxAge)
	start := 0
	for start < len(s.entries) && s.entries[start].CreatedAt.Before(cutoff) {
		start++
	}
	if over := len(s.entries) - start - s.maxEntries; over > 0 {
		start += over
	}
	if start > 0 {
		s.entries = append(s.entries[:0:0], s.entries[start:]...)
	}
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionID == "" || s.entries[i].SessionID == sessionID {
			out = append(out, s.entries[i])
		}
	}
	// Collected newest-first; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Len reports how many turns are currently retained.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
