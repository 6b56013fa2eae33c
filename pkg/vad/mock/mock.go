// Package mock provides a scripted VAD implementation for tests.
package mock

import (
	"sync"

	"github.com/voxloop/voxloop/pkg/vad"
)

// Compile-time assertions.
var _ vad.Engine = (*Engine)(nil)
var _ vad.SessionHandle = (*Session)(nil)

// Engine returns pre-scripted sessions.
type Engine struct {
	// NewSessionFunc overrides session creation when set.
	NewSessionFunc func(cfg vad.Config) (vad.SessionHandle, error)

	// Script is handed to sessions created by the default NewSession.
	Script []vad.Event
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if e.NewSessionFunc != nil {
		return e.NewSessionFunc(cfg)
	}
	return &Session{Script: e.Script}, nil
}

// Session replays a fixed script of events, one per ProcessFrame call.
// When the script runs out it keeps returning the last event (or Silence if
// the script is empty).
type Session struct {
	Script []vad.Event

	mu     sync.Mutex
	pos    int
	resets int
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(_ []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Script) == 0 {
		return vad.Event{Type: vad.Silence}, nil
	}
	evt := s.Script[min(s.pos, len(s.Script)-1)]
	s.pos++
	return evt, nil
}

// Reset implements [vad.SessionHandle] and counts invocations.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.pos = 0
}

// Resets returns how many times Reset was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error { return nil }
