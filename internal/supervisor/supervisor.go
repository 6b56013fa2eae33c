// Package supervisor owns the connection lifecycle.
//
// It dials the agent endpoint, watches the live session, and redials with
// exponential backoff when the transport drops. A circuit breaker stops the
// redial loop from hammering a dead endpoint, a connectivity signal lets the
// OS short-circuit the backoff wait when the network comes back, and
// credential rejections abort immediately: retrying a bad API key only
// burns attempts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxloop/voxloop/internal/resilience"
	"github.com/voxloop/voxloop/pkg/realtime"
)

// Conn is the supervised connection surface. *realtime.Session satisfies it.
type Conn interface {
	// Done is closed when the connection terminates for any reason.
	Done() <-chan struct{}

	// Err returns the transport error that killed the connection, or nil
	// for a deliberate close.
	Err() error

	Close() error
}

// ConnectFunc dials one connection attempt.
type ConnectFunc func(ctx context.Context) (Conn, error)

// ── Events ─────────────────────────────────────────────────────────────────────

// EventType tags supervisor lifecycle events.
type EventType int

const (
	// EventConnected: a session is live. The event carries it.
	EventConnected EventType = iota

	// EventReconnecting: the supervisor is waiting out a backoff delay
	// before the given attempt.
	EventReconnecting

	// EventConnectionLost is terminal: attempts are exhausted or the error
	// is fatal. Run returns right after emitting it.
	EventConnectionLost
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventReconnecting:
		return "reconnecting"
	case EventConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Event is one supervisor notification.
type Event struct {
	Type    EventType
	Conn    Conn          // set for EventConnected
	Attempt int           // set for EventReconnecting
	Delay   time.Duration // set for EventReconnecting
	Err     error         // set for EventConnectionLost
}

// Quality is a coarse link-quality signal derived from drop recency.
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
)

// String returns the human-readable name of the quality level.
func (q Quality) String() string {
	if q == QualityDegraded {
		return "degraded"
	}
	return "good"
}

// ── Supervisor ─────────────────────────────────────────────────────────────────

// Config holds supervisor tuning knobs.
type Config struct {
	// Backoff shapes the delay between attempts.
	Backoff resilience.Backoff

	// MaxAttempts is the consecutive failed attempts tolerated before the
	// connection is declared lost. Default 5.
	MaxAttempts int

	// Breaker configures the dial circuit breaker.
	Breaker resilience.CircuitBreakerConfig

	// DegradedWindow is how long after a drop the link reports degraded.
	// Default 30s.
	DegradedWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.DegradedWindow == 0 {
		c.DegradedWindow = 30 * time.Second
	}
	if c.Breaker.Name == "" {
		c.Breaker.Name = "connect"
	}
}

const eventChanDepth = 16

// Supervisor keeps one connection alive across transport failures.
type Supervisor struct {
	connect ConnectFunc
	cfg     Config
	log     *slog.Logger
	breaker *resilience.CircuitBreaker

	events       chan Event
	connectivity chan struct{}

	mu       sync.Mutex
	lastDrop time.Time
}

// New builds a Supervisor around the given dial function.
func New(connect ConnectFunc, cfg Config, log *slog.Logger) *Supervisor {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	cfg.Breaker.Logger = log
	return &Supervisor{
		connect:      connect,
		cfg:          cfg,
		log:          log.With("component", "supervisor"),
		breaker:      resilience.NewCircuitBreaker(cfg.Breaker),
		events:       make(chan Event, eventChanDepth),
		connectivity: make(chan struct{}, 1),
	}
}

// Events returns the lifecycle channel. Closed when Run returns.
func (s *Supervisor) Events() <-chan Event { return s.events }

// NotifyConnectivity tells the supervisor the network is reachable again.
// Any backoff wait in progress is cut short and the dial breaker resets.
func (s *Supervisor) NotifyConnectivity() {
	s.breaker.Reset()
	select {
	case s.connectivity <- struct{}{}:
	default:
	}
}

// Quality reports the link quality: degraded for a window after each drop,
// good otherwise. Consumers use it to deepen jitter buffering on flaky
// links.
func (s *Supervisor) Quality() Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastDrop.IsZero() && time.Since(s.lastDrop) < s.cfg.DegradedWindow {
		return QualityDegraded
	}
	return QualityGood
}

// Run dials and supervises until ctx is cancelled, the session is closed
// deliberately, or the connection is declared lost. It owns the events
// channel and closes it on return.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.events)

	attempt := 0
	for {
		var conn Conn
		err := s.breaker.Execute(func() error {
			var dialErr error
			conn, dialErr = s.connect(ctx)
			return dialErr
		})

		if err != nil {
			var authErr *realtime.AuthError
			if errors.As(err, &authErr) {
				s.log.Error("credentials rejected", "error", err)
				s.emit(Event{Type: EventConnectionLost, Err: err})
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			attempt++
			if attempt >= s.cfg.MaxAttempts {
				s.log.Error("connection attempts exhausted", "attempts", attempt, "error", err)
				lost := fmt.Errorf("supervisor: %d attempts failed: %w", attempt, err)
				s.emit(Event{Type: EventConnectionLost, Err: lost})
				return lost
			}

			delay := s.cfg.Backoff.Delay(attempt)
			s.log.Warn("connect failed, backing off",
				"attempt", attempt, "delay", delay, "error", err)
			s.emit(Event{Type: EventReconnecting, Attempt: attempt + 1, Delay: delay})

			if err := s.wait(ctx, delay); err != nil {
				return err
			}
			continue
		}

		attempt = 0
		s.log.Info("session connected")
		s.emit(Event{Type: EventConnected, Conn: conn})

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return ctx.Err()

		case <-conn.Done():
			dropErr := conn.Err()
			if dropErr == nil {
				// Deliberate close: supervision is over.
				return nil
			}
			s.mu.Lock()
			s.lastDrop = time.Now()
			s.mu.Unlock()
			s.log.Warn("session dropped", "error", dropErr)
		}
	}
}

// wait sleeps out a backoff delay, waking early on a connectivity signal or
// cancellation.
func (s *Supervisor) wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-s.connectivity:
		s.log.Info("connectivity regained, retrying immediately")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) emit(evt Event) {
	select {
	case s.events <- evt:
	default:
	}
}
