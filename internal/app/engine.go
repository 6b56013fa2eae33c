// Package app wires all Voxloop subsystems into a running conversation
// engine.
//
// The Engine owns the full lifecycle: New creates and connects all
// subsystems, Run executes the duplex conversation loop, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSource, WithConnectFunc, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/voxloop/voxloop/internal/capture"
	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/playback"
	"github.com/voxloop/voxloop/internal/resilience"
	"github.com/voxloop/voxloop/internal/supervisor"
	"github.com/voxloop/voxloop/internal/transcript"
	"github.com/voxloop/voxloop/internal/turn"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/device"
	"github.com/voxloop/voxloop/pkg/realtime"
	"github.com/voxloop/voxloop/pkg/vad"
)

// AgentSession is the duplex agent connection the engine drives. Satisfied
// by [*realtime.Session]; tests substitute a fake.
type AgentSession interface {
	ID() string
	AppendAudio(pcm []byte) error
	CommitAndRespond() error
	ClearInput() error
	CancelResponse() error
	SendText(text string) error
	Audio() <-chan []byte
	Transcripts() <-chan realtime.Transcript
	Signals() <-chan realtime.Signal
	OnError(handler func(error))
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Compile-time interface check.
var _ AgentSession = (*realtime.Session)(nil)

// ConnectFunc establishes a fresh agent session.
type ConnectFunc func(ctx context.Context) (AgentSession, error)

// Engine owns all subsystem lifetimes and orchestrates the duplex voice
// conversation: microphone capture, agent session, speaker playback, and
// turn coordination.
type Engine struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	source    device.Source
	sink      device.Sink
	vadEngine vad.Engine
	connect   ConnectFunc
	store     transcript.Store

	coord    *turn.Coordinator
	capture  *capture.Pipeline
	playback *playback.Pipeline
	sup      *supervisor.Supervisor

	mu          sync.Mutex
	sess        AgentSession
	turnStarted time.Time
	committedAt time.Time
	firstAudio  bool
	lastDelta   string
	retryAfter  time.Time

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*Engine)

// WithSource injects a capture source instead of opening the hardware device.
func WithSource(s device.Source) Option {
	return func(e *Engine) { e.source = s }
}

// WithSink injects a playback sink instead of opening the hardware device.
func WithSink(s device.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithVAD injects a voice activity engine instead of the RMS default.
func WithVAD(v vad.Engine) Option {
	return func(e *Engine) { e.vadEngine = v }
}

// WithConnectFunc injects the session dialer instead of building one from
// the agent config.
func WithConnectFunc(fn ConnectFunc) Option {
	return func(e *Engine) { e.connect = fn }
}

// WithStore injects a transcript store instead of creating one from config.
func WithStore(s transcript.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger injects the logger. The default is [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an Engine by wiring all subsystems together. Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("component", "engine")
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}

	// ── 1. Audio devices ─────────────────────────────────────────────────
	if err := e.initDevices(); err != nil {
		return nil, fmt.Errorf("app: init devices: %w", err)
	}

	// ── 2. Transcript store ──────────────────────────────────────────────
	if err := e.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcript store: %w", err)
	}

	// ── 3. Agent dialer ──────────────────────────────────────────────────
	if err := e.initConnect(); err != nil {
		return nil, fmt.Errorf("app: init agent client: %w", err)
	}

	// ── 4. Pipelines + coordination ──────────────────────────────────────
	if e.vadEngine == nil {
		e.vadEngine = vad.NewRMSEngine()
	}

	capPipe, err := capture.New(e.source, e.vadEngine, capture.Config{
		SilenceThreshold:   cfg.Capture.SilenceThreshold,
		SilenceDuration:    cfg.Capture.SilenceDuration(),
		MinConfirmedFrames: cfg.Capture.MinConfirmedFrames,
		MinChunk:           cfg.Capture.MinChunk(),
		MaxUtterance:       cfg.Capture.MaxUtterance(),
		PreRoll:            cfg.Capture.PreRoll(),
		// Frames are normalized to the configured session format in case the
		// hardware delivers a different rate or channel count.
		Format: audio.Format{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		},
	}, e.log)
	if err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}
	e.capture = capPipe

	e.playback = playback.New(e.sink, playback.Config{
		MinChunks:          cfg.Playback.MinChunks,
		MaxWait:            cfg.Playback.MaxWait(),
		FadeDuration:       cfg.Playback.Fade(),
		NoiseGateThreshold: cfg.Playback.NoiseGateThreshold,
		TargetRMS:          cfg.Playback.TargetRMS,
		SentencePause:      cfg.Playback.SentencePause(),
		WrapWAV:            cfg.Playback.WrapWAV,
	}, e.log)

	e.coord = turn.NewCoordinator(e.log)

	e.sup = supervisor.New(e.dial, supervisor.Config{
		Backoff: resilience.Backoff{
			Base: cfg.Connection.BackoffBase(),
			Cap:  cfg.Connection.BackoffCap(),
		},
		MaxAttempts: cfg.Connection.MaxAttempts,
		Breaker: resilience.CircuitBreakerConfig{
			Name:        "agent-dial",
			MaxFailures: cfg.Connection.BreakerMaxFailures,
			Cooldown:    cfg.Connection.BreakerCooldown(),
			Logger:      e.log,
		},
	}, e.log)

	return e, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDevices opens the duplex hardware device unless both ends were
// injected. One malgo device serves as both source and sink.
func (e *Engine) initDevices() error {
	if e.source != nil && e.sink != nil {
		return nil
	}

	duplex, err := device.NewDuplex(device.DuplexConfig{
		SampleRate: e.cfg.Audio.SampleRate,
		Channels:   e.cfg.Audio.Channels,
		PeriodMs:   e.cfg.Audio.PeriodMs,
	})
	if err != nil {
		return err
	}
	if e.source == nil {
		e.source = duplex
	}
	if e.sink == nil {
		e.sink = duplex
	}
	e.closers = append(e.closers, duplex.Close)
	return nil
}

// initStore sets up the PostgreSQL transcript store when a DSN is
// configured, falling back to the bounded in-memory store.
func (e *Engine) initStore(ctx context.Context) error {
	if e.store != nil {
		return nil
	}

	dsn := e.cfg.Transcript.PostgresDSN
	if dsn == "" {
		e.store = transcript.NewMemoryStore(
			e.cfg.Transcript.MemoryMaxEntries,
			time.Duration(e.cfg.Transcript.MemoryMaxAgeMin)*time.Minute,
		)
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return err
	}
	store := transcript.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	e.store = store
	e.closers = append(e.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// initConnect builds the agent dialer from config unless one was injected.
func (e *Engine) initConnect() error {
	if e.connect != nil {
		return nil
	}

	keyEnv := e.cfg.Agent.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return fmt.Errorf("environment variable %s is not set", keyEnv)
	}

	var opts []realtime.Option
	if e.cfg.Agent.Model != "" {
		opts = append(opts, realtime.WithModel(e.cfg.Agent.Model))
	}
	if e.cfg.Agent.BaseURL != "" {
		opts = append(opts, realtime.WithBaseURL(e.cfg.Agent.BaseURL))
	}
	opts = append(opts, realtime.WithHandshakeTimeout(e.cfg.Agent.HandshakeTimeout()))
	client := realtime.New(apiKey, opts...)

	sessCfg := realtime.SessionConfig{
		Instructions: e.cfg.Agent.Instructions,
		Voice:        e.cfg.Agent.Voice,
		Temperature:  e.cfg.Agent.Temperature,
	}
	if td := e.cfg.Agent.TurnDetection; td.ServerVAD {
		sessCfg.ServerVAD = &realtime.ServerVADConfig{
			Threshold:         td.Threshold,
			SilenceDurationMs: td.SilenceDurationMs,
		}
	}
	e.connect = func(ctx context.Context) (AgentSession, error) {
		return client.Connect(ctx, sessCfg)
	}
	return nil
}

// dial adapts the engine's ConnectFunc to the supervisor and times the
// connection handshake.
func (e *Engine) dial(ctx context.Context) (supervisor.Conn, error) {
	ctx, span := observe.StartSpan(ctx, "agent.dial")
	defer span.End()

	start := time.Now()
	sess, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	e.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	e.metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Debug("agent handshake complete", "took", time.Since(start))
	return sess, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the conversation loop and blocks until ctx is cancelled or a
// subsystem fails fatally.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.source.Start(ctx); err != nil {
		return fmt.Errorf("app: start capture device: %w", err)
	}
	if any(e.sink) != any(e.source) {
		if err := e.sink.Start(ctx); err != nil {
			return fmt.Errorf("app: start playback device: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.capture.Run(ctx) })
	g.Go(func() error { return e.playback.Run(ctx) })
	g.Go(func() error { return e.sup.Run(ctx) })
	g.Go(func() error { return e.superviseEvents(ctx) })
	g.Go(func() error { return e.captureEvents(ctx) })
	g.Go(func() error { return e.playbackEvents(ctx) })

	e.log.Info("engine running")
	return g.Wait()
}

// Connected reports whether an agent session is currently live. Used by the
// readiness probe.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil
}

// SessionID reports the active session's server-assigned ID, or "" when
// disconnected.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return ""
	}
	return e.sess.ID()
}

// SetMuted pauses or resumes microphone capture.
func (e *Engine) SetMuted(muted bool) { e.capture.SetMuted(muted) }

// Level reports the most recent normalized microphone level.
func (e *Engine) Level() float64 { return e.capture.Level() }

// TurnState reports the coordinator's current state.
func (e *Engine) TurnState() turn.State { return e.coord.State() }

// NotifyConnectivity tells the connection supervisor the network is reachable
// again; a pending backoff wait is cut short so the redial happens now.
func (e *Engine) NotifyConnectivity() { e.sup.NotifyConnectivity() }

// PlaybackJitter reports the jitter gate currently in effect. The configured
// depth is doubled while the supervisor reports a degraded link.
func (e *Engine) PlaybackJitter() (int, time.Duration) { return e.playback.Jitter() }

// ApplyTuning applies the runtime-tunable subset of a reloaded
// configuration. Playback jitter depth takes effect from the next response;
// every other section needs a restart.
func (e *Engine) ApplyTuning(next *config.Config) {
	e.mu.Lock()
	e.cfg.Playback.MinChunks = next.Playback.MinChunks
	e.cfg.Playback.MaxWaitMs = next.Playback.MaxWaitMs
	e.mu.Unlock()
	e.adaptJitter()
}

// adaptJitter retunes the playback jitter gate from the configured depth and
// the supervisor's link-quality signal: a degraded link buffers twice as
// deep before the first segment plays.
func (e *Engine) adaptJitter() {
	e.mu.Lock()
	minChunks := e.cfg.Playback.MinChunks
	maxWait := e.cfg.Playback.MaxWait()
	e.mu.Unlock()
	if minChunks <= 0 {
		minChunks = 2
	}
	if e.sup.Quality() == supervisor.QualityDegraded {
		minChunks *= 2
		maxWait *= 2
	}
	e.playback.SetJitter(minChunks, maxWait)
}

// SendText submits a typed message as a user turn.
func (e *Engine) SendText(text string) error {
	sess := e.session()
	if sess == nil {
		return realtime.ErrSessionClosed
	}
	if _, err := e.coord.AgentStarted(); err != nil {
		return err
	}
	return sess.SendText(text)
}

func (e *Engine) session() AgentSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

// ─── Supervisor events ───────────────────────────────────────────────────────

// superviseEvents installs each freshly connected session and tracks
// reconnect outcomes.
func (e *Engine) superviseEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-e.sup.Events():
			if !ok {
				return nil
			}
			switch evt.Type {
			case supervisor.EventConnected:
				sess, ok := evt.Conn.(AgentSession)
				if !ok {
					e.log.Error("supervisor delivered an unusable connection type")
					continue
				}
				e.adaptJitter()
				e.installSession(ctx, sess)
			case supervisor.EventReconnecting:
				e.metrics.RecordReconnect(ctx)
				e.adaptJitter()
				e.log.Warn("reconnecting to agent", "attempt", evt.Attempt, "delay", evt.Delay)
			case supervisor.EventConnectionLost:
				e.mu.Lock()
				e.sess = nil
				e.mu.Unlock()
				e.log.Error("agent connection lost", "err", evt.Err)
			}
		}
	}
}

// installSession makes sess the active session, resets turn state, and
// starts its consumer goroutines. The consumers exit when the session's
// channels close.
func (e *Engine) installSession(ctx context.Context, sess AgentSession) {
	e.mu.Lock()
	e.sess = sess
	e.firstAudio = true
	e.mu.Unlock()

	e.coord.Reset()
	sess.OnError(func(err error) {
		code := "unknown"
		var perr *realtime.ProtocolError
		if errors.As(err, &perr) {
			code = perr.Code
			if perr.RateLimited() {
				e.mu.Lock()
				e.retryAfter = time.Now().Add(e.cfg.Connection.BackoffBase())
				e.mu.Unlock()
			}
		}
		e.metrics.RecordProtocolError(ctx, code)
		e.log.Warn("agent error event", "err", err)
	})

	go e.consumeAudio(ctx, sess)
	go e.consumeTranscripts(ctx, sess)
	go e.consumeSignals(ctx, sess)

	e.log.Info("agent session installed", "session_id", sess.ID())
}

// consumeAudio feeds agent audio deltas into the playback pipeline.
func (e *Engine) consumeAudio(ctx context.Context, sess AgentSession) {
	for pcm := range sess.Audio() {
		if e.session() != sess {
			// A replacement session is live; keep stale audio off the speaker
			// but unblock the producer until the channel closes.
			audio.Drain(sess.Audio())
			return
		}
		if e.coord.State() != turn.StateAgentResponding {
			// Deltas from a cancelled response can still be in flight after a
			// barge-in. The user holds the floor; they must never play.
			e.metrics.DroppedChunks.Add(ctx, 1)
			e.log.Debug("dropping agent audio outside agent turn",
				"state", e.coord.State().String(), "bytes", len(pcm))
			continue
		}
		e.mu.Lock()
		if e.firstAudio && !e.committedAt.IsZero() {
			e.metrics.ResponseDelay.Record(ctx, time.Since(e.committedAt).Seconds())
			e.firstAudio = false
		}
		// Attach whatever transcript fragment arrived since the last delta so
		// playback can pause at sentence boundaries.
		text := e.lastDelta
		e.lastDelta = ""
		e.mu.Unlock()

		e.metrics.PlaybackBytes.Add(ctx, int64(len(pcm)))
		e.playback.Enqueue(audio.Chunk{Data: pcm, ReceivedAt: time.Now(), AssociatedText: text})
	}
}

// consumeTranscripts records finalized agent utterances.
func (e *Engine) consumeTranscripts(ctx context.Context, sess AgentSession) {
	for tx := range sess.Transcripts() {
		if tx.Text == "" {
			continue
		}
		if !tx.Final {
			e.mu.Lock()
			e.lastDelta = tx.Text
			e.mu.Unlock()
			continue
		}
		entry := &transcript.Entry{
			SessionID: sess.ID(),
			TurnID:    e.coord.TurnID(),
			Speaker:   transcript.SpeakerAgent,
			Text:      tx.Text,
		}
		if err := e.store.Append(ctx, entry); err != nil {
			e.log.Warn("failed to record transcript", "err", err)
		}
	}
}

// consumeSignals reacts to turn-lifecycle notifications from the agent.
func (e *Engine) consumeSignals(ctx context.Context, sess AgentSession) {
	for sig := range sess.Signals() {
		switch sig {
		case realtime.SignalSpeechStarted:
			// The server's VAD can beat the local detector; either one opens
			// the user turn, and the coordinator ignores the loser.
			e.handleSpeechStarted(ctx, sess)
		case realtime.SignalSpeechStopped:
			e.handleServerSpeechStopped()
		case realtime.SignalResponseDone:
			// Audio may still be draining through the jitter buffer; the
			// playback Drained event closes the turn in that case.
			if !e.playback.Playing() && e.playback.QueueLen() == 0 {
				e.finishTurn(ctx)
			}
		default:
			e.log.Debug("agent signal", "signal", sig.String())
		}
	}

	// Channel closed: the session is gone. The supervisor handles redial;
	// here we just stop routing to the dead session.
	e.mu.Lock()
	if e.sess == sess {
		e.sess = nil
	}
	e.mu.Unlock()
	e.metrics.ActiveSessions.Add(ctx, -1)
}

// ─── Capture events ──────────────────────────────────────────────────────────

// captureEvents routes microphone utterance events into the active session
// and the turn coordinator. This loop is the single serialization point for
// turn-state decisions driven by local speech.
func (e *Engine) captureEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-e.capture.Events():
			if !ok {
				return nil
			}
			sess := e.session()
			if sess == nil {
				e.log.Debug("dropping capture event, no session", "type", evt.Type.String())
				continue
			}

			switch evt.Type {
			case capture.EventSpeechStarted:
				e.handleSpeechStarted(ctx, sess)
			case capture.EventChunk:
				if err := sess.AppendAudio(evt.Audio); err != nil {
					e.log.Warn("append audio failed", "err", err)
					continue
				}
				e.metrics.CaptureBytes.Add(ctx, int64(len(evt.Audio)))
			case capture.EventSpeechEnded:
				e.handleSpeechEnded(ctx, sess, evt.Reason)
			}
		}
	}
}

// handleSpeechStarted opens a user turn, interrupting the agent first when
// the user barges in over a playing response.
func (e *Engine) handleSpeechStarted(ctx context.Context, sess AgentSession) {
	state, err := e.coord.UserStarted()
	if err != nil {
		e.log.Debug("speech start ignored", "state", e.coord.State().String(), "err", err)
		return
	}

	if state == turn.StateInterrupted {
		// Barge-in: stop the agent before opening the user's turn.
		if err := sess.CancelResponse(); err != nil {
			e.log.Warn("cancel response failed", "err", err)
		}
		if err := sess.ClearInput(); err != nil {
			e.log.Warn("clear input failed", "err", err)
		}
		e.playback.Interrupt()
		e.metrics.RecordTurn(ctx, "interrupted")
		if _, err := e.coord.InterruptionHandled(); err != nil {
			e.log.Warn("interruption handoff failed", "err", err)
			return
		}
	}

	e.mu.Lock()
	e.turnStarted = time.Now()
	e.committedAt = time.Time{}
	e.mu.Unlock()
}

// handleSpeechEnded commits the utterance and asks the agent to respond.
func (e *Engine) handleSpeechEnded(ctx context.Context, sess AgentSession, reason capture.EndReason) {
	if _, err := e.coord.UserStopped(); err != nil {
		e.log.Debug("speech end ignored", "err", err)
		return
	}

	e.log.Debug("utterance ended", "reason", reason.String())
	e.holdForRateLimit(ctx)
	if err := sess.CommitAndRespond(); err != nil {
		e.log.Warn("commit failed", "err", err)
		e.coord.Reset()
		return
	}

	e.mu.Lock()
	e.committedAt = time.Now()
	e.firstAudio = true
	e.mu.Unlock()
}

// handleServerSpeechStopped closes the user turn on the server VAD's say-so.
// With server turn detection the agent commits and responds on its own, so
// no commit is sent from here.
func (e *Engine) handleServerSpeechStopped() {
	if _, err := e.coord.UserStopped(); err != nil {
		e.log.Debug("server speech stop ignored", "err", err)
		return
	}
	e.mu.Lock()
	e.committedAt = time.Now()
	e.firstAudio = true
	e.mu.Unlock()
}

// holdForRateLimit delays the next commit after a server rate-limit event so
// the follow-up request is not rejected too.
func (e *Engine) holdForRateLimit(ctx context.Context) {
	e.mu.Lock()
	wait := time.Until(e.retryAfter)
	e.mu.Unlock()
	if wait <= 0 {
		return
	}
	e.log.Warn("rate limited, delaying commit", "wait", wait)
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// ─── Playback events ─────────────────────────────────────────────────────────

// playbackEvents closes turns when the speaker drains and accounts for
// interrupted output.
func (e *Engine) playbackEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-e.playback.Events():
			if !ok {
				return nil
			}
			switch evt.Type {
			case playback.EventDrained:
				e.finishTurn(ctx)
			case playback.EventInterrupted:
				e.metrics.DroppedChunks.Add(ctx, int64(evt.Dropped))
			}
		}
	}
}

// finishTurn marks the agent's response as complete and records turn
// metrics.
func (e *Engine) finishTurn(ctx context.Context) {
	if _, err := e.coord.AgentDone(); err != nil {
		return
	}

	e.mu.Lock()
	started := e.turnStarted
	e.turnStarted = time.Time{}
	e.mu.Unlock()

	if !started.IsZero() {
		e.metrics.TurnDuration.Record(ctx, time.Since(started).Seconds())
	}
	e.metrics.RecordTurn(ctx, "completed")
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	var shutdownErr error
	e.stopOnce.Do(func() {
		e.log.Info("shutting down", "closers", len(e.closers))

		if sess := e.session(); sess != nil {
			if err := sess.Close(); err != nil {
				e.log.Warn("session close error", "err", err)
			}
		}

		for i, closer := range e.closers {
			select {
			case <-ctx.Done():
				e.log.Warn("shutdown deadline exceeded", "remaining", len(e.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				e.log.Warn("closer error", "index", i, "err", err)
			}
		}

		e.log.Info("shutdown complete")
	})
	return shutdownErr
}
