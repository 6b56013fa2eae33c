// Package realtime implements the client side of the remote agent's
// bidirectional streaming protocol: JSON events over a persistent WebSocket.
//
// Audio travels as base64-encoded PCM16 mono chunks inside append/delta
// events. A [Client] dials the endpoint and performs the handshake; the
// resulting [Session] exposes the inbound stream as typed channels (agent
// audio, transcripts, turn signals) and the outbound operations as methods
// (append, commit, clear, create/cancel response, text turns). Inbound
// events of unknown type are ignored, never fatal.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultModel            = "gpt-4o-realtime-preview-2024-12-17"
	defaultBaseURL          = "wss://api.openai.com/v1/realtime"
	defaultVoice            = "nova"
	defaultHandshakeTimeout = 10 * time.Second

	audioBufDepth      = 64
	transcriptBufDepth = 16
	signalBufDepth     = 16
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the agent model requested in the connection URL.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHandshakeTimeout bounds how long Connect waits for the session
// acknowledgement. The default is 10s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// ── SessionConfig ──────────────────────────────────────────────────────────────

// SessionConfig holds the per-session parameters sent in the initial
// session.update event.
type SessionConfig struct {
	// Instructions is the agent's system prompt.
	Instructions string

	// Voice selects the agent's synthesised voice. Default: "nova".
	Voice string

	// Temperature controls response sampling. Zero means server default.
	Temperature float64

	// ServerVAD enables server-side turn detection. When nil the client
	// runs with local VAD only and commits input explicitly.
	ServerVAD *ServerVADConfig
}

// ServerVADConfig tunes the server's own voice activity detector.
type ServerVADConfig struct {
	Threshold         float64
	SilenceDurationMs int
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client dials the remote agent endpoint and performs the session handshake.
// A Client is immutable after construction and safe for concurrent use; each
// Connect call produces an independent [Session].
type Client struct {
	apiKey           string
	model            string
	baseURL          string
	handshakeTimeout time.Duration
}

// New creates a Client with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:           apiKey,
		model:            defaultModel,
		baseURL:          defaultBaseURL,
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect opens the socket, sends the session configuration, and waits for
// the session acknowledgement. It fails with [*AuthError] on credential
// rejection, [*TimeoutError] if no acknowledgement arrives within the
// handshake timeout, [*TransportError] for socket-level failures, and
// [*ProtocolError] if the server answers the handshake with an error event.
func (c *Client) Connect(ctx context.Context, cfg SessionConfig) (*Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthError{Status: resp.StatusCode, Msg: resp.Status}
		}
		return nil, &TransportError{Op: "dial", Err: err}
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:        conn,
		audioCh:     make(chan []byte, audioBufDepth),
		transcripts: make(chan Transcript, transcriptBufDepth),
		signals:     make(chan Signal, signalBufDepth),
		created:     make(chan ServerEvent, 1),
		done:        make(chan struct{}),
		ctx:         sessCtx,
		cancel:      sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, &TransportError{Op: "session update", Err: err}
	}

	go sess.receiveLoop()

	// Wait for the session acknowledgement (or a handshake error event).
	handshake := time.NewTimer(c.handshakeTimeout)
	defer handshake.Stop()

	select {
	case evt := <-sess.created:
		if evt.Type == EventError {
			_ = sess.Close()
			return nil, evt.Err
		}
		sess.mu.Lock()
		sess.id = evt.SessionID
		sess.ready = true
		sess.mu.Unlock()
		return sess, nil

	case <-sess.done:
		err := sess.Err()
		_ = sess.Close()
		if err == nil {
			err = &TransportError{Op: "handshake", Err: fmt.Errorf("connection closed before session.created")}
		}
		return nil, err

	case <-handshake.C:
		_ = sess.Close()
		return nil, &TimeoutError{Op: "handshake", Wait: c.handshakeTimeout}

	case <-ctx.Done():
		_ = sess.Close()
		return nil, &TransportError{Op: "handshake", Err: ctx.Err()}
	}
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is one live bidirectional stream with the remote agent. At most
// one Session per Client connection attempt; a dead session is replaced by
// reconnecting, never resumed.
//
// All methods are safe for concurrent use.
type Session struct {
	conn *websocket.Conn

	audioCh     chan []byte
	transcripts chan Transcript
	signals     chan Signal
	created     chan ServerEvent
	done        chan struct{}

	mu            sync.Mutex
	id            string
	errVal        error
	closed        bool
	ready         bool // handshake completed
	errorHandler  func(error)
	pendingFrames int // frames appended since the last commit

	// currentText accumulates transcript deltas until the done event.
	currentText string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// ID returns the server-assigned session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// sendSessionUpdate sends the session.update event configuring modalities,
// instructions, voice, audio formats, and turn detection.
func (s *Session) sendSessionUpdate(cfg SessionConfig) error {
	params := sessionParams{
		Modalities:        []string{"text", "audio"},
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		Voice:             defaultVoice,
	}
	if cfg.Voice != "" {
		params.Voice = cfg.Voice
	}
	if cfg.Instructions != "" {
		params.Instructions = cfg.Instructions
	}
	if cfg.Temperature != 0 {
		params.Temperature = cfg.Temperature
	}
	if cfg.ServerVAD != nil {
		params.TurnDetection = &turnDetection{
			Type:              "server_vad",
			Threshold:         cfg.ServerVAD.Threshold,
			SilenceDurationMs: cfg.ServerVAD.SilenceDurationMs,
		}
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them. It owns
// the outbound channels: it closes them all when it exits.
func (s *Session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(&TransportError{Op: "read", Err: err})
			return
		}

		evt, err := parseServerEvent(data)
		if err != nil {
			continue
		}
		s.handleServerEvent(evt)
	}
}

func (s *Session) handleServerEvent(evt ServerEvent) {
	switch evt.Type {
	case EventSessionCreated:
		select {
		case s.created <- evt:
		default:
		}

	case EventSessionUpdated:
		// Configuration acknowledged; nothing to surface.

	case EventAudioDelta:
		if len(evt.Audio) == 0 {
			return
		}
		select {
		case s.audioCh <- evt.Audio:
		case <-s.ctx.Done():
		}

	case EventTranscriptDelta:
		if evt.Text == "" {
			return
		}
		s.mu.Lock()
		s.currentText += evt.Text
		s.mu.Unlock()
		s.emitTranscript(Transcript{Text: evt.Text, Timestamp: time.Now()})

	case EventTranscriptDone:
		s.mu.Lock()
		text := evt.Text
		if text == "" {
			text = s.currentText
		}
		s.currentText = ""
		s.mu.Unlock()
		if text == "" {
			return
		}
		s.emitTranscript(Transcript{Text: text, Final: true, Timestamp: time.Now()})

	case EventSpeechStarted:
		s.emitSignal(SignalSpeechStarted)

	case EventSpeechStopped:
		s.emitSignal(SignalSpeechStopped)

	case EventResponseDone:
		s.emitSignal(SignalResponseDone)

	case EventItemCreated:
		s.emitSignal(SignalItemCreated)

	case EventError:
		// An error event during the handshake fails Connect; afterwards it
		// goes to the registered handler.
		s.mu.Lock()
		ready := s.ready
		handler := s.errorHandler
		s.mu.Unlock()
		if !ready {
			select {
			case s.created <- evt:
			default:
			}
			return
		}
		if handler != nil {
			handler(evt.Err)
		}
	}
}

func (s *Session) emitTranscript(tx Transcript) {
	select {
	case s.transcripts <- tx:
	case <-s.ctx.Done():
	}
}

func (s *Session) emitSignal(sig Signal) {
	select {
	case s.signals <- sig:
	case <-s.ctx.Done():
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *Session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.transcripts)
		close(s.signals)
		close(s.done)
	})
}

// ── Outbound operations ────────────────────────────────────────────────────────

// AppendAudio base64-encodes a PCM16 chunk and streams it to the agent's
// input buffer.
func (s *Session) AppendAudio(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.pendingFrames++
	s.mu.Unlock()

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// Commit finalizes the appended audio for the next response.
func (s *Session) Commit() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.pendingFrames = 0
	s.mu.Unlock()
	return s.writeJSON(map[string]string{"type": "input_audio_buffer.commit"})
}

// CreateResponse asks the agent to begin generating a reply.
func (s *Session) CreateResponse() error {
	return s.writeJSON(createResponseMessage{
		Type:     "response.create",
		Response: &responseParams{Modalities: []string{"text", "audio"}},
	})
}

// CommitAndRespond commits the input buffer and requests a response in one
// step. Returns [ErrNothingToCommit] if no audio has been appended since the
// last commit: the server rejects empty commits with an error event.
func (s *Session) CommitAndRespond() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.pendingFrames == 0 {
		s.mu.Unlock()
		return ErrNothingToCommit
	}
	s.pendingFrames = 0
	s.mu.Unlock()

	if err := s.writeJSON(map[string]string{"type": "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return s.CreateResponse()
}

// ClearInput discards appended-but-uncommitted audio server-side. Used on
// interruption.
func (s *Session) ClearInput() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.pendingFrames = 0
	s.mu.Unlock()
	return s.writeJSON(map[string]string{"type": "input_audio_buffer.clear"})
}

// CancelResponse stops the agent's in-flight reply (barge-in).
func (s *Session) CancelResponse() error {
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

// SendText injects a text-only user turn and requests a reply, bypassing
// audio capture entirely.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	msg := createItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: text},
			},
		},
	}
	if err := s.writeJSON(msg); err != nil {
		return err
	}
	return s.CreateResponse()
}

// ── Inbound streams ────────────────────────────────────────────────────────────

// Audio returns the channel on which the agent's synthesised PCM16 chunks
// arrive, in receipt order. Closed when the session ends.
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// Transcripts returns the channel of transcript fragments aligned with the
// agent's audio. Closed when the session ends.
func (s *Session) Transcripts() <-chan Transcript { return s.transcripts }

// Signals returns the channel of turn lifecycle signals. Closed when the
// session ends.
func (s *Session) Signals() <-chan Signal { return s.signals }

// Done returns a channel closed when the receive loop exits, whether by
// Close or by transport failure. Check [Session.Err] to distinguish.
func (s *Session) Done() <-chan struct{} { return s.done }

// OnError registers a callback for non-fatal server error events.
func (s *Session) OnError(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

// Err returns the transport error that terminated the session, or nil while
// the session is healthy or was closed deliberately.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
