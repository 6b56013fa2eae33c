// Package playback turns the agent's network audio chunks into smooth
// device output.
//
// Chunks arrive from the network in bursts. The pipeline buffers them
// briefly to absorb jitter, combines whatever has accumulated into one
// segment per tick, cleans the segment up (noise gate, edge fades, optional
// loudness normalization), and hands it to the sink. A barge-in clears
// everything downstream of the network in a single call.
package playback

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/device"
)

const eventChanDepth = 16

// EventType tags playback lifecycle events.
type EventType int

const (
	// EventStarted: the first segment of a response reached the sink.
	EventStarted EventType = iota

	// EventDrained: the queue emptied and the sink played out.
	EventDrained

	// EventInterrupted: pending audio was discarded by a barge-in.
	EventInterrupted
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventDrained:
		return "drained"
	case EventInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Event is one playback lifecycle notification. Dropped reports discarded
// chunks for EventInterrupted.
type Event struct {
	Type    EventType
	Dropped int
}

// Config holds the playback tuning knobs.
type Config struct {
	// MinChunks is the jitter-buffer depth: playback waits for this many
	// chunks before the first segment. Default 2.
	MinChunks int

	// MaxWait bounds initial buffering so a single short response is not
	// held back waiting for peers that never come. Default 600ms.
	MaxWait time.Duration

	// Tick is the consumer cadence. Default 20ms.
	Tick time.Duration

	// FadeDuration is applied to both edges of every segment to suppress
	// boundary clicks. Default 15ms.
	FadeDuration time.Duration

	// NoiseGateThreshold zeroes samples below this fraction of full scale.
	// Zero disables the gate.
	NoiseGateThreshold float64

	// TargetRMS, when non-zero, boosts quiet segments toward this RMS
	// (0..1 scale) without clipping.
	TargetRMS float64

	// SentencePause is silence inserted after a segment whose associated
	// text ends a sentence. Default 200ms; negative disables.
	SentencePause time.Duration

	// WrapWAV writes each segment as a 44-byte-header WAV instead of raw
	// PCM, for sinks that expect a container.
	WrapWAV bool
}

func (c *Config) applyDefaults() {
	if c.MinChunks == 0 {
		c.MinChunks = 2
	}
	if c.MaxWait == 0 {
		c.MaxWait = 600 * time.Millisecond
	}
	if c.Tick == 0 {
		c.Tick = 20 * time.Millisecond
	}
	if c.FadeDuration == 0 {
		c.FadeDuration = 15 * time.Millisecond
	}
	if c.SentencePause == 0 {
		c.SentencePause = 200 * time.Millisecond
	}
}

// Pipeline is the playback stage. Create with New, drive with Run, feed
// with Enqueue, stop a response mid-flight with Interrupt.
type Pipeline struct {
	sink device.Sink
	cfg  Config
	log  *slog.Logger

	queue  *chunkQueue
	events chan Event

	// streaming is set once a response's first segment reaches the sink and
	// cleared when playback drains, so the jitter gate applies per response
	// rather than per segment.
	streaming atomic.Bool

	mu         sync.Mutex
	generation uint64
}

// New builds a playback pipeline over the given sink.
func New(sink device.Sink, cfg Config, log *slog.Logger) *Pipeline {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		sink:   sink,
		cfg:    cfg,
		log:    log.With("component", "playback"),
		queue:  newChunkQueue(),
		events: make(chan Event, eventChanDepth),
	}
}

// Events returns the lifecycle channel. Closed when Run returns.
func (p *Pipeline) Events() <-chan Event { return p.events }

// Enqueue adds one network chunk to the playback queue.
func (p *Pipeline) Enqueue(c audio.Chunk) {
	p.queue.push(c)
}

// QueueLen reports how many chunks are waiting.
func (p *Pipeline) QueueLen() int { return p.queue.len() }

// SetJitter retunes the jitter gate at runtime. Non-positive values leave
// the corresponding knob unchanged. Takes effect from the next response; a
// response already streaming is not re-gated.
func (p *Pipeline) SetJitter(minChunks int, maxWait time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if minChunks > 0 {
		p.cfg.MinChunks = minChunks
	}
	if maxWait > 0 {
		p.cfg.MaxWait = maxWait
	}
}

// Jitter reports the jitter gate currently in effect.
func (p *Pipeline) Jitter() (int, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.MinChunks, p.cfg.MaxWait
}

// Playing reports whether a response is currently audible or buffered.
func (p *Pipeline) Playing() bool {
	return p.streaming.Load() || p.queue.len() > 0
}

// Interrupt discards every queued chunk and everything buffered in the
// sink. Synchronous: when it returns, nothing stale remains downstream.
func (p *Pipeline) Interrupt() {
	p.mu.Lock()
	p.generation++
	p.mu.Unlock()

	dropped := p.queue.clear()
	p.sink.Flush()
	p.streaming.Store(false)

	p.log.Debug("playback interrupted", "dropped_chunks", dropped)
	p.emit(Event{Type: EventInterrupted, Dropped: dropped})
}

// Run drives the tick loop until ctx is cancelled. It owns the events
// channel and closes it on return.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.events)

	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Pipeline) tick() {
	p.mu.Lock()
	gen := p.generation
	minChunks, maxWait := p.cfg.MinChunks, p.cfg.MaxWait
	p.mu.Unlock()

	chunks := p.queue.takeReady(minChunks, maxWait, p.streaming.Load())
	if chunks == nil {
		// Queue empty or still buffering. A drained queue with an empty sink
		// ends the response.
		if p.streaming.Load() && p.queue.len() == 0 && p.sink.Pending() == 0 {
			p.streaming.Store(false)
			p.emit(Event{Type: EventDrained})
		}
		return
	}

	segment, text := combine(chunks)
	segment = p.process(segment)

	p.mu.Lock()
	stale := gen != p.generation
	p.mu.Unlock()
	if stale {
		// Interrupted while this segment was being prepared. Dropping it
		// here is what keeps a cancelled response from being played twice.
		return
	}

	wasStreaming := p.streaming.Swap(true)

	out := segment
	if p.cfg.WrapWAV {
		format := p.sink.Format()
		out = audio.EncodeWAV(segment, format.SampleRate, format.Channels)
	}
	if err := p.sink.Write(out); err != nil {
		p.log.Warn("sink write failed", "error", err, "bytes", len(out))
		return
	}

	if !wasStreaming {
		p.emit(Event{Type: EventStarted})
	}

	if p.cfg.SentencePause > 0 && endsSentence(text) {
		p.writePause()
	}
}

// process applies the segment cleanup chain.
func (p *Pipeline) process(segment []byte) []byte {
	if p.cfg.NoiseGateThreshold > 0 {
		audio.NoiseGate(segment, p.cfg.NoiseGateThreshold)
	}
	if p.cfg.TargetRMS > 0 {
		audio.NormalizeRMS(segment, p.cfg.TargetRMS, 4.0)
	}
	fade := audio.FadeSamples(int(p.cfg.FadeDuration.Milliseconds()), p.sink.Format().SampleRate)
	audio.FadeIn(segment, fade)
	audio.FadeOut(segment, fade)
	return segment
}

// writePause feeds silence to the sink, giving sentence boundaries room to
// breathe.
func (p *Pipeline) writePause() {
	format := p.sink.Format()
	n := int(p.cfg.SentencePause.Seconds() * float64(format.BytesPerSecond()))
	if n%2 != 0 {
		n++
	}
	if err := p.sink.Write(make([]byte, n)); err != nil {
		p.log.Warn("sink write failed", "error", err, "bytes", n)
	}
}

func (p *Pipeline) emit(evt Event) {
	select {
	case p.events <- evt:
	default:
	}
}

// combine concatenates queued chunks into a single segment and gathers
// their associated text.
func combine(chunks []audio.Chunk) ([]byte, string) {
	total := 0
	for _, c := range chunks {
		total += len(c.Data)
	}
	segment := make([]byte, 0, total)
	var text strings.Builder
	for _, c := range chunks {
		segment = append(segment, c.Data...)
		text.WriteString(c.AssociatedText)
	}
	return segment, text.String()
}

// endsSentence reports whether text finishes a sentence.
func endsSentence(text string) bool {
	trimmed := strings.TrimRight(text, " \t\n\"')")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return strings.HasSuffix(trimmed, "…")
}
