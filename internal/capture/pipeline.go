// Package capture turns raw microphone frames into gated utterance chunks.
//
// The pipeline reads frames from a [device.Source], runs them through a VAD
// session, and emits audio only while the user is speaking. A short pre-roll
// ring buffer preserves the syllables spoken before the VAD confirms speech,
// batching keeps network writes at a sensible size, and a hard cap bounds
// utterance length so a noisy room cannot hold a turn open forever.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/device"
	"github.com/voxloop/voxloop/pkg/vad"
)

const eventChanDepth = 32

// EventType tags pipeline output events.
type EventType int

const (
	// EventSpeechStarted marks the confirmed beginning of an utterance.
	EventSpeechStarted EventType = iota

	// EventChunk carries one batch of utterance audio.
	EventChunk

	// EventSpeechEnded marks the end of an utterance.
	EventSpeechEnded
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventSpeechStarted:
		return "speech_started"
	case EventChunk:
		return "chunk"
	case EventSpeechEnded:
		return "speech_ended"
	default:
		return "unknown"
	}
}

// EndReason says why an utterance ended.
type EndReason int

const (
	// EndSilence: the VAD observed sustained silence.
	EndSilence EndReason = iota

	// EndMaxDuration: the utterance hit the configured length cap.
	EndMaxDuration

	// EndSourceClosed: the capture device shut down mid-utterance.
	EndSourceClosed
)

// String returns the human-readable name of the end reason.
func (r EndReason) String() string {
	switch r {
	case EndSilence:
		return "silence"
	case EndMaxDuration:
		return "max_duration"
	case EndSourceClosed:
		return "source_closed"
	default:
		return "unknown"
	}
}

// Event is one pipeline output. Audio is set for EventChunk; Reason is set
// for EventSpeechEnded.
type Event struct {
	Type   EventType
	Audio  []byte
	Reason EndReason
}

// Config holds the capture tuning knobs.
type Config struct {
	// SilenceThreshold is the normalized level (0..1) below which a frame
	// counts as silence. Default 0.12.
	SilenceThreshold float64

	// SilenceDuration is how long silence must persist before the utterance
	// ends. Default 900ms.
	SilenceDuration time.Duration

	// MinConfirmedFrames is how many consecutive loud frames confirm speech.
	// Default 3.
	MinConfirmedFrames int

	// MinChunk is the smallest batch of utterance audio sent downstream.
	// Default 100ms.
	MinChunk time.Duration

	// MaxUtterance caps utterance length. Default 30s.
	MaxUtterance time.Duration

	// PreRoll is how much audio from before the speech confirmation is
	// prepended to the utterance. Default 300ms.
	PreRoll time.Duration

	// Format is the PCM format frames are normalized to before they reach
	// the VAD or leave the pipeline. Zero fields default to the source's
	// own format, disabling conversion.
	Format audio.Format
}

func (c *Config) applyDefaults() {
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = 0.12
	}
	if c.SilenceDuration == 0 {
		c.SilenceDuration = 900 * time.Millisecond
	}
	if c.MinConfirmedFrames == 0 {
		c.MinConfirmedFrames = 3
	}
	if c.MinChunk == 0 {
		c.MinChunk = 100 * time.Millisecond
	}
	if c.MaxUtterance == 0 {
		c.MaxUtterance = 30 * time.Second
	}
	if c.PreRoll == 0 {
		c.PreRoll = 300 * time.Millisecond
	}
}

// Pipeline is the capture stage. Create with New, drive with Run, consume
// from Events.
type Pipeline struct {
	src  device.Source
	sess vad.SessionHandle
	conv *audio.FormatConverter
	cfg  Config
	log  *slog.Logger

	events chan Event

	muted atomic.Bool
	level atomic.Uint64 // float64 bits of the latest input level

	// utterance state, owned by Run
	speaking      bool
	batch         []byte
	preRoll       *audio.RingBuffer
	utteranceDur  time.Duration
	minChunkBytes int
}

// New builds a capture pipeline over the given source and VAD engine.
func New(src device.Source, engine vad.Engine, cfg Config, log *slog.Logger) (*Pipeline, error) {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}

	format := cfg.Format
	if format.SampleRate == 0 {
		format.SampleRate = src.Format().SampleRate
	}
	if format.Channels == 0 {
		format.Channels = src.Format().Channels
	}
	sess, err := engine.NewSession(vad.Config{
		SampleRate:         format.SampleRate,
		SilenceThreshold:   cfg.SilenceThreshold,
		SilenceDuration:    cfg.SilenceDuration,
		MinConfirmedFrames: cfg.MinConfirmedFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("capture: vad session: %w", err)
	}

	bytesPerSecond := format.BytesPerSecond()
	minChunkBytes := int(cfg.MinChunk.Seconds() * float64(bytesPerSecond))
	if minChunkBytes%2 != 0 {
		minChunkBytes++
	}

	return &Pipeline{
		src:           src,
		sess:          sess,
		conv:          &audio.FormatConverter{Target: format},
		cfg:           cfg,
		log:           log.With("component", "capture"),
		events:        make(chan Event, eventChanDepth),
		preRoll:       audio.NewRingBuffer(format.SampleRate, int(cfg.PreRoll.Milliseconds())),
		minChunkBytes: minChunkBytes,
	}, nil
}

// Events returns the pipeline output channel. Closed when Run returns.
func (p *Pipeline) Events() <-chan Event { return p.events }

// SetMuted toggles the microphone gate. While muted, frames are discarded
// before they reach the VAD.
func (p *Pipeline) SetMuted(muted bool) { p.muted.Store(muted) }

// Muted reports the gate state.
func (p *Pipeline) Muted() bool { return p.muted.Load() }

// Level returns the most recent input level, normalized to 0..1. Intended
// for UI metering.
func (p *Pipeline) Level() float64 {
	return math.Float64frombits(p.level.Load())
}

// Run drives the pipeline until the source closes or ctx is cancelled. It
// owns the events channel and closes it on return.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.events)
	defer p.sess.Close()

	for {
		select {
		case <-ctx.Done():
			if p.speaking {
				p.endUtterance(ctx, EndSourceClosed)
			}
			return ctx.Err()

		case frame, ok := <-p.src.Frames():
			if !ok {
				if p.speaking {
					p.endUtterance(ctx, EndSourceClosed)
				}
				return nil
			}
			p.processFrame(ctx, frame)
		}
	}
}

func (p *Pipeline) processFrame(ctx context.Context, frame audio.Frame) {
	if p.muted.Load() {
		p.level.Store(math.Float64bits(0))
		return
	}

	frame = p.conv.Convert(frame)
	if len(frame.Data) == 0 {
		return
	}

	p.level.Store(math.Float64bits(audio.NormalizedLevel(frame.Data)))

	evt, err := p.sess.ProcessFrame(frame.Data)
	if err != nil {
		p.log.Warn("vad rejected frame", "error", err, "bytes", len(frame.Data))
		return
	}

	switch evt.Type {
	case vad.SpeechStart:
		p.speaking = true
		p.utteranceDur = 0
		p.emit(ctx, Event{Type: EventSpeechStarted})

		// Seed the utterance with the pre-roll so confirmation latency does
		// not clip the first syllables. The current frame is already in the
		// ring.
		p.preRoll.Write(frame.Data)
		p.batch = append(p.batch[:0], p.preRoll.ReadAll()...)
		p.utteranceDur += frame.Duration()
		p.flushFullChunks(ctx)

	case vad.SpeechContinue:
		if !p.speaking {
			return
		}
		p.batch = append(p.batch, frame.Data...)
		p.utteranceDur += frame.Duration()
		p.flushFullChunks(ctx)

		if p.utteranceDur >= p.cfg.MaxUtterance {
			p.log.Info("utterance hit length cap", "duration", p.utteranceDur)
			p.endUtterance(ctx, EndMaxDuration)
			p.sess.Reset()
		}

	case vad.SpeechEnd:
		p.endUtterance(ctx, EndSilence)

	case vad.Silence:
		p.preRoll.Write(frame.Data)
	}
}

// flushFullChunks emits batched audio once it reaches the minimum chunk
// size.
func (p *Pipeline) flushFullChunks(ctx context.Context) {
	if len(p.batch) < p.minChunkBytes {
		return
	}
	chunk := make([]byte, len(p.batch))
	copy(chunk, p.batch)
	p.batch = p.batch[:0]
	p.emit(ctx, Event{Type: EventChunk, Audio: chunk})
}

// endUtterance flushes the final partial chunk, zero-padded to the minimum
// chunk size so downstream consumers never see an undersized batch, and
// emits the end event.
func (p *Pipeline) endUtterance(ctx context.Context, reason EndReason) {
	if !p.speaking {
		return
	}
	p.speaking = false

	if len(p.batch) > 0 {
		chunk := make([]byte, len(p.batch), max(len(p.batch), p.minChunkBytes))
		copy(chunk, p.batch)
		for len(chunk) < p.minChunkBytes {
			chunk = append(chunk, 0)
		}
		p.batch = p.batch[:0]
		p.emit(ctx, Event{Type: EventChunk, Audio: chunk})
	}

	p.preRoll.Reset()
	p.emit(ctx, Event{Type: EventSpeechEnded, Reason: reason})
}

func (p *Pipeline) emit(ctx context.Context, evt Event) {
	select {
	case p.events <- evt:
	case <-ctx.Done():
	}
}
