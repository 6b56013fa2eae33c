package vad

import (
	"errors"
	"fmt"
	"time"

	"github.com/voxloop/voxloop/pkg/audio"
)

// Compile-time assertions that the RMS types satisfy the vad interfaces.
var _ Engine = (*RMSEngine)(nil)
var _ SessionHandle = (*rmsSession)(nil)

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("vad: session closed")

const (
	defaultSilenceThreshold   = 0.12
	defaultSilenceDuration    = 900 * time.Millisecond
	defaultMinConfirmedFrames = 3
)

// RMSEngine detects speech from normalized RMS loudness. It has no model
// weights and no external dependencies, which keeps the capture loop cheap
// and fully deterministic under test.
//
// Silence timing is derived from the audio itself (accumulated frame
// durations), not from the wall clock, so detection behaves identically for
// live capture and replayed audio.
type RMSEngine struct{}

// NewRMSEngine creates an [RMSEngine].
func NewRMSEngine() *RMSEngine {
	return &RMSEngine{}
}

// NewSession implements [Engine]. Zero-value config fields are replaced with
// defaults; an invalid sample rate or out-of-range threshold is an error.
func (e *RMSEngine) NewSession(cfg Config) (SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > 1 {
		return nil, fmt.Errorf("vad: silence threshold %v out of range [0, 1]", cfg.SilenceThreshold)
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = defaultSilenceThreshold
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = defaultSilenceDuration
	}
	if cfg.MinConfirmedFrames <= 0 {
		cfg.MinConfirmedFrames = defaultMinConfirmedFrames
	}
	return &rmsSession{cfg: cfg}, nil
}

type rmsSession struct {
	cfg Config

	speaking          bool
	consecutiveFrames int
	silenceElapsed    time.Duration
	closed            bool
}

// ProcessFrame implements [SessionHandle].
func (s *rmsSession) ProcessFrame(frame []byte) (Event, error) {
	if s.closed {
		return Event{}, ErrSessionClosed
	}
	if len(frame)%2 != 0 {
		return Event{}, fmt.Errorf("vad: frame has odd byte count %d", len(frame))
	}

	level := audio.NormalizedLevel(frame)

	if level > s.cfg.SilenceThreshold {
		s.silenceElapsed = 0
		s.consecutiveFrames++

		if !s.speaking {
			if s.consecutiveFrames >= s.cfg.MinConfirmedFrames {
				s.speaking = true
				return Event{Type: SpeechStart, Level: level}, nil
			}
			// Still confirming; treat as silence so a lone pop never
			// triggers barge-in.
			return Event{Type: Silence, Level: level}, nil
		}
		return Event{Type: SpeechContinue, Level: level}, nil
	}

	s.consecutiveFrames = 0

	if s.speaking {
		s.silenceElapsed += s.frameDuration(len(frame))
		if s.silenceElapsed >= s.cfg.SilenceDuration {
			s.speaking = false
			s.silenceElapsed = 0
			return Event{Type: SpeechEnd, Level: level}, nil
		}
		// Inside the debounce window: the utterance is still open.
		return Event{Type: SpeechContinue, Level: level}, nil
	}

	return Event{Type: Silence, Level: level}, nil
}

// Reset implements [SessionHandle].
func (s *rmsSession) Reset() {
	s.speaking = false
	s.consecutiveFrames = 0
	s.silenceElapsed = 0
}

// Close implements [SessionHandle].
func (s *rmsSession) Close() error {
	s.closed = true
	return nil
}

func (s *rmsSession) frameDuration(byteLen int) time.Duration {
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(s.cfg.SampleRate)
}
