// Package mock provides in-memory Source and Sink implementations for
// pipeline tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/device"
)

// Compile-time assertions.
var _ device.Source = (*Source)(nil)
var _ device.Sink = (*Sink)(nil)

// Source is a scripted capture device. Tests push frames with PushFrame and
// end the stream with Close.
type Source struct {
	// StartErr is returned by Start when set.
	StartErr error

	// SampleRate and Channels default to 24000 / 1.
	SampleRate int
	Channels   int

	frames    chan audio.Frame
	seq       uint64
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewSource creates a Source with room for depth buffered frames.
func NewSource(depth int) *Source {
	if depth <= 0 {
		depth = 64
	}
	return &Source{frames: make(chan audio.Frame, depth)}
}

// PushFrame delivers one PCM frame to the consumer, assigning the next
// sequence number.
func (s *Source) PushFrame(pcm []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	frame := audio.Frame{
		Sequence:   s.seq,
		Data:       pcm,
		SampleRate: s.sampleRate(),
		Channels:   s.channels(),
	}
	s.mu.Unlock()
	s.frames <- frame
}

func (s *Source) sampleRate() int {
	if s.SampleRate == 0 {
		return 24000
	}
	return s.SampleRate
}

func (s *Source) channels() int {
	if s.Channels == 0 {
		return 1
	}
	return s.Channels
}

// Start implements [device.Source].
func (s *Source) Start(_ context.Context) error { return s.StartErr }

// Frames implements [device.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Format implements [device.Source].
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: s.sampleRate(), Channels: s.channels()}
}

// Close implements [device.Source] and closes the frame channel.
func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.frames) })
	return nil
}

// Sink records written audio for inspection.
type Sink struct {
	// WriteErr is returned by Write when set.
	WriteErr error

	// SampleRate and Channels default to 24000 / 1.
	SampleRate int
	Channels   int

	// HoldPending makes Pending report buffered bytes instead of modelling
	// instant playout.
	HoldPending bool

	mu      sync.Mutex
	writes  [][]byte
	pending int
	flushes int
}

// NewSink creates an empty recording Sink.
func NewSink() *Sink { return &Sink{} }

// Start implements [device.Sink].
func (s *Sink) Start(_ context.Context) error { return nil }

// Write implements [device.Sink].
func (s *Sink) Write(pcm []byte) error {
	if s.WriteErr != nil {
		return s.WriteErr
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	s.mu.Lock()
	s.writes = append(s.writes, buf)
	s.pending += len(buf)
	s.mu.Unlock()
	return nil
}

// Flush implements [device.Sink] and counts invocations.
func (s *Sink) Flush() {
	s.mu.Lock()
	s.pending = 0
	s.flushes++
	s.mu.Unlock()
}

// Pending implements [device.Sink].
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.HoldPending {
		return 0
	}
	return s.pending
}

// Format implements [device.Sink].
func (s *Sink) Format() audio.Format {
	sr, ch := s.SampleRate, s.Channels
	if sr == 0 {
		sr = 24000
	}
	if ch == 0 {
		ch = 1
	}
	return audio.Format{SampleRate: sr, Channels: ch}
}

// Close implements [device.Sink].
func (s *Sink) Close() error { return nil }

// Writes returns a copy of everything written so far, in order.
func (s *Sink) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// WrittenBytes returns the total byte count across all writes.
func (s *Sink) WrittenBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.writes {
		n += len(w)
	}
	return n
}

// Flushes returns how many times Flush was called.
func (s *Sink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}
