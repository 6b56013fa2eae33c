package playback_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/playback"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/device/mock"
)

// pcmChunk returns n bytes of mid-level PCM16 so fades and gates have real
// samples to work on.
func pcmChunk(n int) audio.Chunk {
	data := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		data[i] = 0x00
		data[i+1] = 0x20 // +8192
	}
	return audio.Chunk{Data: data}
}

func startPipeline(t *testing.T, sink *mock.Sink, cfg playback.Config) *playback.Pipeline {
	t.Helper()
	if cfg.Tick == 0 {
		cfg.Tick = 10 * time.Millisecond
	}
	p := playback.New(sink, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = p.Run(ctx) }()
	return p
}

func waitEvent(t *testing.T, p *playback.Pipeline, want playback.EventType) playback.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-p.Events():
			if !ok {
				t.Fatalf("events channel closed waiting for %v", want)
			}
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %v", want)
		}
	}
}

func waitWrites(t *testing.T, sink *mock.Sink, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if writes := sink.Writes(); len(writes) >= n {
			return writes
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: sink has %d writes; want >= %d", len(sink.Writes()), n)
	return nil
}

func TestPipeline_JitterBufferWaitsForDepth(t *testing.T) {
	sink := mock.NewSink()
	p := startPipeline(t, sink, playback.Config{
		MinChunks: 2,
		MaxWait:   time.Minute,
	})

	p.Enqueue(pcmChunk(4800))
	time.Sleep(80 * time.Millisecond)
	if got := len(sink.Writes()); got != 0 {
		t.Fatalf("sink received %d writes before jitter depth reached; want 0", got)
	}

	p.Enqueue(pcmChunk(4800))
	writes := waitWrites(t, sink, 1)

	// Both chunks are combined into a single segment.
	if len(writes[0]) != 9600 {
		t.Errorf("segment = %d bytes; want 9600 (two combined chunks)", len(writes[0]))
	}
	waitEvent(t, p, playback.EventStarted)
}

func TestPipeline_SetJitterRetunesGate(t *testing.T) {
	sink := mock.NewSink()
	p := startPipeline(t, sink, playback.Config{
		MinChunks: 1,
		MaxWait:   time.Minute,
	})

	// Deepen the gate before anything is queued: one chunk no longer
	// satisfies the depth.
	p.SetJitter(3, time.Minute)
	if minChunks, maxWait := p.Jitter(); minChunks != 3 || maxWait != time.Minute {
		t.Fatalf("Jitter() = (%d, %v); want (3, 1m)", minChunks, maxWait)
	}

	p.Enqueue(pcmChunk(4800))
	time.Sleep(80 * time.Millisecond)
	if got := len(sink.Writes()); got != 0 {
		t.Fatalf("sink received %d writes below the deepened depth; want 0", got)
	}

	// Restoring the shallow gate releases the queued chunk.
	p.SetJitter(1, time.Minute)
	waitWrites(t, sink, 1)
}

func TestPipeline_MaxWaitReleasesShortResponse(t *testing.T) {
	sink := mock.NewSink()
	p := startPipeline(t, sink, playback.Config{
		MinChunks: 8,
		MaxWait:   30 * time.Millisecond,
	})

	p.Enqueue(pcmChunk(4800))
	waitWrites(t, sink, 1)
	waitEvent(t, p, playback.EventStarted)
}

func TestPipeline_StreamingSkipsJitterGate(t *testing.T) {
	sink := mock.NewSink()
	p := startPipeline(t, sink, playback.Config{
		MinChunks: 2,
		MaxWait:   time.Minute,
	})

	// Reach jitter depth once.
	p.Enqueue(pcmChunk(4800))
	p.Enqueue(pcmChunk(4800))
	waitWrites(t, sink, 1)

	// A lone follow-up chunk must not wait for depth again.
	p.Enqueue(pcmChunk(4800))
	writes := waitWrites(t, sink, 2)
	if len(writes[1]) != 4800 {
		t.Errorf("follow-up segment = %d bytes; want 4800", len(writes[1]))
	}
}

func TestPipeline_DrainedAfterPlayout(t *testing.T) {
	sink := mock.NewSink()
	p := startPipeline(t, sink, playback.Config{MinChunks: 1})

	p.Enqueue(pcmChunk(4800))
	waitEvent(t, p, playback.EventStarted)
	waitEvent(t, p, playback.EventDrained)

	if p.Playing() {
		t.Error("Playing() after drain = true; want false")
	}
}

func TestPipeline_InterruptClearsEverything(t *testing.T) {
	sink := mock.NewSink()
	p := playback.New(sink, playback.Config{MinChunks: 100, MaxWait: time.Minute}, nil)

	for range 5 {
		p.Enqueue(pcmChunk(4800))
	}

	p.Interrupt()

	if p.QueueLen() != 0 {
		t.Errorf("QueueLen after Interrupt = %d; want 0", p.QueueLen())
	}
	if sink.Flushes() != 1 {
		t.Errorf("sink flushes = %d; want 1", sink.Flushes())
	}
	select {
	case evt := <-p.Events():
		if evt.Type != playback.EventInterrupted {
			t.Fatalf("event = %v; want interrupted", evt.Type)
		}
		if evt.Dropped != 5 {
			t.Errorf("dropped = %d; want 5", evt.Dropped)
		}
	default:
		t.Fatal("no interrupted event emitted")
	}
	if p.Playing() {
		t.Error("Playing() after Interrupt = true; want false")
	}
}

func TestPipeline_SentencePauseInsertsSilence(t *testing.T) {
	sink := mock.NewSink()
	p := startPipeline(t, sink, playback.Config{
		MinChunks:     1,
		SentencePause: 100 * time.Millisecond,
	})

	c := pcmChunk(4800)
	c.AssociatedText = "Bonjour, comment ça va?"
	p.Enqueue(c)

	writes := waitWrites(t, sink, 2)

	// Second write is the pause: 100ms of silence at 24kHz mono.
	pause := writes[1]
	if len(pause) != 4800 {
		t.Fatalf("pause = %d bytes; want 4800", len(pause))
	}
	if !bytes.Equal(pause, make([]byte, len(pause))) {
		t.Error("pause contains non-zero samples")
	}
}

func TestPipeline_NoPauseMidSentence(t *testing.T) {
	sink := mock.NewSink()
	p := startPipeline(t, sink, playback.Config{
		MinChunks:     1,
		SentencePause: 100 * time.Millisecond,
	})

	c := pcmChunk(4800)
	c.AssociatedText = "Bonjour, comment"
	p.Enqueue(c)

	waitWrites(t, sink, 1)
	time.Sleep(50 * time.Millisecond)
	if got := len(sink.Writes()); got != 1 {
		t.Errorf("sink writes = %d; want 1 (no pause mid-sentence)", got)
	}
}

func TestPipeline_FadesSegmentEdges(t *testing.T) {
	sink := mock.NewSink()
	p := startPipeline(t, sink, playback.Config{
		MinChunks:    1,
		FadeDuration: 15 * time.Millisecond,
	})

	p.Enqueue(pcmChunk(9600))
	writes := waitWrites(t, sink, 1)
	seg := writes[0]

	// First sample faded to zero, a sample past the ramp untouched.
	if seg[0] != 0 || seg[1] != 0 {
		t.Errorf("first sample = [%d %d]; want faded to 0", seg[0], seg[1])
	}
	mid := len(seg) / 2
	if mid%2 != 0 {
		mid++
	}
	if seg[mid] != 0x00 || seg[mid+1] != 0x20 {
		t.Errorf("mid sample = [%#x %#x]; want untouched [0x0 0x20]", seg[mid], seg[mid+1])
	}
	end := len(seg) - 2
	if seg[end] != 0 || seg[end+1] != 0 {
		t.Errorf("last sample = [%d %d]; want faded to 0", seg[end], seg[end+1])
	}
}

func TestPipeline_WrapWAV(t *testing.T) {
	sink := mock.NewSink()
	p := startPipeline(t, sink, playback.Config{
		MinChunks: 1,
		WrapWAV:   true,
	})

	p.Enqueue(pcmChunk(4800))
	writes := waitWrites(t, sink, 1)

	pcm, info, err := audio.ExtractPCM(writes[0])
	if err != nil {
		t.Fatalf("ExtractPCM: %v", err)
	}
	if len(pcm) != 4800 {
		t.Errorf("wrapped PCM = %d bytes; want 4800", len(pcm))
	}
	if info.SampleRate != 24000 || info.Channels != 1 {
		t.Errorf("WAV format = %d Hz %d ch; want 24000 Hz mono", info.SampleRate, info.Channels)
	}
}
