package capture_test

import (
	"context"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/capture"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/device/mock"
	"github.com/voxloop/voxloop/pkg/vad"
	vadmock "github.com/voxloop/voxloop/pkg/vad/mock"
)

// Frames are 100ms of PCM16 mono at 16kHz (3200 bytes).

func loudFrame() []byte {
	frame := make([]byte, 3200)
	for i := 0; i+1 < len(frame); i += 4 {
		frame[i] = 0x80
		frame[i+1] = 0x3e
		frame[i+2] = 0x80
		frame[i+3] = 0xc1
	}
	return frame
}

func quietFrame() []byte {
	return make([]byte, 3200)
}

func startPipeline(t *testing.T, cfg capture.Config) (*mock.Source, *capture.Pipeline) {
	t.Helper()
	src := mock.NewSource(16)
	src.SampleRate = 16000

	p, err := capture.New(src, vad.NewRMSEngine(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = p.Run(ctx) }()
	return src, p
}

// collectUtterance reads events until EventSpeechEnded (inclusive).
func collectUtterance(t *testing.T, p *capture.Pipeline) []capture.Event {
	t.Helper()
	var events []capture.Event
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-p.Events():
			if !ok {
				t.Fatalf("events channel closed after %d events", len(events))
			}
			events = append(events, evt)
			if evt.Type == capture.EventSpeechEnded {
				return events
			}
		case <-deadline:
			t.Fatalf("timeout after %d events", len(events))
		}
	}
}

func chunkBytes(events []capture.Event) int {
	n := 0
	for _, evt := range events {
		if evt.Type == capture.EventChunk {
			n += len(evt.Audio)
		}
	}
	return n
}

func TestPipeline_CleanUtterance(t *testing.T) {
	src, p := startPipeline(t, capture.Config{
		MinConfirmedFrames: 3,
		SilenceDuration:    300 * time.Millisecond,
		PreRoll:            300 * time.Millisecond,
		MinChunk:           100 * time.Millisecond,
	})

	// Leading silence, three loud frames to confirm speech, then enough
	// silence to end the utterance.
	src.PushFrame(quietFrame())
	src.PushFrame(quietFrame())
	for range 3 {
		src.PushFrame(loudFrame())
	}
	for range 3 {
		src.PushFrame(quietFrame())
	}

	events := collectUtterance(t, p)

	if events[0].Type != capture.EventSpeechStarted {
		t.Fatalf("first event = %v; want speech_started", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Reason != capture.EndSilence {
		t.Errorf("end reason = %v; want silence", last.Reason)
	}

	// The first chunk carries the pre-roll: all three confirmation frames.
	var first capture.Event
	for _, evt := range events {
		if evt.Type == capture.EventChunk {
			first = evt
			break
		}
	}
	if len(first.Audio) != 9600 {
		t.Errorf("first chunk = %d bytes; want 9600 (three pre-rolled frames)", len(first.Audio))
	}

	// Byte conservation: three loud frames plus the silence tail before the
	// end event, nothing lost and nothing duplicated.
	if got := chunkBytes(events); got != 16000 {
		t.Errorf("total chunk bytes = %d; want 16000", got)
	}
}

func TestPipeline_FinalChunkIsZeroPadded(t *testing.T) {
	src, p := startPipeline(t, capture.Config{
		MinConfirmedFrames: 1,
		SilenceDuration:    200 * time.Millisecond,
		MinChunk:           250 * time.Millisecond, // 8000 bytes at 16kHz
	})

	src.PushFrame(loudFrame())
	src.PushFrame(quietFrame())
	src.PushFrame(quietFrame())

	events := collectUtterance(t, p)

	var chunks [][]byte
	for _, evt := range events {
		if evt.Type == capture.EventChunk {
			chunks = append(chunks, evt.Audio)
		}
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks; want 1", len(chunks))
	}
	if len(chunks[0]) != 8000 {
		t.Fatalf("final chunk = %d bytes; want 8000 (padded to minimum)", len(chunks[0]))
	}

	// 6400 bytes of real audio, the rest must be zero padding.
	for i := 6400; i < len(chunks[0]); i++ {
		if chunks[0][i] != 0 {
			t.Fatalf("padding byte %d = %d; want 0", i, chunks[0][i])
		}
	}
}

func TestPipeline_MaxUtteranceCap(t *testing.T) {
	src, p := startPipeline(t, capture.Config{
		MinConfirmedFrames: 1,
		MaxUtterance:       500 * time.Millisecond,
		MinChunk:           100 * time.Millisecond,
	})

	for range 5 {
		src.PushFrame(loudFrame())
	}

	events := collectUtterance(t, p)
	last := events[len(events)-1]
	if last.Reason != capture.EndMaxDuration {
		t.Errorf("end reason = %v; want max_duration", last.Reason)
	}

	// Continued speech after the cap starts a fresh utterance.
	src.PushFrame(loudFrame())
	select {
	case evt := <-p.Events():
		if evt.Type != capture.EventSpeechStarted {
			t.Errorf("after cap: got %v; want speech_started", evt.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for new utterance after cap")
	}
}

func TestPipeline_MutedDropsFrames(t *testing.T) {
	src, p := startPipeline(t, capture.Config{MinConfirmedFrames: 1})

	p.SetMuted(true)
	for range 5 {
		src.PushFrame(loudFrame())
	}
	src.Close()

	select {
	case evt, ok := <-p.Events():
		if ok {
			t.Fatalf("muted pipeline emitted %v", evt.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for events channel to close")
	}

	if p.Level() != 0 {
		t.Errorf("Level() while muted = %v; want 0", p.Level())
	}
}

func TestPipeline_SourceClosedMidUtterance(t *testing.T) {
	src, p := startPipeline(t, capture.Config{MinConfirmedFrames: 1})

	src.PushFrame(loudFrame())
	src.PushFrame(loudFrame())
	src.Close()

	events := collectUtterance(t, p)
	last := events[len(events)-1]
	if last.Reason != capture.EndSourceClosed {
		t.Errorf("end reason = %v; want source_closed", last.Reason)
	}

	// The channel closes after the final event.
	select {
	case _, ok := <-p.Events():
		if ok {
			t.Error("expected closed events channel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestPipeline_ConvertsSourceFormat(t *testing.T) {
	// The device captures at 48kHz but the pipeline is configured for 24kHz
	// mono, so every frame is downsampled 2:1 before batching.
	src := mock.NewSource(16)
	src.SampleRate = 48000

	p, err := capture.New(src, vad.NewRMSEngine(), capture.Config{
		MinConfirmedFrames: 1,
		SilenceDuration:    50 * time.Millisecond,
		MinChunk:           50 * time.Millisecond, // 2400 bytes at 24kHz
		Format:             audio.Format{SampleRate: 24000, Channels: 1},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = p.Run(ctx) }()

	src.PushFrame(loudFrame()) // 3200 bytes at 48kHz → 1600 at 24kHz
	src.PushFrame(loudFrame())
	src.PushFrame(quietFrame())
	src.PushFrame(quietFrame())

	events := collectUtterance(t, p)

	var chunks []int
	for _, evt := range events {
		if evt.Type == capture.EventChunk {
			chunks = append(chunks, len(evt.Audio))
		}
	}
	// Two loud frames become one 3200-byte chunk in the 24kHz domain; the
	// trailing silence frame is padded up to the 2400-byte minimum.
	if len(chunks) != 2 || chunks[0] != 3200 || chunks[1] != 2400 {
		t.Errorf("chunk sizes = %v; want [3200 2400]", chunks)
	}
}

func TestPipeline_MaxUtteranceResetsVAD(t *testing.T) {
	// A scripted VAD that never reports silence: the length cap is the only
	// thing that can close the utterance, and doing so must reset the VAD
	// session so detection state doesn't leak into the next turn.
	var sess *vadmock.Session
	engine := &vadmock.Engine{
		NewSessionFunc: func(vad.Config) (vad.SessionHandle, error) {
			sess = &vadmock.Session{Script: []vad.Event{
				{Type: vad.SpeechStart},
				{Type: vad.SpeechContinue},
			}}
			return sess, nil
		},
	}

	src := mock.NewSource(16)
	src.SampleRate = 16000
	p, err := capture.New(src, engine, capture.Config{
		MaxUtterance: 300 * time.Millisecond,
		MinChunk:     100 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = p.Run(ctx) }()

	for range 3 {
		src.PushFrame(loudFrame())
	}

	events := collectUtterance(t, p)
	last := events[len(events)-1]
	if last.Reason != capture.EndMaxDuration {
		t.Errorf("end reason = %v; want max_duration", last.Reason)
	}
	if got := sess.Resets(); got != 1 {
		t.Errorf("vad resets = %d; want 1", got)
	}
}

func TestPipeline_LevelTracksInput(t *testing.T) {
	src, p := startPipeline(t, capture.Config{MinConfirmedFrames: 1})

	src.PushFrame(loudFrame())
	events := collectUtteranceStart(t, p)
	if events != capture.EventSpeechStarted {
		t.Fatalf("got %v; want speech_started", events)
	}
	if p.Level() <= 0.5 {
		t.Errorf("Level() = %v; want > 0.5 for loud input", p.Level())
	}
}

func collectUtteranceStart(t *testing.T, p *capture.Pipeline) capture.EventType {
	t.Helper()
	select {
	case evt := <-p.Events():
		return evt.Type
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return 0
	}
}
