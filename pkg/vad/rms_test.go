package vad_test

import (
	"testing"
	"time"

	"github.com/voxloop/voxloop/pkg/vad"
)

// loudFrame returns 100ms of loud PCM16 mono audio at 16kHz (a square wave
// well above any reasonable threshold).
func loudFrame() []byte {
	frame := make([]byte, 3200)
	for i := 0; i+1 < len(frame); i += 4 {
		// +16000 / -16000 alternating samples.
		frame[i] = 0x80
		frame[i+1] = 0x3e
		frame[i+2] = 0x80
		frame[i+3] = 0xc1
	}
	return frame
}

// quietFrame returns 100ms of silence at 16kHz.
func quietFrame() []byte {
	return make([]byte, 3200)
}

func newSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	sess, err := vad.NewRMSEngine().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

func TestNewSession_InvalidConfig(t *testing.T) {
	e := vad.NewRMSEngine()
	if _, err := e.NewSession(vad.Config{SampleRate: 0}); err == nil {
		t.Error("zero sample rate should be rejected")
	}
	if _, err := e.NewSession(vad.Config{SampleRate: 16000, SilenceThreshold: 1.5}); err == nil {
		t.Error("threshold > 1 should be rejected")
	}
}

func TestProcessFrame_SpeechStartRequiresConfirmation(t *testing.T) {
	sess := newSession(t, vad.Config{MinConfirmedFrames: 3})

	// First two loud frames are still confirming.
	for i := range 2 {
		evt, err := sess.ProcessFrame(loudFrame())
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if evt.Type != vad.Silence {
			t.Fatalf("frame %d: got %v, want silence while confirming", i, evt.Type)
		}
	}

	evt, err := sess.ProcessFrame(loudFrame())
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if evt.Type != vad.SpeechStart {
		t.Errorf("third loud frame: got %v, want speech_start", evt.Type)
	}
	if evt.Level <= 0.5 {
		t.Errorf("loud frame level: got %v, want > 0.5", evt.Level)
	}
}

func TestProcessFrame_LoneSpikeDoesNotTrigger(t *testing.T) {
	sess := newSession(t, vad.Config{MinConfirmedFrames: 3})

	sess.ProcessFrame(loudFrame())
	evt, _ := sess.ProcessFrame(quietFrame())
	if evt.Type != vad.Silence {
		t.Errorf("after spike+quiet: got %v, want silence", evt.Type)
	}

	// The confirmation counter must have reset: two more loud frames are
	// still not enough.
	sess.ProcessFrame(loudFrame())
	evt, _ = sess.ProcessFrame(loudFrame())
	if evt.Type == vad.SpeechStart {
		t.Error("speech confirmed without enough consecutive frames")
	}
}

func TestProcessFrame_SpeechEndAfterSilenceDuration(t *testing.T) {
	sess := newSession(t, vad.Config{
		MinConfirmedFrames: 1,
		SilenceDuration:    300 * time.Millisecond,
	})

	if evt, _ := sess.ProcessFrame(loudFrame()); evt.Type != vad.SpeechStart {
		t.Fatalf("got %v, want speech_start", evt.Type)
	}

	// 100ms frames: the first two quiet frames are inside the debounce
	// window, the third crosses 300ms.
	for i := range 2 {
		evt, _ := sess.ProcessFrame(quietFrame())
		if evt.Type != vad.SpeechContinue {
			t.Fatalf("quiet frame %d: got %v, want speech_continue (debouncing)", i, evt.Type)
		}
	}
	evt, _ := sess.ProcessFrame(quietFrame())
	if evt.Type != vad.SpeechEnd {
		t.Errorf("got %v, want speech_end after 300ms of silence", evt.Type)
	}

	// Exactly once: further quiet frames are plain silence.
	evt, _ = sess.ProcessFrame(quietFrame())
	if evt.Type != vad.Silence {
		t.Errorf("after speech end: got %v, want silence", evt.Type)
	}
}

func TestProcessFrame_SpeechResumeResetsSilenceTimer(t *testing.T) {
	sess := newSession(t, vad.Config{
		MinConfirmedFrames: 1,
		SilenceDuration:    300 * time.Millisecond,
	})

	sess.ProcessFrame(loudFrame())
	sess.ProcessFrame(quietFrame()) // 100ms of silence
	sess.ProcessFrame(loudFrame())  // resumes, timer resets

	// Two quiet frames now only total 200ms; no speech end yet.
	sess.ProcessFrame(quietFrame())
	evt, _ := sess.ProcessFrame(quietFrame())
	if evt.Type == vad.SpeechEnd {
		t.Error("silence timer was not reset by resumed speech")
	}
}

func TestProcessFrame_OddByteCount(t *testing.T) {
	sess := newSession(t, vad.Config{})
	if _, err := sess.ProcessFrame([]byte{1, 2, 3}); err == nil {
		t.Error("odd byte count should be an error")
	}
}

func TestReset_ClearsState(t *testing.T) {
	sess := newSession(t, vad.Config{MinConfirmedFrames: 1})
	sess.ProcessFrame(loudFrame())
	sess.Reset()

	evt, _ := sess.ProcessFrame(quietFrame())
	if evt.Type != vad.Silence {
		t.Errorf("after reset: got %v, want silence", evt.Type)
	}
}

func TestClose_StopsProcessing(t *testing.T) {
	sess := newSession(t, vad.Config{})
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := sess.ProcessFrame(quietFrame()); err == nil {
		t.Error("ProcessFrame after Close should return an error")
	}
}
