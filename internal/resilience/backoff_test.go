package resilience

import (
	"testing"
	"time"
)

func TestBackoff_NeverExceedsBound(t *testing.T) {
	b := Backoff{Base: time.Second, Factor: 2, Cap: 30 * time.Second, Jitter: 0.25}

	for attempt := 1; attempt <= 10; attempt++ {
		bound := time.Second << (attempt - 1)
		if bound > 30*time.Second {
			bound = 30 * time.Second
		}
		for range 50 {
			d := b.Delay(attempt)
			if d > bound {
				t.Fatalf("attempt %d: delay %v exceeds bound %v", attempt, d, bound)
			}
			if d < time.Duration(float64(bound)*0.74) {
				t.Fatalf("attempt %d: delay %v below jitter floor for bound %v", attempt, d, bound)
			}
		}
	}
}

func TestBackoff_CapReached(t *testing.T) {
	b := Backoff{Base: time.Second, Factor: 2, Cap: 30 * time.Second, Jitter: 0}

	if d := b.Delay(6); d != 30*time.Second {
		t.Errorf("Delay(6) = %v; want capped 30s", d)
	}
	if d := b.Delay(100); d != 30*time.Second {
		t.Errorf("Delay(100) = %v; want capped 30s", d)
	}
}

func TestBackoff_Growth(t *testing.T) {
	b := Backoff{Base: time.Second, Factor: 2, Cap: time.Minute, Jitter: 0}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if d := b.Delay(i + 1); d != w {
			t.Errorf("Delay(%d) = %v; want %v", i+1, d, w)
		}
	}
}

func TestBackoff_Defaults(t *testing.T) {
	var b Backoff

	d := b.Delay(1)
	if d > time.Second || d < 750*time.Millisecond {
		t.Errorf("default Delay(1) = %v; want within 25%% under 1s", d)
	}

	if d := b.Delay(0); d > time.Second {
		t.Errorf("Delay(0) = %v; want treated as attempt 1", d)
	}
}
