// Package vad provides voice activity detection for the capture pipeline.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal state
// (silence timers, confirmation counters) so that independent audio streams
// can be processed concurrently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for the low-latency capture loop that
// gates what audio is streamed to the agent.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package vad

import "time"

// Config holds the parameters for a VAD session. Thresholds are expressed on
// the normalized loudness scale produced by audio.NormalizedLevel, where 0.0
// is the −45 dBFS floor and 1.0 is full scale.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. Common values: 16000, 24000.
	SampleRate int

	// SilenceThreshold is the normalized level above which a frame counts as
	// speech. Typical: 0.10–0.15.
	SilenceThreshold float64

	// SilenceDuration is how long the level must stay below the threshold,
	// while speaking, before the session reports speech end. Typical:
	// 700ms–1.5s depending on flow.
	SilenceDuration time.Duration

	// MinConfirmedFrames is the number of consecutive above-threshold frames
	// required before speech start is reported. Filters out clicks and
	// echo-onset pops. Typical: 2–7 depending on frame size.
	MinConfirmedFrames int
}

// SessionHandle is an active VAD session for a single audio stream. It is an
// interface so test code can supply scripted implementations. Reset clears
// detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single PCM16 mono frame and returns the
	// detection result. Designed to be called synchronously in the capture
	// loop; it must not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated detection state (silence timers, confirmation
	// counters) without closing the session. Use when the audio stream is
	// interrupted or restarted.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use: multiple goroutines may call NewSession simultaneously.
type Engine interface {
	// NewSession creates a VAD session with the given configuration. Returns
	// an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
