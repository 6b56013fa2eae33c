// Package device abstracts the host audio hardware behind Source (capture)
// and Sink (playback) interfaces, so pipelines can run against real devices
// in production and scripted mocks in tests.
package device

import (
	"context"
	"fmt"

	"github.com/voxloop/voxloop/pkg/audio"
)

// Source captures PCM16 audio from an input device and delivers it as a
// stream of timestamped frames.
type Source interface {
	// Start begins capture. Frames arrive on the Frames channel until Close
	// or until ctx is cancelled.
	Start(ctx context.Context) error

	// Frames returns the channel of captured frames, in capture order. The
	// channel is closed when the source shuts down.
	Frames() <-chan audio.Frame

	// Format reports the capture format.
	Format() audio.Format

	// Close stops capture and releases the device. Idempotent.
	Close() error
}

// Sink plays PCM16 audio through an output device. Written audio is
// buffered and drained by the hardware at its own pace.
type Sink interface {
	// Start begins playback. The sink plays silence while its buffer is
	// empty.
	Start(ctx context.Context) error

	// Write enqueues PCM for playback.
	Write(pcm []byte) error

	// Flush discards all buffered-but-unplayed audio. Used on interruption.
	Flush()

	// Pending reports how many bytes are buffered and not yet played.
	Pending() int

	// Format reports the playback format.
	Format() audio.Format

	// Close stops playback and releases the device. Idempotent.
	Close() error
}

// ── Errors ─────────────────────────────────────────────────────────────────────

// PermissionDeniedError indicates the OS refused access to an audio device.
// Fatal: surfaced to the user, never retried.
type PermissionDeniedError struct {
	Device string
	Err    error
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("device: access to %s denied: %v", e.Device, e.Err)
}

func (e *PermissionDeniedError) Unwrap() error { return e.Err }

// CaptureError indicates the input device failed to initialize or start.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("device: capture %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// PlaybackError indicates the output device failed to initialize or start.
type PlaybackError struct {
	Op  string
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("device: playback %s: %v", e.Op, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }
