package audio

import "time"

// Frame represents a single frame of audio flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the input
// device, analysed by VAD, batched by the capture pipeline, and streamed to
// the remote agent. A frame is immutable once created; ownership transfers on
// enqueue and frames are never duplicated across stages.
type Frame struct {
	// Sequence is a monotonically increasing capture-order counter.
	Sequence uint64

	// Data is raw little-endian PCM16 audio. Sample rate and channel count
	// are determined by the pipeline config.
	Data []byte

	// SampleRate in Hz (16000 for capture-only flows, 24000 for duplex).
	SampleRate int

	// Channels: 1 for mono (the session format), 2 for stereo device input.
	Channels int

	// CapturedAt marks when this frame was read from the device.
	CapturedAt time.Time
}

// Duration returns the play time of the frame's PCM payload.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Chunk is one inbound audio delta from the remote agent.
type Chunk struct {
	// ID identifies the chunk within its response turn.
	ID string

	// Data is raw little-endian PCM16 mono audio at the session output rate.
	Data []byte

	// ReceivedAt marks when the delta arrived on the socket.
	ReceivedAt time.Time

	// AssociatedText is the partial transcript fragment aligned with this
	// chunk, when known. Used to infer natural pause points.
	AssociatedText string
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM16 byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}
