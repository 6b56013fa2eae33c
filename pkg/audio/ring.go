package audio

// RingBuffer keeps the most recent span of PCM16 mono audio in a fixed-size
// circular buffer. The capture pipeline uses it as a pre-roll: frames written
// while the VAD is still confirming speech are not lost — once speech is
// confirmed, ReadAll returns the buffered lead-in so the first syllable
// reaches the agent intact.
//
// Not safe for concurrent use; the capture loop is the only writer and reader.
type RingBuffer struct {
	data  []byte
	start int
	size  int
}

// NewRingBuffer creates a ring holding durationMs of PCM16 mono audio at
// sampleRate.
func NewRingBuffer(sampleRate, durationMs int) *RingBuffer {
	capacity := sampleRate * durationMs / 1000 * 2
	if capacity < 2 {
		capacity = 2
	}
	return &RingBuffer{data: make([]byte, capacity)}
}

// Write appends pcm to the ring, overwriting the oldest audio when full.
// If pcm is larger than the ring itself, only its tail is kept.
func (r *RingBuffer) Write(pcm []byte) {
	if len(pcm) >= len(r.data) {
		copy(r.data, pcm[len(pcm)-len(r.data):])
		r.start = 0
		r.size = len(r.data)
		return
	}

	end := (r.start + r.size) % len(r.data)
	n := copy(r.data[end:], pcm)
	if n < len(pcm) {
		copy(r.data, pcm[n:])
	}

	r.size += len(pcm)
	if r.size > len(r.data) {
		r.start = (r.start + r.size - len(r.data)) % len(r.data)
		r.size = len(r.data)
	}
}

// ReadAll returns the buffered audio in chronological order and resets the
// ring. The returned slice is freshly allocated.
func (r *RingBuffer) ReadAll() []byte {
	if r.size == 0 {
		return nil
	}
	out := make([]byte, r.size)
	n := copy(out, r.data[r.start:])
	if n < r.size {
		copy(out[n:], r.data[:r.size-n])
	}
	r.start = 0
	r.size = 0
	return out
}

// Len returns the number of buffered bytes.
func (r *RingBuffer) Len() int { return r.size }

// Reset discards all buffered audio.
func (r *RingBuffer) Reset() {
	r.start = 0
	r.size = 0
}
