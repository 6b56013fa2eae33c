package audio

import "math"

// Signal-level helpers for little-endian PCM16 buffers. These are pure,
// per-buffer functions so they can run on any pipeline stage without
// inter-buffer ordering dependencies.

// dbFloor is the bottom of the normalisation range used by [NormalizedLevel].
// Levels at or below −45 dBFS map to 0.0; full scale maps to 1.0.
const dbFloor = -45.0

// RMS computes the root-mean-square amplitude of a PCM16 buffer, scaled to
// [0.0, 1.0] where 1.0 is a full-scale square wave. Returns 0 for an empty
// buffer.
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)/2))
}

// DBFS converts a linear RMS value to decibels relative to full scale.
// An RMS of 0 returns the floor value rather than −Inf.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return dbFloor
	}
	db := 20 * math.Log10(rms)
	if db < dbFloor {
		return dbFloor
	}
	return db
}

// NormalizedLevel maps a PCM16 buffer's RMS level onto [0.0, 1.0] over the
// −45..0 dBFS range. This is the scale VAD thresholds are expressed in, so
// that a threshold of 0.12 means the same loudness regardless of sample rate
// or frame size.
func NormalizedLevel(pcm []byte) float64 {
	db := DBFS(RMS(pcm))
	level := (db - dbFloor) / -dbFloor
	if level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}

// Peak returns the largest absolute sample value in the buffer, scaled to
// [0.0, 1.0].
func Peak(pcm []byte) float64 {
	var peak float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		f := math.Abs(float64(sample) / 32768.0)
		if f > peak {
			peak = f
		}
	}
	return peak
}
