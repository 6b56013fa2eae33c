package audio

import "math"

// DSP passes applied to combined playback buffers. Each pass is stateless
// per buffer: it reads and writes one PCM16 buffer in place and carries no
// history, so passes can be composed in any order without inter-buffer
// dependencies.

// NoiseGate zeroes samples whose absolute amplitude falls below threshold
// (scale [0.0, 1.0]). Removes low-level hiss between agent phrases without
// touching audible content.
func NoiseGate(pcm []byte, threshold float64) {
	if threshold <= 0 {
		return
	}
	limit := int16(threshold * 32767)
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		if sample > -limit && sample < limit {
			pcm[i] = 0
			pcm[i+1] = 0
		}
	}
}

// FadeIn ramps the first n samples linearly from silence to full amplitude.
// Fading the leading 10–20ms of each combined buffer eliminates the click a
// hard edge produces at the start of playback.
func FadeIn(pcm []byte, samples int) {
	total := len(pcm) / 2
	if samples > total {
		samples = total
	}
	for i := range samples {
		gain := float64(i) / float64(samples)
		applyGain(pcm, i, gain)
	}
}

// FadeOut ramps the last n samples linearly from full amplitude to silence.
func FadeOut(pcm []byte, samples int) {
	total := len(pcm) / 2
	if samples > total {
		samples = total
	}
	for i := range samples {
		gain := float64(i) / float64(samples)
		applyGain(pcm, total-1-i, gain)
	}
}

// NormalizeRMS scales the buffer toward targetRMS (scale [0.0, 1.0]),
// limiting gain so that the loudest sample never clips and the applied gain
// never exceeds maxGain. Quiet buffers are boosted, already-loud buffers are
// left alone (gain is never reduced below 1.0).
func NormalizeRMS(pcm []byte, targetRMS, maxGain float64) {
	if targetRMS <= 0 || maxGain <= 1 {
		return
	}
	current := RMS(pcm)
	if current <= 0 || current >= targetRMS {
		return
	}

	gain := targetRMS / current
	if gain > maxGain {
		gain = maxGain
	}
	// Peak limit: never push the loudest sample past full scale.
	if peak := Peak(pcm); peak > 0 && gain*peak > 1.0 {
		gain = 1.0 / peak
	}
	if gain <= 1 {
		return
	}

	for i := 0; i+1 < len(pcm); i += 2 {
		applyGain(pcm, i/2, gain)
	}
}

// FadeSamples converts a fade duration in milliseconds to a sample count at
// the given rate (e.g. 15ms at 24kHz = 360 samples).
func FadeSamples(ms, sampleRate int) int {
	return sampleRate * ms / 1000
}

// applyGain multiplies the sample at index (in samples, not bytes) by gain,
// clamping to the int16 range.
func applyGain(pcm []byte, index int, gain float64) {
	i := index * 2
	if i+1 >= len(pcm) {
		return
	}
	sample := float64(int16(pcm[i]) | int16(pcm[i+1])<<8)
	scaled := math.Round(sample * gain)
	if scaled > 32767 {
		scaled = 32767
	} else if scaled < -32768 {
		scaled = -32768
	}
	out := int16(scaled)
	pcm[i] = byte(out)
	pcm[i+1] = byte(out >> 8)
}
