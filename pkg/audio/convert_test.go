package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/voxloop/voxloop/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestMonoToStereo(t *testing.T) {
	mono := samplesToBytes([]int16{100, 200, 300})
	stereo := audio.MonoToStereo(mono)
	got := bytesToSamples(stereo)
	want := []int16{100, 100, 200, 200, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200.
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	stereo := samplesToBytes([]int16{32767, 32767})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	if len(got) != 1 {
		t.Fatalf("length mismatch: got %d, want 1", len(got))
	}
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 24000, 24000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Halving(t *testing.T) {
	// 48kHz → 24kHz halves the sample count.
	pcm := samplesToBytes([]int16{0, 100, 200, 300, 400, 500, 600, 700})
	out := audio.ResampleMono16(pcm, 48000, 24000)
	if len(out) != len(pcm)/2 {
		t.Fatalf("length: got %d bytes, want %d", len(out), len(pcm)/2)
	}
}

func TestResampleMono16_Upsampling(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 1000})
	out := audio.ResampleMono16(pcm, 16000, 24000)
	got := bytesToSamples(out)
	if len(got) != 3 {
		t.Fatalf("sample count: got %d, want 3", len(got))
	}
	// Interpolated values must be monotonically non-decreasing for a ramp.
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Errorf("sample %d: %d < previous %d, expected monotone ramp", i, got[i], got[i-1])
		}
	}
}

func TestFormatConverter_FastPath(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 24000, Channels: 1}}
	frame := audio.Frame{Data: samplesToBytes([]int16{1, 2, 3}), SampleRate: 24000, Channels: 1}
	out := conv.Convert(frame)
	if &out.Data[0] != &frame.Data[0] {
		t.Error("matching format should return the frame's data unchanged")
	}
}

func TestFormatConverter_OddByteCountDropsFrame(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 24000, Channels: 1}}
	out := conv.Convert(audio.Frame{Data: []byte{1, 2, 3}, SampleRate: 24000, Channels: 1})
	if out.Data != nil {
		t.Errorf("odd byte count should drop the frame, got %d bytes", len(out.Data))
	}
}

func TestFormatConverter_StereoDeviceToMonoSession(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	frame := audio.Frame{
		Sequence:   7,
		Data:       samplesToBytes([]int16{100, 200, 100, 200}),
		SampleRate: 16000,
		Channels:   2,
	}
	out := conv.Convert(frame)
	if out.Channels != 1 || out.SampleRate != 16000 {
		t.Fatalf("format: got %dHz/%dch, want 16000Hz/1ch", out.SampleRate, out.Channels)
	}
	if out.Sequence != 7 {
		t.Errorf("sequence not preserved: got %d", out.Sequence)
	}
	got := bytesToSamples(out.Data)
	want := []int16{150, 150}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFrameDuration(t *testing.T) {
	// 100ms at 16kHz mono = 1600 samples = 3200 bytes.
	frame := audio.Frame{Data: make([]byte, 3200), SampleRate: 16000, Channels: 1}
	if got := frame.Duration().Milliseconds(); got != 100 {
		t.Errorf("duration: got %dms, want 100ms", got)
	}
}
