package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the length of the canonical header produced by [EncodeWAV]:
// RIFF descriptor (12) + fmt chunk (24) + data chunk header (8).
const WAVHeaderSize = 44

// ErrNotWAV is returned by [ExtractPCM] when the input does not start with a
// canonical RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a canonical WAV buffer")

// EncodeWAV wraps raw little-endian PCM16 audio in a canonical 44-byte WAV
// container. The byte counts in the header must be exact — a wrong data size
// is a silent source of garbled playback on backends that trust the header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	blockAlign := channels * 2
	byteRate := sampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(pcm)))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))         // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))          // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(16))         // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// WAVInfo describes the format declared by a WAV header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ExtractPCM strips the canonical 44-byte header from a WAV buffer produced
// by [EncodeWAV] and returns the raw PCM payload alongside the declared
// format. The data chunk length in the header is validated against the
// actual payload size.
func ExtractPCM(wav []byte) ([]byte, WAVInfo, error) {
	var info WAVInfo
	if len(wav) < WAVHeaderSize {
		return nil, info, ErrNotWAV
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, info, ErrNotWAV
	}
	if string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		return nil, info, ErrNotWAV
	}

	info.Channels = int(binary.LittleEndian.Uint16(wav[22:24]))
	info.SampleRate = int(binary.LittleEndian.Uint32(wav[24:28]))
	info.BitsPerSample = int(binary.LittleEndian.Uint16(wav[34:36]))

	dataLen := int(binary.LittleEndian.Uint32(wav[40:44]))
	payload := wav[WAVHeaderSize:]
	if dataLen != len(payload) {
		return nil, info, fmt.Errorf("audio: wav data chunk declares %d bytes, payload has %d", dataLen, len(payload))
	}
	return payload, info, nil
}
