// Package audio provides minimal WAV containerization for raw PCM16LE mono
// audio arriving over the websocket channel.
package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"
)

const defaultSampleRate = 16000

type wavHeader struct {
	RiffSize      uint32
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono bytes in a WAV container so
// downstream speech providers receive self-describing audio.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo streams raw PCM16LE mono bytes to out as WAV.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	h := wavHeader{
		RiffSize:      36 + uint32(len(pcm)),
		FmtSize:       16,
		AudioFormat:   1, // PCM
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
	}

	if _, err := out.Write([]byte("RIFF")); err != nil {
		return err
	}
	if err := binary.Write(out, binary.LittleEndian, h.RiffSize); err != nil {
		return err
	}
	if _, err := out.Write([]byte("WAVEfmt ")); err != nil {
		return err
	}
	for _, v := range []any{h.FmtSize, h.AudioFormat, h.NumChannels, h.SampleRate, h.ByteRate, h.BlockAlign, h.BitsPerSample} {
		if err := binary.Write(out, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := out.Write([]byte("data")); err != nil {
		return err
	}
	if err := binary.Write(out, binary.LittleEndian, uint32(len(pcm))); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// DurationPCM16 reports the playback length of raw PCM16LE mono bytes.
func DurationPCM16(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
