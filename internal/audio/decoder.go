package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// StreamFormat describes an interleaved float sample stream.
type StreamFormat struct {
	SampleRate int
	Channels   int
}

// SampleStream yields interleaved samples; Read returns io.EOF once drained.
type SampleStream interface {
	Read(dst []float32) (int, error)
	Close() error
}

// Decoder turns encoded audio bytes into a sample stream.
type Decoder interface {
	Decode(data []byte) (SampleStream, StreamFormat, error)
}

// BeepDecoder decodes mp3 and wav payloads. WAV is recognized by its RIFF header,
// anything else is treated as mp3.
type BeepDecoder struct{}

func (BeepDecoder) Decode(data []byte) (SampleStream, StreamFormat, error) {
	if len(data) == 0 {
		return nil, StreamFormat{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	if isWAV(data) {
		streamer, format, err = wav.Decode(bytes.NewReader(data))
	} else {
		streamer, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	}
	if err != nil {
		return nil, StreamFormat{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	gain := 1.0
	if isWAV(data) {
		gain = wavGain(format.Precision)
	}
	return &beepStream{streamer: streamer, frames: make([][2]float64, 512), gain: gain},
		StreamFormat{SampleRate: int(format.SampleRate), Channels: 2},
		nil
}

// wavGain undoes beep's signed WAV decoding, which divides by 2^bits-1 instead of
// 2^(bits-1) and so yields samples at half amplitude. 8-bit data is unsigned and
// already full scale.
func wavGain(precision int) float64 {
	if precision < 2 || precision > 3 {
		return 1
	}
	bits := uint(8 * precision)
	return float64(uint64(1)<<bits-1) / float64(uint64(1)<<(bits-1))
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// beepStream adapts a beep streamer, which always yields stereo frames, to interleaved floats.
type beepStream struct {
	streamer beep.StreamSeekCloser
	frames   [][2]float64
	gain     float64
}

func (s *beepStream) Read(dst []float32) (int, error) {
	want := len(dst) / 2
	if want > len(s.frames) {
		want = len(s.frames)
	}
	if want == 0 {
		return 0, nil
	}

	n, ok := s.streamer.Stream(s.frames[:want])
	for i := 0; i < n; i++ {
		dst[2*i] = float32(s.frames[i][0] * s.gain)
		dst[2*i+1] = float32(s.frames[i][1] * s.gain)
	}
	if n > 0 {
		return 2 * n, nil
	}
	if err := s.streamer.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !ok {
		return 0, io.EOF
	}
	return 0, nil
}

func (s *beepStream) Close() error {
	return s.streamer.Close()
}
