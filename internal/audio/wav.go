package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

// EncodeWAV renders mono samples as a 16-bit PCM WAV file.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}

	pos := 0
	streamer := beep.StreamerFunc(func(frames [][2]float64) (int, bool) {
		if pos >= len(samples) {
			return 0, false
		}
		n := copy32(frames, samples[pos:])
		pos += n
		return n, true
	})

	format := beep.Format{SampleRate: beep.SampleRate(sampleRate), NumChannels: 1, Precision: 2}
	var out memFile
	if err := wav.Encode(&out, streamer, format); err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}
	return out.buf, nil
}

func copy32(frames [][2]float64, samples []float32) int {
	n := len(frames)
	if len(samples) < n {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		v := float64(samples[i])
		frames[i] = [2]float64{v, v}
	}
	return n
}

// memFile is an in-memory io.WriteSeeker; wav.Encode seeks back to patch the header sizes.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	m.pos = int(next)
	return next, nil
}
