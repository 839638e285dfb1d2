package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	ErrNoDevice     = errors.New("audio device unavailable")
	ErrDecode       = errors.New("audio decode failed")
	ErrStreamClosed = errors.New("audio stream closed")
)

// RMS returns sqrt(mean(sample^2)) over samples, or 0 when empty.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PCM16ToFloat converts little-endian signed 16-bit samples to [-1, 1].
// A trailing odd byte is ignored.
func PCM16ToFloat(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[2*i:]))) / 32768
	}
	return out
}

// FloatToPCM16 converts samples to little-endian signed 16-bit, clamping to range.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	switch {
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16
	default:
		return int16(s * 32767)
	}
}

// levelMeter accumulates interleaved samples and reports RMS once per full window.
type levelMeter struct {
	window int
	sum    float64
	count  int
}

func newLevelMeter(window int) *levelMeter {
	if window <= 0 {
		window = 1024
	}
	return &levelMeter{window: window}
}

// Add feeds samples and returns the RMS of every window completed during the call.
func (m *levelMeter) Add(samples []float32) []float64 {
	var levels []float64
	for _, s := range samples {
		v := float64(s)
		m.sum += v * v
		m.count++
		if m.count == m.window {
			levels = append(levels, math.Sqrt(m.sum/float64(m.window)))
			m.sum = 0
			m.count = 0
		}
	}
	return levels
}
