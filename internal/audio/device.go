package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// DeviceContext lazily initializes the miniaudio context shared by capture and playback.
type DeviceContext struct {
	logger zerolog.Logger

	once sync.Once
	ctx  *malgo.AllocatedContext
	err  error
}

func NewDeviceContext(logger zerolog.Logger) *DeviceContext {
	return &DeviceContext{logger: logger.With().Str("component", "audio-device").Logger()}
}

func (d *DeviceContext) get() (*malgo.AllocatedContext, error) {
	d.once.Do(func() {
		d.ctx, d.err = malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
			d.logger.Debug().Str("miniaudio", strings.TrimSpace(message)).Msg("device backend")
		})
		if d.err != nil {
			d.err = fmt.Errorf("%w: %v", ErrNoDevice, d.err)
		}
	})
	return d.ctx, d.err
}

// DeviceNames lists capture and playback device names.
func (d *DeviceContext) DeviceNames() (capture []string, playback []string, err error) {
	ctx, err := d.get()
	if err != nil {
		return nil, nil, err
	}
	for _, kind := range []malgo.DeviceType{malgo.Capture, malgo.Playback} {
		infos, err := ctx.Devices(kind)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to enumerate devices: %w", err)
		}
		for _, info := range infos {
			if kind == malgo.Capture {
				capture = append(capture, info.Name())
			} else {
				playback = append(playback, info.Name())
			}
		}
	}
	return capture, playback, nil
}

func (d *DeviceContext) Close() error {
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return err
}

// framesToFloat converts one callback buffer in the device's native format to normalized floats.
func framesToFloat(format malgo.FormatType, data []byte) ([]float32, error) {
	switch format {
	case malgo.FormatF32:
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		return out, nil
	case malgo.FormatS16:
		return PCM16ToFloat(data), nil
	case malgo.FormatS32:
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = float32(float64(int32(binary.LittleEndian.Uint32(data[4*i:]))) / 2147483648)
		}
		return out, nil
	case malgo.FormatS24:
		out := make([]float32, len(data)/3)
		for i := range out {
			b := data[3*i:]
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			out[i] = float32(v) / 8388608
		}
		return out, nil
	case malgo.FormatU8:
		out := make([]float32, len(data))
		for i, b := range data {
			out[i] = (float32(b) - 128) / 128
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported sample format %d", format)
	}
}
