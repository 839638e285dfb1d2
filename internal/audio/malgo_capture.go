package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"vui/internal/domain"
	"vui/internal/ports"
)

const fallbackSampleRate = 16000

// MalgoCapture opens the default input device through miniaudio.
type MalgoCapture struct {
	devices *DeviceContext
	logger  zerolog.Logger
}

func NewMalgoCapture(devices *DeviceContext, logger zerolog.Logger) *MalgoCapture {
	return &MalgoCapture{devices: devices, logger: logger.With().Str("component", "capture").Logger()}
}

// Start opens the device at its native rate and format, downmixed to mono.
func (c *MalgoCapture) Start(ctx context.Context) (ports.CaptureHandle, error) {
	mctx, err := c.devices.get()
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatUnknown
	cfg.Capture.Channels = 1
	cfg.SampleRate = 0
	cfg.Alsa.NoMMap = 1

	stream := &captureStream{chunks: NewQueue[domain.AudioChunk](), logger: c.logger}
	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: stream.onFrames,
		Stop: stream.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open input device: %v", ErrNoDevice, err)
	}

	stream.device = device
	stream.format = device.CaptureFormat()
	stream.sampleRate = int(device.SampleRate())
	if stream.sampleRate <= 0 {
		stream.sampleRate = fallbackSampleRate
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: failed to start input device: %v", ErrNoDevice, err)
	}

	c.logger.Info().
		Int("sample_rate", stream.sampleRate).
		Int("format", int(stream.format)).
		Msg("capture started")

	go func() {
		<-ctx.Done()
		_ = stream.Close()
	}()

	return stream, nil
}

type captureStream struct {
	device     *malgo.Device
	format     malgo.FormatType
	sampleRate int
	chunks     *Queue[domain.AudioChunk]
	logger     zerolog.Logger

	closing   atomic.Bool
	closeOnce sync.Once
	errOnce   sync.Once
}

// onStop fires for every device stop, including the one Close requests.
func (s *captureStream) onStop() {
	if s.closing.Load() {
		s.logger.Debug().Msg("capture device stopped")
		return
	}
	s.logger.Warn().Msg("capture device stopped unexpectedly")
}

func (s *captureStream) onFrames(_ []byte, input []byte, _ uint32) {
	if len(input) == 0 {
		return
	}
	samples, err := framesToFloat(s.format, input)
	if err != nil {
		s.errOnce.Do(func() { s.logger.Error().Err(err).Msg("dropping capture frames") })
		return
	}
	s.chunks.Push(domain.AudioChunk{Samples: samples, SampleRate: s.sampleRate})
}

func (s *captureStream) TryNextChunk() (domain.AudioChunk, bool) {
	return s.chunks.TryPop()
}

func (s *captureStream) SampleRate() int {
	return s.sampleRate
}

func (s *captureStream) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if s.device != nil {
			_ = s.device.Stop()
			s.device.Uninit()
		}
	})
	return nil
}
