package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// OutputStream is one open output device stream.
type OutputStream interface {
	// Write blocks until all samples are buffered or the stream is closed.
	Write(samples []float32) error
	Pause() error
	Resume() error
	// Pending reports samples buffered but not yet handed to the device.
	Pending() int
	// Close discards anything still buffered.
	Close() error
}

// OutputDevice opens output streams.
type OutputDevice interface {
	Open(format StreamFormat) (OutputStream, error)
}

// MalgoOutput plays float samples through the default output device.
type MalgoOutput struct {
	devices *DeviceContext
	logger  zerolog.Logger
}

func NewMalgoOutput(devices *DeviceContext, logger zerolog.Logger) *MalgoOutput {
	return &MalgoOutput{devices: devices, logger: logger.With().Str("component", "output").Logger()}
}

// Probe verifies the device backend can be initialized.
func (o *MalgoOutput) Probe() error {
	_, err := o.devices.get()
	return err
}

func (o *MalgoOutput) Open(format StreamFormat) (OutputStream, error) {
	mctx, err := o.devices.get()
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Alsa.NoMMap = 1

	// Roughly a quarter second of buffered audio.
	stream := &malgoStream{ring: newSampleRing(format.SampleRate * format.Channels / 4)}
	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: stream.fill})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open output device: %v", ErrNoDevice, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: failed to start output device: %v", ErrNoDevice, err)
	}
	stream.device = device
	return stream, nil
}

type malgoStream struct {
	device    *malgo.Device
	ring      *sampleRing
	closeOnce sync.Once
}

func (s *malgoStream) fill(output, _ []byte, _ uint32) {
	s.ring.drainInto(output)
}

func (s *malgoStream) Write(samples []float32) error { return s.ring.write(samples) }
func (s *malgoStream) Pending() int                  { return s.ring.len() }
func (s *malgoStream) Pause() error                  { return s.device.Stop() }
func (s *malgoStream) Resume() error                 { return s.device.Start() }

func (s *malgoStream) Close() error {
	s.closeOnce.Do(func() {
		s.ring.close()
		_ = s.device.Stop()
		s.device.Uninit()
	})
	return nil
}

// sampleRing is a bounded buffer between the playback worker and the device callback.
type sampleRing struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []float32
	r, n   int
	closed bool
}

func newSampleRing(capacity int) *sampleRing {
	if capacity < 2048 {
		capacity = 2048
	}
	ring := &sampleRing{buf: make([]float32, capacity)}
	ring.cond = sync.NewCond(&ring.mu)
	return ring
}

func (r *sampleRing) write(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(samples) > 0 {
		for r.n == len(r.buf) && !r.closed {
			r.cond.Wait()
		}
		if r.closed {
			return ErrStreamClosed
		}
		for len(samples) > 0 && r.n < len(r.buf) {
			r.buf[(r.r+r.n)%len(r.buf)] = samples[0]
			samples = samples[1:]
			r.n++
		}
	}
	return nil
}

func (r *sampleRing) drainInto(out []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := len(out) / 4
	for i := 0; i < count; i++ {
		var v float32
		if r.n > 0 {
			v = r.buf[r.r]
			r.r = (r.r + 1) % len(r.buf)
			r.n--
		}
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	r.cond.Broadcast()
}

func (r *sampleRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *sampleRing) close() {
	r.mu.Lock()
	r.closed = true
	r.n = 0
	r.mu.Unlock()
	r.cond.Broadcast()
}
