package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vui/internal/domain"
	"vui/internal/ports"
)

// FFMPEGConfig describes how ffmpeg should read the microphone.
type FFMPEGConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	ReadSize    int
}

// FFMPEGCapture streams microphone PCM from an ffmpeg subprocess, for hosts where
// miniaudio cannot open the input device.
type FFMPEGCapture struct {
	cfg    FFMPEGConfig
	logger zerolog.Logger
}

func NewFFMPEGCapture(cfg FFMPEGConfig, logger zerolog.Logger) *FFMPEGCapture {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = fallbackSampleRate
	}
	if cfg.ReadSize < 256 {
		cfg.ReadSize = 2048
	}
	return &FFMPEGCapture{cfg: cfg, logger: logger.With().Str("component", "capture-ffmpeg").Logger()}
}

func (c *FFMPEGCapture) Start(ctx context.Context) (ports.CaptureHandle, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.cfg.InputFormat,
		"-i", c.cfg.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(c.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ffmpeg stdout pipe: %v", ErrNoDevice, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", ErrNoDevice, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	stream := &ffmpegStream{
		stdout:     stdout,
		stderr:     &stderr,
		process:    cmd.Process,
		waitErr:    waitErr,
		sampleRate: c.cfg.SampleRate,
		chunks:     NewQueue[domain.AudioChunk](),
		readDone:   make(chan struct{}),
		logger:     c.logger,
	}

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", ErrNoDevice, err, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", ErrNoDevice)
	case <-time.After(250 * time.Millisecond):
	}

	go stream.readLoop(c.cfg.ReadSize)

	c.logger.Info().Int("sample_rate", c.cfg.SampleRate).Str("input", c.cfg.InputDevice).Msg("capture started")
	return stream, nil
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	sampleRate int
	chunks     *Queue[domain.AudioChunk]
	readDone   chan struct{}
	logger     zerolog.Logger

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) readLoop(size int) {
	defer close(s.readDone)

	buf := make([]byte, size)
	var carry []byte
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			whole := len(data) &^ 1
			if whole > 0 {
				s.chunks.Push(domain.AudioChunk{Samples: PCM16ToFloat(data[:whole]), SampleRate: s.sampleRate})
			}
			carry = append([]byte(nil), data[whole:]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Error().Err(err).Msg("capture read failed")
			}
			return
		}
	}
}

func (s *ffmpegStream) TryNextChunk() (domain.AudioChunk, bool) {
	return s.chunks.TryPop()
}

func (s *ffmpegStream) SampleRate() int {
	return s.sampleRate
}

func (s *ffmpegStream) Close() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
