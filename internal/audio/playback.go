package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vui/internal/domain"
	"vui/internal/ports"
)

// PlaybackConfig tunes the playback worker.
type PlaybackConfig struct {
	// LevelWindow is the number of interleaved samples per Level report.
	LevelWindow int
	// PausedLevelInterval is the cadence of Level(0) reports while paused.
	PausedLevelInterval time.Duration
	// DrainPoll is how often the worker checks whether the device consumed the tail.
	DrainPoll time.Duration
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.LevelWindow <= 0 {
		c.LevelWindow = 1024
	}
	if c.PausedLevelInterval <= 0 {
		c.PausedLevelInterval = 16 * time.Millisecond
	}
	if c.DrainPoll <= 0 {
		c.DrainPoll = 10 * time.Millisecond
	}
	return c
}

// Playback starts playback workers bound to an output device.
type Playback struct {
	decoder Decoder
	output  OutputDevice
	cfg     PlaybackConfig
	logger  zerolog.Logger
}

func NewPlayback(decoder Decoder, output OutputDevice, cfg PlaybackConfig, logger zerolog.Logger) *Playback {
	if decoder == nil {
		decoder = BeepDecoder{}
	}
	return &Playback{
		decoder: decoder,
		output:  output,
		cfg:     cfg.withDefaults(),
		logger:  logger.With().Str("component", "playback").Logger(),
	}
}

// Start verifies the output device and spawns the worker.
func (p *Playback) Start(ctx context.Context) (ports.PlaybackHandle, error) {
	if p.output == nil {
		return nil, ErrNoDevice
	}
	if prober, ok := p.output.(interface{ Probe() error }); ok {
		if err := prober.Probe(); err != nil {
			return nil, err
		}
	}
	engine := newPlaybackEngine(p.decoder, p.output, p.cfg, p.logger)
	go engine.run(ctx)
	return engine, nil
}

// PlaybackEngine owns the output device on a single worker goroutine. Submit and
// TryNextStatus are safe from any goroutine.
type PlaybackEngine struct {
	decoder Decoder
	output  OutputDevice
	cfg     PlaybackConfig
	logger  zerolog.Logger

	commands *Queue[domain.PlaybackCommand]
	statuses *Queue[domain.PlaybackStatus]

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func newPlaybackEngine(decoder Decoder, output OutputDevice, cfg PlaybackConfig, logger zerolog.Logger) *PlaybackEngine {
	return &PlaybackEngine{
		decoder:  decoder,
		output:   output,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		commands: NewQueue[domain.PlaybackCommand](),
		statuses: NewQueue[domain.PlaybackStatus](),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (e *PlaybackEngine) Submit(cmd domain.PlaybackCommand) {
	e.commands.Push(cmd)
}

func (e *PlaybackEngine) TryNextStatus() (domain.PlaybackStatus, bool) {
	return e.statuses.TryPop()
}

// Close stops the worker, discarding any active session.
func (e *PlaybackEngine) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	<-e.stopped
	return nil
}

func (e *PlaybackEngine) emit(status domain.PlaybackStatus) {
	e.statuses.Push(status)
}

func (e *PlaybackEngine) run(ctx context.Context) {
	defer close(e.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-e.commands.Ready():
		}

		for {
			cmd, ok := e.commands.TryPop()
			if !ok {
				break
			}
			if cmd.Kind != domain.CommandPlay {
				e.logger.Debug().Stringer("command", cmd.Kind).Msg("no active playback; command ignored")
				continue
			}
			if !e.play(ctx, cmd.Audio) {
				return
			}
		}
	}
}

// play runs one session to completion, Stop or error. It returns false when the
// worker itself is shutting down.
func (e *PlaybackEngine) play(ctx context.Context, data []byte) bool {
	stream, format, err := e.decoder.Decode(data)
	if err != nil {
		e.fail(err)
		return true
	}
	defer stream.Close()

	out, err := e.output.Open(format)
	if err != nil {
		e.fail(err)
		return true
	}
	closeOut := sync.OnceFunc(func() { _ = out.Close() })
	defer closeOut()

	// A device that stops draining leaves Write blocked; closing the stream on
	// shutdown releases it.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-e.done:
		case <-ctx.Done():
		case <-sessionDone:
			return
		}
		closeOut()
	}()

	session := &playSession{engine: e, ctx: ctx, out: out}
	defer session.stopTicker()

	e.emit(domain.PlaybackStatus{Kind: domain.StatusPlaying})
	meter := newLevelMeter(e.cfg.LevelWindow)
	buf := make([]float32, e.cfg.LevelWindow)

	for {
		if next := session.control(); next != continueSession {
			return next == endSession
		}
		n, err := stream.Read(buf)
		if n > 0 {
			if writeErr := out.Write(buf[:n]); writeErr != nil {
				if e.stopping(ctx) {
					return false
				}
				e.fail(writeErr)
				return true
			}
			for _, level := range meter.Add(buf[:n]) {
				e.emit(domain.PlaybackStatus{Kind: domain.StatusLevel, Level: level})
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			e.fail(err)
			return true
		}
	}

	timer := time.NewTicker(e.cfg.DrainPoll)
	defer timer.Stop()
	for out.Pending() > 0 {
		if next := session.control(); next != continueSession {
			return next == endSession
		}
		select {
		case <-timer.C:
		case <-e.commands.Ready():
		case <-e.done:
			return false
		case <-ctx.Done():
			return false
		}
	}

	e.emit(domain.PlaybackStatus{Kind: domain.StatusLevel, Level: 0})
	e.emit(domain.PlaybackStatus{Kind: domain.StatusFinished})
	return true
}

func (e *PlaybackEngine) stopping(ctx context.Context) bool {
	select {
	case <-e.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (e *PlaybackEngine) fail(err error) {
	e.logger.Error().Err(err).Msg("playback failed")
	e.emit(domain.PlaybackStatus{Kind: domain.StatusError, Message: err.Error()})
}

type sessionStep int

const (
	continueSession sessionStep = iota
	endSession
	shutdown
)

type playSession struct {
	engine *PlaybackEngine
	ctx    context.Context
	out    OutputStream
	paused bool
	ticker *time.Ticker
}

// control applies queued commands. While paused it blocks, reporting Level(0),
// until Resume, Stop or shutdown.
func (s *playSession) control() sessionStep {
	e := s.engine
	for {
		select {
		case <-e.done:
			return shutdown
		case <-s.ctx.Done():
			return shutdown
		default:
		}

		cmd, ok := e.commands.TryPop()
		if !ok {
			if !s.paused {
				return continueSession
			}
			select {
			case <-e.done:
				return shutdown
			case <-s.ctx.Done():
				return shutdown
			case <-s.ticker.C:
				e.emit(domain.PlaybackStatus{Kind: domain.StatusLevel, Level: 0})
			case <-e.commands.Ready():
			}
			continue
		}

		switch cmd.Kind {
		case domain.CommandPause:
			if s.paused {
				continue
			}
			if err := s.out.Pause(); err != nil {
				e.logger.Warn().Err(err).Msg("output pause failed")
			}
			s.paused = true
			s.startTicker()
			e.emit(domain.PlaybackStatus{Kind: domain.StatusPaused})
			e.emit(domain.PlaybackStatus{Kind: domain.StatusLevel, Level: 0})
		case domain.CommandResume:
			if !s.paused {
				continue
			}
			if err := s.out.Resume(); err != nil {
				e.logger.Warn().Err(err).Msg("output resume failed")
			}
			s.paused = false
			s.stopTicker()
			e.emit(domain.PlaybackStatus{Kind: domain.StatusPlaying})
		case domain.CommandStop:
			e.logger.Debug().Msg("playback stopped")
			return endSession
		case domain.CommandPlay:
			e.logger.Warn().Msg("playback already active; play ignored")
		default:
			e.logger.Warn().Stringer("command", cmd.Kind).Msg("unknown playback command")
		}
	}
}

func (s *playSession) startTicker() {
	if s.ticker == nil {
		s.ticker = time.NewTicker(s.engine.cfg.PausedLevelInterval)
		return
	}
	s.ticker.Reset(s.engine.cfg.PausedLevelInterval)
}

func (s *playSession) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
}
