package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vui/internal/domain"
	"vui/internal/form"
	"vui/internal/policy"
	"vui/internal/ports"
)

var (
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrConversationActive   = errors.New("conversation already active")
)

// Config controls turn-taking behavior.
type Config struct {
	TickInterval      time.Duration
	Endpoint          policy.EndpointConfig
	BargeInThreshold  float64
	BargeInChunks     int
	MaxToolRounds     int
	SubmissionTimeout time.Duration
}

// Backends groups the external collaborators driven by the turn loop.
type Backends struct {
	Transcriber ports.Transcriber
	Generator   ports.Generator
	Synthesizer ports.Synthesizer
	Submitter   ports.Submitter
}

// TurnController runs one voice conversation at a time on a fixed tick.
type TurnController struct {
	capture   ports.AudioCapture
	playback  ports.AudioPlayback
	backends  Backends
	events    ports.EventSink
	finalizer transcriptFinalizer
	cfg       Config
	logger    zerolog.Logger

	// spawn runs backend calls off the driver goroutine.
	spawn func(func())
	now   func() time.Time

	mu      sync.Mutex
	current *conversation
	last    domain.Status
}

func NewTurnController(
	capture ports.AudioCapture,
	playback ports.AudioPlayback,
	backends Backends,
	rules ports.RulesEngine,
	events ports.EventSink,
	cfg Config,
	logger zerolog.Logger,
) *TurnController {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 16 * time.Millisecond
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 8
	}
	if cfg.SubmissionTimeout <= 0 {
		cfg.SubmissionTimeout = 10 * time.Second
	}
	return &TurnController{
		capture:   capture,
		playback:  playback,
		backends:  backends,
		events:    events,
		finalizer: newTranscriptFinalizer(rules, events),
		cfg:       cfg,
		logger:    logger.With().Str("component", "turn").Logger(),
		spawn:     func(task func()) { go task() },
		now:       time.Now,
		last:      domain.Status{State: domain.TurnStateIdle},
	}
}

// Start opens the audio engines and begins listening. Device failures are reported
// and the conversation continues without that engine.
func (c *TurnController) Start(ctx context.Context) error {
	conv, err := c.open(ctx)
	if err != nil {
		return err
	}
	go c.run(conv)
	return nil
}

// Stop ends the active conversation and waits for the turn loop to exit.
func (c *TurnController) Stop() error {
	c.mu.Lock()
	conv := c.current
	c.mu.Unlock()
	if conv == nil {
		return ErrNoActiveConversation
	}
	conv.cancel()
	<-conv.done
	return nil
}

// Wait blocks until the active conversation ends, including any form delivery, or ctx is done.
func (c *TurnController) Wait(ctx context.Context) error {
	c.mu.Lock()
	conv := c.current
	c.mu.Unlock()
	if conv == nil {
		return ErrNoActiveConversation
	}
	select {
	case <-conv.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current turn status. Safe from any goroutine.
func (c *TurnController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return c.last
	}
	return c.current.getStatus()
}

// RequestSubmit asks the turn loop to submit the form on its next tick.
func (c *TurnController) RequestSubmit() error {
	c.mu.Lock()
	conv := c.current
	c.mu.Unlock()
	if conv == nil {
		return ErrNoActiveConversation
	}
	go conv.deliver(completion{kind: completionSubmitRequested})
	return nil
}

func (c *TurnController) open(ctx context.Context) (*conversation, error) {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil, ErrConversationActive
	}
	convCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	conv := &conversation{
		id:          id,
		ctx:         convCtx,
		cancel:      cancel,
		done:        make(chan struct{}),
		logger:      c.logger.With().Str("conversation", id).Logger(),
		state:       domain.TurnStateIdle,
		endpoint:    policy.NewEndpointer(c.cfg.Endpoint),
		bargeIn:     policy.NewBargeInDetector(c.cfg.BargeInThreshold, c.cfg.BargeInChunks),
		form:        form.New(),
		completions: make(chan completion, 16),
	}
	conv.setStatus(domain.Status{ConversationID: id, State: domain.TurnStateIdle})
	c.current = conv
	c.mu.Unlock()

	if c.capture != nil {
		handle, err := c.capture.Start(convCtx)
		if err != nil {
			conv.logger.Error().Err(err).Msg("capture unavailable")
			c.events.SessionError(domain.ErrorCodeDevice, "microphone unavailable: "+err.Error())
		} else {
			conv.capture = handle
		}
	}
	if c.playback != nil {
		handle, err := c.playback.Start(convCtx)
		if err != nil {
			conv.logger.Error().Err(err).Msg("playback unavailable")
			c.events.SessionError(domain.ErrorCodeDevice, "speaker unavailable: "+err.Error())
		} else {
			conv.playback = handle
		}
	}

	c.toListening(conv, domain.TurnReasonConversationStart)
	c.events.FormChanged(conv.form.Snapshot())
	return conv, nil
}

func (c *TurnController) run(conv *conversation) {
	defer c.close(conv)

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conv.ctx.Done():
			if !conv.state.Terminal() {
				c.transition(conv, domain.TurnStateDone, domain.TurnReasonStopped)
			}
			return
		case <-ticker.C:
			c.tick(conv)
			if conv.state.Terminal() {
				return
			}
		}
	}
}

func (c *TurnController) close(conv *conversation) {
	if conv.playback != nil {
		if conv.replyActive {
			conv.playback.Submit(domain.StopCommand())
		}
		_ = conv.playback.Close()
	}
	if conv.capture != nil {
		_ = conv.capture.Close()
	}
	conv.cancel()
	c.awaitSubmissions(conv)

	c.mu.Lock()
	if c.current == conv {
		c.last = conv.getStatus()
		c.last.Active = false
		c.current = nil
	}
	c.mu.Unlock()
	close(conv.done)
}

// awaitSubmissions blocks until pending deliveries return, at most SubmissionTimeout.
func (c *TurnController) awaitSubmissions(conv *conversation) {
	flushed := make(chan struct{})
	go func() {
		conv.submissions.Wait()
		close(flushed)
	}()

	timer := time.NewTimer(c.cfg.SubmissionTimeout)
	defer timer.Stop()
	select {
	case <-flushed:
	case <-timer.C:
		conv.logger.Warn().Dur("timeout", c.cfg.SubmissionTimeout).Msg("submission still in flight at shutdown")
	}
}

// tick drains completions, then playback statuses, then capture chunks.
func (c *TurnController) tick(conv *conversation) {
	c.drainCompletions(conv)
	if conv.state.Terminal() {
		return
	}

	if conv.playback != nil {
		for {
			status, ok := conv.playback.TryNextStatus()
			if !ok {
				break
			}
			c.handleStatus(conv, status)
		}
	}

	if conv.capture != nil {
		for !conv.state.Terminal() {
			chunk, ok := conv.capture.TryNextChunk()
			if !ok {
				break
			}
			c.handleChunk(conv, chunk)
		}
	}

	c.publishLevels(conv)
}

func (c *TurnController) drainCompletions(conv *conversation) {
	for !conv.state.Terminal() {
		select {
		case ev := <-conv.completions:
			c.handleCompletion(conv, ev)
		default:
			return
		}
	}
}

func (c *TurnController) handleStatus(conv *conversation, status domain.PlaybackStatus) {
	switch status.Kind {
	case domain.StatusLevel:
		conv.outputLevel = status.Level
	case domain.StatusFinished:
		conv.replyActive = false
		if conv.state == domain.TurnStateSpeaking {
			c.toListening(conv, domain.TurnReasonReplyFinished)
		}
	case domain.StatusError:
		conv.replyActive = false
		conv.logger.Error().Str("detail", status.Message).Msg("playback error")
		c.events.SessionError(domain.ErrorCodeDecode, status.Message)
		if conv.state == domain.TurnStateSpeaking {
			c.toListening(conv, domain.TurnReasonReplyFinished)
		}
	default:
		conv.logger.Debug().Stringer("status", status.Kind).Msg("playback status")
	}
}

func (c *TurnController) handleChunk(conv *conversation, chunk domain.AudioChunk) {
	switch conv.state {
	case domain.TurnStateListening:
		switch conv.endpoint.Feed(chunk.Samples) {
		case policy.UtteranceReady:
			c.handOff(conv, chunk.SampleRate)
		case policy.SilenceReset:
			conv.logger.Debug().Msg("silence-only buffer discarded")
		}
	case domain.TurnStateBargedIn:
		switch conv.endpoint.Feed(chunk.Samples) {
		case policy.UtteranceReady:
			c.handOff(conv, chunk.SampleRate)
		case policy.SilenceReset:
			c.resumeReply(conv)
		}
	case domain.TurnStateSpeaking:
		if conv.bargeIn.Feed(chunk.Samples) {
			c.bargeIn(conv)
		}
	}
}

func (c *TurnController) handOff(conv *conversation, sampleRate int) {
	samples := conv.endpoint.Take()
	if sampleRate <= 0 && conv.capture != nil {
		sampleRate = conv.capture.SampleRate()
	}
	c.transition(conv, domain.TurnStateProcessing, domain.TurnReasonUtteranceReady)
	conv.logger.Debug().Int("samples", len(samples)).Int("sample_rate", sampleRate).Msg("utterance ready")

	transcriber := c.backends.Transcriber
	c.dispatch(conv, completionTranscribed, func(ctx context.Context) completion {
		text, err := transcriber.Transcribe(ctx, samples, sampleRate)
		return completion{text: text, err: err}
	})
}

func (c *TurnController) bargeIn(conv *conversation) {
	if conv.playback != nil {
		conv.playback.Submit(domain.PauseCommand())
	}
	conv.resumable = true
	conv.endpoint.Reset(true)
	c.transition(conv, domain.TurnStateBargedIn, domain.TurnReasonBargeIn)
}

// resumeReply returns to the interrupted reply, or to listening when its playback already ended.
func (c *TurnController) resumeReply(conv *conversation) {
	conv.resumable = false
	if !conv.replyActive || conv.playback == nil {
		c.toListening(conv, domain.TurnReasonReplyFinished)
		return
	}
	conv.playback.Submit(domain.ResumeCommand())
	conv.bargeIn.Reset()
	conv.endpoint.Reset(false)
	c.transition(conv, domain.TurnStateSpeaking, domain.TurnReasonReplyResumed)
}

func (c *TurnController) abandonReply(conv *conversation) {
	if conv.resumable && conv.playback != nil && conv.replyActive {
		conv.playback.Submit(domain.StopCommand())
	}
	conv.resumable = false
	conv.replyActive = false
	conv.pendingReply = ""
}

func (c *TurnController) toListening(conv *conversation, reason domain.TurnReason) {
	conv.endpoint.Reset(false)
	conv.bargeIn.Reset()
	conv.pendingReply = ""
	c.transition(conv, domain.TurnStateListening, reason)
}

// transition is the only place the turn state changes. Leaving Processing
// invalidates any in-flight backend call.
func (c *TurnController) transition(conv *conversation, state domain.TurnState, reason domain.TurnReason) {
	if conv.state == domain.TurnStateProcessing && state != domain.TurnStateProcessing {
		conv.token++
	}
	from := conv.state
	conv.state = state
	conv.setStatus(domain.Status{
		ConversationID: conv.id,
		State:          state,
		Active:         !state.Terminal(),
		PendingReply:   conv.pendingReply,
	})
	conv.logger.Debug().Str("from", string(from)).Str("to", string(state)).Str("reason", string(reason)).Msg("turn transition")
	c.events.TurnStateChanged(state, reason)
}

func (c *TurnController) publishLevels(conv *conversation) {
	switch conv.state {
	case domain.TurnStateListening, domain.TurnStateBargedIn:
	default:
		conv.endpoint.DecayLevel()
	}
	levels := domain.Levels{Input: conv.endpoint.LevelAvg(), Output: conv.outputLevel}
	if levels == conv.levels {
		return
	}
	conv.levels = levels
	c.events.LevelsChanged(levels)
}
