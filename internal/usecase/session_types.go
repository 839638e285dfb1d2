package usecase

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"vui/internal/domain"
	"vui/internal/form"
	"vui/internal/policy"
	"vui/internal/ports"
)

type completionKind int

const (
	completionTranscribed completionKind = iota
	completionGenerated
	completionSynthesized
	completionSubmitRequested
)

func (k completionKind) String() string {
	switch k {
	case completionTranscribed:
		return "transcription"
	case completionGenerated:
		return "generation"
	case completionSynthesized:
		return "synthesis"
	default:
		return "submit_request"
	}
}

// completion is the tagged result of an async backend call, delivered on the next tick.
type completion struct {
	kind   completionKind
	token  uint64
	text   string
	result domain.GenerationResult
	audio  []byte
	err    error
}

// conversation owns every piece of turn state for one session. Only the driver
// goroutine touches it, apart from the status snapshot guarded by statusMu.
type conversation struct {
	id     string
	ctx    context.Context
	cancel func()
	done   chan struct{}
	logger zerolog.Logger

	capture  ports.CaptureHandle
	playback ports.PlaybackHandle

	state        domain.TurnState
	pendingReply string
	// token identifies the one backend call whose completion may still be applied.
	token uint64
	// replyActive is true while a playback session may still emit Finished.
	replyActive bool
	// resumable marks a reply paused by barge-in that has not been stopped yet.
	resumable  bool
	toolRounds int

	endpoint *policy.Endpointer
	bargeIn  *policy.BargeInDetector
	history  History
	form     *form.Form

	completions chan completion
	// submissions tracks in-flight side-channel deliveries; close joins them.
	submissions sync.WaitGroup
	outputLevel float64
	// levels is the last published meter pair.
	levels domain.Levels

	statusMu sync.Mutex
	status   domain.Status
}

func (c *conversation) setStatus(status domain.Status) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status = status
}

func (c *conversation) getStatus() domain.Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

func (c *conversation) deliver(ev completion) {
	select {
	case c.completions <- ev:
	case <-c.ctx.Done():
	}
}
