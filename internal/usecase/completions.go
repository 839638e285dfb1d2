package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vui/internal/domain"
	"vui/internal/form"
)

var ErrToolRoundsExceeded = errors.New("tool rounds exceeded")

// dispatch runs one backend call off the driver goroutine. The result is tagged with
// the current token so a completion arriving after the turn moved on is ignored.
func (c *TurnController) dispatch(conv *conversation, kind completionKind, call func(context.Context) completion) {
	conv.token++
	token := conv.token
	ctx := conv.ctx
	c.spawn(func() {
		ev := call(ctx)
		ev.kind = kind
		ev.token = token
		conv.deliver(ev)
	})
}

func (c *TurnController) handleCompletion(conv *conversation, ev completion) {
	if ev.kind == completionSubmitRequested {
		c.handleSubmitRequest(conv)
		return
	}
	if ev.token != conv.token || conv.state != domain.TurnStateProcessing {
		conv.logger.Debug().Stringer("kind", ev.kind).Msg("stale completion dropped")
		return
	}

	switch ev.kind {
	case completionTranscribed:
		c.onTranscribed(conv, ev)
	case completionGenerated:
		c.onGenerated(conv, ev)
	case completionSynthesized:
		c.onSynthesized(conv, ev)
	}
}

func (c *TurnController) onTranscribed(conv *conversation, ev completion) {
	if ev.err != nil {
		c.fail(conv, domain.ErrorCodeTranscription, ev.err)
		return
	}

	text, speech := c.finalizer.Finalize(ev.text)
	if !speech {
		conv.logger.Debug().Str("transcript", text).Msg("noise transcript discarded")
		if conv.resumable {
			c.resumeReply(conv)
			return
		}
		c.toListening(conv, domain.TurnReasonNoiseDiscarded)
		return
	}

	c.abandonReply(conv)
	conv.history.AppendText(domain.RoleUser, text)
	c.events.Transcript(domain.RoleUser, text)
	conv.toolRounds = 0
	c.generate(conv, domain.TurnReasonThinking)
}

func (c *TurnController) generate(conv *conversation, reason domain.TurnReason) {
	c.transition(conv, domain.TurnStateProcessing, reason)
	history := conv.history.Messages()
	tools := []domain.ToolSchema{form.Tool()}
	generator := c.backends.Generator
	c.dispatch(conv, completionGenerated, func(ctx context.Context) completion {
		result, err := generator.Send(ctx, history, tools)
		return completion{result: result, err: err}
	})
}

func (c *TurnController) onGenerated(conv *conversation, ev completion) {
	if ev.err != nil {
		c.fail(conv, domain.ErrorCodeGeneration, ev.err)
		return
	}

	result := ev.result
	conv.history.Append(domain.Message{Role: domain.RoleAssistant, Content: result.Blocks()})

	if len(result.ToolCalls) > 0 {
		c.runTools(conv, result.ToolCalls)
		return
	}

	text := result.Text
	if text == "" {
		conv.logger.Debug().Str("stop_reason", string(result.StopReason)).Msg("empty reply")
		c.toListening(conv, domain.TurnReasonReplySkipped)
		return
	}

	conv.pendingReply = text
	c.transition(conv, domain.TurnStateProcessing, domain.TurnReasonSynthesizing)
	synthesizer := c.backends.Synthesizer
	c.dispatch(conv, completionSynthesized, func(ctx context.Context) completion {
		audio, err := synthesizer.Synthesize(ctx, text)
		return completion{audio: audio, err: err}
	})
}

func (c *TurnController) runTools(conv *conversation, calls []domain.ToolCall) {
	results := make([]domain.ContentBlock, 0, len(calls))
	changed := false
	submit := false
	for _, call := range calls {
		outcome := c.applyTool(conv, call)
		changed = changed || outcome.Changed
		submit = submit || outcome.Submit
		results = append(results, domain.ToolResultBlock{
			ToolUseID: call.ID,
			Content:   outcome.Result,
			IsError:   outcome.IsError,
		})
	}
	conv.history.Append(domain.Message{Role: domain.RoleUser, Content: results})
	if changed {
		c.events.FormChanged(conv.form.Snapshot())
	}

	if submit {
		c.submitForm(conv)
		return
	}

	conv.toolRounds++
	if conv.toolRounds > c.cfg.MaxToolRounds {
		c.fail(conv, domain.ErrorCodeGeneration, fmt.Errorf("%w: %d", ErrToolRoundsExceeded, c.cfg.MaxToolRounds))
		return
	}
	c.generate(conv, domain.TurnReasonToolRound)
}

func (c *TurnController) applyTool(conv *conversation, call domain.ToolCall) form.Outcome {
	if call.Name != form.ToolName {
		return form.Outcome{Result: "Unknown tool: " + call.Name, IsError: true}
	}
	input, err := form.ParseInput(call.Input)
	if err != nil {
		return form.Outcome{Result: "Invalid input: " + err.Error(), IsError: true}
	}
	outcome := conv.form.Apply(input)
	conv.logger.Debug().
		Str("field", input.Field).
		Str("action", input.Action).
		Bool("error", outcome.IsError).
		Msg("form tool applied")
	return outcome
}

func (c *TurnController) onSynthesized(conv *conversation, ev completion) {
	if ev.err != nil {
		c.fail(conv, domain.ErrorCodeSynthesis, ev.err)
		return
	}

	reply := conv.pendingReply
	c.events.Transcript(domain.RoleAssistant, reply)

	if conv.playback == nil || len(ev.audio) == 0 {
		c.toListening(conv, domain.TurnReasonReplySkipped)
		return
	}

	conv.playback.Submit(domain.PlayCommand(ev.audio))
	conv.replyActive = true
	conv.resumable = false
	conv.bargeIn.Reset()
	c.transition(conv, domain.TurnStateSpeaking, domain.TurnReasonReplyStarted)
}

func (c *TurnController) handleSubmitRequest(conv *conversation) {
	if conv.state.Terminal() {
		return
	}
	if !conv.form.Ready() {
		c.events.SessionError(domain.ErrorCodeSubmission, fmt.Sprintf("%v: missing %v", form.ErrNotReady, conv.form.Missing()))
		return
	}
	c.abandonReply(conv)
	c.submitForm(conv)
}

// submitForm hands the completed form to the submitter and ends the conversation.
// The side-channel runs once with its own deadline; failures are logged only. The
// conversation is not reported done until the delivery returns.
func (c *TurnController) submitForm(conv *conversation) {
	submission := domain.Submission{
		ConversationID: conv.id,
		Fields:         conv.form.Snapshot(),
		SubmittedAt:    c.now().UTC(),
	}
	c.transition(conv, domain.TurnStateSubmitted, domain.TurnReasonSubmitted)

	submitter := c.backends.Submitter
	if submitter == nil {
		return
	}
	logger := conv.logger
	timeout := c.cfg.SubmissionTimeout
	conv.submissions.Add(1)
	c.spawn(func() {
		defer conv.submissions.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		started := time.Now()
		if err := submitter.Submit(ctx, submission); err != nil {
			logger.Error().Err(err).Msg("submission failed")
			return
		}
		logger.Info().Dur("elapsed", time.Since(started)).Msg("form submitted")
	})
}

func (c *TurnController) fail(conv *conversation, code domain.ErrorCode, err error) {
	conv.logger.Error().Err(err).Str("code", string(code)).Msg("backend call failed")
	c.events.SessionError(code, err.Error())

	message := fmt.Sprintf("Sorry, something went wrong (%s).", code)
	conv.history.AppendText(domain.RoleAssistant, message)
	c.events.Transcript(domain.RoleAssistant, message)

	c.abandonReply(conv)
	c.transition(conv, domain.TurnStateDone, domain.TurnReasonBackendFailed)
}
