package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"vui/internal/bootstrap"
	"vui/internal/config"
	"vui/internal/domain"
	"vui/internal/logging"
	"vui/internal/usecase"
)

const (
	eventTurn       = "vui:turn"
	eventTranscript = "vui:transcript"
	eventLevels     = "vui:levels"
	eventForm       = "vui:form"
	eventError      = "vui:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller *usecase.TurnController
	services   bootstrap.Services
	cfg        config.Config
	logger     zerolog.Logger
	logCloser  io.Closer
	bootErr    error

	// emit is replaced in tests; it defaults to the Wails runtime.
	emit func(ctx context.Context, name string, data ...interface{})
}

func NewApp() *App {
	return &App{logger: zerolog.Nop(), emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load()
	if err != nil {
		a.fail(err)
		return
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		a.fail(err)
		return
	}
	a.logger = logger
	a.logCloser = closer

	services, err := bootstrap.Build(ctx, cfg, a, logger)
	if err != nil {
		a.fail(err)
		return
	}

	a.cfg = cfg
	a.services = services
	a.controller = services.Controller
	a.TurnStateChanged(domain.TurnStateIdle, domain.TurnReasonReady)
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		if err := a.controller.Stop(); err != nil && !errors.Is(err, usecase.ErrNoActiveConversation) {
			a.logger.Warn().Err(err).Msg("stop on shutdown failed")
		}
	}
	if err := a.services.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("audio device close failed")
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

func (a *App) fail(err error) {
	a.bootErr = err
	fmt.Fprintf(os.Stderr, "vui startup failed: %v\n", err)
	a.SessionError(domain.ErrorCodeStartup, err.Error())
}

// StartConversation opens the microphone and begins a new conversation.
func (a *App) StartConversation() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx); err != nil {
		if errors.Is(err, usecase.ErrConversationActive) {
			return a.controller.Status(), nil
		}
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// StopConversation ends the active conversation and releases the audio devices.
func (a *App) StopConversation() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Stop(); err != nil && !errors.Is(err, usecase.ErrNoActiveConversation) {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// SubmitForm asks the active conversation to submit the form.
func (a *App) SubmitForm() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.RequestSubmit()
}

// GetStatus returns the current turn status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.TurnStateIdle, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.TurnStateIdle, Active: false}
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"capture":       a.cfg.Audio.CaptureBackend,
		"transcription": a.cfg.Transcription.Provider,
		"generation":    a.cfg.Generation.Provider,
		"model":         a.cfg.Generation.Model,
		"synthesis":     a.cfg.Synthesis.Provider,
		"rulesFile":     a.cfg.Rules.Path,
		"configFile":    a.cfg.File,
		"webhook":       fmt.Sprintf("%t", a.cfg.Submission.WebhookURL != ""),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) send(name string, data interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, data)
}

// TurnStateChanged emits turn lifecycle updates to the frontend.
func (a *App) TurnStateChanged(state domain.TurnState, reason domain.TurnReason) {
	a.send(eventTurn, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": turnReasonMessage(reason),
	})
}

// Transcript emits a revealed conversation line.
func (a *App) Transcript(role domain.Role, text string) {
	a.send(eventTranscript, map[string]string{"role": string(role), "text": text})
}

// LevelsChanged emits meter updates.
func (a *App) LevelsChanged(levels domain.Levels) {
	a.send(eventLevels, levels)
}

// FormChanged emits the current form contents.
func (a *App) FormChanged(fields map[string]string) {
	a.send(eventForm, fields)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func turnReasonMessage(reason domain.TurnReason) string {
	switch reason {
	case domain.TurnReasonReady:
		return "Ready"
	case domain.TurnReasonConversationStart:
		return "Listening"
	case domain.TurnReasonSilenceReset:
		return "Listening"
	case domain.TurnReasonUtteranceReady:
		return "Transcribing..."
	case domain.TurnReasonNoiseDiscarded:
		return "Didn't catch that"
	case domain.TurnReasonThinking:
		return "Thinking..."
	case domain.TurnReasonToolRound:
		return "Updating form..."
	case domain.TurnReasonSynthesizing:
		return "Preparing reply..."
	case domain.TurnReasonReplyStarted:
		return "Speaking"
	case domain.TurnReasonReplyFinished:
		return "Your turn"
	case domain.TurnReasonReplySkipped:
		return "Your turn"
	case domain.TurnReasonBargeIn:
		return "Listening (reply paused)"
	case domain.TurnReasonReplyResumed:
		return "Speaking"
	case domain.TurnReasonSubmitted:
		return "Form submitted"
	case domain.TurnReasonBackendFailed:
		return "Conversation ended after an error"
	case domain.TurnReasonStopped:
		return "Conversation ended"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDevice:
		return "Audio device unavailable"
	case domain.ErrorCodeDecode:
		return "Reply audio could not be played"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeGeneration:
		return "Reply generation failed"
	case domain.ErrorCodeSynthesis:
		return "Speech synthesis failed"
	case domain.ErrorCodeSubmission:
		return "Form submission failed"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
