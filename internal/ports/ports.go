package ports

import (
	"context"

	"vui/internal/domain"
)

// CaptureHandle is a live microphone stream.
type CaptureHandle interface {
	// TryNextChunk returns at most one buffered chunk without blocking.
	TryNextChunk() (domain.AudioChunk, bool)
	SampleRate() int
	Close() error
}

// AudioCapture opens microphone streams.
type AudioCapture interface {
	Start(ctx context.Context) (CaptureHandle, error)
}

// PlaybackHandle is a running playback worker.
type PlaybackHandle interface {
	Submit(cmd domain.PlaybackCommand)
	// TryNextStatus returns at most one queued status without blocking.
	TryNextStatus() (domain.PlaybackStatus, bool)
	Close() error
}

// AudioPlayback starts playback workers.
type AudioPlayback interface {
	Start(ctx context.Context) (PlaybackHandle, error)
}

// Transcriber converts an utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// Generator produces the next assistant turn from the conversation history.
type Generator interface {
	Send(ctx context.Context, history []domain.Message, tools []domain.ToolSchema) (domain.GenerationResult, error)
}

// Synthesizer converts reply text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Submitter delivers a completed record to the side-channel.
type Submitter interface {
	Submit(ctx context.Context, record domain.Submission) error
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// EventSink emits turn state and events to the UI.
type EventSink interface {
	TurnStateChanged(state domain.TurnState, reason domain.TurnReason)
	Transcript(role domain.Role, text string)
	LevelsChanged(levels domain.Levels)
	FormChanged(fields map[string]string)
	SessionError(code domain.ErrorCode, detail string)
}
