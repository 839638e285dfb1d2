package domain

// TurnState models the conversation turn lifecycle.
type TurnState string

const (
	TurnStateIdle       TurnState = "idle"
	TurnStateListening  TurnState = "listening"
	TurnStateSpeaking   TurnState = "speaking"
	TurnStateBargedIn   TurnState = "barged_in"
	TurnStateProcessing TurnState = "processing"
	TurnStateSubmitted  TurnState = "submitted"
	TurnStateDone       TurnState = "done"
)

// Terminal reports whether the state ends the conversation.
func (s TurnState) Terminal() bool {
	return s == TurnStateDone || s == TurnStateSubmitted
}

// TurnReason provides a structured reason for state transitions.
type TurnReason string

const (
	TurnReasonReady             TurnReason = "ready"
	TurnReasonConversationStart TurnReason = "conversation_started"
	TurnReasonSilenceReset      TurnReason = "silence_reset"
	TurnReasonUtteranceReady    TurnReason = "utterance_ready"
	TurnReasonNoiseDiscarded    TurnReason = "noise_discarded"
	TurnReasonThinking          TurnReason = "thinking"
	TurnReasonToolRound         TurnReason = "tool_round"
	TurnReasonSynthesizing      TurnReason = "synthesizing"
	TurnReasonReplyStarted      TurnReason = "reply_started"
	TurnReasonReplyFinished     TurnReason = "reply_finished"
	TurnReasonReplySkipped      TurnReason = "reply_skipped"
	TurnReasonBargeIn           TurnReason = "barge_in"
	TurnReasonReplyResumed      TurnReason = "reply_resumed"
	TurnReasonSubmitted         TurnReason = "submitted"
	TurnReasonBackendFailed     TurnReason = "backend_failed"
	TurnReasonStopped           TurnReason = "stopped"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeDevice        ErrorCode = "device"
	ErrorCodeDecode        ErrorCode = "decode"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeGeneration    ErrorCode = "generation"
	ErrorCodeSynthesis     ErrorCode = "synthesis"
	ErrorCodeSubmission    ErrorCode = "submission"
	ErrorCodeRules         ErrorCode = "rules"
)

// AudioChunk is one batch of normalized samples delivered by a capture callback.
type AudioChunk struct {
	Samples    []float32
	SampleRate int
}

// Levels carries loudness meters for the UI.
type Levels struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Status summarizes the current runtime status.
type Status struct {
	ConversationID string    `json:"conversationId,omitempty"`
	State          TurnState `json:"state"`
	Active         bool      `json:"active"`
	PendingReply   string    `json:"pendingReply,omitempty"`
	Message        string    `json:"message,omitempty"`
}
