package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vui/internal/domain"
	"vui/internal/form"
	"vui/internal/policy"
	"vui/internal/ports"
)

func TestTurnFullReplyCycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Backends{
		Transcriber: &fakeTranscriber{texts: []string{"hello there"}},
		Generator:   &fakeGenerator{results: []domain.GenerationResult{{Text: "Hi! What's your name?", StopReason: domain.StopEndTurn}}},
		Synthesizer: &fakeSynthesizer{audio: []byte("mp3")},
	})

	h.speak()
	assert.Equal(t, domain.TurnStateProcessing, h.conv.state)
	h.tick(3)

	require.Equal(t, domain.TurnStateSpeaking, h.conv.state)
	assert.Equal(t, []domain.CommandKind{domain.CommandPlay}, h.playback.kinds())
	assert.Equal(t, []transcriptEvent{
		{role: domain.RoleUser, text: "hello there"},
		{role: domain.RoleAssistant, text: "Hi! What's your name?"},
	}, h.sink.snapshotTranscripts())

	h.playback.emit(domain.PlaybackStatus{Kind: domain.StatusPlaying})
	h.playback.emit(domain.PlaybackStatus{Kind: domain.StatusFinished})
	h.tick(1)

	assert.Equal(t, domain.TurnStateListening, h.conv.state)
	assert.Equal(t, []domain.TurnReason{
		domain.TurnReasonConversationStart,
		domain.TurnReasonUtteranceReady,
		domain.TurnReasonThinking,
		domain.TurnReasonSynthesizing,
		domain.TurnReasonReplyStarted,
		domain.TurnReasonReplyFinished,
	}, h.sink.reasons())
	assert.Equal(t, 2, h.conv.history.Len())
}

func TestTurnUtteranceCarriesWholeBuffer(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{texts: []string{"(static)"}}
	h := newHarness(t, Backends{Transcriber: transcriber})

	h.speak()
	h.tick(1)

	require.Len(t, transcriber.calls, 1)
	assert.Equal(t, 7*chunkSize, transcriber.calls[0])
	assert.Equal(t, 16000, transcriber.rate)
}

func TestTurnNoiseTranscriptReturnsToListening(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{}
	h := newHarness(t, Backends{
		Transcriber: &fakeTranscriber{texts: []string{"  um, uh  "}},
		Generator:   generator,
	})

	h.speak()
	h.tick(1)

	assert.Equal(t, domain.TurnStateListening, h.conv.state)
	assert.Equal(t, domain.TurnReasonNoiseDiscarded, h.sink.lastReason())
	assert.Zero(t, generator.calls)
	assert.Zero(t, h.conv.history.Len())
	assert.Empty(t, h.sink.snapshotTranscripts())
}

func TestTurnSilenceOnlyNeverDispatches(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{}
	h := newHarness(t, Backends{Transcriber: transcriber})

	for i := 0; i < 20; i++ {
		h.capture.push(quiet())
	}
	h.tick(1)

	assert.Equal(t, domain.TurnStateListening, h.conv.state)
	assert.Empty(t, transcriber.calls)
}

func TestTurnBargeInNoiseResumesReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Backends{
		Transcriber: &fakeTranscriber{texts: []string{"hello", "[coughing]"}},
		Generator:   &fakeGenerator{results: []domain.GenerationResult{{Text: "A long answer"}}},
		Synthesizer: &fakeSynthesizer{audio: []byte("mp3")},
	})
	h.reachSpeaking()

	for i := 0; i < policy.BargeInChunkCount; i++ {
		h.capture.push(loud())
	}
	h.tick(1)
	require.Equal(t, domain.TurnStateBargedIn, h.conv.state)
	assert.Equal(t, []domain.CommandKind{domain.CommandPlay, domain.CommandPause}, h.playback.kinds())

	h.speak()
	require.Equal(t, domain.TurnStateProcessing, h.conv.state)
	h.tick(1)

	assert.Equal(t, domain.TurnStateSpeaking, h.conv.state)
	assert.Equal(t, domain.TurnReasonReplyResumed, h.sink.lastReason())
	assert.Equal(t, []domain.CommandKind{domain.CommandPlay, domain.CommandPause, domain.CommandResume}, h.playback.kinds())
}

func TestTurnBargeInSpeechStopsReplyAndGenerates(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{results: []domain.GenerationResult{{Text: "First"}, {Text: "Second"}}}
	h := newHarness(t, Backends{
		Transcriber: &fakeTranscriber{texts: []string{"hello", "wait, stop"}},
		Generator:   generator,
		Synthesizer: &fakeSynthesizer{audio: []byte("mp3")},
	})
	h.reachSpeaking()

	for i := 0; i < policy.BargeInChunkCount+2; i++ {
		h.capture.push(loud())
	}
	h.tick(1)
	require.Equal(t, domain.TurnStateBargedIn, h.conv.state)

	h.speak()
	h.tick(1)

	assert.Equal(t, domain.TurnStateSpeaking, h.conv.state)
	assert.Equal(t, []domain.CommandKind{
		domain.CommandPlay, domain.CommandPause, domain.CommandStop, domain.CommandPlay,
	}, h.playback.kinds())
	assert.Equal(t, 2, generator.calls)
	last := generator.histories[1]
	assert.Equal(t, "wait, stop", last[len(last)-1].Text())
}

func TestTurnFinishedBeforeLoudChunksSkipsBargeIn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Backends{
		Transcriber: &fakeTranscriber{texts: []string{"hello"}},
		Generator:   &fakeGenerator{results: []domain.GenerationResult{{Text: "Short"}}},
		Synthesizer: &fakeSynthesizer{audio: []byte("mp3")},
	})
	h.reachSpeaking()

	h.playback.emit(domain.PlaybackStatus{Kind: domain.StatusFinished})
	for i := 0; i < policy.BargeInChunkCount; i++ {
		h.capture.push(loud())
	}
	h.tick(1)

	assert.Equal(t, domain.TurnStateListening, h.conv.state)
	assert.Equal(t, []domain.CommandKind{domain.CommandPlay}, h.playback.kinds())
}

func TestTurnPlaybackErrorEndsReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Backends{
		Transcriber: &fakeTranscriber{texts: []string{"hello"}},
		Generator:   &fakeGenerator{results: []domain.GenerationResult{{Text: "Reply"}}},
		Synthesizer: &fakeSynthesizer{audio: []byte("garbage")},
	})
	h.reachSpeaking()

	h.playback.emit(domain.PlaybackStatus{Kind: domain.StatusError, Message: "decode failed"})
	h.tick(1)

	assert.Equal(t, domain.TurnStateListening, h.conv.state)
	errs := h.sink.snapshotErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrorCodeDecode, errs[0].code)
}

func TestTurnToolLoopSubmitsForm(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{results: []domain.GenerationResult{
		{ToolCalls: []domain.ToolCall{
			toolCall("t1", form.FieldName, form.ActionWrite, "Ada"),
			toolCall("t2", form.FieldEmail, form.ActionWrite, "ada@example.com"),
		}, StopReason: domain.StopToolUse},
		{Text: "Submitting now.", ToolCalls: []domain.ToolCall{
			toolCall("t3", form.TargetForm, form.ActionSubmit, ""),
		}, StopReason: domain.StopToolUse},
	}}
	submitter := &fakeSubmitter{}
	h := newHarness(t, Backends{
		Transcriber: &fakeTranscriber{texts: []string{"I'm Ada, ada@example.com"}},
		Generator:   generator,
		Submitter:   submitter,
	})

	h.speak()
	h.tick(3)

	assert.Equal(t, domain.TurnStateSubmitted, h.conv.state)
	require.Len(t, submitter.records, 1)
	record := submitter.records[0]
	assert.Equal(t, h.conv.id, record.ConversationID)
	assert.Equal(t, "Ada", record.Fields[form.FieldName])
	assert.Equal(t, "ada@example.com", record.Fields[form.FieldEmail])

	forms := h.sink.snapshotForms()
	require.NotEmpty(t, forms)
	assert.Equal(t, "Ada", forms[len(forms)-1][form.FieldName])

	second := generator.histories[1]
	results := second[len(second)-1]
	assert.Equal(t, domain.RoleUser, results.Role)
	require.Len(t, results.Content, 2)
	assert.Equal(t, "t1", results.Content[0].(domain.ToolResultBlock).ToolUseID)
}

func TestTurnToolResultErrorsFeedBack(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{results: []domain.GenerationResult{
		{ToolCalls: []domain.ToolCall{toolCall("t1", form.TargetForm, form.ActionSubmit, "")}},
		{Text: "I still need your name."},
	}}
	h := newHarness(t, Backends{
		Transcriber: &fakeTranscriber{texts: []string{"submit it"}},
		Generator:   generator,
		Synthesizer: &fakeSynthesizer{audio: []byte("mp3")},
	})

	h.speak()
	h.tick(4)

	assert.Equal(t, domain.TurnStateSpeaking, h.conv.state)
	second := generator.histories[1]
	result := second[len(second)-1].Content[0].(domain.ToolResultBlock)
	assert.True(t, result.IsError)
}

func TestTurnToolRoundsBounded(t *testing.T) {
	t.Parallel()

	looping := domain.GenerationResult{ToolCalls: []domain.ToolCall{toolCall("t", form.FieldNotes, form.ActionRead, "")}}
	generator := &fakeGenerator{repeat: &looping}
	h := newHarness(t, Backends{
		Transcriber: &fakeTranscriber{texts: []string{"read my notes"}},
		Generator:   generator,
	})
	h.ctrl.cfg.MaxToolRounds = 2

	h.speak()
	h.tick(5)

	assert.Equal(t, domain.TurnStateDone, h.conv.state)
	assert.Equal(t, 3, generator.calls)
	errs := h.sink.snapshotErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrorCodeGeneration, errs[0].code)
}

func TestTurnBackendErrorEndsConversation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Backends{Transcriber: &fakeTranscriber{err: errors.New("401 unauthorized")}})

	h.speak()
	h.tick(1)

	assert.Equal(t, domain.TurnStateDone, h.conv.state)
	assert.Equal(t, domain.TurnReasonBackendFailed, h.sink.lastReason())
	errs := h.sink.snapshotErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrorCodeTranscription, errs[0].code)
	transcripts := h.sink.snapshotTranscripts()
	require.Len(t, transcripts, 1)
	assert.Equal(t, domain.RoleAssistant, transcripts[0].role)
}

func TestTurnEmptyReplySkipsSynthesis(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{audio: []byte("mp3")}
	h := newHarness(t, Backends{
		Transcriber: &fakeTranscriber{texts: []string{"hello"}},
		Generator:   &fakeGenerator{results: []domain.GenerationResult{{StopReason: domain.StopEndTurn}}},
		Synthesizer: synth,
	})

	h.speak()
	h.tick(2)

	assert.Equal(t, domain.TurnStateListening, h.conv.state)
	assert.Equal(t, domain.TurnReasonReplySkipped, h.sink.lastReason())
	assert.Zero(t, synth.calls)
}

func TestTurnStaleCompletionDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Backends{})
	h.conv.deliver(completion{kind: completionTranscribed, token: h.conv.token + 5, text: "late"})
	h.tick(1)

	assert.Equal(t, domain.TurnStateListening, h.conv.state)
	assert.Empty(t, h.sink.snapshotTranscripts())
}

func TestTurnChunksDiscardedWhileProcessing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Backends{Transcriber: &fakeTranscriber{}})
	h.ctrl.spawn = func(func()) {}

	h.speak()
	require.Equal(t, domain.TurnStateProcessing, h.conv.state)
	for i := 0; i < 10; i++ {
		h.capture.push(loud())
	}
	h.tick(1)

	assert.Equal(t, domain.TurnStateProcessing, h.conv.state)
	assert.Zero(t, h.conv.endpoint.Buffered())
	assert.Zero(t, h.capture.pending())
}

func TestTurnManualSubmitRequiresReadyForm(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{}
	h := newHarness(t, Backends{Submitter: submitter})

	h.conv.deliver(completion{kind: completionSubmitRequested})
	h.tick(1)
	assert.Equal(t, domain.TurnStateListening, h.conv.state)
	errs := h.sink.snapshotErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrorCodeSubmission, errs[0].code)

	h.conv.form.Apply(form.ToolInput{Field: form.FieldName, Action: form.ActionWrite, Value: "Ada"})
	h.conv.form.Apply(form.ToolInput{Field: form.FieldEmail, Action: form.ActionWrite, Value: "ada@example.com"})
	h.conv.deliver(completion{kind: completionSubmitRequested})
	h.tick(1)

	assert.Equal(t, domain.TurnStateSubmitted, h.conv.state)
	assert.Len(t, submitter.records, 1)
}

func TestTurnWithoutPlaybackRevealsReply(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	capture := &fakeCaptureHandle{}
	ctrl := newTestController(
		&fakeCapture{handle: capture},
		&fakePlayback{err: errors.New("no output device")},
		Backends{
			Transcriber: &fakeTranscriber{texts: []string{"hello"}},
			Generator:   &fakeGenerator{results: []domain.GenerationResult{{Text: "Hi"}}},
			Synthesizer: &fakeSynthesizer{audio: []byte("mp3")},
		},
		sink,
	)
	conv, err := ctrl.open(context.Background())
	require.NoError(t, err)
	t.Cleanup(conv.cancel)

	for _, chunk := range utterance() {
		capture.push(chunk)
	}
	for i := 0; i < 4; i++ {
		ctrl.tick(conv)
	}

	assert.Equal(t, domain.TurnStateListening, conv.state)
	errs := sink.snapshotErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrorCodeDevice, errs[0].code)
	transcripts := sink.snapshotTranscripts()
	require.Len(t, transcripts, 2)
	assert.Equal(t, "Hi", transcripts[1].text)
}

func TestTurnWithoutCaptureStaysListening(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	ctrl := newTestController(&fakeCapture{err: errors.New("no input device")}, nil, Backends{}, sink)
	conv, err := ctrl.open(context.Background())
	require.NoError(t, err)
	t.Cleanup(conv.cancel)

	ctrl.tick(conv)
	assert.Equal(t, domain.TurnStateListening, conv.state)
	errs := sink.snapshotErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrorCodeDevice, errs[0].code)
}

func TestTurnControllerStartStop(t *testing.T) {
	t.Parallel()

	capture := &fakeCaptureHandle{}
	playback := &fakePlaybackHandle{}
	sink := &recordingSink{}
	ctrl := newTestController(&fakeCapture{handle: capture}, &fakePlayback{handle: playback}, Backends{}, sink)
	ctrl.cfg.TickInterval = time.Millisecond

	assert.ErrorIs(t, ctrl.Stop(), ErrNoActiveConversation)
	assert.ErrorIs(t, ctrl.RequestSubmit(), ErrNoActiveConversation)

	require.NoError(t, ctrl.Start(context.Background()))
	assert.ErrorIs(t, ctrl.Start(context.Background()), ErrConversationActive)

	status := ctrl.Status()
	assert.True(t, status.Active)
	assert.Equal(t, domain.TurnStateListening, status.State)
	assert.NotEmpty(t, status.ConversationID)

	require.NoError(t, ctrl.Stop())
	status = ctrl.Status()
	assert.False(t, status.Active)
	assert.Equal(t, domain.TurnStateDone, status.State)
	assert.Equal(t, domain.TurnReasonStopped, sink.lastReason())
	assert.True(t, capture.isClosed())
	assert.True(t, playback.isClosed())
}

func submittingGenerator() *fakeGenerator {
	return &fakeGenerator{results: []domain.GenerationResult{
		{ToolCalls: []domain.ToolCall{
			toolCall("t1", form.FieldName, form.ActionWrite, "Ada"),
			toolCall("t2", form.FieldEmail, form.ActionWrite, "ada@example.com"),
			toolCall("t3", form.TargetForm, form.ActionSubmit, ""),
		}, StopReason: domain.StopToolUse},
	}}
}

func startSubmitting(t *testing.T, submitter ports.Submitter, timeout time.Duration) *TurnController {
	t.Helper()

	capture := &fakeCaptureHandle{}
	for _, chunk := range utterance() {
		capture.push(chunk)
	}
	ctrl := newTestController(&fakeCapture{handle: capture}, nil, Backends{
		Transcriber: &fakeTranscriber{texts: []string{"I'm Ada, ada@example.com, please submit"}},
		Generator:   submittingGenerator(),
		Submitter:   submitter,
	}, &recordingSink{})
	ctrl.spawn = func(task func()) { go task() }
	ctrl.cfg.TickInterval = time.Millisecond
	ctrl.cfg.SubmissionTimeout = timeout
	require.NoError(t, ctrl.Start(context.Background()))
	return ctrl
}

func TestTurnWaitJoinsSubmission(t *testing.T) {
	t.Parallel()

	submitter := &slowSubmitter{delay: 100 * time.Millisecond}
	ctrl := startSubmitting(t, submitter, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.Wait(ctx); err != nil {
		require.ErrorIs(t, err, ErrNoActiveConversation)
	}

	assert.Equal(t, domain.TurnStateSubmitted, ctrl.Status().State)
	assert.Equal(t, 1, submitter.deliveredCount())
}

func TestTurnSubmissionJoinIsBounded(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	ctrl := startSubmitting(t, &stuckSubmitter{release: release}, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Eventually(t, func() bool {
		return ctrl.Status().State == domain.TurnStateSubmitted
	}, 2*time.Second, time.Millisecond)
	if err := ctrl.Wait(ctx); err != nil {
		require.ErrorIs(t, err, ErrNoActiveConversation)
	}
	assert.NoError(t, ctx.Err())
	assert.False(t, ctrl.Status().Active)
}

func TestTurnLevelsPublishedOnChange(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Backends{})
	h.capture.push(loud())
	h.tick(1)

	levels := h.sink.snapshotLevels()
	require.NotEmpty(t, levels)
	assert.Greater(t, levels[len(levels)-1].Input, 0.0)
}

func TestTurnOutputLevelPublished(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Backends{})
	h.tick(1)
	before := len(h.sink.snapshotLevels())

	h.playback.emit(domain.PlaybackStatus{Kind: domain.StatusLevel, Level: 0.3})
	h.tick(1)

	levels := h.sink.snapshotLevels()
	require.Len(t, levels, before+1)
	assert.Equal(t, 0.3, levels[len(levels)-1].Output)
}

const chunkSize = 512

var testEndpoint = policy.EndpointConfig{MinUtteranceSamples: 1000, SilenceChunkLimit: 3}

type harness struct {
	t        *testing.T
	ctrl     *TurnController
	conv     *conversation
	capture  *fakeCaptureHandle
	playback *fakePlaybackHandle
	sink     *recordingSink
}

func newHarness(t *testing.T, backends Backends) *harness {
	t.Helper()

	capture := &fakeCaptureHandle{}
	playback := &fakePlaybackHandle{}
	sink := &recordingSink{}
	ctrl := newTestController(&fakeCapture{handle: capture}, &fakePlayback{handle: playback}, backends, sink)
	conv, err := ctrl.open(context.Background())
	require.NoError(t, err)
	t.Cleanup(conv.cancel)
	return &harness{t: t, ctrl: ctrl, conv: conv, capture: capture, playback: playback, sink: sink}
}

func newTestController(capture ports.AudioCapture, playback ports.AudioPlayback, backends Backends, sink *recordingSink) *TurnController {
	ctrl := NewTurnController(capture, playback, backends, nil, sink, Config{Endpoint: testEndpoint}, zerolog.Nop())
	ctrl.spawn = func(task func()) { task() }
	ctrl.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return ctrl
}

func (h *harness) tick(n int) {
	for i := 0; i < n; i++ {
		h.ctrl.tick(h.conv)
	}
}

// speak pushes one utterance and runs the tick that hands it off.
func (h *harness) speak() {
	for _, chunk := range utterance() {
		h.capture.push(chunk)
	}
	h.tick(1)
}

func (h *harness) reachSpeaking() {
	h.speak()
	h.tick(3)
	require.Equal(h.t, domain.TurnStateSpeaking, h.conv.state)
}

func utterance() []domain.AudioChunk {
	return []domain.AudioChunk{loud(), loud(), loud(), quiet(), quiet(), quiet(), quiet()}
}

func loud() domain.AudioChunk  { return constantChunk(0.2) }
func quiet() domain.AudioChunk { return constantChunk(0) }

func constantChunk(v float32) domain.AudioChunk {
	samples := make([]float32, chunkSize)
	for i := range samples {
		samples[i] = v
	}
	return domain.AudioChunk{Samples: samples, SampleRate: 16000}
}

func toolCall(id, field, action, value string) domain.ToolCall {
	raw, _ := json.Marshal(form.ToolInput{Field: field, Action: action, Value: value})
	return domain.ToolCall{ID: id, Name: form.ToolName, Input: raw}
}

type fakeCapture struct {
	handle *fakeCaptureHandle
	err    error
}

func (f *fakeCapture) Start(context.Context) (ports.CaptureHandle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.handle, nil
}

type fakeCaptureHandle struct {
	mu     sync.Mutex
	chunks []domain.AudioChunk
	closed bool
}

func (f *fakeCaptureHandle) push(chunk domain.AudioChunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
}

func (f *fakeCaptureHandle) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func (f *fakeCaptureHandle) TryNextChunk() (domain.AudioChunk, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chunks) == 0 {
		return domain.AudioChunk{}, false
	}
	chunk := f.chunks[0]
	f.chunks = f.chunks[1:]
	return chunk, true
}

func (f *fakeCaptureHandle) SampleRate() int { return 16000 }

func (f *fakeCaptureHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeCaptureHandle) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakePlayback struct {
	handle *fakePlaybackHandle
	err    error
}

func (f *fakePlayback) Start(context.Context) (ports.PlaybackHandle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.handle, nil
}

type fakePlaybackHandle struct {
	mu       sync.Mutex
	commands []domain.PlaybackCommand
	statuses []domain.PlaybackStatus
	closed   bool
}

func (f *fakePlaybackHandle) Submit(cmd domain.PlaybackCommand) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
}

func (f *fakePlaybackHandle) TryNextStatus() (domain.PlaybackStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return domain.PlaybackStatus{}, false
	}
	status := f.statuses[0]
	f.statuses = f.statuses[1:]
	return status, true
}

func (f *fakePlaybackHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePlaybackHandle) emit(status domain.PlaybackStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *fakePlaybackHandle) kinds() []domain.CommandKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.CommandKind, 0, len(f.commands))
	for _, cmd := range f.commands {
		out = append(out, cmd.Kind)
	}
	return out
}

func (f *fakePlaybackHandle) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeTranscriber struct {
	texts []string
	err   error
	calls []int
	rate  int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, samples []float32, sampleRate int) (string, error) {
	f.calls = append(f.calls, len(samples))
	f.rate = sampleRate
	if f.err != nil {
		return "", f.err
	}
	if len(f.texts) == 0 {
		return "", nil
	}
	text := f.texts[0]
	f.texts = f.texts[1:]
	return text, nil
}

type fakeGenerator struct {
	results   []domain.GenerationResult
	repeat    *domain.GenerationResult
	err       error
	calls     int
	histories [][]domain.Message
}

func (f *fakeGenerator) Send(_ context.Context, history []domain.Message, tools []domain.ToolSchema) (domain.GenerationResult, error) {
	f.calls++
	f.histories = append(f.histories, history)
	if f.err != nil {
		return domain.GenerationResult{}, f.err
	}
	if f.repeat != nil {
		return *f.repeat, nil
	}
	if len(f.results) == 0 {
		return domain.GenerationResult{}, errors.New("no scripted result")
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result, nil
}

type fakeSynthesizer struct {
	audio []byte
	err   error
	calls int
}

func (f *fakeSynthesizer) Synthesize(context.Context, string) ([]byte, error) {
	f.calls++
	return f.audio, f.err
}

type fakeSubmitter struct {
	records []domain.Submission
}

func (f *fakeSubmitter) Submit(_ context.Context, record domain.Submission) error {
	f.records = append(f.records, record)
	return nil
}

type slowSubmitter struct {
	delay time.Duration

	mu        sync.Mutex
	delivered int
}

func (f *slowSubmitter) Submit(ctx context.Context, _ domain.Submission) error {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered++
	return nil
}

func (f *slowSubmitter) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivered
}

// stuckSubmitter ignores its deadline until released.
type stuckSubmitter struct {
	release chan struct{}
}

func (f *stuckSubmitter) Submit(context.Context, domain.Submission) error {
	<-f.release
	return nil
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type stateEvent struct {
	state  domain.TurnState
	reason domain.TurnReason
}

type transcriptEvent struct {
	role domain.Role
	text string
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

type recordingSink struct {
	mu          sync.Mutex
	states      []stateEvent
	transcripts []transcriptEvent
	levels      []domain.Levels
	forms       []map[string]string
	errors      []errEvent
}

func (r *recordingSink) TurnStateChanged(state domain.TurnState, reason domain.TurnReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, stateEvent{state: state, reason: reason})
}

func (r *recordingSink) Transcript(role domain.Role, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, transcriptEvent{role: role, text: text})
}

func (r *recordingSink) LevelsChanged(levels domain.Levels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, levels)
}

func (r *recordingSink) FormChanged(fields map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forms = append(r.forms, fields)
}

func (r *recordingSink) SessionError(code domain.ErrorCode, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, errEvent{code: code, detail: detail})
}

func (r *recordingSink) reasons() []domain.TurnReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TurnReason, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.reason)
	}
	return out
}

func (r *recordingSink) lastReason() domain.TurnReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return ""
	}
	return r.states[len(r.states)-1].reason
}

func (r *recordingSink) snapshotTranscripts() []transcriptEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transcriptEvent(nil), r.transcripts...)
}

func (r *recordingSink) snapshotErrors() []errEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]errEvent(nil), r.errors...)
}

func (r *recordingSink) snapshotForms() []map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]string(nil), r.forms...)
}

func (r *recordingSink) snapshotLevels() []domain.Levels {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Levels(nil), r.levels...)
}
