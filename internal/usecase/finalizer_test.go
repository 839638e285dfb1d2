package usecase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"vui/internal/domain"
)

func TestTranscriptFinalizerAppliesRules(t *testing.T) {
	t.Parallel()

	events := &recordingSink{}
	f := newTranscriptFinalizer(&fakeRules{transform: "  my email is ada@example.com "}, events)

	text, speech := f.Finalize("my email is ada at example dot com")
	assert.True(t, speech)
	assert.Equal(t, "my email is ada@example.com", text)
	assert.Empty(t, events.snapshotErrors())
}

func TestTranscriptFinalizerRulesFailureKeepsRaw(t *testing.T) {
	t.Parallel()

	events := &recordingSink{}
	f := newTranscriptFinalizer(&fakeRules{err: errors.New("bad rule")}, events)

	text, speech := f.Finalize(" hello there ")
	assert.True(t, speech)
	assert.Equal(t, "hello there", text)
	errs := events.snapshotErrors()
	if assert.Len(t, errs, 1) {
		assert.Equal(t, domain.ErrorCodeRules, errs[0].code)
	}
}

func TestTranscriptFinalizerSkipsRulesForEmpty(t *testing.T) {
	t.Parallel()

	events := &recordingSink{}
	f := newTranscriptFinalizer(&fakeRules{err: errors.New("never called")}, events)

	text, speech := f.Finalize("   ")
	assert.False(t, speech)
	assert.Empty(t, text)
	assert.Empty(t, events.snapshotErrors())
}

func TestIsNoise(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"":                     true,
		"   ":                  true,
		"a":                    true,
		"?!":                   true,
		"(static)":             true,
		"[background noise]":   true,
		"*coughs*":             true,
		"Um... uh.":            true,
		"hmm":                  true,
		"hi":                   false,
		"42":                   false,
		"my name is Ada":       false,
		"(laughs) that's fine": false,
		"um, yes":              false,
	}
	for text, want := range cases {
		assert.Equal(t, want, IsNoise(text), "IsNoise(%q)", text)
	}
}

func TestHistorySkipsEmptyAndCopies(t *testing.T) {
	t.Parallel()

	var h History
	h.Append(domain.Message{Role: domain.RoleAssistant})
	assert.Zero(t, h.Len())

	h.AppendText(domain.RoleUser, "hello")
	msgs := h.Messages()
	msgs[0].Content[0] = domain.TextBlock{Text: "mutated"}
	assert.Equal(t, "hello", h.Messages()[0].Text())
	assert.Equal(t, 1, h.Len())
}
