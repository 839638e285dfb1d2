package usecase

import (
	"strings"
	"unicode"

	"vui/internal/domain"
	"vui/internal/ports"
)

// transcriptFinalizer normalizes a raw transcript and decides whether it is speech.
type transcriptFinalizer struct {
	rules  ports.RulesEngine
	events ports.EventSink
}

func newTranscriptFinalizer(rules ports.RulesEngine, events ports.EventSink) transcriptFinalizer {
	return transcriptFinalizer{rules: rules, events: events}
}

// Finalize applies substitution rules and reports whether the result is real speech.
// A rules failure is reported and the raw text is kept.
func (f transcriptFinalizer) Finalize(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if f.rules != nil && text != "" {
		transformed, err := f.rules.Apply(text)
		if err != nil {
			f.events.SessionError(domain.ErrorCodeRules, err.Error())
		} else {
			text = strings.TrimSpace(transformed)
		}
	}
	return text, !IsNoise(text)
}

var noiseWords = map[string]struct{}{
	"static": {}, "noise": {}, "silence": {}, "music": {}, "inaudible": {},
	"background": {}, "blank": {}, "audio": {}, "sound": {}, "applause": {},
	"um": {}, "uh": {}, "umm": {}, "uhh": {}, "hmm": {}, "mm": {}, "mhm": {},
	"ah": {}, "er": {}, "erm": {},
}

// IsNoise judges transcripts that carry no user intent: empty text, fewer than two
// letters or digits, a lone parenthetical or bracketed annotation such as "(static)",
// or nothing but noise and filler words.
func IsNoise(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if isAnnotation(trimmed, '(', ')') || isAnnotation(trimmed, '[', ']') || isAnnotation(trimmed, '*', '*') {
		return true
	}

	alnum := 0
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if alnum < 2 {
		return true
	}

	words := strings.FieldsFunc(strings.ToLower(trimmed), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		if _, ok := noiseWords[word]; !ok {
			return false
		}
	}
	return true
}

func isAnnotation(text string, open, closer rune) bool {
	runes := []rune(text)
	if len(runes) < 2 || runes[0] != open || runes[len(runes)-1] != closer {
		return false
	}
	inner := string(runes[1 : len(runes)-1])
	return !strings.ContainsRune(inner, closer)
}
