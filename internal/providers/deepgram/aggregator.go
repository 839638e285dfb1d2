package deepgram

import "strings"

// transcriptAggregator joins final results and falls back to the last spoken text
// when the stream ended before anything was finalized.
type transcriptAggregator struct {
	finals     []string
	lastSpoken string
}

func (a *transcriptAggregator) Add(text string, final bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.lastSpoken = text
	if final {
		a.finals = append(a.finals, text)
	}
}

func (a *transcriptAggregator) Raw() string {
	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	if joined == "" {
		return a.lastSpoken
	}
	if a.lastSpoken == "" || strings.HasSuffix(joined, a.lastSpoken) {
		return joined
	}
	if len(a.lastSpoken) > len(joined) {
		return strings.TrimSpace(joined + " " + a.lastSpoken)
	}
	return joined
}
