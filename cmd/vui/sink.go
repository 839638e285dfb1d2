package main

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"vui/internal/domain"
)

// consoleSink prints the conversation to a terminal and logs everything else.
type consoleSink struct {
	out    io.Writer
	logger zerolog.Logger

	mu       sync.Mutex
	lastTurn domain.TurnReason
}

func newConsoleSink(out io.Writer, logger zerolog.Logger) *consoleSink {
	return &consoleSink{out: out, logger: logger.With().Str("component", "console").Logger()}
}

func (s *consoleSink) TurnStateChanged(state domain.TurnState, reason domain.TurnReason) {
	s.mu.Lock()
	s.lastTurn = reason
	s.mu.Unlock()
	s.logger.Debug().Str("state", string(state)).Str("reason", string(reason)).Msg("turn")
	if state == domain.TurnStateSubmitted {
		fmt.Fprintln(s.out, "-- form submitted --")
	}
}

func (s *consoleSink) Transcript(role domain.Role, text string) {
	label := "you"
	if role == domain.RoleAssistant {
		label = "assistant"
	}
	fmt.Fprintf(s.out, "%s: %s\n", label, text)
}

func (s *consoleSink) LevelsChanged(levels domain.Levels) {
	s.logger.Trace().Float64("input", levels.Input).Float64("output", levels.Output).Msg("levels")
}

func (s *consoleSink) FormChanged(fields map[string]string) {
	event := s.logger.Info()
	for _, key := range sortedKeys(fields) {
		event = event.Str(key, fields[key])
	}
	event.Msg("form updated")
}

func (s *consoleSink) SessionError(code domain.ErrorCode, detail string) {
	s.logger.Error().Str("code", string(code)).Str("detail", detail).Msg("session error")
}

func (s *consoleSink) failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTurn == domain.TurnReasonBackendFailed
}

func sortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func printDevices(out io.Writer, capture, playback []string) {
	fmt.Fprintln(out, "capture:")
	for _, name := range capture {
		fmt.Fprintf(out, "  %s\n", name)
	}
	fmt.Fprintln(out, "playback:")
	for _, name := range playback {
		fmt.Fprintf(out, "  %s\n", name)
	}
}
