// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"vui/internal/config"
)

// New returns a console logger on stderr and, when cfg.File is set, a JSON log file.
// The returned closer releases the file and is never nil.
func New(cfg config.LogConfig) (zerolog.Logger, io.Closer, error) {
	return build(cfg, os.Stderr)
}

func build(cfg config.LogConfig, console io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"}}
	var closer io.Closer = nopCloser{}

	if path := strings.TrimSpace(cfg.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
		closer = file
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", "vui").
		Logger()
	return logger, closer, nil
}

// ParseLevel accepts debug, info, warn and error. Empty means info.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
