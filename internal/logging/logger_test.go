package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vui/internal/config"
)

func TestBuildWritesConsoleAndFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "vui.log")
	var console bytes.Buffer

	logger, closer, err := build(config.LogConfig{Level: "debug", File: path}, &console)
	require.NoError(t, err)

	logger.Debug().Str("component", "test").Msg("hello")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "vui", entry["app"])
	assert.Equal(t, "debug", entry["level"])
}

func TestBuildFiltersBelowLevel(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer
	logger, _, err := build(config.LogConfig{Level: "warn"}, &console)
	require.NoError(t, err)

	logger.Info().Msg("quiet")
	logger.Warn().Msg("loud")

	assert.NotContains(t, console.String(), "quiet")
	assert.Contains(t, console.String(), "loud")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
