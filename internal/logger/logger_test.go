package logger

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
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestJSONOutputAndLevel(t *testing.T) {
	defer func() { _ = Close() }()

	var buf bytes.Buffer
	require.NoError(t, InitWithWriter(LogConfig{Level: "warn", Format: "json"}, &buf))

	Info().Msg("dropped")
	l := With("executor")
	l.Warn().Str("run_id", "abc").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "executor", entry["component"])
	assert.Equal(t, "abc", entry["run_id"])
	assert.Contains(t, entry, "time")
}

func TestConsoleFormat(t *testing.T) {
	defer func() { _ = Close() }()

	var buf bytes.Buffer
	require.NoError(t, InitWithWriter(LogConfig{Level: "info", Format: "console"}, &buf))

	Info().Msg("hello console")
	assert.Contains(t, buf.String(), "hello console")
	assert.False(t, strings.HasPrefix(buf.String(), "{"), "console output is not JSON")
}

func TestInitWithFile(t *testing.T) {
	defer func() { _ = Close() }()

	logPath := filepath.Join(t.TempDir(), "pyexec.log")
	var buf bytes.Buffer
	require.NoError(t, InitWithWriter(LogConfig{Level: "info", File: logPath}, &buf))

	Error().Msg("to both")
	require.NoError(t, Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestInitBadFile(t *testing.T) {
	err := Init(LogConfig{File: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.ErrorContains(t, err, "open log file")
}
