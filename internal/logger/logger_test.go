package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herculesinc/credo.rate-limiter/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input     string
		expected  slog.Level
		expectErr bool
	}{
		{input: "debug", expected: slog.LevelDebug},
		{input: "info", expected: slog.LevelInfo},
		{input: "warn", expected: slog.LevelWarn},
		{input: "ERROR", expected: slog.LevelError},
		{input: "verbose", expectErr: true},
		{input: "", expectErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestSetup_StdStreams(t *testing.T) {
	for _, output := range []string{"stdout", "stderr"} {
		logger, closer, err := Setup(config.LoggingConfig{Level: "info", Format: "json", Output: output}, "credo")
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.Nil(t, closer, "no closer for %s", output)
	}
}

func TestSetup_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "credo.log")

	logger, closer, err := Setup(config.LoggingConfig{Level: "debug", Format: "text", Output: "file", FilePath: logFile}, "credo")
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Debug("checking rate limit", "id", "u1")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "checking rate limit")
	assert.Contains(t, out, "service=credo")
	assert.Contains(t, out, "id=u1")
}

func TestSetup_Errors(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Level: "loud", Output: "stdout"}, "credo")
	assert.Error(t, err)

	_, _, err = Setup(config.LoggingConfig{Level: "info", Output: "file"}, "credo")
	assert.Error(t, err)
}

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json", slog.LevelWarn)

	logger.Info("hidden")
	logger.Warn("store connection lost", "limiter", "api")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "store connection lost", entry["msg"])
	assert.Equal(t, "api", entry["limiter"])
}
