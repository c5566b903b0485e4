package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/dontdude/imgcap/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, logger.ParseLevel(tt.in))
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, "info", "json")

	log.Debug("hidden")
	log.Info("Job published", "jobID", "abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Job published", entry["msg"])
	assert.Equal(t, "abc", entry["jobID"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestNew_TextFormatRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, "warn", "text")

	log.Info("skipped")
	assert.Empty(t, buf.String())

	log.Warn("Broker unreachable", "delay", "1s")
	assert.Contains(t, buf.String(), "msg=\"Broker unreachable\"")
	assert.Contains(t, buf.String(), "delay=1s")
}
