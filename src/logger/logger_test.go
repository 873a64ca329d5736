package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{" warning ", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestConsoleLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriterLogger(&buf, LevelWarn)

	log.Debug("hidden %d", 1)
	log.Info("hidden %d", 2)
	log.Warn("cleanup failed for %s", "time")
	log.Error("boom")

	assert.Equal(t, "[WARN] cleanup failed for time\n[ERROR] boom\n", buf.String())
}

func TestSlogLogger_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LevelInfo)

	log.Info("served %s", "/healthz")
	log.Debug("dropped")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "served /healthz", line["msg"])
	assert.Equal(t, "INFO", line["level"])
}
