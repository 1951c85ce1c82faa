package log_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/sortie/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, log.ParseLevel(tt.in))
		})
	}
}

func TestNewHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(log.NewHandler(&buf, "warn", log.FormatJSON))
	logger.Info("dropped")
	logger.Warn("kept", "module", "governor")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "governor", record["module"])

	buf.Reset()

	slog.New(log.NewHandler(&buf, "debug", log.FormatText)).Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNewCronLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := log.NewCronLogger(slog.New(log.NewHandler(&buf, "debug", log.FormatJSON)))
	logger.Error(errors.New("job panicked"), "panic", "stack", "trace")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "panic", record["msg"])
	assert.Equal(t, "job panicked", record["error"])
	assert.Equal(t, "trace", record["stack"])
	assert.Equal(t, "cron", record["component"])

	buf.Reset()

	logger.Info("wake", "now", "later")
	assert.Contains(t, buf.String(), `"level":"DEBUG"`)
}
