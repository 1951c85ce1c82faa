package cmd_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/sortie/pkg/cmd"
	"github.com/dukex/sortie/pkg/persistence/file"
	"github.com/dukex/sortie/pkg/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{name: "plain path", url: dir},
		{name: "file scheme", url: "file://" + dir},
		{name: "unknown scheme", url: "mongodb://localhost", wantErr: cmd.ErrUnsupportedProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, err := cmd.NewPersistence(context.Background(), slog.Default(), tt.url)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.IsType(t, &file.Persistence{}, store)
			assert.NoError(t, store.HealthCheck(context.Background()))
		})
	}
}

func TestNewEventBus(t *testing.T) {
	t.Parallel()

	bus, err := cmd.NewEventBus("memory", slog.Default())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus("kafka://", slog.Default())
	require.Error(t, err)

	_, err = cmd.NewEventBus("nats://localhost", slog.Default())
	require.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
}

func TestNewSessionLog(t *testing.T) {
	t.Parallel()

	log, closeLog, err := cmd.NewSessionLog(context.Background(), "memory", 10)
	require.NoError(t, err)
	assert.IsType(t, &sessions.MemoryLog{}, log)
	require.NoError(t, closeLog())

	_, _, err = cmd.NewSessionLog(context.Background(), "memcached://x", 10)
	require.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
}
