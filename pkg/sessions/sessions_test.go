package sessions_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/protocol"
	"github.com/dukex/sortie/pkg/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type clearableLog interface {
	protocol.SessionLog
	Clear(ctx context.Context, sessionID string) error
}

func exerciseLog(t *testing.T, log clearableLog) {
	t.Helper()

	ctx := context.Background()

	for i := range 5 {
		err := log.Append(ctx, "s-1", models.Message{From: "agent", Content: fmt.Sprintf("msg-%d", i)})
		require.NoError(t, err)
	}

	require.NoError(t, log.Append(ctx, "s-2", models.Message{From: "other", Content: "unrelated"}))

	recent, err := log.Recent(ctx, "s-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "msg-3", recent[0].Content)
	assert.Equal(t, "msg-4", recent[1].Content)
	assert.Equal(t, "s-1", recent[0].SessionID)
	assert.Equal(t, models.MessageText, recent[0].Type)
	assert.False(t, recent[0].Timestamp.IsZero())

	capped, err := log.Recent(ctx, "s-1", 0)
	require.NoError(t, err)
	require.Len(t, capped, 3)
	assert.Equal(t, "msg-2", capped[0].Content)

	empty, err := log.Recent(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, log.Clear(ctx, "s-1"))

	cleared, err := log.Recent(ctx, "s-1", 0)
	require.NoError(t, err)
	assert.Empty(t, cleared)

	other, err := log.Recent(ctx, "s-2", 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestMemoryLog(t *testing.T) {
	t.Parallel()

	exerciseLog(t, sessions.NewMemoryLog(3))
}

func TestRedisLog(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	log, err := sessions.NewRedisLogFromURL(ctx, "redis://"+endpoint+"/0", 3)
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	exerciseLog(t, log)
}
