package reactions_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/sortie/pkg/mocks"
	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/reactions"
	"github.com/dukex/sortie/pkg/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLauncher struct {
	mock.Mock
}

func (m *MockLauncher) Launch(ctx context.Context, missionID string) (bool, error) {
	args := m.Called(ctx, missionID)

	return args.Bool(0), args.Error(1)
}

func TestHandlers_SendToAgent(t *testing.T) {
	t.Parallel()

	log := sessions.NewMemoryLog(0)
	handlers := reactions.NewHandlers(log, &mocks.MockNotificationSink{}, nil, slog.Default())

	p := payload(models.EventCIFailed, "s1")
	p.Details = map[string]any{"agent_id": "dev", "message": "lint failed on main.go"}

	result, err := handlers.SendToAgent(context.Background(), p, models.ReactionRule{})
	require.NoError(t, err)
	assert.Equal(t, "sent to dev", result)

	messages, err := log.Recent(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, reactions.Sender, messages[0].From)
	assert.Equal(t, "dev", messages[0].To)
	assert.Equal(t, "[REACTION:ci_failed] lint failed on main.go", messages[0].Content)
}

func TestHandlers_NotifyAndEscalate(t *testing.T) {
	t.Parallel()

	notifier := &mocks.MockNotificationSink{}
	notifier.On("Push", mock.Anything, "s1", mock.Anything).Return()

	handlers := reactions.NewHandlers(sessions.NewMemoryLog(0), notifier, nil, slog.Default())
	rule := models.ReactionRule{Priority: "urgent"}

	p := payload(models.EventMissionFailed, "s1")
	p.MissionID = "m1"

	_, err := handlers.Notify(context.Background(), p, rule)
	require.NoError(t, err)

	result, err := handlers.Escalate(context.Background(), p, rule)
	require.NoError(t, err)
	assert.Equal(t, "escalated mission_failed", result)

	notifier.AssertCalled(t, "Push", mock.Anything, "s1", mock.MatchedBy(func(e map[string]any) bool {
		return e["type"] == "reaction" && e["priority"] == "urgent" && e["mission_id"] == "m1" && e["escalated"] == nil
	}))
	notifier.AssertCalled(t, "Push", mock.Anything, "s1", mock.MatchedBy(func(e map[string]any) bool {
		return e["escalated"] == true
	}))
}

func TestHandlers_Retry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		missionID    string
		launched     bool
		launchErr    error
		expectResult string
		expectError  bool
	}{
		{name: "relaunches the mission", missionID: "m1", launched: true, expectResult: "retried mission m1"},
		{name: "already running", missionID: "m1", expectResult: "mission m1 already running"},
		{name: "launch error", missionID: "m1", launchErr: errors.New("not found"), expectError: true},
		{name: "no mission id", expectResult: "not retried: no mission id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			launcher := &MockLauncher{}
			launcher.On("Launch", mock.Anything, tt.missionID).Return(tt.launched, tt.launchErr)

			handlers := reactions.NewHandlers(sessions.NewMemoryLog(0), &mocks.MockNotificationSink{}, launcher, slog.Default())

			p := payload(models.EventPhaseTimeout, "s1")
			p.MissionID = tt.missionID

			result, err := handlers.Retry(context.Background(), p, models.ReactionRule{})
			if tt.expectError {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectResult, result)

			if tt.missionID == "" {
				launcher.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestHandlers_RegisterCoversEveryAction(t *testing.T) {
	t.Parallel()

	notifier := &mocks.MockNotificationSink{}
	notifier.On("Push", mock.Anything, mock.Anything, mock.Anything).Return()

	engine := reactions.NewEngine(nil, slog.Default())
	reactions.NewHandlers(sessions.NewMemoryLog(0), notifier, nil, slog.Default()).Register(engine)

	for _, rule := range reactions.DefaultRules() {
		if !rule.Auto {
			continue
		}

		outcome := engine.Emit(context.Background(), payload(rule.Event, "s-"+string(rule.Event)))
		assert.True(t, outcome.Handled, "event %s", rule.Event)
	}
}
