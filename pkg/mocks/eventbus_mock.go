package mocks

import (
	"context"

	"github.com/dukex/sortie/pkg/eventbus"
	"github.com/dukex/sortie/pkg/events"
	"github.com/dukex/sortie/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	args := m.Called(eventType, handler)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

// MockNotificationSink is a mock implementation of protocol.NotificationSink.
type MockNotificationSink struct {
	mock.Mock
}

func (m *MockNotificationSink) Push(ctx context.Context, sessionID string, event map[string]any) {
	m.Called(ctx, sessionID, event)
}

// MockOutcomeSink is a mock implementation of protocol.OutcomeSink.
type MockOutcomeSink struct {
	mock.Mock
}

func (m *MockOutcomeSink) EmitOutcome(ctx context.Context, missionID string, won bool) {
	m.Called(ctx, missionID, won)
}

// MockReactor records emitted reaction events.
type MockReactor struct {
	mock.Mock
}

func (m *MockReactor) Emit(ctx context.Context, payload models.EventPayload) models.ReactionOutcome {
	args := m.Called(ctx, payload)

	return args.Get(0).(models.ReactionOutcome)
}

func (m *MockReactor) ResetRetries(sessionID string) {
	m.Called(sessionID)
}
