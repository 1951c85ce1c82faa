package eventbus

import (
	"context"
	"log/slog"

	"github.com/dukex/sortie/pkg/events"
)

// Notifier publishes UI notifications and mission outcomes on the bus.
// Publishing failures are logged and never surfaced to the caller.
type Notifier struct {
	publisher EventPublisher
	logger    *slog.Logger
}

func NewNotifier(publisher EventPublisher, logger *slog.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		logger:    logger.With("module", "notifier"),
	}
}

func (n *Notifier) Push(ctx context.Context, sessionID string, payload map[string]any) {
	event := events.Notification{
		BaseEvent: events.NewBaseEvent(events.NotificationEvent, ""),
		Payload:   payload,
	}
	event.SessionID = sessionID

	if missionID, ok := payload["mission_id"].(string); ok {
		event.MissionID = missionID
	}

	err := n.publisher.Publish(ctx, sessionID, event)
	if err != nil {
		n.logger.WarnContext(ctx, "Failed to publish notification", "session_id", sessionID, "error", err)
	}
}

func (n *Notifier) EmitOutcome(ctx context.Context, missionID string, won bool) {
	event := events.MissionOutcome{
		BaseEvent: events.NewBaseEvent(events.MissionOutcomeEvent, missionID),
		Won:       won,
	}

	err := n.publisher.Publish(ctx, missionID, event)
	if err != nil {
		n.logger.WarnContext(ctx, "Failed to publish mission outcome", "mission_id", missionID, "error", err)
	}
}
