package reactions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/protocol"
)

// Sender is the name used for messages written by the engine.
const Sender = "reaction-engine"

// MissionLauncher relaunches a mission from its checkpoint.
type MissionLauncher interface {
	Launch(ctx context.Context, missionID string) (bool, error)
}

// Handlers builds the built-in action handlers.
type Handlers struct {
	sessions protocol.SessionLog
	notifier protocol.NotificationSink
	launcher MissionLauncher
	logger   *slog.Logger
}

func NewHandlers(sessions protocol.SessionLog, notifier protocol.NotificationSink, launcher MissionLauncher, logger *slog.Logger) *Handlers {
	return &Handlers{
		sessions: sessions,
		notifier: notifier,
		launcher: launcher,
		logger:   logger.With("module", "reaction_handlers"),
	}
}

// Register installs a handler for every action on engine.
func (h *Handlers) Register(engine *Engine) {
	engine.RegisterHandler(models.ActionSendToAgent, HandlerFunc(h.SendToAgent))
	engine.RegisterHandler(models.ActionNotify, HandlerFunc(h.Notify))
	engine.RegisterHandler(models.ActionEscalate, HandlerFunc(h.Escalate))
	engine.RegisterHandler(models.ActionRetry, HandlerFunc(h.Retry))
	engine.RegisterHandler(models.ActionRollback, HandlerFunc(h.Rollback))
	engine.RegisterHandler(models.ActionCreateTask, HandlerFunc(h.CreateTask))
}

// SendToAgent writes the event back into the session addressed to the agent
// named in details["agent_id"].
func (h *Handlers) SendToAgent(ctx context.Context, payload models.EventPayload, _ models.ReactionRule) (string, error) {
	to, _ := payload.Details["agent_id"].(string)

	message, _ := payload.Details["message"].(string)
	if message == "" {
		message = "Auto-retry triggered"
	}

	err := h.sessions.Append(ctx, payload.SessionID, models.Message{
		SessionID: payload.SessionID,
		From:      Sender,
		To:        to,
		Type:      models.MessageSystem,
		Content:   fmt.Sprintf("[REACTION:%s] %s", payload.Event, message),
		PhaseID:   payload.PhaseID,
		Timestamp: payload.Timestamp,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send reaction to agent: %w", err)
	}

	return "sent to " + to, nil
}

func (h *Handlers) Notify(ctx context.Context, payload models.EventPayload, rule models.ReactionRule) (string, error) {
	h.notifier.Push(ctx, payload.SessionID, notification(payload, rule, false))

	return "notified", nil
}

// Escalate notifies with the escalation flag set.
func (h *Handlers) Escalate(ctx context.Context, payload models.EventPayload, rule models.ReactionRule) (string, error) {
	h.notifier.Push(ctx, payload.SessionID, notification(payload, rule, true))

	h.logger.WarnContext(ctx, "Escalated to a human", "event", payload.Event, "session_id", payload.SessionID, "mission_id", payload.MissionID)

	return fmt.Sprintf("escalated %s", payload.Event), nil
}

// Retry relaunches the mission named in the payload from its checkpoint.
func (h *Handlers) Retry(ctx context.Context, payload models.EventPayload, _ models.ReactionRule) (string, error) {
	if payload.MissionID == "" {
		return "not retried: no mission id", nil
	}

	if h.launcher == nil {
		return "not retried: no launcher", nil
	}

	launched, err := h.launcher.Launch(ctx, payload.MissionID)
	if err != nil {
		return "", fmt.Errorf("failed to relaunch mission %s: %w", payload.MissionID, err)
	}

	if !launched {
		return "mission " + payload.MissionID + " already running", nil
	}

	return "retried mission " + payload.MissionID, nil
}

func (h *Handlers) Rollback(ctx context.Context, payload models.EventPayload, _ models.ReactionRule) (string, error) {
	h.logger.WarnContext(ctx, "Rollback requested", "project_id", payload.ProjectID, "mission_id", payload.MissionID)

	return "rollback requested for project " + payload.ProjectID, nil
}

func (h *Handlers) CreateTask(ctx context.Context, payload models.EventPayload, _ models.ReactionRule) (string, error) {
	h.logger.InfoContext(ctx, "Task requested", "event", payload.Event, "project_id", payload.ProjectID)

	return fmt.Sprintf("task created for %s in project %s", payload.Event, payload.ProjectID), nil
}

func notification(payload models.EventPayload, rule models.ReactionRule, escalated bool) map[string]any {
	event := map[string]any{
		"type":     "reaction",
		"event":    string(payload.Event),
		"priority": rule.Priority,
		"details":  payload.Details,
	}

	if payload.MissionID != "" {
		event["mission_id"] = payload.MissionID
	}

	if escalated {
		event["escalated"] = true
	}

	return event
}
