// Package protocol defines the contracts between the orchestration core and its collaborators.
package protocol

import (
	"context"

	"github.com/dukex/sortie/pkg/models"
)

type AgentEventKind string

const (
	AgentEventDelta    AgentEventKind = "delta"
	AgentEventToolCall AgentEventKind = "tool_call"
	AgentEventResult   AgentEventKind = "result"
)

// AgentEvent is one item of an agent's streamed output. A result event is terminal.
type AgentEvent struct {
	Kind  AgentEventKind `json:"type"`
	Text  string         `json:"text,omitempty"`
	Name  string         `json:"name,omitempty"`
	Args  map[string]any `json:"args,omitempty"`
	Error *AgentError    `json:"error,omitempty"`
}

// ExecContext carries what an agent needs to know about where it is running.
type ExecContext struct {
	SessionID string `json:"session_id"`
	MissionID string `json:"mission_id,omitempty"`
	PhaseID   string `json:"phase_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Workspace string `json:"workspace,omitempty"`
	NodeID    string `json:"node_id,omitempty"`
	Role      string `json:"role,omitempty"`
}

// AgentExecutor runs one agent turn. The returned channel is closed after the
// terminal result event or when ctx is cancelled.
type AgentExecutor interface {
	Run(ctx context.Context, participant string, execCtx ExecContext, prompt string) (<-chan AgentEvent, error)
}

// SessionLog is the append-only conversation attached to a mission.
type SessionLog interface {
	Append(ctx context.Context, sessionID string, msg models.Message) error
	Recent(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
}

// NotificationSink receives fire-and-forget UI notifications.
type NotificationSink interface {
	Push(ctx context.Context, sessionID string, event map[string]any)
}

// OutcomeSink receives the final win/loss signal of a mission.
type OutcomeSink interface {
	EmitOutcome(ctx context.Context, missionID string, won bool)
}
