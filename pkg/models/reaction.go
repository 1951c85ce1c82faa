package models

import "time"

// ReactionEvent is a lifecycle event that can trigger a remediation action.
type ReactionEvent string

const (
	EventCIFailed         ReactionEvent = "ci_failed"
	EventChangesRequested ReactionEvent = "changes_requested"
	EventApprovedAndGreen ReactionEvent = "approved_and_green"
	EventDeployFailed     ReactionEvent = "deploy_failed"
	EventDeploySuccess    ReactionEvent = "deploy_success"
	EventAgentStuck       ReactionEvent = "agent_stuck"
	EventPhaseTimeout     ReactionEvent = "phase_timeout"
	EventIncident         ReactionEvent = "tma_incident"
	EventMissionFailed    ReactionEvent = "mission_failed"
	EventPhaseGated       ReactionEvent = "phase_gated"
)

// ReactionAction is the remediation applied when a rule fires.
type ReactionAction string

const (
	ActionRetry       ReactionAction = "retry"
	ActionSendToAgent ReactionAction = "send_to_agent"
	ActionNotify      ReactionAction = "notify"
	ActionEscalate    ReactionAction = "escalate"
	ActionRollback    ReactionAction = "rollback"
	ActionCreateTask  ReactionAction = "create_task"
)

// Budgeted reports whether the action consumes the per-session retry budget
// and escalates once it is exhausted.
func (a ReactionAction) Budgeted() bool {
	return a == ActionRetry || a == ActionSendToAgent
}

// ReactionRule maps one event type to an action.
type ReactionRule struct {
	Event            ReactionEvent  `json:"event"              validate:"required"                                                        yaml:"event"`
	Action           ReactionAction `json:"action"             validate:"required,oneof=retry send_to_agent notify escalate rollback create_task" yaml:"action"`
	Auto             bool           `json:"auto"               yaml:"auto"`
	Retries          int            `json:"retries"            validate:"gte=0"                                                           yaml:"retries"`
	EscalateAfterSec int            `json:"escalate_after_sec" validate:"gte=0"                                                           yaml:"escalate_after_sec"`
	Priority         string         `json:"priority"           validate:"omitempty,oneof=info normal warning action urgent"               yaml:"priority"`
	Config           map[string]any `json:"config,omitempty"   yaml:"config"`
}

// EventPayload is a routed lifecycle event. It is never persisted.
type EventPayload struct {
	Event     ReactionEvent  `json:"event"      validate:"required"`
	SessionID string         `json:"session_id" validate:"required"`
	MissionID string         `json:"mission_id,omitempty"`
	PhaseID   string         `json:"phase_id,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ReactionOutcome reports what the reaction engine did with an event.
type ReactionOutcome struct {
	Handled          bool           `json:"handled"`
	Action           ReactionAction `json:"action,omitempty"`
	RetriesLeft      int            `json:"retries_left"`
	RetriesExhausted bool           `json:"retries_exhausted,omitempty"`
	Escalated        bool           `json:"escalated,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	Result           string         `json:"result,omitempty"`
}

// ReactionRecord is one entry of the reaction history.
type ReactionRecord struct {
	Event         ReactionEvent  `json:"event"`
	Action        ReactionAction `json:"action"`
	ProjectID     string         `json:"project_id,omitempty"`
	SessionID     string         `json:"session_id"`
	MissionID     string         `json:"mission_id,omitempty"`
	Escalated     bool           `json:"escalated"`
	ResultSummary string         `json:"result_summary"`
	Timestamp     time.Time      `json:"timestamp"`
}
