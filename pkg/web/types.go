package web

import (
	"time"

	"github.com/dukex/sortie/pkg/models"
)

// CreateMissionRequest represents the request body for creating a mission.
type CreateMissionRequest struct {
	ID         string `json:"id,omitempty"         validate:"omitempty,excludesall=/\\"`
	WorkflowID string `json:"workflow_id"          validate:"required"`
	Brief      string `json:"brief"                validate:"required,min=3"`
	ProjectID  string `json:"project_id,omitempty"`
	Workspace  string `json:"workspace,omitempty"`
	Launch     bool   `json:"launch,omitempty"`
}

// ValidateMissionRequest carries a human GO/NOGO decision.
type ValidateMissionRequest struct {
	Decision models.Decision `json:"decision" validate:"required"`
}

// EmitReactionRequest routes an external lifecycle event, e.g. a CI webhook.
type EmitReactionRequest struct {
	Event     models.ReactionEvent `json:"event"                validate:"required"`
	SessionID string               `json:"session_id"           validate:"required"`
	MissionID string               `json:"mission_id,omitempty"`
	PhaseID   string               `json:"phase_id,omitempty"`
	ProjectID string               `json:"project_id,omitempty"`
	Details   map[string]any       `json:"details,omitempty"`
}

// LaunchResponse reports whether a launch started a new execution.
type LaunchResponse struct {
	MissionID string `json:"mission_id"`
	Status    string `json:"status"`
	Launched  bool   `json:"launched"`
}

// GovernorResponse is the current admission state.
type GovernorResponse struct {
	Capacity         int           `json:"capacity"`
	Executing        int           `json:"executing"`
	Running          int           `json:"running"`
	Missions         []string      `json:"missions"`
	WatchdogInterval time.Duration `json:"watchdog_interval"`
	StartupStagger   time.Duration `json:"startup_stagger"`
	WatchdogStagger  time.Duration `json:"watchdog_stagger"`
	StartupBatch     int           `json:"startup_batch"`
}

func (r EmitReactionRequest) payload() models.EventPayload {
	return models.EventPayload{
		Event:     r.Event,
		SessionID: r.SessionID,
		MissionID: r.MissionID,
		PhaseID:   r.PhaseID,
		ProjectID: r.ProjectID,
		Details:   r.Details,
		Timestamp: time.Now().UTC(),
	}
}
