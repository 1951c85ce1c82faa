// Package events defines event types and structures for mission lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/sortie/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "sortie.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Mission lifecycle events.
	MissionStartedEvent   EventType = "mission.started"
	MissionCompletedEvent EventType = "mission.completed"
	MissionFailedEvent    EventType = "mission.failed"
	MissionGatedEvent     EventType = "mission.gated"
	MissionOutcomeEvent   EventType = "mission.outcome"

	// Phase lifecycle events.
	PhaseStartedEvent           EventType = "phase.started"
	PhaseCompletedEvent         EventType = "phase.completed"
	PhaseFailedEvent            EventType = "phase.failed"
	PhaseWaitingValidationEvent EventType = "phase.waiting_validation"

	NotificationEvent      EventType = "notification"
	ReactionRequestedEvent EventType = "reaction.requested"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	MissionID string         `json:"mission_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, missionID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		MissionID: missionID,
	}
}

type MissionStarted struct {
	BaseEvent

	WorkflowID      string `json:"workflow_id"`
	CheckpointIndex int    `json:"checkpoint_index"`
	TotalPhases     int    `json:"total_phases"`
}

func (e MissionStarted) GetType() EventType {
	return MissionStartedEvent
}

type MissionCompleted struct {
	BaseEvent

	Won      bool          `json:"won"`
	Duration time.Duration `json:"duration"`
}

func (e MissionCompleted) GetType() EventType {
	return MissionCompletedEvent
}

type MissionFailed struct {
	BaseEvent

	PhaseID string `json:"phase_id,omitempty"`
	Error   string `json:"error"`
}

func (e MissionFailed) GetType() EventType {
	return MissionFailedEvent
}

type MissionGated struct {
	BaseEvent

	PhaseID string `json:"phase_id"`
	Summary string `json:"summary,omitempty"`
}

func (e MissionGated) GetType() EventType {
	return MissionGatedEvent
}

// MissionOutcome is the win/loss signal consumed by external fitness systems.
type MissionOutcome struct {
	BaseEvent

	Won bool `json:"won"`
}

func (e MissionOutcome) GetType() EventType {
	return MissionOutcomeEvent
}

type PhaseStarted struct {
	BaseEvent

	PhaseID    string `json:"phase_id"`
	PhaseIndex int    `json:"phase_index"`
	TopologyID string `json:"topology_id"`
	Attempt    int    `json:"attempt"`
}

func (e PhaseStarted) GetType() EventType {
	return PhaseStartedEvent
}

type PhaseCompleted struct {
	BaseEvent

	PhaseID    string             `json:"phase_id"`
	PhaseIndex int                `json:"phase_index"`
	Status     models.PhaseStatus `json:"status"`
	Summary    string             `json:"summary,omitempty"`
}

func (e PhaseCompleted) GetType() EventType {
	return PhaseCompletedEvent
}

type PhaseFailed struct {
	BaseEvent

	PhaseID    string `json:"phase_id"`
	PhaseIndex int    `json:"phase_index"`
	Error      string `json:"error"`
	Transient  bool   `json:"transient"`
}

func (e PhaseFailed) GetType() EventType {
	return PhaseFailedEvent
}

type PhaseWaitingValidation struct {
	BaseEvent

	PhaseID string `json:"phase_id"`
	Summary string `json:"summary,omitempty"`
}

func (e PhaseWaitingValidation) GetType() EventType {
	return PhaseWaitingValidationEvent
}

// Notification carries a UI notification pushed through the bus.
type Notification struct {
	BaseEvent

	Payload map[string]any `json:"payload"`
}

func (e Notification) GetType() EventType {
	return NotificationEvent
}

// ReactionRequested lets external systems feed lifecycle events into the reaction engine.
type ReactionRequested struct {
	BaseEvent

	Payload models.EventPayload `json:"payload"`
}

func (e ReactionRequested) GetType() EventType {
	return ReactionRequestedEvent
}
