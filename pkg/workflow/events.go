package workflow

import (
	"time"

	"github.com/dukex/sortie/pkg/events"
	"github.com/dukex/sortie/pkg/models"
)

func missionStartedEvent(mission *models.MissionRun) events.MissionStarted {
	event := events.MissionStarted{
		BaseEvent:       events.NewBaseEvent(events.MissionStartedEvent, mission.ID),
		WorkflowID:      mission.WorkflowID,
		CheckpointIndex: mission.CheckpointIndex,
		TotalPhases:     len(mission.Phases),
	}
	event.SessionID = mission.SessionID

	return event
}

func missionCompletedEvent(missionID string, won bool, duration time.Duration) events.MissionCompleted {
	return events.MissionCompleted{
		BaseEvent: events.NewBaseEvent(events.MissionCompletedEvent, missionID),
		Won:       won,
		Duration:  duration,
	}
}

func missionGatedEvent(missionID, phaseID, summary string) events.MissionGated {
	return events.MissionGated{
		BaseEvent: events.NewBaseEvent(events.MissionGatedEvent, missionID),
		PhaseID:   phaseID,
		Summary:   summary,
	}
}

func missionFailedEvent(missionID, phaseID, reason string) events.MissionFailed {
	return events.MissionFailed{
		BaseEvent: events.NewBaseEvent(events.MissionFailedEvent, missionID),
		PhaseID:   phaseID,
		Error:     reason,
	}
}

func phaseStartedEvent(missionID string, def *models.PhaseDefinition, index, attempt int) events.PhaseStarted {
	return events.PhaseStarted{
		BaseEvent:  events.NewBaseEvent(events.PhaseStartedEvent, missionID),
		PhaseID:    def.ID,
		PhaseIndex: index,
		TopologyID: def.TopologyID,
		Attempt:    attempt,
	}
}

func phaseCompletedEvent(missionID, phaseID string, index int, status models.PhaseStatus, summary string) events.PhaseCompleted {
	return events.PhaseCompleted{
		BaseEvent:  events.NewBaseEvent(events.PhaseCompletedEvent, missionID),
		PhaseID:    phaseID,
		PhaseIndex: index,
		Status:     status,
		Summary:    summary,
	}
}

func phaseFailedEvent(missionID, phaseID string, index int, reason string, transient bool) events.PhaseFailed {
	return events.PhaseFailed{
		BaseEvent:  events.NewBaseEvent(events.PhaseFailedEvent, missionID),
		PhaseID:    phaseID,
		PhaseIndex: index,
		Error:      reason,
		Transient:  transient,
	}
}

func phaseWaitingValidationEvent(missionID, phaseID, summary string) events.PhaseWaitingValidation {
	return events.PhaseWaitingValidation{
		BaseEvent: events.NewBaseEvent(events.PhaseWaitingValidationEvent, missionID),
		PhaseID:   phaseID,
		Summary:   summary,
	}
}
