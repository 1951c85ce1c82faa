package persistence

import (
	"fmt"
	"time"

	"github.com/dukex/sortie/pkg/models"
)

// PhaseUpdate describes a status transition of a single phase. Zero-valued
// optional fields leave the stored value untouched.
type PhaseUpdate struct {
	Status   models.PhaseStatus
	Summary  *string
	Error    *string
	Attempts *int
	Decision *models.Decision

	ParticipantCount int
}

// ApplyPhaseUpdate mutates mission in place. It is shared by every store
// implementation so the transition rules stay identical.
func ApplyPhaseUpdate(mission *models.MissionRun, index int, update PhaseUpdate) error {
	if index < 0 || index >= len(mission.Phases) {
		return fmt.Errorf("%w: phase index %d out of range", ErrInvalidPhase, index)
	}

	if update.Status == models.PhaseRunning {
		if running := mission.Running(); running >= 0 && running != index {
			return fmt.Errorf("%w: phase %d is already running", ErrInvalidTransition, running)
		}
	}

	phase := mission.Phases[index]
	now := time.Now().UTC()

	if update.Status != "" {
		phase.Status = update.Status

		switch {
		case update.Status == models.PhaseRunning:
			phase.StartedAt = &now
			phase.CompletedAt = nil
		case update.Status.Finished():
			phase.CompletedAt = &now
		case update.Status == models.PhasePending:
			phase.StartedAt = nil
			phase.CompletedAt = nil
		}
	}

	if update.Summary != nil {
		phase.Summary = *update.Summary
	}

	if update.Error != nil {
		phase.Error = *update.Error
	}

	if update.Attempts != nil {
		phase.Attempts = *update.Attempts
	}

	if update.Decision != nil {
		phase.Decision = *update.Decision
	}

	if update.ParticipantCount > 0 {
		phase.ParticipantCount = update.ParticipantCount
	}

	mission.CurrentPhaseIndex = max(mission.CurrentPhaseIndex, index)

	return nil
}

// ApplyCheckpoint raises the checkpoint monotonically.
func ApplyCheckpoint(mission *models.MissionRun, index int) error {
	if index < 0 || index > len(mission.Phases) {
		return fmt.Errorf("%w: checkpoint %d out of range", ErrInvalidPhase, index)
	}

	if index > mission.CheckpointIndex {
		mission.CheckpointIndex = index
	}

	mission.CurrentPhaseIndex = max(mission.CurrentPhaseIndex, mission.CheckpointIndex)

	return nil
}

// StringPtr is a helper for building PhaseUpdate values.
func StringPtr(s string) *string {
	return &s
}
