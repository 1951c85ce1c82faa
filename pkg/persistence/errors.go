package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrMissionNotFound indicates a mission was not found by the given identifier.
	ErrMissionNotFound = errors.New("mission not found")

	// ErrMissionAlreadyExists indicates a mission with the same identifier already exists.
	ErrMissionAlreadyExists = errors.New("mission already exists")

	// ErrVersionConflict indicates the stored mission changed since it was read.
	ErrVersionConflict = errors.New("mission version conflict")

	// ErrInvalidPhase indicates a phase or checkpoint index outside the mission's phases.
	ErrInvalidPhase = errors.New("invalid phase index")

	// ErrInvalidTransition indicates a status change that would break a mission invariant.
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrInvalidMissionID = errors.New("invalid mission id")
)

// MissionError wraps mission-related errors with additional context.
type MissionError struct {
	Op        string // Operation being performed (e.g., "Get", "Update", "SetCheckpoint")
	MissionID string
	Err       error
}

func (e *MissionError) Error() string {
	return fmt.Sprintf("%s operation failed for mission %s: %v", e.Op, e.MissionID, e.Err)
}

func (e *MissionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for mission errors.
func (e *MissionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewMissionError creates a new mission error with context.
func NewMissionError(op, missionID string, err error) *MissionError {
	return &MissionError{
		Op:        op,
		MissionID: missionID,
		Err:       err,
	}
}

func IsMissionNotFound(err error) bool {
	return errors.Is(err, ErrMissionNotFound)
}

func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrInvalidPhase)
}
