package models

import "time"

type MissionStatus string

const (
	MissionPending   MissionStatus = "pending"
	MissionRunning   MissionStatus = "running"
	MissionPaused    MissionStatus = "paused"
	MissionGated     MissionStatus = "gated"
	MissionFailed    MissionStatus = "failed"
	MissionCompleted MissionStatus = "completed"
)

// Terminal reports whether no further phases run without an explicit reset.
func (s MissionStatus) Terminal() bool {
	return s == MissionGated || s == MissionFailed || s == MissionCompleted
}

type PhaseStatus string

const (
	PhasePending           PhaseStatus = "pending"
	PhaseRunning           PhaseStatus = "running"
	PhaseWaitingValidation PhaseStatus = "waiting_validation"
	PhaseDone              PhaseStatus = "done"
	PhaseDoneWithIssues    PhaseStatus = "done_with_issues"
	PhaseFailed            PhaseStatus = "failed"
)

// Finished reports whether the phase reached a terminal status.
func (s PhaseStatus) Finished() bool {
	return s == PhaseDone || s == PhaseDoneWithIssues || s == PhaseFailed
}

// Decision is a human validation verdict for a phase waiting on validation.
type Decision string

const (
	DecisionGo   Decision = "GO"
	DecisionNoGo Decision = "NOGO"
)

// MissionRun is one execution of a workflow snapshot.
type MissionRun struct {
	ID                string        `json:"id"`
	WorkflowID        string        `json:"workflow_id"`
	Name              string        `json:"name"`
	Brief             string        `json:"brief"`
	ProjectID         string        `json:"project_id,omitempty"`
	Status            MissionStatus `json:"status"`
	Phases            []*PhaseRun   `json:"phases"`
	CurrentPhaseIndex int           `json:"current_phase_index"`
	CheckpointIndex   int           `json:"checkpoint_index"`
	SessionID         string        `json:"session_id"`
	Workspace         string        `json:"workspace,omitempty"`
	Error             string        `json:"error,omitempty"`
	Version           int64         `json:"version"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
}

// PhaseRun is the persisted state of one phase of a mission.
type PhaseRun struct {
	PhaseID          string        `json:"phase_id"`
	Name             string        `json:"name"`
	TopologyID       string        `json:"topology_id"`
	Gate             GatePolicy    `json:"gate"`
	RetryCount       int           `json:"retry_count,omitempty"`
	SkipOnFailure    bool          `json:"skip_on_failure,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty"`
	Participants     []string      `json:"participants,omitempty"`
	Status           PhaseStatus   `json:"status"`
	Skipped          bool          `json:"skipped"`
	Attempts         int           `json:"attempts"`
	ParticipantCount int           `json:"participant_count"`
	Summary          string        `json:"summary,omitempty"`
	Error            string        `json:"error,omitempty"`
	Decision         Decision      `json:"decision,omitempty"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// Definition rebuilds the phase definition captured when the mission was created.
func (p *PhaseRun) Definition() *PhaseDefinition {
	return &PhaseDefinition{
		ID:            p.PhaseID,
		TopologyID:    p.TopologyID,
		Name:          p.Name,
		Gate:          p.Gate,
		RetryCount:    p.RetryCount,
		SkipOnFailure: p.SkipOnFailure,
		Timeout:       p.Timeout,
		Participants:  append([]string(nil), p.Participants...),
	}
}

// NewMissionRun snapshots the phases of a workflow into a pending mission.
func NewMissionRun(id string, workflow *WorkflowDefinition, brief string) *MissionRun {
	now := time.Now().UTC()

	phases := make([]*PhaseRun, 0, len(workflow.Phases))
	for _, def := range workflow.Phases {
		phases = append(phases, &PhaseRun{
			PhaseID:       def.ID,
			Name:          def.Name,
			TopologyID:    def.TopologyID,
			Gate:          def.Gate,
			RetryCount:    def.RetryCount,
			SkipOnFailure: def.SkipOnFailure,
			Timeout:       def.Timeout,
			Participants:  append([]string(nil), def.Participants...),
			Status:        PhasePending,
		})
	}

	return &MissionRun{
		ID:         id,
		WorkflowID: workflow.ID,
		Name:       workflow.Name,
		Brief:      brief,
		Status:     MissionPending,
		Phases:     phases,
		SessionID:  id,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy of the mission.
func (m *MissionRun) Clone() *MissionRun {
	clone := *m

	clone.Phases = make([]*PhaseRun, 0, len(m.Phases))
	for _, p := range m.Phases {
		phase := *p
		phase.Participants = append([]string(nil), p.Participants...)
		clone.Phases = append(clone.Phases, &phase)
	}

	return &clone
}

// Won reports whether every phase finished cleanly.
func (m *MissionRun) Won() bool {
	if m.Status != MissionCompleted {
		return false
	}

	for _, p := range m.Phases {
		if p.Status != PhaseDone {
			return false
		}
	}

	return true
}

// Running returns the index of the running phase, or -1.
func (m *MissionRun) Running() int {
	for i, p := range m.Phases {
		if p.Status == PhaseRunning {
			return i
		}
	}

	return -1
}
