// Package models defines the core domain models for mission orchestration.
package models

import "time"

// GatePolicy decides how a phase failure affects the rest of the mission.
type GatePolicy string

const (
	GateAlways      GatePolicy = "always"       // Failure is recorded, sequencing continues
	GateNoVeto      GatePolicy = "no_veto"      // Failure completes the phase with issues
	GateAllApproved GatePolicy = "all_approved" // Failure gates the whole mission
)

// Valid reports whether the policy is one of the known gate policies.
func (g GatePolicy) Valid() bool {
	switch g {
	case GateAlways, GateNoVeto, GateAllApproved:
		return true
	default:
		return false
	}
}

// WorkflowDefinition is an ordered list of phases executed by a mission.
type WorkflowDefinition struct {
	ID          string             `json:"id"                    validate:"required"        yaml:"id"`
	Name        string             `json:"name"                  validate:"required,min=3"  yaml:"name"`
	Description string             `json:"description,omitempty" yaml:"description"`
	Phases      []*PhaseDefinition `json:"phases"                validate:"required,min=1,dive,required" yaml:"phases"`
	Config      map[string]any     `json:"config,omitempty"      yaml:"config"`
	CreatedAt   time.Time          `json:"created_at"            yaml:"-"`
}

// PhaseDefinition binds one step of a workflow to a topology and its participants.
type PhaseDefinition struct {
	ID            string        `json:"id"                        validate:"required"                                 yaml:"id"`
	TopologyID    string        `json:"topology_id"               validate:"required"                                 yaml:"topology_id"`
	Name          string        `json:"name"                      validate:"required"                                 yaml:"name"`
	Description   string        `json:"description,omitempty"     yaml:"description"`
	Gate          GatePolicy    `json:"gate"                      validate:"required,oneof=always no_veto all_approved" yaml:"gate"`
	RetryCount    int           `json:"retry_count,omitempty"     validate:"gte=0,lte=10"                              yaml:"retry_count"`
	SkipOnFailure bool          `json:"skip_on_failure,omitempty" yaml:"skip_on_failure"`
	Timeout       time.Duration `json:"timeout,omitempty"         validate:"gte=0"                                    yaml:"timeout"`
	Participants  []string      `json:"participants,omitempty"    yaml:"participants"`
}

// EffectiveGate returns the policy applied on failure, taking skip_on_failure into account.
func (p *PhaseDefinition) EffectiveGate() GatePolicy {
	if p.SkipOnFailure {
		return GateAlways
	}

	if p.Gate == "" {
		return GateAlways
	}

	return p.Gate
}
