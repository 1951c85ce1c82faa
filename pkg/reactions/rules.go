package reactions

import (
	"errors"
	"fmt"
	"os"

	"github.com/dukex/sortie/pkg/models"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalidRules = errors.New("invalid reaction rules")

const (
	defaultRetries          = 2
	defaultEscalateAfterSec = 1800
	defaultPriority         = "normal"
)

// NewRule returns a rule with the default budget, escalation delay and priority.
func NewRule(event models.ReactionEvent, action models.ReactionAction) models.ReactionRule {
	return models.ReactionRule{
		Event:            event,
		Action:           action,
		Auto:             true,
		Retries:          defaultRetries,
		EscalateAfterSec: defaultEscalateAfterSec,
		Priority:         defaultPriority,
	}
}

func withRule(rule models.ReactionRule, fn func(*models.ReactionRule)) models.ReactionRule {
	fn(&rule)

	return rule
}

// DefaultRules is the rule table used when no rules file is configured.
func DefaultRules() []models.ReactionRule {
	return []models.ReactionRule{
		withRule(NewRule(models.EventCIFailed, models.ActionSendToAgent), func(r *models.ReactionRule) {
			r.Priority = "warning"
		}),
		withRule(NewRule(models.EventChangesRequested, models.ActionSendToAgent), func(r *models.ReactionRule) {
			r.Priority = "action"
		}),
		withRule(NewRule(models.EventApprovedAndGreen, models.ActionNotify), func(r *models.ReactionRule) {
			r.Auto = false
			r.Priority = "action"
		}),
		withRule(NewRule(models.EventDeployFailed, models.ActionRollback), func(r *models.ReactionRule) {
			r.Retries = 1
			r.Priority = "urgent"
		}),
		withRule(NewRule(models.EventDeploySuccess, models.ActionNotify), func(r *models.ReactionRule) {
			r.Priority = "info"
		}),
		withRule(NewRule(models.EventAgentStuck, models.ActionEscalate), func(r *models.ReactionRule) {
			r.EscalateAfterSec = 600
			r.Priority = "urgent"
		}),
		withRule(NewRule(models.EventPhaseTimeout, models.ActionRetry), func(r *models.ReactionRule) {
			r.Retries = 1
			r.Priority = "warning"
		}),
		withRule(NewRule(models.EventIncident, models.ActionCreateTask), func(r *models.ReactionRule) {
			r.Priority = "action"
		}),
		withRule(NewRule(models.EventMissionFailed, models.ActionNotify), func(r *models.ReactionRule) {
			r.Priority = "urgent"
		}),
		withRule(NewRule(models.EventPhaseGated, models.ActionEscalate), func(r *models.ReactionRule) {
			r.Priority = "action"
		}),
	}
}

// ruleDoc distinguishes omitted fields from explicit zero values.
type ruleDoc struct {
	Event            models.ReactionEvent  `yaml:"event"`
	Action           models.ReactionAction `yaml:"action"`
	Auto             *bool                 `yaml:"auto"`
	Retries          *int                  `yaml:"retries"`
	EscalateAfterSec *int                  `yaml:"escalate_after_sec"`
	Priority         string                `yaml:"priority"`
	Config           map[string]any        `yaml:"config"`
}

func (d ruleDoc) rule() models.ReactionRule {
	rule := NewRule(d.Event, d.Action)
	rule.Config = d.Config

	if d.Auto != nil {
		rule.Auto = *d.Auto
	}

	if d.Retries != nil {
		rule.Retries = *d.Retries
	}

	if d.EscalateAfterSec != nil {
		rule.EscalateAfterSec = *d.EscalateAfterSec
	}

	if d.Priority != "" {
		rule.Priority = d.Priority
	}

	return rule
}

type rulesFile struct {
	Rules []ruleDoc `yaml:"rules"`
}

// ParseRules decodes and validates a YAML rules document. Omitted fields
// take the defaults of NewRule.
func ParseRules(data []byte) ([]models.ReactionRule, error) {
	var doc rulesFile

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}

	validate := validator.New()
	rules := make([]models.ReactionRule, 0, len(doc.Rules))
	seen := make(map[models.ReactionEvent]bool, len(doc.Rules))

	for _, d := range doc.Rules {
		rule := d.rule()

		if err := validate.Struct(rule); err != nil {
			return nil, fmt.Errorf("%w: rule %s: %w", ErrInvalidRules, rule.Event, err)
		}

		if seen[rule.Event] {
			return nil, fmt.Errorf("%w: duplicate rule for event %s", ErrInvalidRules, rule.Event)
		}

		seen[rule.Event] = true
		rules = append(rules, rule)
	}

	return rules, nil
}

// LoadRules reads a YAML rules file.
func LoadRules(path string) ([]models.ReactionRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	return ParseRules(data)
}
