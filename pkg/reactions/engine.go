// Package reactions routes mission lifecycle events to remediation actions
// under a per-session retry budget.
package reactions

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/dukex/sortie/pkg/models"
)

const (
	historyLimit       = 500
	resultSummaryLimit = 200
	defaultHistory     = 50
)

// Handler applies one remediation action. The returned text is kept as the
// history result summary.
type Handler interface {
	Handle(ctx context.Context, payload models.EventPayload, rule models.ReactionRule) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload models.EventPayload, rule models.ReactionRule) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, payload models.EventPayload, rule models.ReactionRule) (string, error) {
	return f(ctx, payload, rule)
}

// Stats summarizes the reaction history.
type Stats struct {
	TotalReactions int                           `json:"total_reactions"`
	ByEvent        map[models.ReactionEvent]int  `json:"by_event"`
	ByAction       map[models.ReactionAction]int `json:"by_action"`
	Escalated      int                           `json:"escalated"`
	ActiveRetries  int                           `json:"active_retries"`
}

// Engine matches events against the rule table. Rules, budgets, handlers
// and history share one mutex; handlers run outside of it.
type Engine struct {
	mu       sync.Mutex
	rules    map[models.ReactionEvent]models.ReactionRule
	handlers map[models.ReactionAction]Handler
	budgets  map[string]int
	history  []models.ReactionRecord
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an engine with rules, or DefaultRules when rules is empty.
func NewEngine(rules []models.ReactionRule, logger *slog.Logger) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	e := &Engine{
		rules:    make(map[models.ReactionEvent]models.ReactionRule, len(rules)),
		handlers: make(map[models.ReactionAction]Handler),
		budgets:  make(map[string]int),
		logger:   logger.With("module", "reactions"),
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, rule := range rules {
		e.rules[rule.Event] = rule
	}

	return e
}

// RegisterHandler installs the handler for an action, replacing any previous one.
func (e *Engine) RegisterHandler(action models.ReactionAction, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.handlers[action] = handler
}

func budgetKey(sessionID string, event models.ReactionEvent) string {
	return sessionID + ":" + string(event)
}

// Emit routes payload to the rule for its event. Budgeted actions whose
// budget is used up escalate instead of running again.
func (e *Engine) Emit(ctx context.Context, payload models.EventPayload) models.ReactionOutcome {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = e.now()
	}

	logger := e.logger.With("event", payload.Event, "session_id", payload.SessionID)

	e.mu.Lock()
	rule, ok := e.rules[payload.Event]

	if !ok {
		e.mu.Unlock()
		logger.DebugContext(ctx, "No rule for event")

		return models.ReactionOutcome{Reason: "no_rule"}
	}

	if !rule.Auto {
		notify := e.handlers[models.ActionNotify]
		e.mu.Unlock()

		logger.InfoContext(ctx, "Event requires manual action", "action", rule.Action)

		if notify != nil {
			if _, err := notify.Handle(ctx, payload, rule); err != nil {
				logger.WarnContext(ctx, "Manual notification failed", "error", err)
			}
		}

		return models.ReactionOutcome{Action: rule.Action, Reason: "manual_required"}
	}

	key := budgetKey(payload.SessionID, payload.Event)
	used := e.budgets[key]

	if used >= rule.Retries && rule.Action.Budgeted() {
		escalate := e.handlers[models.ActionEscalate]
		notify := e.handlers[models.ActionNotify]
		e.mu.Unlock()

		logger.WarnContext(ctx, "Retry budget exhausted, escalating", "used", used, "retries", rule.Retries)

		return e.escalate(ctx, payload, rule, escalate, notify)
	}

	handler := e.handlers[rule.Action]
	if handler == nil {
		e.mu.Unlock()
		logger.WarnContext(ctx, "No handler for action", "action", rule.Action)

		return models.ReactionOutcome{Action: rule.Action, Reason: "no_handler"}
	}

	// Reserve the attempt so concurrent emits cannot overspend the budget.
	e.budgets[key] = used + 1
	e.mu.Unlock()

	result, err := handler.Handle(ctx, payload, rule)
	if err != nil {
		e.release(key)
		logger.ErrorContext(ctx, "Reaction handler failed", "action", rule.Action, "error", err)

		return models.ReactionOutcome{Action: rule.Action, Reason: fmt.Sprintf("handler_error: %v", err)}
	}

	e.record(payload, rule.Action, result, false)

	logger.InfoContext(ctx, "Reaction applied", "action", rule.Action, "attempt", used+1, "retries", rule.Retries)

	return models.ReactionOutcome{
		Handled:     true,
		Action:      rule.Action,
		RetriesLeft: max(0, rule.Retries-used-1),
		Result:      result,
	}
}

func (e *Engine) escalate(ctx context.Context, payload models.EventPayload, rule models.ReactionRule, escalate, notify Handler) models.ReactionOutcome {
	if escalate != nil {
		result, err := escalate.Handle(ctx, payload, rule)
		if err == nil {
			e.record(payload, rule.Action, result, true)

			return models.ReactionOutcome{
				Handled:          true,
				Action:           models.ActionEscalate,
				RetriesExhausted: true,
				Escalated:        true,
				Result:           result,
			}
		}

		e.logger.ErrorContext(ctx, "Escalation handler failed", "event", payload.Event, "error", err)
	}

	if notify != nil {
		if _, err := notify.Handle(ctx, payload, rule); err != nil {
			e.logger.WarnContext(ctx, "Escalation notification failed", "event", payload.Event, "error", err)
		}
	}

	return models.ReactionOutcome{
		Action:           models.ActionEscalate,
		RetriesExhausted: true,
		Reason:           "escalation_no_handler",
	}
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.budgets[key] <= 1 {
		delete(e.budgets, key)

		return
	}

	e.budgets[key]--
}

func (e *Engine) record(payload models.EventPayload, action models.ReactionAction, result string, escalated bool) {
	if len(result) > resultSummaryLimit {
		result = result[:resultSummaryLimit]
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, models.ReactionRecord{
		Event:         payload.Event,
		Action:        action,
		ProjectID:     payload.ProjectID,
		SessionID:     payload.SessionID,
		MissionID:     payload.MissionID,
		Escalated:     escalated,
		ResultSummary: result,
		Timestamp:     e.now(),
	})

	if len(e.history) > historyLimit {
		e.history = append([]models.ReactionRecord(nil), e.history[len(e.history)-historyLimit:]...)
	}
}

// ResetRetries clears every budget held by sessionID.
func (e *Engine) ResetRetries(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prefix := budgetKey(sessionID, "")

	for key := range e.budgets {
		if strings.HasPrefix(key, prefix) {
			delete(e.budgets, key)
		}
	}
}

// UpdateRule replaces the rule for rule.Event. It returns false when no rule
// exists for that event.
func (e *Engine) UpdateRule(rule models.ReactionRule) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[rule.Event]; !ok {
		return false
	}

	e.rules[rule.Event] = rule

	return true
}

// SetRules swaps the whole rule table. Budgets are kept.
func (e *Engine) SetRules(rules []models.ReactionRule) {
	table := make(map[models.ReactionEvent]models.ReactionRule, len(rules))
	for _, rule := range rules {
		table[rule.Event] = rule
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = table
}

// Rules returns a snapshot of the rule table.
func (e *Engine) Rules() map[models.ReactionEvent]models.ReactionRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	return maps.Clone(e.rules)
}

// History returns up to limit of the newest records, oldest first,
// optionally filtered by project.
func (e *Engine) History(projectID string, limit int) []models.ReactionRecord {
	if limit <= 0 {
		limit = defaultHistory
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	items := make([]models.ReactionRecord, 0, len(e.history))
	for _, record := range e.history {
		if projectID == "" || record.ProjectID == projectID {
			items = append(items, record)
		}
	}

	if len(items) > limit {
		items = items[len(items)-limit:]
	}

	return items
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{
		TotalReactions: len(e.history),
		ByEvent:        make(map[models.ReactionEvent]int),
		ByAction:       make(map[models.ReactionAction]int),
		ActiveRetries:  len(e.budgets),
	}

	for _, record := range e.history {
		stats.ByEvent[record.Event]++
		stats.ByAction[record.Action]++

		if record.Escalated {
			stats.Escalated++
		}
	}

	return stats
}
