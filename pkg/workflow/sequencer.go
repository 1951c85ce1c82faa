// Package workflow runs the phases of a mission in order, persisting a
// checkpoint after every successful phase so a mission can resume where it
// stopped.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/sortie/pkg/eventbus"
	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/otelhelper"
	"github.com/dukex/sortie/pkg/persistence"
	"github.com/dukex/sortie/pkg/protocol"
	"github.com/dukex/sortie/pkg/topology"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrPhaseTimeout = errors.New("phase timed out")

const rollingSummaries = 3

// TopologyResolver looks up topology definitions by id.
type TopologyResolver interface {
	Topology(id string) (*models.TopologyDefinition, error)
}

// Interpreter executes one topology run.
type Interpreter interface {
	Execute(ctx context.Context, topo *models.TopologyDefinition, req topology.Request) (topology.Result, error)
}

// Reactor receives lifecycle events that may trigger automatic reactions.
type Reactor interface {
	Emit(ctx context.Context, payload models.EventPayload) models.ReactionOutcome
}

// Option customizes a Sequencer.
type Option func(*Sequencer)

// WithPublisher publishes lifecycle events on the bus.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(s *Sequencer) {
		s.publisher = publisher
	}
}

// WithReactor routes phase_timeout, phase_gated and mission_failed events.
func WithReactor(reactor Reactor) Option {
	return func(s *Sequencer) {
		s.reactor = reactor
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Sequencer) {
		s.tracer = tracer
	}
}

// WithSleep replaces the wait between transient retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sequencer) {
		s.sleep = sleep
	}
}

// WithJitter replaces the random jitter added to transient retry delays.
func WithJitter(jitter func() time.Duration) Option {
	return func(s *Sequencer) {
		s.jitter = jitter
	}
}

// Sequencer drives a mission through its phases.
type Sequencer struct {
	repo        persistence.MissionRepository
	topologies  TopologyResolver
	interpreter Interpreter
	sessions    protocol.SessionLog
	notifier    protocol.NotificationSink
	outcomes    protocol.OutcomeSink
	publisher   eventbus.EventPublisher
	reactor     Reactor
	tracer      trace.Tracer
	logger      *slog.Logger
	signals     *signals
	sleep       func(ctx context.Context, d time.Duration) error
	jitter      func() time.Duration
}

func NewSequencer(
	repo persistence.MissionRepository,
	topologies TopologyResolver,
	interpreter Interpreter,
	sessions protocol.SessionLog,
	notifier protocol.NotificationSink,
	outcomes protocol.OutcomeSink,
	logger *slog.Logger,
	opts ...Option,
) *Sequencer {
	s := &Sequencer{
		repo:        repo,
		topologies:  topologies,
		interpreter: interpreter,
		sessions:    sessions,
		notifier:    notifier,
		outcomes:    outcomes,
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "sequencer"),
		signals:     newSignals(),
		sleep:       sleepContext,
		jitter:      randomJitter,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run executes the mission from its checkpoint until it completes, fails or
// is gated. A cancelled ctx stops it without further checkpoint writes and
// returns ctx.Err(). Other errors are internal failures of the store.
func (s *Sequencer) Run(ctx context.Context, missionID string) (*models.MissionRun, error) {
	logger := s.logger.With("mission_id", missionID)

	mission, err := s.repo.Get(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mission: %w", err)
	}

	if mission.Status.Terminal() {
		logger.InfoContext(ctx, "Mission already finished", "status", mission.Status)

		return mission, nil
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "mission.run",
		attribute.String(otelhelper.MissionIDKey, missionID),
		attribute.String(otelhelper.WorkflowIDKey, mission.WorkflowID),
		attribute.String(otelhelper.ProjectIDKey, mission.ProjectID),
	)
	defer span.End()

	started := time.Now()

	mission, err = UpdateMission(ctx, s.repo, missionID, func(m *models.MissionRun) error {
		m.Status = models.MissionRunning
		m.Error = ""
		m.CompletedAt = nil

		for i, p := range m.Phases {
			if i < m.CheckpointIndex {
				p.Skipped = true
			} else if p.Status == models.PhaseRunning {
				p.Status = models.PhasePending
			}
		}

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to start mission: %w", err)
	}

	checkpoint := mission.CheckpointIndex
	total := len(mission.Phases)

	logger.InfoContext(ctx, "Running mission", "checkpoint_index", checkpoint, "total_phases", total)

	s.publish(ctx, missionID, missionStartedEvent(mission))

	if checkpoint > 0 {
		s.say(ctx, mission, "", fmt.Sprintf("Resuming mission from phase %d/%d", checkpoint+1, total))
	}

	summaries := priorSummaries(mission.Phases[:checkpoint])

	for i := checkpoint; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcome, err := s.runPhase(ctx, mission, i, summaries)
		if err != nil {
			if ctx.Err() == nil {
				otelhelper.SetError(span, err)
			}

			return nil, err
		}

		if outcome.summary != "" {
			summaries = appendRolling(summaries, mission.Phases[i].Name+": "+outcome.summary)
		}

		if outcome.stop != "" {
			return s.finish(ctx, missionID, outcome.stop, outcome.err, mission.Phases[i].PhaseID, started)
		}
	}

	return s.finish(ctx, missionID, models.MissionCompleted, "", "", started)
}

// Signal wakes a mission waiting on a validation decision.
func (s *Sequencer) Signal(missionID string) {
	s.signals.notify(missionID)
}

func (s *Sequencer) finish(ctx context.Context, missionID string, status models.MissionStatus, errMsg, phaseID string, started time.Time) (*models.MissionRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mission, err := UpdateMission(ctx, s.repo, missionID, func(m *models.MissionRun) error {
		now := time.Now().UTC()

		m.Status = status
		m.Error = errMsg
		m.CompletedAt = &now

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finish mission: %w", err)
	}

	won := mission.Won()

	s.logger.InfoContext(ctx, "Mission finished", "mission_id", missionID, "status", status, "won", won)
	s.say(ctx, mission, "", closingSummary(mission))

	switch status {
	case models.MissionCompleted:
		s.publish(ctx, missionID, missionCompletedEvent(missionID, won, time.Since(started)))
	case models.MissionGated:
		s.publish(ctx, missionID, missionGatedEvent(missionID, phaseID, errMsg))
		s.react(ctx, mission, models.EventPhaseGated, phaseID, map[string]any{"error": errMsg})
	case models.MissionFailed:
		s.publish(ctx, missionID, missionFailedEvent(missionID, phaseID, errMsg))
		s.react(ctx, mission, models.EventMissionFailed, phaseID, map[string]any{"error": errMsg})
	}

	s.notifier.Push(ctx, mission.SessionID, map[string]any{
		"type":       "mission_" + string(status),
		"mission_id": missionID,
		"won":        won,
	})
	s.outcomes.EmitOutcome(ctx, missionID, won)

	return mission, nil
}

func (s *Sequencer) say(ctx context.Context, mission *models.MissionRun, phaseID, content string) {
	err := s.sessions.Append(ctx, mission.SessionID, models.Message{
		SessionID: mission.SessionID,
		From:      models.Orchestrator,
		To:        "all",
		Type:      models.MessageSystem,
		Content:   content,
		PhaseID:   phaseID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to append facilitation message", "mission_id", mission.ID, "error", err)
	}
}

func (s *Sequencer) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (s *Sequencer) react(ctx context.Context, mission *models.MissionRun, event models.ReactionEvent, phaseID string, details map[string]any) {
	if s.reactor == nil {
		return
	}

	outcome := s.reactor.Emit(ctx, models.EventPayload{
		Event:     event,
		SessionID: mission.SessionID,
		MissionID: mission.ID,
		PhaseID:   phaseID,
		ProjectID: mission.ProjectID,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})

	s.logger.DebugContext(ctx, "Reaction emitted", "event", event, "handled", outcome.Handled, "action", outcome.Action)
}

func priorSummaries(phases []*models.PhaseRun) []string {
	var summaries []string

	for _, p := range phases {
		if p.Summary != "" && p.Status == models.PhaseDone {
			summaries = appendRolling(summaries, p.Name+": "+p.Summary)
		}
	}

	return summaries
}

func appendRolling(summaries []string, summary string) []string {
	summaries = append(summaries, summary)
	if len(summaries) > rollingSummaries {
		summaries = summaries[len(summaries)-rollingSummaries:]
	}

	return summaries
}

func closingSummary(mission *models.MissionRun) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Mission %s: %s", mission.Name, mission.Status)

	if mission.Error != "" {
		fmt.Fprintf(&b, " (%s)", mission.Error)
	}

	for i, p := range mission.Phases {
		fmt.Fprintf(&b, "\n%d. %s: %s", i+1, p.Name, p.Status)

		if p.Skipped {
			b.WriteString(" (resumed past)")
		}
	}

	return b.String()
}
