package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/otelhelper"
	"github.com/dukex/sortie/pkg/persistence"
	"github.com/dukex/sortie/pkg/protocol"
	"github.com/dukex/sortie/pkg/topology"
	"go.opentelemetry.io/otel/attribute"
)

// phaseOutcome tells the mission loop how to continue after a phase. A
// non-empty stop ends the mission with that status.
type phaseOutcome struct {
	summary string
	stop    models.MissionStatus
	err     string
}

func (s *Sequencer) runPhase(ctx context.Context, mission *models.MissionRun, index int, summaries []string) (phaseOutcome, error) {
	phase := mission.Phases[index]
	def := phase.Definition()
	logger := s.logger.With("mission_id", mission.ID, "phase_id", def.ID, "phase_index", index)

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "mission.phase",
		attribute.String(otelhelper.MissionIDKey, mission.ID),
		attribute.String(otelhelper.PhaseIDKey, def.ID),
		attribute.Int(otelhelper.PhaseIndexKey, index),
		attribute.String(otelhelper.TopologyIDKey, def.TopologyID),
	)
	defer span.End()

	if phase.Status == models.PhaseWaitingValidation {
		logger.InfoContext(ctx, "Phase resumed while waiting for validation")

		return s.validate(ctx, mission, index, def, topology.Result{Success: true, Summary: phase.Summary})
	}

	topo, err := s.topologies.Topology(def.TopologyID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to resolve topology", "topology_id", def.TopologyID, "error", err)

		return s.onException(ctx, mission, index, def, protocol.NewFatalError(err), false)
	}

	bound := topology.Bind(topo, def.Participants)
	span.SetAttributes(attribute.String(otelhelper.TopologyTypeKey, string(bound.Type)))

	s.say(ctx, mission, def.ID, facilitation(mission, index, bound, summaries))

	retries := max(def.RetryCount, DefaultTransientRetries)

	policy := backoff.WithMaxRetries(newPhaseBackOff(s.jitter), uint64(retries))
	request := topology.Request{
		SessionID: mission.SessionID,
		MissionID: mission.ID,
		PhaseID:   def.ID,
		ProjectID: mission.ProjectID,
		Workspace: mission.Workspace,
		Task:      mission.Brief,
		Context:   summaries,
	}

	for attempt := 1; ; attempt++ {
		noDecision := models.Decision("")

		_, err := s.repo.SetPhaseStatus(ctx, mission.ID, index, persistence.PhaseUpdate{
			Status:           models.PhaseRunning,
			Error:            persistence.StringPtr(""),
			Attempts:         &attempt,
			Decision:         &noDecision,
			ParticipantCount: len(bound.Nodes),
		})
		if err != nil {
			return phaseOutcome{}, fmt.Errorf("failed to start phase %s: %w", def.ID, err)
		}

		s.publish(ctx, mission.ID, phaseStartedEvent(mission.ID, def, index, attempt))
		logger.InfoContext(ctx, "Running phase", "attempt", attempt, "topology", bound.Type, "participants", len(bound.Nodes))

		result, timedOut, err := s.execute(ctx, bound, def, request)
		if err == nil {
			otelhelper.SetOutcome(span, "executed", result.Success)

			return s.onResult(ctx, mission, index, def, result)
		}

		if ctx.Err() != nil {
			return phaseOutcome{}, ctx.Err()
		}

		if protocol.IsTransient(err) {
			delay := policy.NextBackOff()
			if delay != backoff.Stop {
				logger.WarnContext(ctx, "Transient phase error, retrying", "attempt", attempt, "delay", delay, "error", err)
				s.publish(ctx, mission.ID, phaseFailedEvent(mission.ID, def.ID, index, err.Error(), true))
				s.say(ctx, mission, def.ID, fmt.Sprintf("Phase %s hit a transient error, retry %d/%d in %s", def.Name, attempt, retries, delay.Round(time.Second)))

				if err := s.sleep(ctx, delay); err != nil {
					return phaseOutcome{}, err
				}

				continue
			}

			err = fmt.Errorf("transient retries exhausted after %d attempts: %w", attempt, err)
		}

		otelhelper.SetError(span, err)

		return s.onException(ctx, mission, index, def, err, timedOut)
	}
}

// execute runs the topology under the phase timeout, if any.
func (s *Sequencer) execute(ctx context.Context, topo *models.TopologyDefinition, def *models.PhaseDefinition, req topology.Request) (topology.Result, bool, error) {
	runCtx := ctx

	if def.Timeout > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	result, err := s.interpreter.Execute(runCtx, topo, req)
	if err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return topology.Result{}, true, protocol.NewFatalError(fmt.Errorf("%w after %s", ErrPhaseTimeout, def.Timeout))
	}

	return result, false, err
}

func (s *Sequencer) onResult(ctx context.Context, mission *models.MissionRun, index int, def *models.PhaseDefinition, result topology.Result) (phaseOutcome, error) {
	if result.Success && result.NeedsValidation {
		return s.validate(ctx, mission, index, def, result)
	}

	if result.Success {
		return s.succeed(ctx, mission, index, def, result.Summary)
	}

	return s.fail(ctx, mission, index, def, result.Summary, result.Error)
}

// succeed marks the phase done and persists the checkpoint before notifying.
func (s *Sequencer) succeed(ctx context.Context, mission *models.MissionRun, index int, def *models.PhaseDefinition, summary string) (phaseOutcome, error) {
	if err := ctx.Err(); err != nil {
		return phaseOutcome{}, err
	}

	_, err := s.repo.SetPhaseStatus(ctx, mission.ID, index, persistence.PhaseUpdate{
		Status:  models.PhaseDone,
		Summary: &summary,
		Error:   persistence.StringPtr(""),
	})
	if err != nil {
		return phaseOutcome{}, fmt.Errorf("failed to complete phase %s: %w", def.ID, err)
	}

	if err := s.advance(ctx, mission, index, def); err != nil {
		return phaseOutcome{}, err
	}

	s.logger.InfoContext(ctx, "Phase done", "mission_id", mission.ID, "phase_id", def.ID, "checkpoint_index", index+1)
	s.completed(ctx, mission, index, def, models.PhaseDone, summary)

	return phaseOutcome{summary: summary}, nil
}

// fail applies the gate policy to a topology-level failure.
func (s *Sequencer) fail(ctx context.Context, mission *models.MissionRun, index int, def *models.PhaseDefinition, summary, reason string) (phaseOutcome, error) {
	if err := ctx.Err(); err != nil {
		return phaseOutcome{}, err
	}

	if reason == "" {
		reason = "phase did not succeed"
	}

	gate := def.EffectiveGate()

	status := models.PhaseFailed
	if gate == models.GateNoVeto {
		status = models.PhaseDoneWithIssues
	}

	_, err := s.repo.SetPhaseStatus(ctx, mission.ID, index, persistence.PhaseUpdate{
		Status:  status,
		Summary: &summary,
		Error:   &reason,
	})
	if err != nil {
		return phaseOutcome{}, fmt.Errorf("failed to record phase %s failure: %w", def.ID, err)
	}

	s.logger.WarnContext(ctx, "Phase failed", "mission_id", mission.ID, "phase_id", def.ID, "gate", gate, "reason", reason)

	if gate == models.GateAllApproved {
		s.say(ctx, mission, def.ID, fmt.Sprintf("Phase %s gated the mission: %s", def.Name, reason))

		return phaseOutcome{stop: models.MissionGated, err: reason}, nil
	}

	if err := s.advance(ctx, mission, index, def); err != nil {
		return phaseOutcome{}, err
	}

	s.completed(ctx, mission, index, def, status, summary)

	return phaseOutcome{}, nil
}

// onException handles errors the topology could not absorb. Under the
// always gate the phase fails and the mission moves on.
func (s *Sequencer) onException(ctx context.Context, mission *models.MissionRun, index int, def *models.PhaseDefinition, cause error, timedOut bool) (phaseOutcome, error) {
	if err := ctx.Err(); err != nil {
		return phaseOutcome{}, err
	}

	reason := cause.Error()

	_, err := s.repo.SetPhaseStatus(ctx, mission.ID, index, persistence.PhaseUpdate{
		Status: models.PhaseFailed,
		Error:  &reason,
	})
	if err != nil {
		return phaseOutcome{}, fmt.Errorf("failed to record phase %s error: %w", def.ID, err)
	}

	s.logger.ErrorContext(ctx, "Phase error", "mission_id", mission.ID, "phase_id", def.ID, "timed_out", timedOut, "error", cause)
	s.publish(ctx, mission.ID, phaseFailedEvent(mission.ID, def.ID, index, reason, false))

	if timedOut {
		s.react(ctx, mission, models.EventPhaseTimeout, def.ID, map[string]any{"timeout": def.Timeout.String()})
	}

	if def.EffectiveGate() == models.GateAlways {
		if err := s.advance(ctx, mission, index, def); err != nil {
			return phaseOutcome{}, err
		}

		s.say(ctx, mission, def.ID, fmt.Sprintf("Phase %s failed, continuing: %s", def.Name, reason))
		s.notifier.Push(ctx, mission.SessionID, map[string]any{
			"type":       "phase_failed",
			"mission_id": mission.ID,
			"phase_id":   def.ID,
			"error":      reason,
		})

		return phaseOutcome{}, nil
	}

	s.say(ctx, mission, def.ID, fmt.Sprintf("Phase %s failed, stopping mission: %s", def.Name, reason))

	return phaseOutcome{stop: models.MissionFailed, err: reason}, nil
}

// advance moves the checkpoint past a phase the mission will not run again.
func (s *Sequencer) advance(ctx context.Context, mission *models.MissionRun, index int, def *models.PhaseDefinition) error {
	if _, err := s.repo.SetCheckpoint(ctx, mission.ID, index+1); err != nil {
		return fmt.Errorf("failed to checkpoint phase %s: %w", def.ID, err)
	}

	return nil
}

// validate parks the phase until a human GO or NOGO decision is recorded.
func (s *Sequencer) validate(ctx context.Context, mission *models.MissionRun, index int, def *models.PhaseDefinition, result topology.Result) (phaseOutcome, error) {
	wait := s.signals.register(mission.ID)
	defer s.signals.unregister(mission.ID, wait)

	current, err := s.repo.Get(ctx, mission.ID)
	if err != nil {
		return phaseOutcome{}, fmt.Errorf("failed to load mission: %w", err)
	}

	if current.Phases[index].Status != models.PhaseWaitingValidation {
		_, err := s.repo.SetPhaseStatus(ctx, mission.ID, index, persistence.PhaseUpdate{
			Status:  models.PhaseWaitingValidation,
			Summary: &result.Summary,
		})
		if err != nil {
			return phaseOutcome{}, fmt.Errorf("failed to park phase %s: %w", def.ID, err)
		}

		s.publish(ctx, mission.ID, phaseWaitingValidationEvent(mission.ID, def.ID, result.Summary))
		s.notifier.Push(ctx, mission.SessionID, map[string]any{
			"type":       "validation_required",
			"mission_id": mission.ID,
			"phase_id":   def.ID,
			"summary":    result.Summary,
		})
		s.say(ctx, mission, def.ID, fmt.Sprintf("Phase %s is waiting for validation (GO/NOGO)", def.Name))
	}

	for {
		current, err := s.repo.Get(ctx, mission.ID)
		if err != nil {
			return phaseOutcome{}, fmt.Errorf("failed to load mission: %w", err)
		}

		switch current.Phases[index].Decision {
		case models.DecisionGo:
			return s.succeed(ctx, mission, index, def, result.Summary)
		case models.DecisionNoGo:
			return s.fail(ctx, mission, index, def, result.Summary, "rejected at validation (NOGO)")
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return phaseOutcome{}, ctx.Err()
		}
	}
}

func (s *Sequencer) completed(ctx context.Context, mission *models.MissionRun, index int, def *models.PhaseDefinition, status models.PhaseStatus, summary string) {
	s.publish(ctx, mission.ID, phaseCompletedEvent(mission.ID, def.ID, index, status, summary))
	s.notifier.Push(ctx, mission.SessionID, map[string]any{
		"type":       "phase_" + string(status),
		"mission_id": mission.ID,
		"phase_id":   def.ID,
		"summary":    summary,
	})
}

func facilitation(mission *models.MissionRun, index int, topo *models.TopologyDefinition, summaries []string) string {
	var b strings.Builder

	phase := mission.Phases[index]
	agents := make([]string, 0, len(topo.Nodes))

	for _, n := range topo.Nodes {
		agents = append(agents, n.Agent)
	}

	fmt.Fprintf(&b, "Phase %d/%d: %s (%s)\nParticipants: %s",
		index+1, len(mission.Phases), phase.Name, topo.Type, strings.Join(agents, ", "))

	if len(summaries) > 0 {
		b.WriteString("\nPrevious phases:")

		for _, summary := range summaries {
			b.WriteString("\n- ")
			b.WriteString(summary)
		}
	}

	return b.String()
}
