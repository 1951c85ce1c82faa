// Package missions owns the registry of executing missions and the control
// operations on them: create, launch, pause, reset and validate.
package missions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/sortie/pkg/governor"
	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/persistence"
	"github.com/dukex/sortie/pkg/protocol"
	"github.com/dukex/sortie/pkg/workflow"
	"github.com/google/uuid"
)

var (
	ErrWorkflowNotFound     = errors.New("workflow not found")
	ErrMissionFinished      = errors.New("mission already finished")
	ErrNotWaitingValidation = errors.New("mission has no phase waiting for validation")
	ErrInvalidDecision      = errors.New("invalid validation decision")
	ErrManagerShuttingDown  = errors.New("mission manager is shutting down")
)

const resetMarker = "Mission reset, ready for a new run."

// WorkflowResolver looks up workflow definitions by id.
type WorkflowResolver interface {
	Workflow(id string) (*models.WorkflowDefinition, error)
}

// Runner executes a mission until it stops.
type Runner interface {
	Run(ctx context.Context, missionID string) (*models.MissionRun, error)
	Signal(missionID string)
}

// Reactor routes lifecycle events and owns the per-session retry budgets.
type Reactor interface {
	Emit(ctx context.Context, payload models.EventPayload) models.ReactionOutcome
	ResetRetries(sessionID string)
}

type sessionClearer interface {
	Clear(ctx context.Context, sessionID string) error
}

// CreateRequest describes a new mission.
type CreateRequest struct {
	ID         string `json:"id,omitempty"`
	WorkflowID string `json:"workflow_id" validate:"required"`
	Brief      string `json:"brief"       validate:"required"`
	ProjectID  string `json:"project_id,omitempty"`
	Workspace  string `json:"workspace,omitempty"`
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager launches missions on their own goroutine, bounded by the governor.
// A mission is in the registry from Launch until its goroutine returns.
type Manager struct {
	repo      persistence.MissionRepository
	workflows WorkflowResolver
	runner    Runner
	governor  *governor.Governor
	sessions  protocol.SessionLog
	notifier  protocol.NotificationSink
	reactor   Reactor
	logger    *slog.Logger
	newID     func() string
	base      context.Context

	mu      sync.Mutex
	active  map[string]*task
	closing bool
	wg      sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

func WithReactor(reactor Reactor) Option {
	return func(m *Manager) {
		m.reactor = reactor
	}
}

// WithIDGenerator replaces the uuid mission id generator.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		m.newID = newID
	}
}

func NewManager(
	repo persistence.MissionRepository,
	workflows WorkflowResolver,
	runner Runner,
	gov *governor.Governor,
	sessions protocol.SessionLog,
	notifier protocol.NotificationSink,
	logger *slog.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		repo:      repo,
		workflows: workflows,
		runner:    runner,
		governor:  gov,
		sessions:  sessions,
		notifier:  notifier,
		logger:    logger.With("module", "missions"),
		newID:     uuid.NewString,
		base:      context.Background(),
		active:    make(map[string]*task),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Create snapshots the workflow's phases into a new pending mission.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.MissionRun, error) {
	wf, err := m.workflows.Workflow(req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrWorkflowNotFound, req.WorkflowID, err)
	}

	id := req.ID
	if id == "" {
		id = m.newID()
	}

	mission := models.NewMissionRun(id, wf, req.Brief)
	mission.ProjectID = req.ProjectID
	mission.Workspace = req.Workspace

	if err := m.repo.Create(ctx, mission); err != nil {
		return nil, fmt.Errorf("failed to create mission: %w", err)
	}

	m.logger.InfoContext(ctx, "Mission created", "mission_id", id, "workflow_id", wf.ID, "phases", len(mission.Phases))

	return mission, nil
}

// Launch starts the mission in the background, detached from ctx. It reports
// false without error when the mission is already executing or queued for a
// slot.
func (m *Manager) Launch(ctx context.Context, missionID string) (bool, error) {
	if ok, err := m.launchable(missionID); !ok {
		return false, err
	}

	mission, err := m.repo.Get(ctx, missionID)
	if err != nil {
		return false, fmt.Errorf("failed to load mission: %w", err)
	}

	if mission.Status.Terminal() {
		return false, fmt.Errorf("%w: %s", ErrMissionFinished, mission.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-checked: the store read ran without the lock.
	if m.closing {
		return false, ErrManagerShuttingDown
	}

	if _, ok := m.active[missionID]; ok {
		return false, nil
	}

	runCtx, cancel := context.WithCancel(m.base)
	t := &task{cancel: cancel, done: make(chan struct{})}
	m.active[missionID] = t

	m.wg.Add(1)

	go m.run(runCtx, missionID, t)

	m.logger.InfoContext(ctx, "Mission launched", "mission_id", missionID, "status", mission.Status)

	return true, nil
}

// launchable reports whether a launch may proceed to the store read.
func (m *Manager) launchable(missionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return false, ErrManagerShuttingDown
	}

	_, running := m.active[missionID]

	return !running, nil
}

func (m *Manager) run(ctx context.Context, missionID string, t *task) {
	logger := m.logger.With("mission_id", missionID)

	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if m.active[missionID] == t {
			delete(m.active, missionID)
		}
		m.mu.Unlock()

		t.cancel()
		close(t.done)
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Mission panicked", "panic", r, "stack", string(debug.Stack()))
			m.crash(ctx, missionID, fmt.Errorf("panic: %v", r))
		}
	}()

	release, err := m.governor.Acquire(ctx)
	if err != nil {
		logger.InfoContext(ctx, "Mission cancelled before acquiring a slot")

		return
	}
	defer release()

	logger.InfoContext(ctx, "Mission acquired execution slot", "active", m.governor.Active())

	mission, err := m.runner.Run(ctx, missionID)

	switch {
	case err == nil:
		logger.InfoContext(ctx, "Mission stopped", "status", mission.Status)
	case ctx.Err() != nil:
		logger.InfoContext(ctx, "Mission cancelled")
	default:
		logger.ErrorContext(ctx, "Mission crashed", "error", err)
		m.crash(ctx, missionID, err)
	}
}

// crash turns an unexpected error into a FAILED mission.
func (m *Manager) crash(ctx context.Context, missionID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	reason := "internal error: " + cause.Error()

	mission, err := workflow.UpdateMission(ctx, m.repo, missionID, func(mission *models.MissionRun) error {
		now := time.Now().UTC()

		mission.Status = models.MissionFailed
		mission.Error = reason
		mission.CompletedAt = &now

		for _, p := range mission.Phases {
			if p.Status == models.PhaseRunning {
				p.Status = models.PhaseFailed
				p.Error = reason
				p.CompletedAt = &now
			}
		}

		return nil
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to mark crashed mission as failed", "mission_id", missionID, "error", err)

		return
	}

	m.say(ctx, mission.SessionID, "Internal error: "+cause.Error())
	m.notifier.Push(ctx, mission.SessionID, map[string]any{
		"type":       "mission_failed",
		"mission_id": missionID,
		"error":      reason,
	})

	if m.reactor != nil {
		m.reactor.Emit(ctx, models.EventPayload{
			Event:     models.EventMissionFailed,
			SessionID: mission.SessionID,
			MissionID: missionID,
			ProjectID: mission.ProjectID,
			Details:   map[string]any{"error": reason},
			Timestamp: time.Now().UTC(),
		})
	}
}

// Pause cancels the executing mission and marks it PAUSED so the watchdog
// can resume it from its checkpoint.
func (m *Manager) Pause(ctx context.Context, missionID string) (*models.MissionRun, error) {
	if err := m.stop(ctx, missionID); err != nil {
		return nil, err
	}

	mission, err := workflow.UpdateMission(ctx, m.repo, missionID, func(mission *models.MissionRun) error {
		if mission.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrMissionFinished, mission.Status)
		}

		mission.Status = models.MissionPaused

		for _, p := range mission.Phases {
			if p.Status == models.PhaseRunning {
				p.Status = models.PhasePending
				p.StartedAt = nil
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pause mission: %w", err)
	}

	m.logger.InfoContext(ctx, "Mission paused", "mission_id", missionID, "checkpoint_index", mission.CheckpointIndex)
	m.notifier.Push(ctx, mission.SessionID, map[string]any{
		"type":       "mission_paused",
		"mission_id": missionID,
	})

	return mission, nil
}

// Reset cancels the mission, returns every phase to PENDING, rewinds the
// checkpoint and clears the session log and retry budgets.
func (m *Manager) Reset(ctx context.Context, missionID string) (*models.MissionRun, error) {
	if err := m.stop(ctx, missionID); err != nil {
		return nil, err
	}

	mission, err := workflow.UpdateMission(ctx, m.repo, missionID, func(mission *models.MissionRun) error {
		mission.Status = models.MissionPending
		mission.Error = ""
		mission.CompletedAt = nil
		mission.CheckpointIndex = 0
		mission.CurrentPhaseIndex = 0

		for _, p := range mission.Phases {
			p.Status = models.PhasePending
			p.Skipped = false
			p.Attempts = 0
			p.ParticipantCount = 0
			p.Summary = ""
			p.Error = ""
			p.Decision = ""
			p.StartedAt = nil
			p.CompletedAt = nil
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reset mission: %w", err)
	}

	if clearer, ok := m.sessions.(sessionClearer); ok {
		if err := clearer.Clear(ctx, mission.SessionID); err != nil {
			m.logger.WarnContext(ctx, "Failed to clear session log", "mission_id", missionID, "error", err)
		}
	}

	m.say(ctx, mission.SessionID, resetMarker)

	if m.reactor != nil {
		m.reactor.ResetRetries(mission.SessionID)
	}

	m.notifier.Push(ctx, mission.SessionID, map[string]any{
		"type":       "mission_reset",
		"mission_id": missionID,
	})

	m.logger.InfoContext(ctx, "Mission reset", "mission_id", missionID)

	return mission, nil
}

// Validate records a GO or NOGO decision on the phase waiting for
// validation and wakes the mission. A mission that is not executing is
// relaunched so it picks the decision up.
func (m *Manager) Validate(ctx context.Context, missionID string, decision models.Decision) (*models.MissionRun, error) {
	decision = models.Decision(strings.ToUpper(string(decision)))
	if decision != models.DecisionGo && decision != models.DecisionNoGo {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	mission, err := m.repo.Get(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mission: %w", err)
	}

	index := slices.IndexFunc(mission.Phases, func(p *models.PhaseRun) bool {
		return p.Status == models.PhaseWaitingValidation
	})
	if index < 0 {
		return nil, ErrNotWaitingValidation
	}

	mission, err = m.repo.SetPhaseStatus(ctx, missionID, index, persistence.PhaseUpdate{Decision: &decision})
	if err != nil {
		return nil, fmt.Errorf("failed to record decision: %w", err)
	}

	m.logger.InfoContext(ctx, "Validation decision recorded", "mission_id", missionID, "phase_id", mission.Phases[index].PhaseID, "decision", decision)

	if m.isActive(missionID) {
		m.runner.Signal(missionID)

		return mission, nil
	}

	if _, err := m.Launch(ctx, missionID); err != nil {
		return nil, err
	}

	return mission, nil
}

// Get returns the stored mission.
func (m *Manager) Get(ctx context.Context, missionID string) (*models.MissionRun, error) {
	return m.repo.Get(ctx, missionID)
}

// List returns the stored missions matching opts.
func (m *Manager) List(ctx context.Context, opts persistence.ListMissionsOptions) ([]*models.MissionRun, error) {
	return m.repo.List(ctx, opts)
}

// Resumable lists PAUSED missions and RUNNING missions no goroutine owns,
// newest first.
func (m *Manager) Resumable(ctx context.Context) ([]string, error) {
	missions, err := m.repo.List(ctx, persistence.ListMissionsOptions{
		Statuses: []models.MissionStatus{models.MissionPaused, models.MissionRunning},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}

	slices.SortFunc(missions, func(a, b *models.MissionRun) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	ids := make([]string, 0, len(missions))

	for _, mission := range missions {
		if !m.isActive(mission.ID) {
			ids = append(ids, mission.ID)
		}
	}

	return ids, nil
}

// Running is the number of missions executing or queued for a slot.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.active)
}

// Active returns the ids of missions in the registry.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// Wait blocks until the mission's goroutine returns or ctx is done.
func (m *Manager) Wait(ctx context.Context, missionID string) error {
	m.mu.Lock()
	t, ok := m.active[missionID]
	m.mu.Unlock()

	if !ok {
		return nil
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting launches, cancels executing missions and marks
// them PAUSED so the next start resumes them.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true

	ids := make([]string, 0, len(m.active))
	for id, t := range m.active {
		ids = append(ids, id)
		t.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("failed to stop missions: %w", ctx.Err())
	}

	for _, id := range ids {
		_, err := workflow.UpdateMission(ctx, m.repo, id, func(mission *models.MissionRun) error {
			if mission.Status == models.MissionRunning || mission.Status == models.MissionPending {
				mission.Status = models.MissionPaused
			}

			return nil
		})
		if err != nil {
			m.logger.WarnContext(ctx, "Failed to park mission on shutdown", "mission_id", id, "error", err)
		}
	}

	m.logger.InfoContext(ctx, "Mission manager stopped", "parked", len(ids))

	return nil
}

// stop cancels the mission's goroutine and waits for it to return.
func (m *Manager) stop(ctx context.Context, missionID string) error {
	m.mu.Lock()
	t, ok := m.active[missionID]
	if ok {
		delete(m.active, missionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	t.cancel()

	select {
	case <-t.done:
		m.logger.InfoContext(ctx, "Cancelled running mission", "mission_id", missionID)

		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop mission %s: %w", missionID, ctx.Err())
	}
}

func (m *Manager) isActive(missionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.active[missionID]

	return ok
}

func (m *Manager) say(ctx context.Context, sessionID, content string) {
	err := m.sessions.Append(ctx, sessionID, models.Message{
		From:      models.Orchestrator,
		To:        "all",
		Type:      models.MessageSystem,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to append session message", "session_id", sessionID, "error", err)
	}
}
