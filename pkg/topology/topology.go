// Package topology interprets coordination topologies: it runs the nodes of a
// topology against an agent executor and reports one outcome for the phase.
package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/protocol"
)

var ErrUnknownType = errors.New("unknown topology type")

// Request is the input of one topology execution.
type Request struct {
	SessionID string
	MissionID string
	PhaseID   string
	ProjectID string
	Workspace string
	Task      string
	Context   []string
}

// Result is the outcome of one topology execution.
type Result struct {
	Success         bool         `json:"success"`
	Summary         string       `json:"summary"`
	Error           string       `json:"error,omitempty"`
	NeedsValidation bool         `json:"needs_validation"`
	Outputs         []NodeOutput `json:"outputs,omitempty"`
}

// Pattern executes one topology type.
type Pattern interface {
	Execute(ctx context.Context, r *Run) (Result, error)
}

// PatternFunc adapts a function to Pattern.
type PatternFunc func(ctx context.Context, r *Run) (Result, error)

func (f PatternFunc) Execute(ctx context.Context, r *Run) (Result, error) {
	return f(ctx, r)
}

// Interpreter dispatches a topology to the pattern registered for its type.
type Interpreter struct {
	executor protocol.AgentExecutor
	sessions protocol.SessionLog
	logger   *slog.Logger

	mu       sync.RWMutex
	patterns map[models.TopologyType]Pattern
}

func NewInterpreter(executor protocol.AgentExecutor, sessions protocol.SessionLog, logger *slog.Logger) *Interpreter {
	i := &Interpreter{
		executor: executor,
		sessions: sessions,
		logger:   logger.With("module", "topology"),
		patterns: make(map[models.TopologyType]Pattern),
	}

	i.Register(models.TopologySolo, PatternFunc(solo))
	i.Register(models.TopologySequential, PatternFunc(sequential))
	i.Register(models.TopologyParallel, PatternFunc(parallel))
	i.Register(models.TopologyLoop, PatternFunc(loop))
	i.Register(models.TopologyRouter, PatternFunc(router))
	i.Register(models.TopologyAggregator, PatternFunc(aggregator))
	i.Register(models.TopologyHierarchical, PatternFunc(hierarchical))
	i.Register(models.TopologyNetwork, PatternFunc(network))
	i.Register(models.TopologyHumanInTheLoop, PatternFunc(humanInTheLoop))
	i.Register(models.TopologyWave, PatternFunc(wave))
	i.Register(models.TopologyMapReduce, PatternFunc(mapReduce))
	i.Register(models.TopologyBlackboard, PatternFunc(blackboard))
	i.Register(models.TopologySupervisorRetry, PatternFunc(supervisorRetry))
	i.Register(models.TopologySwarm, PatternFunc(swarm))
	i.Register(models.TopologySaga, PatternFunc(saga))
	i.Register(models.TopologyConsensus, PatternFunc(consensus))
	i.Register(models.TopologyPubSub, PatternFunc(pubSub))

	return i
}

// Register installs or replaces the pattern for a topology type.
func (i *Interpreter) Register(t models.TopologyType, p Pattern) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.patterns[t] = p
}

// Execute runs topo for req. A returned error means the run was aborted
// (transient, fatal or cancelled); topology-level failures are reported in
// Result instead.
func (i *Interpreter) Execute(ctx context.Context, topo *models.TopologyDefinition, req Request) (Result, error) {
	if err := Validate(topo); err != nil {
		return Result{}, protocol.NewFatalError(err)
	}

	i.mu.RLock()
	pattern, ok := i.patterns[topo.Type.Canonical()]
	i.mu.RUnlock()

	if !ok {
		return Result{}, protocol.NewFatalError(fmt.Errorf("%w: %s", ErrUnknownType, topo.Type))
	}

	run := &Run{
		Topology: topo,
		Request:  req,
		executor: i.executor,
		sessions: i.sessions,
		logger:   i.logger.With("topology_id", topo.ID, "phase_id", req.PhaseID),
	}

	run.System(ctx, fmt.Sprintf("Pattern '%s' started (%s, %d agents)", topo.Name, topo.Type, len(topo.Nodes)))

	result, err := pattern.Execute(ctx, run)
	if err != nil {
		run.logger.WarnContext(ctx, "topology aborted", "error", err)

		return Result{}, err
	}

	status := "completed"
	if !result.Success {
		status = "failed"
	}

	run.System(ctx, fmt.Sprintf("Pattern '%s' %s", topo.Name, status))
	run.logger.InfoContext(ctx, "topology finished", "success", result.Success, "needs_validation", result.NeedsValidation)

	return result, nil
}

// conclude builds a result from outputs: success when no node failed or vetoed.
func conclude(outputs []NodeOutput) Result {
	result := Result{Success: true, Outputs: outputs}

	var problems []string

	for _, out := range outputs {
		switch {
		case out.Failed:
			result.Success = false

			problems = append(problems, fmt.Sprintf("%s failed: %s", out.Agent, out.Error))
		case out.Verdict == VerdictVeto:
			result.Success = false

			problems = append(problems, out.Agent+" vetoed")
		}
	}

	result.Error = strings.Join(problems, "; ")
	result.Summary = summarize(outputs)

	return result
}

// summarize compresses the last non-empty output.
func summarize(outputs []NodeOutput) string {
	for i := len(outputs) - 1; i >= 0; i-- {
		if strings.TrimSpace(outputs[i].Text) != "" {
			return CompressOutput(outputs[i].Text, CompressedOutputSize)
		}
	}

	return ""
}

func labels(outputs []NodeOutput) []string {
	out := make([]string, 0, len(outputs))
	for _, o := range outputs {
		out = append(out, o.Label())
	}

	return out
}
