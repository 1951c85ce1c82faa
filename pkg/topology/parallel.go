package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/dukex/sortie/pkg/models"
)

var workersBlock = regexp.MustCompile(`\{[^{}]*"workers"\s*:\s*\[[^\]]+\][^{}]*\}`)

// ExtractSubtasks reads a {"workers":[...]} block from dispatcher output. It
// returns nil unless exactly want subtasks are listed.
func ExtractSubtasks(text string, want int) []string {
	block := workersBlock.FindString(text)
	if block == "" {
		return nil
	}

	var parsed struct {
		Workers []string `json:"workers"`
	}

	if err := json.Unmarshal([]byte(block), &parsed); err != nil || len(parsed.Workers) != want {
		return nil
	}

	return parsed.Workers
}

// parallel: a dispatcher splits the work, workers run concurrently and an
// aggregator merges their outputs.
func parallel(ctx context.Context, r *Run) (Result, error) {
	ordered := OrderedNodes(r.Topology)
	dispatcher := ordered[0]
	workers := targets(edgesFrom(r.Topology, dispatcher, models.EdgeParallel))

	if len(workers) == 0 {
		workers = without(ordered, dispatcher)
		if len(workers) > 1 {
			workers = workers[:len(workers)-1]
		}
	}

	aggregatorID := firstOf(withRole(r.Topology, "aggregator"), lastOf(without(ordered, slices.Concat(workers, []string{dispatcher})...)))

	prompt := r.Task()
	if len(workers) > 0 {
		names := make([]string, 0, len(workers))
		for _, w := range workers {
			names = append(names, r.Agent(w))
		}

		prompt += fmt.Sprintf("\n\nSplit this work for %d workers (%s). End your answer with a JSON block "+
			`{"workers": ["subtask 1", "subtask 2", ...]}`+" with exactly one subtask per worker.",
			len(workers), strings.Join(names, ", "))
	}

	lead, err := r.Execute(ctx, Step{NodeID: dispatcher, Prompt: prompt, To: "all"})
	if err != nil {
		return Result{}, err
	}

	outputs := []NodeOutput{lead}
	if len(workers) == 0 {
		return conclude(outputs), nil
	}

	subtasks := ExtractSubtasks(lead.Text, len(workers))

	steps := make([]Step, 0, len(workers))
	for i, w := range workers {
		task := r.Task()
		if subtasks != nil {
			task = subtasks[i]
		}

		steps = append(steps, Step{NodeID: w, Prompt: task, Context: lead.Label(), To: r.Agent(dispatcher)})
	}

	results, err := r.FanOut(ctx, steps)
	if err != nil {
		return Result{}, err
	}

	outputs = append(outputs, results...)

	if aggregatorID != "" {
		agg, err := r.Execute(ctx, Step{
			NodeID:  aggregatorID,
			Prompt:  "Synthesize the workers' results into one answer for:\n" + r.Task(),
			Context: strings.Join(labels(results), "\n\n---\n"),
			To:      "all",
		})
		if err != nil {
			return Result{}, err
		}

		outputs = append(outputs, agg)
	}

	return conclude(outputs), nil
}

// aggregator: contributors answer concurrently, then the aggregator node
// synthesizes their outputs.
func aggregator(ctx context.Context, r *Run) (Result, error) {
	ordered := OrderedNodes(r.Topology)
	agg := firstOf(withRole(r.Topology, "aggregator"), targetOf(r.Topology, models.EdgeAggregate), lastOf(ordered))
	contributors := without(ordered, agg)

	steps := make([]Step, 0, len(contributors))
	for _, id := range contributors {
		steps = append(steps, Step{NodeID: id, Prompt: r.Task(), To: r.Agent(agg)})
	}

	results, err := r.FanOut(ctx, steps)
	if err != nil {
		return Result{}, err
	}

	final, err := r.Execute(ctx, Step{
		NodeID:  agg,
		Prompt:  "Synthesize these contributions into one answer for:\n" + r.Task(),
		Context: BuildCompressedContext(labels(results), ContextBudget),
		To:      "all",
	})
	if err != nil {
		return Result{}, err
	}

	return conclude(append(results, final)), nil
}

// QuorumRule decides whether a vote passes.
type QuorumRule string

const (
	QuorumMajority  QuorumRule = "majority"
	QuorumUnanimous QuorumRule = "unanimous"
	QuorumAny       QuorumRule = "any"
)

// Reached reports whether approvals out of voters satisfies the rule.
func (q QuorumRule) Reached(approvals, voters int) bool {
	switch q {
	case QuorumUnanimous:
		return voters > 0 && approvals == voters
	case QuorumAny:
		return approvals > 0
	default:
		return approvals*2 > voters
	}
}

// consensus: voters answer concurrently with an explicit verdict and the
// quorum rule decides success. A voter veto only counts as a missing approval.
func consensus(ctx context.Context, r *Run) (Result, error) {
	ordered := OrderedNodes(r.Topology)
	agg := firstOf(withRole(r.Topology, "aggregator"), targetOf(r.Topology, models.EdgeVote))

	voters := without(ordered, agg)
	rule := QuorumRule(r.Topology.StringConfig("quorum_rule", string(QuorumMajority)))

	steps := make([]Step, 0, len(voters))
	for _, id := range voters {
		steps = append(steps, Step{
			NodeID: id,
			Prompt: r.Task() + "\n\nGive your position and finish with [APPROVE] or [VETO].",
			To:     "all",
		})
	}

	votes, err := r.FanOut(ctx, steps)
	if err != nil {
		return Result{}, err
	}

	approvals := 0
	for _, v := range votes {
		if !v.Failed && v.Verdict == VerdictApprove {
			approvals++
		}
	}

	reached := rule.Reached(approvals, len(votes))
	r.System(ctx, fmt.Sprintf("Vote: %d/%d approvals, quorum %s %s", approvals, len(votes), rule, reachedWord(reached)))

	result := Result{Success: reached, Outputs: votes, Summary: summarize(votes)}
	if !reached {
		result.Error = fmt.Sprintf("quorum %s not reached: %d/%d approvals", rule, approvals, len(votes))
	}

	if agg != "" {
		final, err := r.Execute(ctx, Step{
			NodeID:  agg,
			Prompt:  "Summarize the vote and the agreed position for:\n" + r.Task(),
			Context: BuildCompressedContext(labels(votes), ContextBudget),
			To:      "all",
		})
		if err != nil {
			return Result{}, err
		}

		result.Outputs = append(result.Outputs, final)
		result.Summary = summarize(result.Outputs)

		if final.Failed {
			result.Success = false
			result.Error = final.Agent + " failed: " + final.Error
		}
	}

	return result, nil
}

func reachedWord(ok bool) string {
	if ok {
		return "reached"
	}

	return "not reached"
}

func lastOf(ids []string) string {
	if len(ids) == 0 {
		return ""
	}

	return ids[len(ids)-1]
}
