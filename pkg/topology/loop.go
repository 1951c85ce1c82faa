package topology

import (
	"context"
	"fmt"
	"strings"
)

const (
	defaultLoopIterations       = 5
	defaultSupervisorRetries    = 2
	defaultBlackboardIterations = 3
)

// loop: a writer produces and a reviewer critiques until the reviewer
// approves or max_iterations is exhausted.
func loop(ctx context.Context, r *Run) (Result, error) {
	ordered := OrderedNodes(r.Topology)
	writer := firstOf(withRole(r.Topology, "writer", "worker"), ordered[0])
	reviewer := firstOf(withRole(r.Topology, "reviewer", "critic"), lastOf(without(ordered, writer)))

	if reviewer == "" {
		return solo(ctx, r)
	}

	iterations := r.Topology.IntConfig("max_iterations", defaultLoopIterations)

	var (
		outputs  []NodeOutput
		feedback string
	)

	for iteration := 1; iteration <= iterations; iteration++ {
		prompt := r.Task()
		if feedback != "" {
			prompt += "\n\n[Reviewer feedback]:\n" + feedback
		}

		draft, err := r.Execute(ctx, Step{NodeID: writer, Prompt: prompt, To: r.Agent(reviewer)})
		if err != nil {
			return Result{}, err
		}

		review, err := r.Execute(ctx, Step{
			NodeID:  reviewer,
			Prompt:  "Review this work. Answer [APPROVE] when it is acceptable, otherwise [VETO] with what to change.",
			Context: draft.Label(),
			To:      r.Agent(writer),
		})
		if err != nil {
			return Result{}, err
		}

		outputs = []NodeOutput{draft, review}

		if !draft.Failed && !review.Failed && review.Verdict == VerdictApprove {
			result := conclude(outputs)
			result.Summary = summarize([]NodeOutput{draft})

			return result, nil
		}

		feedback = review.Text

		r.System(ctx, fmt.Sprintf("Iteration %d/%d not approved", iteration, iterations))
	}

	result := conclude(outputs)
	result.Success = false
	result.Error = joinErr(result.Error, fmt.Sprintf("no approval after %d iterations", iterations))

	return result, nil
}

// supervisorRetry: a worker attempts the task and a supervisor checks it,
// retrying the worker up to max_retries times.
func supervisorRetry(ctx context.Context, r *Run) (Result, error) {
	ordered := OrderedNodes(r.Topology)
	worker := firstOf(withRole(r.Topology, "worker"), ordered[0])
	supervisor := firstOf(withRole(r.Topology, "supervisor"), lastOf(without(ordered, worker)))

	if supervisor == "" {
		return solo(ctx, r)
	}

	attempts := r.Topology.IntConfig("max_retries", defaultSupervisorRetries) + 1

	var (
		outputs  []NodeOutput
		feedback string
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		prompt := r.Task()
		if feedback != "" {
			prompt += "\n\n[Supervisor feedback]:\n" + feedback
		}

		work, err := r.Execute(ctx, Step{NodeID: worker, Prompt: prompt, To: r.Agent(supervisor)})
		if err != nil {
			return Result{}, err
		}

		outputs = []NodeOutput{work}

		if work.Failed {
			feedback = "previous attempt failed: " + work.Error

			continue
		}

		check, err := r.Execute(ctx, Step{
			NodeID:  supervisor,
			Prompt:  "Check this attempt. Answer [APPROVE] if it is correct, otherwise [VETO] with the problem.",
			Context: work.Label(),
			To:      r.Agent(worker),
		})
		if err != nil {
			return Result{}, err
		}

		outputs = append(outputs, check)

		if check.OK() {
			result := conclude(outputs)
			result.Summary = summarize([]NodeOutput{work})

			return result, nil
		}

		feedback = check.Text

		r.System(ctx, fmt.Sprintf("Attempt %d/%d rejected by %s", attempt, attempts, r.Agent(supervisor)))
	}

	result := conclude(outputs)
	result.Success = false
	result.Error = joinErr(result.Error, fmt.Sprintf("retries exhausted after %d attempts", attempts))

	return result, nil
}

// blackboard: nodes take turns reading and writing a shared board for up to
// max_iterations rounds. A node may end early by writing [DONE].
func blackboard(ctx context.Context, r *Run) (Result, error) {
	ordered := OrderedNodes(r.Topology)
	iterations := r.Topology.IntConfig("max_iterations", defaultBlackboardIterations)

	var board []string

	latest := make(map[string]NodeOutput, len(ordered))

	for round := 1; round <= iterations; round++ {
		for _, id := range ordered {
			out, err := r.Execute(ctx, Step{
				NodeID:  id,
				Prompt:  r.Task() + "\n\nAdd your contribution to the shared board. Write [DONE] when the work is complete.",
				Context: BuildCompressedContext(board, ContextBudget),
				To:      "all",
			})
			if err != nil {
				return Result{}, err
			}

			latest[id] = out
			board = append(board, out.Label())

			if strings.Contains(strings.ToUpper(out.Text), "[DONE]") {
				return conclude(collect(ordered, latest)), nil
			}
		}
	}

	return conclude(collect(ordered, latest)), nil
}

func collect(ids []string, byID map[string]NodeOutput) []NodeOutput {
	outputs := make([]NodeOutput, 0, len(ids))

	for _, id := range ids {
		if out, ok := byID[id]; ok {
			outputs = append(outputs, out)
		}
	}

	return outputs
}

func joinErr(existing, msg string) string {
	if existing == "" {
		return msg
	}

	return existing + "; " + msg
}
