package topology

import (
	"context"
	"fmt"
)

const defaultDebateRounds = 3

// network: a judge frames the question, debaters argue concurrently for
// max_rounds rounds over a shared transcript and the judge concludes. Success
// depends on the judge's verdict, not on positions taken during the debate.
func network(ctx context.Context, r *Run) (Result, error) {
	ordered := OrderedNodes(r.Topology)
	judge := firstOf(withRole(r.Topology, "judge", "moderator", "lead"), ordered[0])
	debaters := without(ordered, judge)

	if len(debaters) == 0 {
		return solo(ctx, r)
	}

	opening, err := r.Execute(ctx, Step{NodeID: judge, Prompt: "Frame the debate for:\n" + r.Task(), To: "all"})
	if err != nil {
		return Result{}, err
	}

	transcript := []string{opening.Label()}
	rounds := r.Topology.IntConfig("max_rounds", defaultDebateRounds)

	var lastRound []NodeOutput

	for round := 1; round <= rounds; round++ {
		shared := BuildCompressedContext(transcript, ContextBudget)

		steps := make([]Step, 0, len(debaters))
		for _, id := range debaters {
			steps = append(steps, Step{
				NodeID:  id,
				Prompt:  fmt.Sprintf("Debate round %d/%d. Argue your position on:\n%s", round, rounds, r.Task()),
				Context: shared,
				To:      "all",
			})
		}

		lastRound, err = r.FanOut(ctx, steps)
		if err != nil {
			return Result{}, err
		}

		transcript = append(transcript, labels(lastRound)...)
	}

	verdict, err := r.Execute(ctx, Step{
		NodeID:  judge,
		Prompt:  "Conclude the debate with a decision for:\n" + r.Task(),
		Context: BuildCompressedContext(transcript, ContextBudget),
		To:      "all",
	})
	if err != nil {
		return Result{}, err
	}

	result := conclude([]NodeOutput{verdict})
	result.Outputs = append(append([]NodeOutput{opening}, lastRound...), verdict)

	for _, out := range lastRound {
		if out.Failed {
			result.Success = false
			result.Error = out.Agent + " failed: " + out.Error
		}
	}

	return result, nil
}
