package topology

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/sortie/pkg/models"
)

const defaultSwarmRounds = 1

// wave: each node starts as soon as every predecessor over any edge type has
// finished, so independent branches run concurrently.
func wave(ctx context.Context, r *Run) (Result, error) {
	incoming := predecessors(r.Topology, nil)

	outputs, err := r.Dataflow(ctx, incoming, func(id string, inputs []NodeOutput) Step {
		return Step{
			NodeID:  id,
			Prompt:  r.Task(),
			Context: BuildCompressedContext(labels(inputs), ContextBudget),
			To:      "all",
		}
	})
	if err != nil {
		return Result{}, err
	}

	return conclude(orderLike(declared(r.Topology), outputs)), nil
}

// swarm: all nodes work concurrently for max_rounds rounds, each round seeing
// the previous round's outputs.
func swarm(ctx context.Context, r *Run) (Result, error) {
	ids := declared(r.Topology)
	rounds := r.Topology.IntConfig("max_rounds", defaultSwarmRounds)

	var previous []NodeOutput

	for round := 1; round <= rounds; round++ {
		shared := BuildCompressedContext(labels(previous), ContextBudget)

		steps := make([]Step, 0, len(ids))
		for _, id := range ids {
			steps = append(steps, Step{NodeID: id, Prompt: r.Task(), Context: shared, To: "all"})
		}

		outputs, err := r.FanOut(ctx, steps)
		if err != nil {
			return Result{}, err
		}

		previous = outputs
	}

	return conclude(previous), nil
}

// mapReduce: the task lines are sharded across mappers that run concurrently
// and a reducer combines their outputs.
func mapReduce(ctx context.Context, r *Run) (Result, error) {
	ordered := OrderedNodes(r.Topology)
	reducer := firstOf(withRole(r.Topology, "reducer"), targetOf(r.Topology, models.EdgeAggregate), lastOf(ordered))
	mappers := without(ordered, reducer)

	shards := Shard(r.Request.Task, len(mappers))

	steps := make([]Step, 0, len(mappers))
	for i, id := range mappers {
		prompt := r.Task()
		if shards != nil {
			prompt = fmt.Sprintf("[SHARD %d/%d]:\n%s", i+1, len(mappers), shards[i])
			if len(r.Request.Context) > 0 {
				prompt += "\n\n[Previous phases]:\n" + strings.Join(r.Request.Context, "\n")
			}
		}

		steps = append(steps, Step{NodeID: id, Prompt: prompt, To: r.Agent(reducer)})
	}

	mapped, err := r.FanOut(ctx, steps)
	if err != nil {
		return Result{}, err
	}

	reduced, err := r.Execute(ctx, Step{
		NodeID:  reducer,
		Prompt:  "Reduce the mapped results into one answer for:\n" + r.Task(),
		Context: BuildCompressedContext(labels(mapped), ContextBudget),
		To:      "all",
	})
	if err != nil {
		return Result{}, err
	}

	return conclude(append(mapped, reduced)), nil
}

// Shard distributes the non-empty lines of task round-robin over n shards. It
// returns nil when there are fewer lines than shards.
func Shard(task string, n int) []string {
	var lines []string

	for _, line := range strings.Split(task, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	if n <= 0 || len(lines) < n {
		return nil
	}

	buckets := make([][]string, n)
	for i, line := range lines {
		buckets[i%n] = append(buckets[i%n], line)
	}

	shards := make([]string, n)
	for i, b := range buckets {
		shards[i] = strings.Join(b, "\n")
	}

	return shards
}

func orderLike(ids []string, outputs []NodeOutput) []NodeOutput {
	byID := make(map[string]NodeOutput, len(outputs))
	for _, out := range outputs {
		byID[out.NodeID] = out
	}

	return collect(ids, byID)
}
