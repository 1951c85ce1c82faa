package topology

import (
	"context"
	"fmt"
	"slices"

	"github.com/dukex/sortie/pkg/models"
)

func solo(ctx context.Context, r *Run) (Result, error) {
	out, err := r.Execute(ctx, Step{NodeID: r.Topology.Nodes[0].ID, Prompt: r.Task(), To: "all"})
	if err != nil {
		return Result{}, err
	}

	return conclude([]NodeOutput{out}), nil
}

// chain runs ids one after another, each seeing the compressed outputs of
// the nodes before it.
func (r *Run) chain(ctx context.Context, ids []string, prompt string, accumulated []string) ([]NodeOutput, error) {
	outputs := make([]NodeOutput, 0, len(ids))

	for i, id := range ids {
		to := "all"
		if i+1 < len(ids) {
			to = r.Agent(ids[i+1])
		}

		out, err := r.Execute(ctx, Step{
			NodeID:  id,
			Prompt:  prompt,
			Context: BuildCompressedContext(accumulated, ContextBudget),
			To:      to,
		})
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, out)
		accumulated = append(accumulated, out.Label())
	}

	return outputs, nil
}

func sequential(ctx context.Context, r *Run) (Result, error) {
	outputs, err := r.chain(ctx, OrderedNodes(r.Topology), r.Task(), nil)
	if err != nil {
		return Result{}, err
	}

	return conclude(outputs), nil
}

// humanInTheLoop runs the discussion like sequential and then asks for a
// human GO/NOGO before the phase can finish.
func humanInTheLoop(ctx context.Context, r *Run) (Result, error) {
	outputs, err := r.chain(ctx, OrderedNodes(r.Topology), r.Task(), nil)
	if err != nil {
		return Result{}, err
	}

	result := conclude(outputs)
	if result.Success {
		result.NeedsValidation = true

		r.System(ctx, "Awaiting human validation (GO/NOGO)")
	}

	return result, nil
}

// saga runs steps in order. When a step fails after a checkpoint has been
// passed, the compensation node is run before reporting failure. A step is a
// checkpoint when it is the source of a "checkpoint" edge; a saga that
// declares no such edge treats every completed step as one.
func saga(ctx context.Context, r *Run) (Result, error) {
	compensation := firstOf(
		nodeIfExists(r.Topology, r.Topology.StringConfig("compensation", "")),
		compensationTarget(r.Topology),
		withRole(r.Topology, "compensation", "compensator"),
	)

	steps := without(OrderedNodes(r.Topology), compensation)
	checkpoints := checkpointSources(r.Topology)

	var (
		outputs     []NodeOutput
		accumulated []string
		passed      bool
	)

	for _, id := range steps {
		out, err := r.Execute(ctx, Step{
			NodeID:  id,
			Prompt:  r.Task(),
			Context: BuildCompressedContext(accumulated, ContextBudget),
			To:      "all",
		})
		if err != nil {
			return Result{}, err
		}

		outputs = append(outputs, out)

		if !out.OK() {
			result := conclude(outputs)

			if passed && compensation != "" {
				r.System(ctx, fmt.Sprintf("Saga step %s failed after checkpoint, compensating", out.Agent))

				comp, err := r.Execute(ctx, Step{
					NodeID:  compensation,
					Prompt:  "Undo or compensate the completed steps of this task:\n" + r.Task(),
					Context: BuildCompressedContext(accumulated, ContextBudget),
					To:      "all",
				})
				if err != nil {
					return Result{}, err
				}

				result.Outputs = append(result.Outputs, comp)
				result.Error += "; compensated"
			}

			return result, nil
		}

		accumulated = append(accumulated, out.Label())

		if len(checkpoints) == 0 || slices.Contains(checkpoints, id) {
			passed = true
		}
	}

	return conclude(outputs), nil
}

func nodeIfExists(topo *models.TopologyDefinition, id string) string {
	if id != "" && topo.Node(id) != nil {
		return id
	}

	return ""
}

func compensationTarget(topo *models.TopologyDefinition) string {
	for _, e := range topo.Edges {
		if e.Condition == "compensate" && topo.Node(e.To) != nil {
			return e.To
		}
	}

	return ""
}

func checkpointSources(topo *models.TopologyDefinition) []string {
	var ids []string

	for _, e := range topo.Edges {
		if e.Condition == "checkpoint" {
			ids = append(ids, e.From)
		}
	}

	return ids
}
