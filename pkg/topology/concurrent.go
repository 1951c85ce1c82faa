package topology

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FanOut runs steps concurrently. Outputs keep the order of steps. The first
// propagated error cancels the remaining steps.
func (r *Run) FanOut(ctx context.Context, steps []Step) ([]NodeOutput, error) {
	outputs := make([]NodeOutput, len(steps))
	g, gctx := errgroup.WithContext(ctx)

	for i, step := range steps {
		g.Go(func() error {
			out, err := r.Execute(gctx, step)
			if err != nil {
				return err
			}

			outputs[i] = out

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return outputs, nil
}

// StepFunc builds the step for a node once all of its inputs are known.
type StepFunc func(nodeID string, inputs []NodeOutput) Step

// Dataflow starts each node as soon as all of its predecessors have finished,
// so independent branches overlap. Nodes stuck in a cycle are started together
// once nothing else can make progress. Outputs follow completion order.
func (r *Run) Dataflow(ctx context.Context, incoming map[string][]string, build StepFunc) ([]NodeOutput, error) {
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan NodeOutput)

	pending := declared(r.Topology)
	finished := make(map[string]NodeOutput, len(pending))
	completed := make([]NodeOutput, 0, len(pending))
	running := 0

	launch := func(id string, inputs []NodeOutput) {
		running++
		step := build(id, inputs)

		g.Go(func() error {
			out, err := r.Execute(gctx, step)
			if err != nil {
				return err
			}

			select {
			case done <- out:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	inputsOf := func(id string) []NodeOutput {
		var inputs []NodeOutput

		for _, pred := range incoming[id] {
			if out, ok := finished[pred]; ok {
				inputs = append(inputs, out)
			}
		}

		return inputs
	}

loop:
	for len(pending) > 0 || running > 0 {
		var rest []string

		for _, id := range pending {
			if isFinished(incoming[id], finished) {
				launch(id, inputsOf(id))
			} else {
				rest = append(rest, id)
			}
		}

		pending = rest

		if running == 0 {
			for _, id := range pending {
				launch(id, inputsOf(id))
			}

			pending = nil
		}

		select {
		case out := <-done:
			running--
			finished[out.NodeID] = out
			completed = append(completed, out)
		case <-gctx.Done():
			break loop
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return completed, nil
}

func isFinished(ids []string, finished map[string]NodeOutput) bool {
	for _, id := range ids {
		if _, ok := finished[id]; !ok {
			return false
		}
	}

	return true
}
