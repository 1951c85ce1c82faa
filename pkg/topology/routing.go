package topology

import (
	"context"
	"strings"

	"github.com/dukex/sortie/pkg/models"
)

// SelectRoute picks the first edge whose condition appears in text, falling
// back to the first unconditioned edge and then to the first edge.
func SelectRoute(edges []*models.Edge, text string) *models.Edge {
	if len(edges) == 0 {
		return nil
	}

	lower := strings.ToLower(text)

	for _, e := range edges {
		if e.Condition != "" && strings.Contains(lower, strings.ToLower(e.Condition)) {
			return e
		}
	}

	for _, e := range edges {
		if e.Condition == "" {
			return e
		}
	}

	return edges[0]
}

// router: the router node classifies the task and exactly one route target runs.
func router(ctx context.Context, r *Run) (Result, error) {
	ordered := OrderedNodes(r.Topology)
	routerID := firstOf(withRole(r.Topology, "router"), sourceOf(r.Topology, models.EdgeRoute), ordered[0])

	routes := edgesFrom(r.Topology, routerID, models.EdgeRoute)
	if len(routes) == 0 {
		routes = edgesFrom(r.Topology, routerID, models.EdgeConditional)
	}

	prompt := r.Task()
	if tags := routeTags(routes); len(tags) > 0 {
		prompt += "\n\nChoose the route for this task and name it explicitly. Routes: " + strings.Join(tags, ", ")
	}

	decision, err := r.Execute(ctx, Step{NodeID: routerID, Prompt: prompt, To: "all"})
	if err != nil {
		return Result{}, err
	}

	if decision.Failed || len(routes) == 0 {
		return conclude([]NodeOutput{decision}), nil
	}

	route := SelectRoute(routes, decision.Text)

	r.System(ctx, "Routed to "+r.Agent(route.To))

	handled, err := r.Execute(ctx, Step{NodeID: route.To, Prompt: r.Task(), Context: decision.Label(), To: "all"})
	if err != nil {
		return Result{}, err
	}

	return conclude([]NodeOutput{decision, handled}), nil
}

// pubSub: the publisher's output is delivered concurrently to every
// subscriber whose topic matches it. Untagged subscriptions always match.
func pubSub(ctx context.Context, r *Run) (Result, error) {
	ordered := OrderedNodes(r.Topology)
	publisher := firstOf(withRole(r.Topology, "publisher"), sourceOf(r.Topology, models.EdgePublish), ordered[0])

	published, err := r.Execute(ctx, Step{NodeID: publisher, Prompt: r.Task(), To: "all"})
	if err != nil {
		return Result{}, err
	}

	if published.Failed {
		return conclude([]NodeOutput{published}), nil
	}

	subs := edgesFrom(r.Topology, publisher, models.EdgePublish)
	if len(subs) == 0 {
		for _, id := range without(ordered, publisher) {
			subs = append(subs, &models.Edge{From: publisher, To: id, Type: models.EdgePublish})
		}
	}

	lower := strings.ToLower(published.Text)

	var matched []*models.Edge

	for _, e := range subs {
		if e.Condition == "" || strings.Contains(lower, strings.ToLower(e.Condition)) {
			matched = append(matched, e)
		}
	}

	steps := make([]Step, 0, len(matched))
	for _, id := range targets(matched) {
		steps = append(steps, Step{NodeID: id, Prompt: r.Task(), Context: published.Label(), To: "all"})
	}

	received, err := r.FanOut(ctx, steps)
	if err != nil {
		return Result{}, err
	}

	return conclude(append([]NodeOutput{published}, received...)), nil
}

func routeTags(edges []*models.Edge) []string {
	var tags []string

	for _, e := range edges {
		if e.Condition != "" {
			tags = append(tags, e.Condition)
		}
	}

	return tags
}
