package topology

import (
	"slices"

	"github.com/dukex/sortie/pkg/models"
)

// OrderedNodes returns node ids in topological order over sequential and
// parallel edges. Ties keep declaration order; nodes caught in a cycle are
// appended in declaration order instead of failing.
func OrderedNodes(topo *models.TopologyDefinition) []string {
	return orderBy(topo, func(e *models.Edge) bool {
		return e.Type == models.EdgeSequential || e.Type == models.EdgeParallel
	})
}

// Waves groups nodes so that every node's predecessors, over all edge types,
// sit in an earlier wave.
func Waves(topo *models.TopologyDefinition) [][]string {
	incoming := predecessors(topo, nil)
	done := make(map[string]bool, len(topo.Nodes))
	remaining := declared(topo)

	var waves [][]string

	for len(remaining) > 0 {
		var wave, rest []string

		for _, id := range remaining {
			if allDone(incoming[id], done) {
				wave = append(wave, id)
			} else {
				rest = append(rest, id)
			}
		}

		if len(wave) == 0 {
			waves = append(waves, rest)

			break
		}

		for _, id := range wave {
			done[id] = true
		}

		waves = append(waves, wave)
		remaining = rest
	}

	return waves
}

func orderBy(topo *models.TopologyDefinition, include func(*models.Edge) bool) []string {
	incoming := predecessors(topo, include)
	done := make(map[string]bool, len(topo.Nodes))
	remaining := declared(topo)
	ordered := make([]string, 0, len(remaining))

	for len(remaining) > 0 {
		var ready, rest []string

		for _, id := range remaining {
			if allDone(incoming[id], done) {
				ready = append(ready, id)
			} else {
				rest = append(rest, id)
			}
		}

		if len(ready) == 0 {
			return append(ordered, rest...)
		}

		for _, id := range ready {
			done[id] = true
		}

		ordered = append(ordered, ready...)
		remaining = rest
	}

	return ordered
}

func declared(topo *models.TopologyDefinition) []string {
	ids := make([]string, 0, len(topo.Nodes))
	for _, n := range topo.Nodes {
		ids = append(ids, n.ID)
	}

	return ids
}

// predecessors maps node id to the ids feeding it. A nil filter keeps every edge.
func predecessors(topo *models.TopologyDefinition, include func(*models.Edge) bool) map[string][]string {
	incoming := make(map[string][]string, len(topo.Nodes))

	for _, e := range topo.Edges {
		if include != nil && !include(e) {
			continue
		}

		if topo.Node(e.From) == nil || topo.Node(e.To) == nil || e.From == e.To {
			continue
		}

		if !slices.Contains(incoming[e.To], e.From) {
			incoming[e.To] = append(incoming[e.To], e.From)
		}
	}

	return incoming
}

func allDone(ids []string, done map[string]bool) bool {
	for _, id := range ids {
		if !done[id] {
			return false
		}
	}

	return true
}

// edgesFrom returns the edges of type t leaving from, in declaration order.
func edgesFrom(topo *models.TopologyDefinition, from string, t models.EdgeType) []*models.Edge {
	var out []*models.Edge

	for _, e := range topo.Edges {
		if e.From == from && e.Type == t && topo.Node(e.To) != nil {
			out = append(out, e)
		}
	}

	return out
}

// targets returns the distinct destination ids of edges.
func targets(edges []*models.Edge) []string {
	var ids []string

	for _, e := range edges {
		if !slices.Contains(ids, e.To) {
			ids = append(ids, e.To)
		}
	}

	return ids
}

// sourceOf returns the first node with an outgoing edge of type t.
func sourceOf(topo *models.TopologyDefinition, t models.EdgeType) string {
	for _, e := range topo.Edges {
		if e.Type == t && topo.Node(e.From) != nil {
			return e.From
		}
	}

	return ""
}

// targetOf returns the first node with an incoming edge of type t.
func targetOf(topo *models.TopologyDefinition, t models.EdgeType) string {
	for _, e := range topo.Edges {
		if e.Type == t && topo.Node(e.To) != nil {
			return e.To
		}
	}

	return ""
}

// withRole returns the first node whose role is one of roles.
func withRole(topo *models.TopologyDefinition, roles ...string) string {
	for _, n := range topo.Nodes {
		if n.Role != "" && slices.Contains(roles, n.Role) {
			return n.ID
		}
	}

	return ""
}

// firstOf returns the first non-empty id.
func firstOf(ids ...string) string {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}

	return ""
}

func without(ids []string, exclude ...string) []string {
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if !slices.Contains(exclude, id) {
			out = append(out, id)
		}
	}

	return out
}
