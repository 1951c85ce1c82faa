package topology

import (
	"fmt"

	"github.com/dukex/sortie/pkg/models"
)

// Bind returns a copy of topo with participants assigned to its nodes in
// order. Participants beyond the node count become extra nodes fed by the
// leader over parallel edges. An empty participant list keeps the defaults.
func Bind(topo *models.TopologyDefinition, participants []string) *models.TopologyDefinition {
	bound := topo.Clone()
	if len(participants) == 0 {
		return bound
	}

	ordered := OrderedNodes(bound)

	for i, id := range ordered {
		if i >= len(participants) {
			break
		}

		bound.Node(id).Agent = participants[i]
	}

	if len(participants) <= len(ordered) || len(ordered) == 0 {
		return bound
	}

	leader := ordered[0]

	for i, agent := range participants[len(ordered):] {
		id := fmt.Sprintf("extra-%d", i+1)
		for bound.Node(id) != nil {
			id += "x"
		}

		bound.Nodes = append(bound.Nodes, &models.Node{ID: id, Agent: agent})
		bound.Edges = append(bound.Edges, &models.Edge{From: leader, To: id, Type: models.EdgeParallel})
	}

	return bound
}
