// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"
	"time"

	"github.com/dukex/sortie/pkg/models"
	"github.com/google/uuid"
)

// CreateTestTopology creates a topology with one node per agent, chained by
// sequential edges, that can be overridden.
func CreateTestTopology(t models.TopologyType, agents []string, overrides ...func(*models.TopologyDefinition)) *models.TopologyDefinition {
	topo := &models.TopologyDefinition{
		ID:   string(t) + "-" + uuid.NewString()[:8],
		Name: "Test " + string(t),
		Type: t,
	}

	for i, agent := range agents {
		topo.Nodes = append(topo.Nodes, &models.Node{ID: agent, Agent: agent})

		if i > 0 {
			topo.Edges = append(topo.Edges, &models.Edge{From: agents[i-1], To: agent, Type: models.EdgeSequential})
		}
	}

	for _, override := range overrides {
		override(topo)
	}

	return topo
}

// WithEdges replaces the topology edges.
func WithEdges(edges ...*models.Edge) func(*models.TopologyDefinition) {
	return func(t *models.TopologyDefinition) {
		t.Edges = edges
	}
}

// WithTopologyConfig sets the topology configuration.
func WithTopologyConfig(config map[string]any) func(*models.TopologyDefinition) {
	return func(t *models.TopologyDefinition) {
		t.Config = config
	}
}

// WithRole sets the role of one node.
func WithRole(nodeID, role string) func(*models.TopologyDefinition) {
	return func(t *models.TopologyDefinition) {
		if n := t.Node(nodeID); n != nil {
			n.Role = role
		}
	}
}

// Edge is shorthand for building an edge.
func Edge(from, to string, edgeType models.EdgeType) *models.Edge {
	return &models.Edge{From: from, To: to, Type: edgeType}
}

// CreateTestWorkflow creates a workflow with n phases bound to topologyID.
func CreateTestWorkflow(n int, topologyID string, overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	wf := &models.WorkflowDefinition{
		ID:        "wf-" + uuid.NewString()[:8],
		Name:      "Test Workflow",
		CreatedAt: time.Now().UTC(),
	}

	for i := range n {
		wf.Phases = append(wf.Phases, &models.PhaseDefinition{
			ID:         fmt.Sprintf("p%d", i+1),
			Name:       fmt.Sprintf("Phase %d", i+1),
			TopologyID: topologyID,
			Gate:       models.GateAlways,
		})
	}

	for _, override := range overrides {
		override(wf)
	}

	return wf
}

// WithPhase modifies the phase at index i.
func WithPhase(i int, fn func(*models.PhaseDefinition)) func(*models.WorkflowDefinition) {
	return func(wf *models.WorkflowDefinition) {
		fn(wf.Phases[i])
	}
}
