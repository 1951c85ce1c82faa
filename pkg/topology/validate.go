package topology

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/sortie/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidTopology = errors.New("invalid topology")

var knownTypes = map[models.TopologyType]int{
	models.TopologySolo:            1,
	models.TopologySequential:      1,
	models.TopologyParallel:        1,
	models.TopologyLoop:            1,
	models.TopologyRouter:          1,
	models.TopologyAggregator:      2,
	models.TopologyHierarchical:    1,
	models.TopologyNetwork:         1,
	models.TopologyHumanInTheLoop:  1,
	models.TopologyWave:            1,
	models.TopologyMapReduce:       2,
	models.TopologyBlackboard:      1,
	models.TopologySupervisorRetry: 1,
	models.TopologySwarm:           1,
	models.TopologySaga:            1,
	models.TopologyConsensus:       1,
	models.TopologyPubSub:          1,
}

var knownEdges = map[models.EdgeType]bool{
	models.EdgeSequential:  true,
	models.EdgeParallel:    true,
	models.EdgeDelegation:  true,
	models.EdgeReport:      true,
	models.EdgeConditional: true,
	models.EdgeAggregate:   true,
	models.EdgeVote:        true,
	models.EdgePublish:     true,
	models.EdgeRoute:       true,
}

var configSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"max_iterations": map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
		"max_rounds":     map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
		"max_retries":    map[string]any{"type": "integer", "minimum": 0, "maximum": 20},
		"quorum_rule":    map[string]any{"enum": []any{"majority", "unanimous", "any"}},
		"compensation":   map[string]any{"type": "string"},
	},
}

// Validate checks that topo has a known type, enough uniquely named nodes,
// edges between existing nodes and a well-formed config.
func Validate(topo *models.TopologyDefinition) error {
	if topo == nil {
		return fmt.Errorf("%w: nil topology", ErrInvalidTopology)
	}

	minNodes, ok := knownTypes[topo.Type.Canonical()]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, topo.Type)
	}

	if len(topo.Nodes) < minNodes {
		return fmt.Errorf("%w: %s %q needs at least %d nodes", ErrInvalidTopology, topo.Type, topo.ID, minNodes)
	}

	seen := make(map[string]bool, len(topo.Nodes))
	for _, n := range topo.Nodes {
		if n == nil || n.ID == "" {
			return fmt.Errorf("%w: %q has a node without id", ErrInvalidTopology, topo.ID)
		}

		if seen[n.ID] {
			return fmt.Errorf("%w: %q has duplicate node %q", ErrInvalidTopology, topo.ID, n.ID)
		}

		seen[n.ID] = true
	}

	for _, e := range topo.Edges {
		if e == nil {
			return fmt.Errorf("%w: %q has a nil edge", ErrInvalidTopology, topo.ID)
		}

		if !seen[e.From] || !seen[e.To] {
			return fmt.Errorf("%w: %q edge %s->%s references an unknown node", ErrInvalidTopology, topo.ID, e.From, e.To)
		}

		if !knownEdges[e.Type] {
			return fmt.Errorf("%w: %q edge %s->%s has unknown type %q", ErrInvalidTopology, topo.ID, e.From, e.To, e.Type)
		}
	}

	return validateConfig(topo)
}

func validateConfig(topo *models.TopologyDefinition) error {
	if len(topo.Config) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(configSchema), gojsonschema.NewGoLoader(topo.Config))
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("%w: %q config: %s", ErrInvalidTopology, topo.ID, strings.Join(errs, "; "))
	}

	return nil
}
