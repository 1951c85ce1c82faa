package topology_test

import (
	"testing"

	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/testutil"
	"github.com/dukex/sortie/pkg/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		topo    *models.TopologyDefinition
		wantErr error
	}{
		{
			name: "valid sequential",
			topo: testutil.CreateTestTopology(models.TopologySequential, []string{"a", "b"}),
		},
		{
			name: "debate alias is known",
			topo: testutil.CreateTestTopology(models.TopologyDebate, []string{"a", "b"}),
		},
		{
			name:    "unknown type",
			topo:    testutil.CreateTestTopology("mesh", []string{"a"}),
			wantErr: topology.ErrUnknownType,
		},
		{
			name:    "map-reduce needs a mapper and a reducer",
			topo:    testutil.CreateTestTopology(models.TopologyMapReduce, []string{"a"}),
			wantErr: topology.ErrInvalidTopology,
		},
		{
			name: "duplicate node",
			topo: testutil.CreateTestTopology(models.TopologySequential, []string{"a", "b"}, func(t *models.TopologyDefinition) {
				t.Nodes[1].ID = "a"
				t.Edges = nil
			}),
			wantErr: topology.ErrInvalidTopology,
		},
		{
			name: "edge to unknown node",
			topo: testutil.CreateTestTopology(models.TopologySequential, []string{"a"},
				testutil.WithEdges(testutil.Edge("a", "ghost", models.EdgeSequential))),
			wantErr: topology.ErrInvalidTopology,
		},
		{
			name: "unknown edge type",
			topo: testutil.CreateTestTopology(models.TopologySequential, []string{"a", "b"},
				testutil.WithEdges(testutil.Edge("a", "b", "teleport"))),
			wantErr: topology.ErrInvalidTopology,
		},
		{
			name: "bad quorum rule",
			topo: testutil.CreateTestTopology(models.TopologyConsensus, []string{"a", "b"},
				testutil.WithTopologyConfig(map[string]any{"quorum_rule": "plurality"})),
			wantErr: topology.ErrInvalidTopology,
		},
		{
			name: "non positive iterations",
			topo: testutil.CreateTestTopology(models.TopologyLoop, []string{"a", "b"},
				testutil.WithTopologyConfig(map[string]any{"max_iterations": 0})),
			wantErr: topology.ErrInvalidTopology,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := topology.Validate(tt.topo)
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBind(t *testing.T) {
	t.Parallel()

	topo := testutil.CreateTestTopology(models.TopologyParallel, []string{"lead", "w1"})

	t.Run("empty participants keep defaults", func(t *testing.T) {
		t.Parallel()

		bound := topology.Bind(topo, nil)

		assert.Equal(t, "lead", bound.Node("lead").Agent)
		assert.NotSame(t, topo, bound)
	})

	t.Run("participants are assigned in order", func(t *testing.T) {
		t.Parallel()

		bound := topology.Bind(topo, []string{"alice", "bob"})

		assert.Equal(t, "alice", bound.Node("lead").Agent)
		assert.Equal(t, "bob", bound.Node("w1").Agent)
		assert.Equal(t, "lead", topo.Node("lead").Agent)
	})

	t.Run("extra participants hang off the leader", func(t *testing.T) {
		t.Parallel()

		bound := topology.Bind(topo, []string{"alice", "bob", "carol"})

		require.Len(t, bound.Nodes, 3)
		extra := bound.Nodes[2]
		assert.Equal(t, "carol", extra.Agent)
		assert.Contains(t, bound.Edges, &models.Edge{From: "lead", To: extra.ID, Type: models.EdgeParallel})
		require.NoError(t, topology.Validate(bound))
	})
}
