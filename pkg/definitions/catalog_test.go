package definitions_test

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/dukex/sortie/pkg/definitions"
	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loopTopology = `
id: review-loop
name: Review loop
type: loop
nodes:
  - id: writer
    agent: dev
  - id: reviewer
    agent: qa
edges:
  - from: writer
    to: reviewer
    type: sequential
config:
  max_iterations: 3
`

const soloTopology = `
id: solo
name: Solo
type: solo
nodes:
  - id: lead
    agent: dev
`

const featureWorkflow = `
id: feature
name: Feature delivery
phases:
  - id: design
    name: Design
    topology_id: solo
    gate: always
  - id: build
    name: Build
    topology_id: review-loop
    gate: all_approved
    retry_count: 2
    timeout: 10m
    participants: [alice, bob]
`

func TestLoad(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"topologies/loop.yaml":   {Data: []byte(loopTopology)},
		"topologies/solo.yml":    {Data: []byte(soloTopology)},
		"topologies/README.md":   {Data: []byte("ignored")},
		"workflows/feature.yaml": {Data: []byte(featureWorkflow)},
	}

	catalog, err := definitions.Load(fsys)
	require.NoError(t, err)

	topo, err := catalog.Topology("review-loop")
	require.NoError(t, err)
	assert.Equal(t, models.TopologyLoop, topo.Type)
	assert.Equal(t, 3, topo.IntConfig("max_iterations", 5))

	topo.Nodes[0].Agent = "mutated"

	again, err := catalog.Topology("review-loop")
	require.NoError(t, err)
	assert.Equal(t, "dev", again.Nodes[0].Agent)

	wf, err := catalog.Workflow("feature")
	require.NoError(t, err)
	require.Len(t, wf.Phases, 2)
	assert.Equal(t, models.GateAllApproved, wf.Phases[1].Gate)
	assert.Equal(t, 10*time.Minute, wf.Phases[1].Timeout)
	assert.Equal(t, []string{"alice", "bob"}, wf.Phases[1].Participants)

	assert.Len(t, catalog.Topologies(), 2)
	assert.Equal(t, "review-loop", catalog.Topologies()[0].ID)
	assert.Len(t, catalog.Workflows(), 1)

	_, err = catalog.Workflow("missing")
	require.ErrorIs(t, err, definitions.ErrWorkflowNotFound)

	_, err = catalog.Topology("missing")
	require.ErrorIs(t, err, definitions.ErrTopologyNotFound)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   fstest.MapFS
		wantErr error
	}{
		{
			name: "unknown topology type",
			files: fstest.MapFS{
				"topologies/x.yaml": {Data: []byte("id: x\nname: X\ntype: mesh\nnodes:\n  - id: a\n")},
			},
			wantErr: topology.ErrUnknownType,
		},
		{
			name: "bad config",
			files: fstest.MapFS{
				"topologies/x.yaml": {Data: []byte("id: x\nname: X\ntype: loop\nnodes:\n  - id: a\nconfig:\n  quorum_rule: most\n")},
			},
			wantErr: topology.ErrInvalidTopology,
		},
		{
			name: "missing required field",
			files: fstest.MapFS{
				"topologies/x.yaml": {Data: []byte("id: x\ntype: solo\nnodes:\n  - id: a\n")},
			},
			wantErr: definitions.ErrInvalidDefinition,
		},
		{
			name: "unknown yaml field",
			files: fstest.MapFS{
				"topologies/x.yaml": {Data: []byte("id: x\nname: X\ntype: solo\nkind: other\nnodes:\n  - id: a\n")},
			},
			wantErr: definitions.ErrInvalidDefinition,
		},
		{
			name: "workflow references unknown topology",
			files: fstest.MapFS{
				"workflows/w.yaml": {Data: []byte(featureWorkflow)},
			},
			wantErr: definitions.ErrTopologyNotFound,
		},
		{
			name: "invalid gate",
			files: fstest.MapFS{
				"topologies/solo.yaml": {Data: []byte(soloTopology)},
				"workflows/w.yaml":     {Data: []byte("id: w\nname: Broken\nphases:\n  - id: a\n    name: A\n    topology_id: solo\n    gate: sometimes\n")},
			},
			wantErr: definitions.ErrInvalidDefinition,
		},
		{
			name: "duplicate topology",
			files: fstest.MapFS{
				"topologies/a.yaml": {Data: []byte(soloTopology)},
				"topologies/b.yaml": {Data: []byte(soloTopology)},
			},
			wantErr: definitions.ErrDuplicateDefinition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := definitions.Load(tt.files)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"topologies/a.yaml": {Data: []byte("id: a\nname: A\ntype: mesh\nnodes:\n  - id: n\n")},
		"topologies/b.yaml": {Data: []byte("id: b\nname: B\ntype: router\nnodes:\n  - id: n\nedges:\n  - from: n\n    to: ghost\n    type: route\n")},
	}

	_, err := definitions.Load(fsys)
	require.Error(t, err)

	assert.Contains(t, err.Error(), "topologies/a.yaml")
	assert.Contains(t, err.Error(), "topologies/b.yaml")
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, definitions.TopologiesDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, definitions.TopologiesDir, "solo.yaml"), []byte(soloTopology), 0o600))

	catalog, err := definitions.LoadDir(dir)
	require.NoError(t, err)

	_, err = catalog.Topology("solo")
	require.NoError(t, err)
	assert.Empty(t, catalog.Workflows())
}
