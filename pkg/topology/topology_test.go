package topology_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/protocol"
	"github.com/dukex/sortie/pkg/sessions"
	"github.com/dukex/sortie/pkg/testutil"
	"github.com/dukex/sortie/pkg/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInterpreter(exec *testutil.ScriptedExecutor) (*topology.Interpreter, *sessions.MemoryLog) {
	log := sessions.NewMemoryLog(sessions.DefaultMaxMessages)

	return topology.NewInterpreter(exec, log, slog.Default()), log
}

func request() topology.Request {
	return topology.Request{SessionID: "s1", MissionID: "m1", PhaseID: "p1", Task: "Build the thing"}
}

func firstPrompt(exec *testutil.ScriptedExecutor, participant string) string {
	for _, c := range exec.Calls() {
		if c.Participant == participant {
			return c.Prompt
		}
	}

	return ""
}

func TestInterpreter_Sequential(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec := testutil.NewScriptedExecutor()
	interp, log := newInterpreter(exec)

	topo := testutil.CreateTestTopology(models.TopologySequential, []string{"a", "b", "c"})

	result, err := interp.Execute(ctx, topo, request())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Len(t, result.Outputs, 3)
	assert.Equal(t, "c done", result.Summary)
	assert.Contains(t, firstPrompt(exec, "b"), "[a]:\na done")
	assert.Contains(t, firstPrompt(exec, "c"), "[b]:\nb done")

	messages, err := log.Recent(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 5)
	assert.Equal(t, models.MessageSystem, messages[0].Type)
	assert.Contains(t, messages[0].Content, "started")
	assert.Equal(t, "b", messages[1].To)
	assert.Equal(t, models.MessageSystem, messages[4].Type)

	call := exec.Calls()[0]
	assert.Equal(t, "m1", call.ExecContext.MissionID)
	assert.Equal(t, "a", call.ExecContext.NodeID)
}

func TestInterpreter_NodeOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		reply       testutil.Reply
		wantErr     func(error) bool
		wantSuccess bool
		wantError   string
	}{
		{
			name:        "veto fails the run",
			reply:       testutil.Reply{Text: "[VETO] not ready"},
			wantSuccess: false,
			wantError:   "b vetoed",
		},
		{
			name:        "approval passes",
			reply:       testutil.Reply{Text: "[APPROVE]"},
			wantSuccess: true,
		},
		{
			name:        "unclassified agent error fails the node",
			reply:       testutil.Reply{Err: &protocol.AgentError{Message: "tool crashed"}},
			wantSuccess: false,
			wantError:   "b failed: tool crashed",
		},
		{
			name:    "transient agent error aborts",
			reply:   testutil.Reply{Err: &protocol.AgentError{Kind: protocol.ErrorTransient, Message: "overloaded"}},
			wantErr: protocol.IsTransient,
		},
		{
			name:    "fatal agent error aborts",
			reply:   testutil.Reply{Err: &protocol.AgentError{Kind: protocol.ErrorFatal, Message: "bad credentials"}},
			wantErr: protocol.IsFatal,
		},
		{
			name:    "connection error from executor aborts as transient",
			reply:   testutil.Reply{RunErr: errors.New("dial tcp: connection refused")},
			wantErr: protocol.IsTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exec := testutil.NewScriptedExecutor().Script("b", tt.reply)
			interp, _ := newInterpreter(exec)

			topo := testutil.CreateTestTopology(models.TopologySequential, []string{"a", "b", "c"})

			result, err := interp.Execute(context.Background(), topo, request())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err))
				assert.Zero(t, exec.CallsFor("c"))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, result.Success)
			assert.Equal(t, tt.wantError, result.Error)
		})
	}
}

func TestInterpreter_UnknownType(t *testing.T) {
	t.Parallel()

	interp, _ := newInterpreter(testutil.NewScriptedExecutor())
	topo := testutil.CreateTestTopology("telepathy", []string{"a"})

	_, err := interp.Execute(context.Background(), topo, request())

	require.Error(t, err)
	assert.ErrorIs(t, err, topology.ErrUnknownType)
	assert.True(t, protocol.IsFatal(err))
}

func TestInterpreter_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	exec := testutil.NewScriptedExecutor().Script("a", testutil.Reply{Text: "slow", Delay: 5 * time.Second})
	interp, _ := newInterpreter(exec)

	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := interp.Execute(ctx, testutil.CreateTestTopology(models.TopologySolo, []string{"a"}), request())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestInterpreter_Parallel(t *testing.T) {
	t.Parallel()

	exec := testutil.NewScriptedExecutor().
		Script("lead", testutil.Reply{Text: `Plan: {"workers": ["write the api", "write the ui"]}`}).
		Script("w1", testutil.Reply{Text: "api ok", Delay: 50 * time.Millisecond}).
		Script("w2", testutil.Reply{Text: "ui ok", Delay: 50 * time.Millisecond})
	interp, _ := newInterpreter(exec)

	topo := testutil.CreateTestTopology(models.TopologyParallel, []string{"lead", "w1", "w2", "agg"}, testutil.WithEdges(
		testutil.Edge("lead", "w1", models.EdgeParallel),
		testutil.Edge("lead", "w2", models.EdgeParallel),
		testutil.Edge("w1", "agg", models.EdgeAggregate),
		testutil.Edge("w2", "agg", models.EdgeAggregate),
	))

	result, err := interp.Execute(context.Background(), topo, request())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, strings.HasPrefix(firstPrompt(exec, "w1"), "write the api"))
	assert.True(t, strings.HasPrefix(firstPrompt(exec, "w2"), "write the ui"))
	assert.Contains(t, firstPrompt(exec, "agg"), "[w1]:\napi ok\n\n---\n[w2]:\nui ok")
	assert.GreaterOrEqual(t, exec.MaxConcurrent(), 2)
}

func TestExtractSubtasks(t *testing.T) {
	t.Parallel()

	text := "ok\n" + `{"workers": ["a", "b"]}`

	assert.Equal(t, []string{"a", "b"}, topology.ExtractSubtasks(text, 2))
	assert.Nil(t, topology.ExtractSubtasks(text, 3))
	assert.Nil(t, topology.ExtractSubtasks("no json", 2))
}

func TestInterpreter_Loop(t *testing.T) {
	t.Parallel()

	t.Run("stops on approval", func(t *testing.T) {
		t.Parallel()

		exec := testutil.NewScriptedExecutor().
			Script("critic", testutil.Reply{Text: "[VETO] add tests"}, testutil.Reply{Text: "[APPROVE]"})
		interp, _ := newInterpreter(exec)

		result, err := interp.Execute(context.Background(),
			testutil.CreateTestTopology(models.TopologyLoop, []string{"writer", "critic"}), request())
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, 2, exec.CallsFor("writer"))
		assert.Contains(t, exec.Calls()[2].Prompt, "add tests")
	})

	t.Run("fails when budget is exhausted", func(t *testing.T) {
		t.Parallel()

		exec := testutil.NewScriptedExecutor().Script("critic", testutil.Reply{Text: "[VETO] no"})
		interp, _ := newInterpreter(exec)

		topo := testutil.CreateTestTopology(models.TopologyLoop, []string{"writer", "critic"},
			testutil.WithTopologyConfig(map[string]any{"max_iterations": 2}))

		result, err := interp.Execute(context.Background(), topo, request())
		require.NoError(t, err)

		assert.False(t, result.Success)
		assert.Equal(t, 2, exec.CallsFor("writer"))
		assert.Contains(t, result.Error, "no approval after 2 iterations")
	})
}

func TestInterpreter_SupervisorRetry(t *testing.T) {
	t.Parallel()

	exec := testutil.NewScriptedExecutor().
		Script("worker", testutil.Reply{Err: &protocol.AgentError{Message: "compile error"}}, testutil.Reply{Text: "fixed"}).
		Script("boss", testutil.Reply{Text: "[APPROVE]"})
	interp, _ := newInterpreter(exec)

	result, err := interp.Execute(context.Background(),
		testutil.CreateTestTopology(models.TopologySupervisorRetry, []string{"worker", "boss"}), request())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, exec.CallsFor("worker"))
	assert.Equal(t, 1, exec.CallsFor("boss"))
	assert.Equal(t, "fixed", result.Summary)
}

func TestInterpreter_Consensus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rule    string
		success bool
	}{
		{"majority", true},
		{"unanimous", false},
		{"any", true},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			t.Parallel()

			exec := testutil.NewScriptedExecutor().
				Script("v1", testutil.Reply{Text: "[APPROVE]"}).
				Script("v2", testutil.Reply{Text: "[APPROVE]"}).
				Script("v3", testutil.Reply{Text: "[VETO]"})
			interp, _ := newInterpreter(exec)

			topo := testutil.CreateTestTopology(models.TopologyConsensus, []string{"v1", "v2", "v3"},
				testutil.WithTopologyConfig(map[string]any{"quorum_rule": tt.rule}))

			result, err := interp.Execute(context.Background(), topo, request())
			require.NoError(t, err)
			assert.Equal(t, tt.success, result.Success)
		})
	}
}

func TestInterpreter_Router(t *testing.T) {
	t.Parallel()

	exec := testutil.NewScriptedExecutor().Script("triage", testutil.Reply{Text: "this is a UI task"})
	interp, _ := newInterpreter(exec)

	topo := testutil.CreateTestTopology(models.TopologyRouter, []string{"triage", "backend", "frontend"}, testutil.WithEdges(
		&models.Edge{From: "triage", To: "backend", Type: models.EdgeRoute, Condition: "api"},
		&models.Edge{From: "triage", To: "frontend", Type: models.EdgeRoute, Condition: "ui"},
	))

	result, err := interp.Execute(context.Background(), topo, request())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, exec.CallsFor("frontend"))
	assert.Zero(t, exec.CallsFor("backend"))
}

func TestInterpreter_PubSub(t *testing.T) {
	t.Parallel()

	exec := testutil.NewScriptedExecutor().Script("pub", testutil.Reply{Text: "billing update"})
	interp, _ := newInterpreter(exec)

	topo := testutil.CreateTestTopology(models.TopologyPubSub, []string{"pub", "billing", "shipping", "audit"}, testutil.WithEdges(
		&models.Edge{From: "pub", To: "billing", Type: models.EdgePublish, Condition: "billing"},
		&models.Edge{From: "pub", To: "shipping", Type: models.EdgePublish, Condition: "shipping"},
		&models.Edge{From: "pub", To: "audit", Type: models.EdgePublish},
	))

	result, err := interp.Execute(context.Background(), topo, request())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, exec.CallsFor("billing"))
	assert.Equal(t, 1, exec.CallsFor("audit"))
	assert.Zero(t, exec.CallsFor("shipping"))
}

func TestInterpreter_HumanInTheLoop(t *testing.T) {
	t.Parallel()

	interp, _ := newInterpreter(testutil.NewScriptedExecutor())

	result, err := interp.Execute(context.Background(),
		testutil.CreateTestTopology(models.TopologyHumanInTheLoop, []string{"a", "b"}), request())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.NeedsValidation)
}

func TestInterpreter_Hierarchical(t *testing.T) {
	t.Parallel()

	exec := testutil.NewScriptedExecutor().
		Script("mgr", testutil.Reply{Text: "[SUBTASK 1]: api\n[SUBTASK 2]: ui"}).
		Script("qa", testutil.Reply{Text: "[VETO] api has no auth"}, testutil.Reply{Text: "[APPROVE]"})
	interp, _ := newInterpreter(exec)

	topo := testutil.CreateTestTopology(models.TopologyHierarchical, []string{"mgr", "w1", "w2", "qa"},
		testutil.WithEdges(
			testutil.Edge("mgr", "w1", models.EdgeDelegation),
			testutil.Edge("mgr", "w2", models.EdgeDelegation),
			testutil.Edge("w1", "qa", models.EdgeReport),
			testutil.Edge("w2", "qa", models.EdgeReport),
		),
		testutil.WithRole("mgr", "manager"),
	)

	result, err := interp.Execute(context.Background(), topo, request())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, exec.CallsFor("mgr"))
	assert.True(t, strings.HasPrefix(firstPrompt(exec, "w1"), "api"))
	assert.True(t, strings.HasPrefix(firstPrompt(exec, "w2"), "ui"))
}

func TestInterpreter_DebateAlias(t *testing.T) {
	t.Parallel()

	exec := testutil.NewScriptedExecutor().
		Script("judge", testutil.Reply{Text: "frame"}, testutil.Reply{Text: "DECISION: GO"}).
		Script("pro", testutil.Reply{Text: "[VETO] strongly against"})
	interp, _ := newInterpreter(exec)

	topo := testutil.CreateTestTopology(models.TopologyDebate, []string{"judge", "pro", "con"},
		testutil.WithRole("judge", "judge"),
		testutil.WithTopologyConfig(map[string]any{"max_rounds": 2}))

	result, err := interp.Execute(context.Background(), topo, request())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, exec.CallsFor("pro"))
	assert.Equal(t, 2, exec.CallsFor("judge"))
}

func TestInterpreter_Wave(t *testing.T) {
	t.Parallel()

	exec := testutil.NewScriptedExecutor().Respond(func(participant, _ string) testutil.Reply {
		return testutil.Reply{Text: participant + " done", Delay: 30 * time.Millisecond}
	})
	interp, _ := newInterpreter(exec)

	topo := testutil.CreateTestTopology(models.TopologyWave, []string{"a", "b", "c", "d"}, testutil.WithEdges(
		testutil.Edge("a", "d", models.EdgeSequential),
		testutil.Edge("b", "d", models.EdgeSequential),
	))

	result, err := interp.Execute(context.Background(), topo, request())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Len(t, result.Outputs, 4)
	assert.Contains(t, firstPrompt(exec, "d"), "[a]:\na done")
	assert.Contains(t, firstPrompt(exec, "d"), "[b]:\nb done")
	assert.GreaterOrEqual(t, exec.MaxConcurrent(), 2)
	assert.Equal(t, "d", exec.Calls()[3].Participant)
}

func TestInterpreter_Swarm(t *testing.T) {
	t.Parallel()

	exec := testutil.NewScriptedExecutor()
	interp, _ := newInterpreter(exec)

	topo := testutil.CreateTestTopology(models.TopologySwarm, []string{"a", "b"},
		testutil.WithTopologyConfig(map[string]any{"max_rounds": 3}))

	result, err := interp.Execute(context.Background(), topo, request())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, exec.CallsFor("a"))
	assert.Len(t, result.Outputs, 2)
}

func TestInterpreter_MapReduce(t *testing.T) {
	t.Parallel()

	exec := testutil.NewScriptedExecutor()
	interp, _ := newInterpreter(exec)

	req := request()
	req.Task = "line1\nline2\nline3\nline4"

	result, err := interp.Execute(context.Background(),
		testutil.CreateTestTopology(models.TopologyMapReduce, []string{"m1", "m2", "red"}), req)
	require.NoError(t, err)

	assert.True(t, result.Success)

	m1 := firstPrompt(exec, "m1")
	assert.Contains(t, m1, "[SHARD 1/2]")
	assert.Contains(t, m1, "line3")
	assert.NotContains(t, m1, "line2")
	assert.Contains(t, firstPrompt(exec, "red"), "[m2]:\nm2 done")
}

func TestInterpreter_Saga(t *testing.T) {
	t.Parallel()

	exec := testutil.NewScriptedExecutor().Script("charge", testutil.Reply{Text: "[VETO] card declined"})
	interp, _ := newInterpreter(exec)

	topo := testutil.CreateTestTopology(models.TopologySaga, []string{"reserve", "charge", "undo"},
		testutil.WithTopologyConfig(map[string]any{"compensation": "undo"}))

	result, err := interp.Execute(context.Background(), topo, request())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "compensated")
	assert.Equal(t, 1, exec.CallsFor("undo"))
	assert.Contains(t, firstPrompt(exec, "undo"), "[reserve]:\nreserve done")
}

func TestInterpreter_SagaCheckpointEdges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		failing     string
		compensated bool
	}{
		{name: "failure at the checkpoint step", failing: "charge", compensated: false},
		{name: "failure before the checkpoint", failing: "reserve", compensated: false},
		{name: "failure after the checkpoint", failing: "ship", compensated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exec := testutil.NewScriptedExecutor().Script(tt.failing, testutil.Reply{Text: "[VETO] step failed"})
			interp, _ := newInterpreter(exec)

			topo := testutil.CreateTestTopology(models.TopologySaga, []string{"reserve", "charge", "ship", "undo"},
				testutil.WithTopologyConfig(map[string]any{"compensation": "undo"}),
				testutil.WithEdges(
					&models.Edge{From: "reserve", To: "charge", Type: models.EdgeSequential},
					&models.Edge{From: "charge", To: "ship", Type: models.EdgeSequential, Condition: "checkpoint"},
				))

			result, err := interp.Execute(context.Background(), topo, request())
			require.NoError(t, err)

			assert.False(t, result.Success)
			assert.Equal(t, tt.compensated, strings.Contains(result.Error, "compensated"))

			if tt.compensated {
				assert.Equal(t, 1, exec.CallsFor("undo"))
			} else {
				assert.Zero(t, exec.CallsFor("undo"))
			}
		})
	}
}

func TestInterpreter_Blackboard(t *testing.T) {
	t.Parallel()

	exec := testutil.NewScriptedExecutor().Script("b", testutil.Reply{Text: "finished [DONE]"})
	interp, _ := newInterpreter(exec)

	result, err := interp.Execute(context.Background(),
		testutil.CreateTestTopology(models.TopologyBlackboard, []string{"a", "b", "c"}), request())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, exec.CallsFor("a"))
	assert.Zero(t, exec.CallsFor("c"))
}

func TestInterpreter_ContextFromPreviousPhases(t *testing.T) {
	t.Parallel()

	exec := testutil.NewScriptedExecutor()
	interp, _ := newInterpreter(exec)

	req := request()
	req.Context = []string{"Phase 1: chose postgres"}

	_, err := interp.Execute(context.Background(), testutil.CreateTestTopology(models.TopologySolo, []string{"a"}), req)
	require.NoError(t, err)

	assert.Contains(t, firstPrompt(exec, "a"), "[Previous phases]:\nPhase 1: chose postgres")
}
