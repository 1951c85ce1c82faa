package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/sortie/pkg/definitions"
	"github.com/dukex/sortie/pkg/governor"
	"github.com/dukex/sortie/pkg/missions"
	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/persistence"
	"github.com/dukex/sortie/pkg/persistence/file"
	"github.com/dukex/sortie/pkg/reactions"
	"github.com/dukex/sortie/pkg/sessions"
	"github.com/dukex/sortie/pkg/testutil"
	"github.com/dukex/sortie/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parkedRunner keeps every mission running until its context ends.
type parkedRunner struct{}

func (parkedRunner) Run(ctx context.Context, _ string) (*models.MissionRun, error) {
	<-ctx.Done()

	return nil, ctx.Err()
}

func (parkedRunner) Signal(string) {}

type nopNotifier struct{}

func (nopNotifier) Push(context.Context, string, map[string]any) {}

type testEnv struct {
	app      *fiber.App
	repo     persistence.MissionRepository
	sessions *sessions.MemoryLog
	workflow *models.WorkflowDefinition
	topology *models.TopologyDefinition
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	log := sessions.NewMemoryLog(0)
	gov := governor.New(governor.Config{Capacity: 2})

	topo := testutil.CreateTestTopology(models.TopologySolo, []string{"dev"})
	wf := testutil.CreateTestWorkflow(2, topo.ID)

	catalog := definitions.NewCatalog()
	require.NoError(t, catalog.AddTopology(topo))
	require.NoError(t, catalog.AddWorkflow(wf))

	engine := reactions.NewEngine(nil, slog.Default())

	manager := missions.NewManager(
		store.MissionRepository(),
		catalog,
		parkedRunner{},
		gov,
		log,
		nopNotifier{},
		slog.Default(),
		missions.WithReactor(engine),
	)

	reactions.NewHandlers(log, nopNotifier{}, manager, slog.Default()).Register(engine)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = manager.Shutdown(ctx)
	})

	handlers := web.NewAPIHandlers(manager, catalog, engine, gov, log, store, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()

	m := app.Group("/missions")
	m.Get("/", handlers.GetMissions)
	m.Post("/", handlers.CreateMission)
	m.Get("/:id", handlers.GetMission)
	m.Post("/:id/run", handlers.RunMission)
	m.Post("/:id/pause", handlers.PauseMission)
	m.Post("/:id/reset", handlers.ResetMission)
	m.Post("/:id/validate", handlers.ValidateMission)
	m.Get("/:id/messages", handlers.GetMissionMessages)

	app.Get("/workflows", handlers.GetWorkflows)
	app.Get("/workflows/:id", handlers.GetWorkflow)
	app.Get("/topologies", handlers.GetTopologies)
	app.Get("/topologies/:id", handlers.GetTopology)

	r := app.Group("/reactions")
	r.Get("/rules", handlers.GetReactionRules)
	r.Put("/rules/:event", handlers.UpdateReactionRule)
	r.Get("/history", handlers.GetReactionHistory)
	r.Get("/stats", handlers.GetReactionStats)
	r.Post("/emit", handlers.EmitReaction)

	app.Get("/governor", handlers.GetGovernor)
	app.Get("/health", handlers.HealthCheck)

	return &testEnv{
		app:      app,
		repo:     store.MissionRepository(),
		sessions: log,
		workflow: wf,
		topology: topo,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func (e *testEnv) createMission(t *testing.T, id string) {
	t.Helper()

	resp, _ := e.do(t, http.MethodPost, "/missions", web.CreateMissionRequest{
		ID:         id,
		WorkflowID: e.workflow.ID,
		Brief:      "add login page",
		ProjectID:  "proj",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestAPIHandlers_CreateMission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "created",
			body:           web.CreateMissionRequest{WorkflowID: "", Brief: "add login page"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing brief",
			body:           web.CreateMissionRequest{WorkflowID: "", Brief: ""},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "unknown workflow",
			body:           web.CreateMissionRequest{WorkflowID: "ghost", Brief: "add login page"},
			expectedStatus: http.StatusNotFound,
			expectedType:   "workflow_not_found",
		},
		{
			name:           "invalid json",
			body:           "not an object",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestApp(t)

			if req, ok := tt.body.(web.CreateMissionRequest); ok && req.WorkflowID == "" {
				req.WorkflowID = env.workflow.ID
				tt.body = req
			}

			resp, data := env.do(t, http.MethodPost, "/missions", tt.body)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(data))

			if tt.expectedType != "" {
				var problem map[string]any
				require.NoError(t, json.Unmarshal(data, &problem))
				assert.Equal(t, tt.expectedType, problem["type"])

				return
			}

			var mission models.MissionRun
			require.NoError(t, json.Unmarshal(data, &mission))
			assert.Equal(t, models.MissionPending, mission.Status)
			assert.Len(t, mission.Phases, 2)
		})
	}
}

func TestAPIHandlers_DuplicateMission(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	env.createMission(t, "m-1")

	resp, _ := env.do(t, http.MethodPost, "/missions", web.CreateMissionRequest{
		ID:         "m-1",
		WorkflowID: env.workflow.ID,
		Brief:      "again",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_MissionLifecycle(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	env.createMission(t, "m-1")

	resp, data := env.do(t, http.MethodPost, "/missions/m-1/run", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var launch web.LaunchResponse
	require.NoError(t, json.Unmarshal(data, &launch))
	assert.True(t, launch.Launched)

	resp, data = env.do(t, http.MethodPost, "/missions/m-1/run", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &launch))
	assert.False(t, launch.Launched)
	assert.Equal(t, "already_running", launch.Status)

	resp, data = env.do(t, http.MethodGet, "/governor", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var gov web.GovernorResponse
	require.NoError(t, json.Unmarshal(data, &gov))
	assert.Equal(t, 2, gov.Capacity)
	assert.Equal(t, []string{"m-1"}, gov.Missions)

	resp, data = env.do(t, http.MethodPost, "/missions/m-1/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var mission models.MissionRun
	require.NoError(t, json.Unmarshal(data, &mission))
	assert.Equal(t, models.MissionPaused, mission.Status)

	resp, data = env.do(t, http.MethodPost, "/missions/m-1/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &mission))
	assert.Equal(t, models.MissionPending, mission.Status)
	assert.Equal(t, 0, mission.CheckpointIndex)

	resp, _ = env.do(t, http.MethodGet, "/missions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_GetMissions(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	env.createMission(t, "m-1")
	env.createMission(t, "m-2")

	_, err := env.repo.Mutate(context.Background(), "m-2", func(m *models.MissionRun) error {
		m.Status = models.MissionFailed

		return nil
	})
	require.NoError(t, err)

	tests := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"?status=FAILED", 1},
		{"?status=pending,failed", 2},
		{"?project_id=other", 0},
	}

	for _, tt := range tests {
		resp, data := env.do(t, http.MethodGet, "/missions"+tt.query, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			TotalCount int `json:"total_count"`
		}
		require.NoError(t, json.Unmarshal(data, &body))
		assert.Equal(t, tt.want, body.TotalCount, tt.query)
	}
}

func TestAPIHandlers_ValidateMission(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	env.createMission(t, "m-1")

	resp, _ := env.do(t, http.MethodPost, "/missions/m-1/validate", web.ValidateMissionRequest{Decision: "GO"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, err := env.repo.SetPhaseStatus(context.Background(), "m-1", 0, persistence.PhaseUpdate{Status: models.PhaseWaitingValidation})
	require.NoError(t, err)

	resp, _ = env.do(t, http.MethodPost, "/missions/m-1/validate", web.ValidateMissionRequest{Decision: "maybe"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data := env.do(t, http.MethodPost, "/missions/m-1/validate", web.ValidateMissionRequest{Decision: "go"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var mission models.MissionRun
	require.NoError(t, json.Unmarshal(data, &mission))
	assert.Equal(t, models.DecisionGo, mission.Phases[0].Decision)
}

func TestAPIHandlers_Definitions(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	tests := []struct {
		target         string
		expectedStatus int
	}{
		{"/workflows", http.StatusOK},
		{"/workflows/" + env.workflow.ID, http.StatusOK},
		{"/workflows/ghost", http.StatusNotFound},
		{"/topologies", http.StatusOK},
		{"/topologies/" + env.topology.ID, http.StatusOK},
		{"/topologies/ghost", http.StatusNotFound},
	}

	for _, tt := range tests {
		resp, _ := env.do(t, http.MethodGet, tt.target, nil)
		assert.Equal(t, tt.expectedStatus, resp.StatusCode, tt.target)
	}
}

func TestAPIHandlers_Reactions(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	env.createMission(t, "m-1")

	resp, data := env.do(t, http.MethodPost, "/reactions/emit", web.EmitReactionRequest{
		Event:     models.EventCIFailed,
		SessionID: "m-1",
		MissionID: "m-1",
		ProjectID: "proj",
		Details:   map[string]any{"agent_id": "dev", "message": "lint failed"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var outcome models.ReactionOutcome
	require.NoError(t, json.Unmarshal(data, &outcome))
	assert.True(t, outcome.Handled)
	assert.Equal(t, models.ActionSendToAgent, outcome.Action)

	resp, data = env.do(t, http.MethodGet, "/missions/m-1/messages?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var messages struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(data, &messages))
	require.Len(t, messages.Messages, 1)
	assert.Contains(t, messages.Messages[0].Content, "lint failed")

	resp, _ = env.do(t, http.MethodGet, "/missions/m-1/messages?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = env.do(t, http.MethodGet, "/reactions/history?project_id=proj", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history struct {
		History []models.ReactionRecord `json:"history"`
	}
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history.History, 1)
	assert.Equal(t, models.EventCIFailed, history.History[0].Event)

	resp, data = env.do(t, http.MethodGet, "/reactions/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats reactions.Stats
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, 1, stats.TotalReactions)

	resp, _ = env.do(t, http.MethodPost, "/reactions/emit", map[string]any{"event": "ci_failed"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_UpdateReactionRule(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	rule := models.ReactionRule{Action: models.ActionNotify, Auto: true, Retries: 5, Priority: "urgent"}

	resp, data := env.do(t, http.MethodPut, "/reactions/rules/ci_failed", rule)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = env.do(t, http.MethodGet, "/reactions/rules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Rules map[models.ReactionEvent]models.ReactionRule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, models.ActionNotify, body.Rules[models.EventCIFailed].Action)
	assert.Equal(t, 5, body.Rules[models.EventCIFailed].Retries)

	resp, _ = env.do(t, http.MethodPut, "/reactions/rules/unknown_event", rule)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	rule.Action = "explode"
	resp, _ = env.do(t, http.MethodPut, "/reactions/rules/ci_failed", rule)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp, data := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "healthy", body["status"])
}
