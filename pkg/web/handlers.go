// Package web provides HTTP handlers and REST API endpoints for mission control.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/sortie/pkg/definitions"
	"github.com/dukex/sortie/pkg/governor"
	"github.com/dukex/sortie/pkg/missions"
	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/persistence"
	"github.com/dukex/sortie/pkg/protocol"
	"github.com/dukex/sortie/pkg/reactions"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

type APIHandlers struct {
	missions    *missions.Manager
	catalog     *definitions.Catalog
	reactions   *reactions.Engine
	governor    *governor.Governor
	sessions    protocol.SessionLog
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(
	manager *missions.Manager,
	catalog *definitions.Catalog,
	engine *reactions.Engine,
	gov *governor.Governor,
	sessions protocol.SessionLog,
	persistence persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		missions:    manager,
		catalog:     catalog,
		reactions:   engine,
		governor:    gov,
		sessions:    sessions,
		persistence: persistence,
		validator:   validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Sortie is healthy"
	httpStatus := http.StatusOK
	repositoryCheck := "ok"

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Sortie is unhealthy"
		httpStatus = http.StatusInternalServerError
		repositoryCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetMissions(c fiber.Ctx) error {
	opts := persistence.ListMissionsOptions{
		ProjectID: c.Query("project_id"),
	}

	if statuses := c.Query("status"); statuses != "" {
		for _, status := range strings.Split(statuses, ",") {
			opts.Statuses = append(opts.Statuses, models.MissionStatus(strings.ToLower(strings.TrimSpace(status))))
		}
	}

	list, err := h.missions.List(c.Context(), opts)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"missions":    list,
		"total_count": len(list),
	})
}

func (h *APIHandlers) CreateMission(c fiber.Ctx) error {
	var req CreateMissionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	mission, err := h.missions.Create(c.Context(), missions.CreateRequest{
		ID:         req.ID,
		WorkflowID: req.WorkflowID,
		Brief:      req.Brief,
		ProjectID:  req.ProjectID,
		Workspace:  req.Workspace,
	})
	if err != nil {
		return handleError(c, err)
	}

	if req.Launch {
		if _, err := h.missions.Launch(c.Context(), mission.ID); err != nil {
			return handleError(c, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(mission)
}

func (h *APIHandlers) GetMission(c fiber.Ctx) error {
	mission, err := h.missions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(mission)
}

func (h *APIHandlers) RunMission(c fiber.Ctx) error {
	id := c.Params("id")

	launched, err := h.missions.Launch(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	status := "running"
	if !launched {
		status = "already_running"
	}

	return c.Status(fiber.StatusAccepted).JSON(LaunchResponse{
		MissionID: id,
		Status:    status,
		Launched:  launched,
	})
}

func (h *APIHandlers) PauseMission(c fiber.Ctx) error {
	mission, err := h.missions.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(mission)
}

func (h *APIHandlers) ResetMission(c fiber.Ctx) error {
	mission, err := h.missions.Reset(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(mission)
}

func (h *APIHandlers) ValidateMission(c fiber.Ctx) error {
	var req ValidateMissionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	mission, err := h.missions.Validate(c.Context(), c.Params("id"), req.Decision)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(mission)
}

func (h *APIHandlers) GetMissionMessages(c fiber.Ctx) error {
	limit := defaultMessageLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			return badRequest(c, "limit must be a positive integer")
		}

		limit = min(n, maxMessageLimit)
	}

	mission, err := h.missions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	messages, err := h.sessions.Recent(c.Context(), mission.SessionID, limit)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"session_id": mission.SessionID,
		"messages":   messages,
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"workflows": h.catalog.Workflows()})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	wf, err := h.catalog.Workflow(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) GetTopologies(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"topologies": h.catalog.Topologies()})
}

func (h *APIHandlers) GetTopology(c fiber.Ctx) error {
	topo, err := h.catalog.Topology(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(topo)
}

func (h *APIHandlers) GetReactionRules(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"rules": h.reactions.Rules()})
}

func (h *APIHandlers) UpdateReactionRule(c fiber.Ctx) error {
	var rule models.ReactionRule
	if err := c.Bind().JSON(&rule); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	rule.Event = models.ReactionEvent(c.Params("event"))

	if err := h.validator.Struct(rule); err != nil {
		return badRequest(c, err.Error())
	}

	if !h.reactions.UpdateRule(rule) {
		return notFound(c, "rule_not_found", "no rule for event "+string(rule.Event))
	}

	return c.JSON(rule)
}

func (h *APIHandlers) GetReactionHistory(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			return badRequest(c, "limit must be a positive integer")
		}

		limit = n
	}

	return c.JSON(fiber.Map{
		"history": h.reactions.History(c.Query("project_id"), limit),
	})
}

func (h *APIHandlers) GetReactionStats(c fiber.Ctx) error {
	return c.JSON(h.reactions.Stats())
}

func (h *APIHandlers) EmitReaction(c fiber.Ctx) error {
	var req EmitReactionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(h.reactions.Emit(c.Context(), req.payload()))
}

func (h *APIHandlers) GetGovernor(c fiber.Ctx) error {
	config := h.governor.Config()

	return c.JSON(GovernorResponse{
		Capacity:         h.governor.Capacity(),
		Executing:        h.governor.Active(),
		Running:          h.missions.Running(),
		Missions:         h.missions.Active(),
		WatchdogInterval: config.WatchdogInterval,
		StartupStagger:   config.StartupStagger,
		WatchdogStagger:  config.WatchdogStagger,
		StartupBatch:     config.StartupBatch,
	})
}
