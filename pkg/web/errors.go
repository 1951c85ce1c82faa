package web

import (
	"errors"

	"github.com/dukex/sortie/pkg/definitions"
	"github.com/dukex/sortie/pkg/missions"
	"github.com/dukex/sortie/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	return problem(c, fiber.StatusNotFound, kind, detail)
}

// handleError maps domain errors to problem responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsMissionNotFound(err):
		return notFound(c, "mission_not_found", "mission not found")

	case errors.Is(err, missions.ErrWorkflowNotFound), errors.Is(err, definitions.ErrWorkflowNotFound):
		return notFound(c, "workflow_not_found", err.Error())

	case errors.Is(err, definitions.ErrTopologyNotFound):
		return notFound(c, "topology_not_found", err.Error())

	case errors.Is(err, missions.ErrInvalidDecision), errors.Is(err, persistence.ErrInvalidMissionID):
		return badRequest(c, err.Error())

	case errors.Is(err, missions.ErrMissionFinished),
		errors.Is(err, missions.ErrNotWaitingValidation),
		errors.Is(err, persistence.ErrMissionAlreadyExists),
		persistence.IsVersionConflict(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case errors.Is(err, missions.ErrManagerShuttingDown):
		return problem(c, fiber.StatusServiceUnavailable, "shutting_down", err.Error())

	default:
		p := problems.NewStatusProblem(fiber.StatusInternalServerError).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(p)
	}
}
