package main

import (
	"strconv"

	"github.com/dukex/sortie/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		s.missions,
		s.catalog,
		s.reactions,
		s.governor,
		s.sessions,
		s.persistence,
		s.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Sortie")
	})

	m := app.Group("/missions")
	m.Get("/", handlers.GetMissions)
	m.Post("/", handlers.CreateMission)
	m.Get("/:id", handlers.GetMission)
	m.Post("/:id/run", handlers.RunMission)
	m.Post("/:id/pause", handlers.PauseMission)
	m.Post("/:id/reset", handlers.ResetMission)
	m.Post("/:id/validate", handlers.ValidateMission)
	m.Get("/:id/messages", handlers.GetMissionMessages)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Get("/:id", handlers.GetWorkflow)

	t := app.Group("/topologies")
	t.Get("/", handlers.GetTopologies)
	t.Get("/:id", handlers.GetTopology)

	r := app.Group("/reactions")
	r.Get("/rules", handlers.GetReactionRules)
	r.Put("/rules/:event", handlers.UpdateReactionRule)
	r.Get("/history", handlers.GetReactionHistory)
	r.Get("/stats", handlers.GetReactionStats)
	r.Post("/emit", handlers.EmitReaction)

	app.Get("/governor", handlers.GetGovernor)
	app.Get("/health", handlers.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	return app
}

func (s *Server) Listen(app *fiber.App, port int) error {
	return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}
