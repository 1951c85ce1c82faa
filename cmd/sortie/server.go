package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dukex/sortie/pkg/agents/httpexec"
	"github.com/dukex/sortie/pkg/cmd"
	"github.com/dukex/sortie/pkg/definitions"
	"github.com/dukex/sortie/pkg/eventbus"
	"github.com/dukex/sortie/pkg/governor"
	"github.com/dukex/sortie/pkg/missions"
	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/otelhelper"
	"github.com/dukex/sortie/pkg/persistence"
	"github.com/dukex/sortie/pkg/protocol"
	"github.com/dukex/sortie/pkg/reactions"
	"github.com/dukex/sortie/pkg/topology"
	"github.com/dukex/sortie/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

// Server owns every long-lived component of a sortie process.
type Server struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	sessions    protocol.SessionLog
	catalog     *definitions.Catalog
	reactions   *reactions.Engine
	governor    *governor.Governor
	missions    *missions.Manager
	watchdog    *governor.Watchdog
	registry    *prometheus.Registry
	validate    *validator.Validate

	rulesPath string
	closers   []func(ctx context.Context) error
}

// NewServer builds the process from command flags. Close releases whatever
// was opened, even when NewServer fails halfway.
func NewServer(ctx context.Context, command *cli.Command, logger *slog.Logger) (*Server, error) {
	s := &Server{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	if err := s.build(ctx, command); err != nil {
		s.Close(ctx)

		return nil, err
	}

	return s, nil
}

func (s *Server) build(ctx context.Context, command *cli.Command) error {
	config := governorConfig(command)
	if err := s.validate.Struct(config); err != nil {
		return fmt.Errorf("invalid governor settings: %w", err)
	}

	dir := command.String("definitions")

	catalog, err := definitions.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to load definitions from %s: %w", dir, err)
	}

	s.catalog = catalog

	store, err := cmd.NewPersistence(ctx, s.logger, command.String("database-url"))
	if err != nil {
		return err
	}

	s.persistence = store
	s.closers = append(s.closers, store.Close)

	bus, err := cmd.NewEventBus(command.String("event-bus"), s.logger)
	if err != nil {
		return err
	}

	s.eventBus = bus
	s.closers = append(s.closers, func(context.Context) error { return bus.Close() })

	sessionLog, closeSessions, err := cmd.NewSessionLog(ctx, command.String("session-log"), command.Int("session-messages"))
	if err != nil {
		return err
	}

	s.sessions = sessionLog
	s.closers = append(s.closers, func(context.Context) error { return closeSessions() })

	tracer := otelhelper.NoopTracer()

	if command.Bool("tracing") {
		t, shutdown, err := otelhelper.NewTracer(ctx, "sortie")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		tracer = t
		s.closers = append(s.closers, shutdown)
	}

	executor, err := httpexec.NewExecutor(command.String("executor-url"), s.logger, executorOptions(command)...)
	if err != nil {
		return err
	}

	if err := s.registry.Register(collectors.NewGoCollector()); err != nil {
		return fmt.Errorf("failed to register go collector: %w", err)
	}

	metrics, err := governor.NewMetrics(s.registry)
	if err != nil {
		return fmt.Errorf("failed to register governor metrics: %w", err)
	}

	s.governor = governor.New(config, governor.WithMetrics(metrics))

	rules, err := s.loadRules(dir)
	if err != nil {
		return err
	}

	s.reactions = reactions.NewEngine(rules, s.logger)

	notifier := eventbus.NewNotifier(bus, s.logger)
	interpreter := topology.NewInterpreter(executor, sessionLog, s.logger)

	sequencer := workflow.NewSequencer(
		store.MissionRepository(),
		catalog,
		interpreter,
		sessionLog,
		notifier,
		notifier,
		s.logger,
		workflow.WithPublisher(bus),
		workflow.WithReactor(s.reactions),
		workflow.WithTracer(tracer),
	)

	s.missions = missions.NewManager(
		store.MissionRepository(),
		catalog,
		sequencer,
		s.governor,
		sessionLog,
		notifier,
		s.logger,
		missions.WithReactor(s.reactions),
	)

	reactions.NewHandlers(sessionLog, notifier, s.missions, s.logger).Register(s.reactions)

	if err := s.reactions.Subscribe(bus); err != nil {
		return fmt.Errorf("failed to subscribe reaction engine: %w", err)
	}

	s.watchdog = governor.NewWatchdog(s.governor, governor.SystemSampler{Window: time.Second}, s.missions, s.logger)

	return nil
}

// loadRules reads dir/reactions.yaml, falling back to the built-in rules
// when the file does not exist.
func (s *Server) loadRules(dir string) ([]models.ReactionRule, error) {
	path := filepath.Join(dir, definitions.ReactionsFile)

	rules, err := reactions.LoadRules(path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("No reaction rules file, using defaults", "path", path)

		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	s.rulesPath = path

	return rules, nil
}

// Start subscribes to the bus and begins watching rules and paused missions.
func (s *Server) Start(ctx context.Context) error {
	if err := s.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	if s.rulesPath != "" {
		watcher, err := reactions.NewRuleWatcher(s.rulesPath, s.reactions, s.logger)
		if err != nil {
			return err
		}

		if err := watcher.Start(ctx); err != nil {
			return err
		}

		s.closers = append(s.closers, func(context.Context) error { return watcher.Stop() })
	}

	if err := s.watchdog.Start(ctx); err != nil {
		return err
	}

	return nil
}

// Shutdown parks running missions and releases every resource.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if s.watchdog != nil {
		s.watchdog.Stop()
	}

	if s.missions != nil {
		if err := s.missions.Shutdown(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Failed to stop missions", "error", err)
		}
	}

	s.Close(ctx)
}

// Close runs the registered closers in reverse order.
func (s *Server) Close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.ErrorContext(ctx, "Failed to close resource", "error", err)
		}
	}

	s.closers = nil
}

func governorConfig(command *cli.Command) governor.Config {
	return governor.Config{
		Capacity:         command.Int("max-concurrent"),
		WatchdogInterval: command.Duration("watchdog-interval"),
		StartupStagger:   command.Duration("startup-stagger"),
		WatchdogStagger:  command.Duration("watchdog-stagger"),
		StartupBatch:     command.Int("startup-batch"),
	}
}

func executorOptions(command *cli.Command) []httpexec.Option {
	var opts []httpexec.Option

	if token := command.String("executor-token"); token != "" {
		opts = append(opts, httpexec.WithHeader("Authorization", "Bearer "+token))
	}

	return opts
}
