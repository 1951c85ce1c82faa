package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dukex/sortie/pkg/log"
	"github.com/urfave/cli/v3"
)

func RunCommand() *cli.Command {
	flags := append(serverFlags(), &cli.IntFlag{
		Name:    "port",
		Aliases: []string{"p"},
		Usage:   "Port to run the API server on",
		Value:   defaultPort,
		Sources: cli.EnvVars("PORT"),
	})

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the mission control API and watchdog",
		Flags:   flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("sortie")

			logger.InfoContext(ctx, "Initializing Sortie")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server, err := NewServer(ctx, command, logger)
			if err != nil {
				return err
			}

			defer server.Shutdown(ctx)

			if err := server.Start(ctx); err != nil {
				return err
			}

			app := server.App()
			errs := make(chan error, 1)

			go func() {
				errs <- server.Listen(app, command.Int("port"))
			}()

			logger.InfoContext(ctx, "Sortie started", "port", command.Int("port"))

			select {
			case err := <-errs:
				return fmt.Errorf("api server stopped: %w", err)
			case <-ctx.Done():
				logger.InfoContext(ctx, "Shutting down Sortie...")

				return app.ShutdownWithTimeout(shutdownTimeout)
			}
		},
	}
}
