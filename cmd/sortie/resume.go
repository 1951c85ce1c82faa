package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/dukex/sortie/pkg/governor"
	"github.com/dukex/sortie/pkg/log"
	"github.com/urfave/cli/v3"
)

func ResumeCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Resume one mission, or every paused mission, without serving the API",
		Flags: append(serverFlags(), &cli.StringFlag{
			Name:    "mission",
			Aliases: []string{"m"},
			Usage:   "Mission to resume; when empty a startup pass resumes paused missions",
		}),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("sortie").With("action", "resume")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server, err := NewServer(ctx, command, logger)
			if err != nil {
				return err
			}

			defer server.Shutdown(ctx)

			if err := server.eventBus.Subscribe(ctx); err != nil {
				return err
			}

			if id := command.String("mission"); id != "" {
				if _, err := server.missions.Launch(ctx, id); err != nil {
					return err
				}

				return server.missions.Wait(ctx, id)
			}

			result, err := server.watchdog.Pass(ctx, governor.ModeStartup)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Resume pass finished",
				"pending", result.Pending,
				"launched", len(result.Launched),
				"deferred", result.Deferred,
			)

			for _, id := range result.Launched {
				if err := server.missions.Wait(ctx, id); err != nil {
					return err
				}
			}

			return nil
		},
	}
}
