// Package main provides the sortie mission control server.
package main

import (
	"context"
	"os"

	"github.com/dukex/sortie/pkg/governor"
	"github.com/dukex/sortie/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "sortie",
		Usage:                 "Run multi-agent missions through phased workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunCommand(),
			ResumeCommand(),
			ValidateCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func logLevelFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		Sources: cli.EnvVars("LOG_LEVEL"),
	}
}

func logFormatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "log-format",
		Usage:   "Log format (text, json)",
		Value:   log.FormatText,
		Sources: cli.EnvVars("LOG_FORMAT"),
	}
}

func definitionsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "definitions",
		Aliases: []string{"d"},
		Usage:   "Directory holding topologies/, workflows/ and reactions.yaml",
		Value:   "./definitions",
		Sources: cli.EnvVars("SORTIE_DEFINITIONS"),
	}
}

// serverFlags are shared by every command that executes missions.
func serverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Mission store: a directory, file://path or postgres://...",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus: memory or kafka://broker1:9092,broker2:9092",
			Value:   "memory",
			Sources: cli.EnvVars("EVENT_BUS"),
		},
		&cli.StringFlag{
			Name:    "session-log",
			Usage:   "Session log: memory or redis://host:6379/0",
			Value:   "memory",
			Sources: cli.EnvVars("SESSION_LOG"),
		},
		&cli.IntFlag{
			Name:    "session-messages",
			Usage:   "Messages kept per session, 0 for unbounded",
			Value:   1000,
			Sources: cli.EnvVars("SESSION_MESSAGES"),
		},
		&cli.StringFlag{
			Name:     "executor-url",
			Usage:    "Base URL of the agent executor service",
			Required: true,
			Sources:  cli.EnvVars("EXECUTOR_URL"),
		},
		&cli.StringFlag{
			Name:    "executor-token",
			Usage:   "Bearer token sent to the agent executor",
			Sources: cli.EnvVars("EXECUTOR_TOKEN"),
		},
		&cli.IntFlag{
			Name:    "max-concurrent",
			Usage:   "Missions allowed to execute at once",
			Value:   governor.DefaultCapacity,
			Sources: cli.EnvVars("SORTIE_MAX_CONCURRENT"),
		},
		&cli.DurationFlag{
			Name:    "watchdog-interval",
			Usage:   "Interval between watchdog resume passes",
			Value:   governor.DefaultWatchdogInterval,
			Sources: cli.EnvVars("SORTIE_WATCHDOG_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "startup-stagger",
			Usage:   "Delay between launches of the startup pass",
			Value:   governor.DefaultStartupStagger,
			Sources: cli.EnvVars("SORTIE_STARTUP_STAGGER"),
		},
		&cli.DurationFlag{
			Name:    "watchdog-stagger",
			Usage:   "Delay between launches of a watchdog pass",
			Value:   governor.DefaultWatchdogStagger,
			Sources: cli.EnvVars("SORTIE_WATCHDOG_STAGGER"),
		},
		&cli.IntFlag{
			Name:    "startup-batch",
			Usage:   "Maximum missions resumed by the startup pass",
			Value:   governor.DefaultStartupBatch,
			Sources: cli.EnvVars("SORTIE_STARTUP_BATCH"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("SORTIE_TRACING"),
		},
		definitionsFlag(),
		logLevelFlag(),
		logFormatFlag(),
	}
}
