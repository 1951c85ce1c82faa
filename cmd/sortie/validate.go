package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dukex/sortie/pkg/definitions"
	"github.com/dukex/sortie/pkg/reactions"
	"github.com/urfave/cli/v3"
)

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate topology, workflow and reaction definitions",
		Flags:   []cli.Flag{definitionsFlag()},
		Action: func(_ context.Context, command *cli.Command) error {
			return validateDefinitions(command.Root().Writer, command.String("definitions"))
		},
	}
}

func validateDefinitions(out io.Writer, dir string) error {
	catalog, err := definitions.LoadDir(dir)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%d topologies, %d workflows\n", len(catalog.Topologies()), len(catalog.Workflows()))

	rules, err := reactions.LoadRules(filepath.Join(dir, definitions.ReactionsFile))

	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintln(out, "no reaction rules file, defaults apply")
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "%d reaction rules\n", len(rules))
	}

	return nil
}
