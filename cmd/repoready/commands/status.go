package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/repoready/internal/app/status"
)

type StatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	idOrRepo string
	noLog    bool
	format   string
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("status", "Get the detailed status of a run.")
	c.Cmd.Arg("id-or-repository", "Run ID or owner/name repository (latest run).").Required().StringVar(&c.idOrRepo)
	c.Cmd.Flag("no-run-log", "Don't show the run log.").BoolVar(&c.noLog)
	registerFormatFlag(c.Cmd, &c.format)

	return c
}

func (c StatusCommand) Name() string { return c.Cmd.FullCommand() }
func (c StatusCommand) OutputOnly() bool { return true }

func (c StatusCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	repo, err := c.rootCmd.newRunRepository(ctx)
	if err != nil {
		return err
	}

	svc, err := status.NewService(status.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, status.Request{
		IDOrRepository: c.idOrRepo,
		WithLog:        !c.noLog,
	})
	if err != nil {
		return fmt.Errorf("could not get run status: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintRunStatus(res.Run, res.Log); err != nil {
		return fmt.Errorf("could not print status: %w", err)
	}

	return nil
}
