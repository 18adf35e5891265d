package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/repoready/internal/app/list"
	"github.com/slok/repoready/internal/model"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	phaseFilter string
	repository  string
	limit       int
	format      string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List the run history.")
	c.Cmd.Flag("phase", "Filter by phase (ready, failed, timed_out...).").StringVar(&c.phaseFilter)
	c.Cmd.Flag("repository", "Filter by repository (owner/name).").StringVar(&c.repository)
	c.Cmd.Flag("limit", "Max number of runs, 0 for all.").Default("0").IntVar(&c.limit)
	registerFormatFlag(c.Cmd, &c.format)

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }
func (c ListCommand) OutputOnly() bool { return true }

func (c ListCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	// Parse phase filter if provided.
	var phaseFilter *model.Phase
	if c.phaseFilter != "" {
		phase := model.Phase(strings.ToLower(c.phaseFilter))
		switch phase {
		case model.PhaseBooting, model.PhaseMounting, model.PhaseInstalling, model.PhaseStarting,
			model.PhaseReady, model.PhaseFailed, model.PhaseTimedOut:
			phaseFilter = &phase
		default:
			return fmt.Errorf("invalid phase filter: %s", c.phaseFilter)
		}
	}

	repo, err := c.rootCmd.newRunRepository(ctx)
	if err != nil {
		return err
	}

	svc, err := list.NewService(list.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	runs, err := svc.Run(ctx, list.Request{
		PhaseFilter: phaseFilter,
		Repository:  c.repository,
		Limit:       c.limit,
	})
	if err != nil {
		return fmt.Errorf("could not list runs: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintRuns(runs); err != nil {
		return fmt.Errorf("could not print list: %w", err)
	}

	return nil
}
