package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/sandbox/docker"
)

type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format  string
	sandbox sandboxOptions
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("doctor", "Run preflight checks for the Docker sandbox.")
	c.Cmd.Flag("sandbox-config", "Sandbox YAML configuration file, by default the data dir one is used if present.").StringVar(&c.sandbox.configPath)
	registerFormatFlag(c.Cmd, &c.format)

	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	results := []model.CheckResult{}
	cfg, err := c.rootCmd.loadSandboxConfig(ctx, c.sandbox)
	if err != nil {
		results = append(results, model.CheckResult{
			ID:      "sandbox_config",
			Message: err.Error(),
			Status:  model.CheckStatusError,
		})
	} else {
		factory, err := docker.NewSessionFactory(docker.SessionFactoryConfig{
			Sandbox: cfg,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("could not create docker sandbox: %w", err)
		}
		results = append(results, factory.Check(ctx)...)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintChecks(results); err != nil {
		return fmt.Errorf("could not print checks: %w", err)
	}

	if summary := model.SummarizeChecks(results); !summary.Healthy() {
		return fmt.Errorf("preflight checks failed with %d error(s)", summary.Errors)
	}

	return nil
}
