package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/repoready/internal/app/preview"
	"github.com/slok/repoready/internal/model"
	storageio "github.com/slok/repoready/internal/storage/io"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	repoURL      string
	analysisPath string
	keep         bool
	format       string
	sandbox      sandboxOptions
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Run a repository dev server in a sandbox.")
	c.Cmd.Arg("url", "Repository URL (e.g. https://github.com/owner/name).").Required().StringVar(&c.repoURL)
	c.Cmd.Flag("analysis", "Repository analysis file (YAML or JSON), not runnable repositories are not executed.").StringVar(&c.analysisPath)
	c.Cmd.Flag("keep", "Keep the server running once ready until the command is stopped.").BoolVar(&c.keep)
	registerFormatFlag(c.Cmd, &c.format)
	registerSandboxFlags(c.Cmd, &c.sandbox)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger
	p := newPrinter(c.format, c.rootCmd.Stdout)

	var analysis *model.Analysis
	if c.analysisPath != "" {
		abs, err := filepath.Abs(c.analysisPath)
		if err != nil {
			return fmt.Errorf("invalid analysis path: %w", err)
		}
		a, err := storageio.NewAnalysisYAMLRepository(os.DirFS(filepath.Dir(abs))).GetAnalysis(ctx, filepath.Base(abs))
		if err != nil {
			return fmt.Errorf("could not load analysis: %w", err)
		}
		analysis = &a
	}

	repo, err := c.rootCmd.newRunRepository(ctx)
	if err != nil {
		return err
	}

	svc, err := c.rootCmd.newPreviewService(ctx, c.sandbox, repo)
	if err != nil {
		return err
	}
	// Whatever happens the sandbox is released when the command ends.
	defer func() {
		if err := svc.Dispose(context.Background()); err != nil {
			logger.Warningf("could not dispose run: %s", err)
		}
	}()

	// Stream the run log on table mode.
	if c.format == formatTable {
		updates, unsubscribe := svc.Subscribe()
		defer unsubscribe()
		go func() {
			for u := range updates {
				if u.LogChunk != "" {
					fmt.Fprint(c.rootCmd.Stderr, u.LogChunk)
				}
			}
		}()
	}

	id, err := svc.Start(ctx, preview.Request{RepositoryURL: c.repoURL, Analysis: analysis})
	if err != nil {
		return fmt.Errorf("could not start run: %w", err)
	}
	logger.Debugf("Run %s started", id)

	st, err := svc.Wait(ctx)
	if err != nil {
		return fmt.Errorf("run %s interrupted: %w", id, err)
	}

	if err := p.PrintRunResult(st); err != nil {
		return fmt.Errorf("could not print run result: %w", err)
	}

	if st.Phase != model.PhaseReady {
		return fmt.Errorf("run %s %s: %w", id, st.Phase, st.Err)
	}

	if c.keep {
		logger.Infof("Server running at %s, stop the command to tear it down", st.URL)
		<-ctx.Done()
	}

	return nil
}
