package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/slok/repoready/internal/app/list"
	"github.com/slok/repoready/internal/app/status"
	"github.com/slok/repoready/internal/conventions"
	"github.com/slok/repoready/internal/server"
)

type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	listenAddr string
	sandbox    sandboxOptions
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Serve the HTTP API to trigger and observe runs.")
	c.Cmd.Flag("listen-address", "HTTP API listen address.").Default(conventions.DefaultListenAddress).StringVar(&c.listenAddr)
	registerSandboxFlags(c.Cmd, &c.sandbox)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	repo, err := c.rootCmd.newRunRepository(ctx)
	if err != nil {
		return err
	}

	runs, err := c.rootCmd.newPreviewService(ctx, c.sandbox, repo)
	if err != nil {
		return err
	}
	defer func() {
		if err := runs.Dispose(context.Background()); err != nil {
			logger.Warningf("could not dispose run: %s", err)
		}
	}()

	history, err := list.NewService(list.ServiceConfig{Repository: repo, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}
	statuses, err := status.NewService(status.ServiceConfig{Repository: repo, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	handler, err := server.New(server.Config{
		Runs:    runs,
		History: history,
		Status:  statuses,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create server: %w", err)
	}

	var g run.Group

	// HTTP server.
	{
		srv := &http.Server{
			Addr:              c.listenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Add(
			func() error {
				logger.Infof("HTTP API listening on %s", c.listenAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server failed: %w", err)
				}
				return nil
			},
			func(_ error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("could not shutdown http server: %s", err)
				}
			},
		)
	}

	// Command context.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				<-ctx.Done()
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}
