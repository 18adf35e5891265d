package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/repoready/cmd/repoready/commands"
	"github.com/slok/repoready/internal/log"
	loglogrus "github.com/slok/repoready/internal/log/logrus"
)

// Version is the application version, set with `-ldflags "-X main.Version=..."`.
var Version = "dev"

// Run parses the arguments and runs the selected command until it ends or a termination
// signal is received.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	app := kingpin.New("repoready", "Run repository dev servers in ephemeral sandboxes.")
	app.Version(Version)
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	registered := []commands.Command{
		commands.NewRunCommand(rootCmd, app),
		commands.NewLinksCommand(rootCmd, app),
		commands.NewListCommand(rootCmd, app),
		commands.NewStatusCommand(rootCmd, app),
		commands.NewServeCommand(rootCmd, app),
		commands.NewDoctorCommand(rootCmd, app),
	}

	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	var cmd commands.Command
	for _, c := range registered {
		if c.Name() == cmdName {
			cmd = c
			break
		}
	}
	if cmd == nil {
		return fmt.Errorf("unknown command %q", cmdName)
	}

	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr
	if commands.LogsDisabled(cmd, rootCmd.Debug) {
		rootCmd.NoLog = true
	}
	rootCmd.Logger = newLogger(*rootCmd)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group

	// Termination signals stop the command, serve uses it to shut down the HTTP server and
	// dispose the active run.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debugf("Stopping %q command", cmdName)
				return nil
			},
			func(_ error) { signalCancel() },
		)
	}

	g.Add(
		func() error {
			if err := cmd.Run(ctx); err != nil {
				return fmt.Errorf("%q command failed: %w", cmdName, err)
			}
			return nil
		},
		func(_ error) { cancel() },
	)

	return g.Run()
}

// newLogger returns the logrus based logger writing to stderr, so stdout only has command results.
func newLogger(config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	l := logrus.New()
	l.Out = config.Stderr
	if config.Debug {
		l.SetLevel(logrus.DebugLevel)
	}

	switch config.LoggerType {
	case commands.LoggerTypeJSON:
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	}

	logger := loglogrus.NewLogrus(logrus.NewEntry(l)).WithValues(log.Kv{
		"app":     "repoready",
		"version": Version,
	})
	logger.Debugf("Debug level is enabled")

	return logger
}

func main() {
	if err := Run(context.Background(), os.Args, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
