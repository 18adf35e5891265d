package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/repoready/internal/app/preview"
	"github.com/slok/repoready/internal/archive"
	"github.com/slok/repoready/internal/conventions"
	"github.com/slok/repoready/internal/log"
	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/printer"
	"github.com/slok/repoready/internal/sandbox"
	"github.com/slok/repoready/internal/sandbox/docker"
	"github.com/slok/repoready/internal/sandbox/fake"
	"github.com/slok/repoready/internal/storage"
	storageio "github.com/slok/repoready/internal/storage/io"
	"github.com/slok/repoready/internal/storage/memory"
	"github.com/slok/repoready/internal/storage/sqlite"
	utilsenv "github.com/slok/repoready/internal/utils/env"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	storageSQLite = "sqlite"
	storageMemory = "memory"

	sandboxDocker = "docker"
	sandboxFake   = "fake"

	formatTable = "table"
	formatJSON  = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// OutputCommand is implemented by commands whose stdout is the result itself (tables, JSON).
// Logging is disabled for them unless debug mode is enabled.
type OutputCommand interface {
	Command
	OutputOnly() bool
}

// LogsDisabled returns true when the command logs would mix with its printed result.
func LogsDisabled(cmd Command, debug bool) bool {
	oc, ok := cmd.(OutputCommand)
	return ok && oc.OutputOnly() && !debug
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	DataDir    string
	Storage    string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory with the run history database and the sandbox configuration.").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("storage", "Run history storage (sqlite, memory).").Default(storageSQLite).EnumVar(&c.Storage, storageSQLite, storageMemory)

	return c
}

// newRunRepository returns the run history repository.
func (c RootCommand) newRunRepository(ctx context.Context) (storage.RunRepository, error) {
	if c.Storage == storageMemory {
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: c.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create repository: %w", err)
		}
		return repo, nil
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: conventions.DBPath(c.DataDir),
		Logger: c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}
	return repo, nil
}

// sandboxOptions are the flags shared by the commands that execute runs.
type sandboxOptions struct {
	sandbox        string
	configPath     string
	envSpecs       []string
	timeout        time.Duration
	githubToken    string
	archiveBaseURL string
}

func registerSandboxFlags(cmd *kingpin.CmdClause, o *sandboxOptions) {
	cmd.Flag("sandbox", "Sandbox implementation (docker, fake).").Default(sandboxDocker).EnumVar(&o.sandbox, sandboxDocker, sandboxFake)
	cmd.Flag("sandbox-config", "Sandbox YAML configuration file, by default the data dir one is used if present.").StringVar(&o.configPath)
	cmd.Flag("env", "Sandbox environment variables (KEY=VALUE or KEY from current environment). Can be repeated.").Short('e').StringsVar(&o.envSpecs)
	cmd.Flag("timeout", "Max duration of a run until the server is ready.").Default(conventions.DefaultRunTimeout.String()).DurationVar(&o.timeout)
	cmd.Flag("github-token", "GitHub token, when set the archive link is resolved with the GitHub API.").Envar("GITHUB_TOKEN").StringVar(&o.githubToken)
	cmd.Flag("archive-base-url", "Host the repository archives are downloaded from when no GitHub token is set.").Hidden().StringVar(&o.archiveBaseURL)
}

// loadSandboxConfig loads the sandbox configuration on top of the defaults, an
// explicit config file must exist.
func (c RootCommand) loadSandboxConfig(ctx context.Context, o sandboxOptions) (model.SandboxConfig, error) {
	cfg := conventions.DefaultSandboxConfig()

	path := o.configPath
	if path == "" {
		if _, err := os.Stat(conventions.SandboxConfigPath(c.DataDir)); err == nil {
			path = conventions.SandboxConfigPath(c.DataDir)
		}
	}

	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return model.SandboxConfig{}, fmt.Errorf("invalid sandbox config path: %w", err)
		}
		c.Logger.Debugf("Loading sandbox config from %s", abs)
		repo := storageio.NewConfigYAMLRepository(os.DirFS(filepath.Dir(abs)), cfg)
		cfg, err = repo.GetConfig(ctx, filepath.Base(abs))
		if err != nil {
			return model.SandboxConfig{}, fmt.Errorf("could not load sandbox config: %w", err)
		}
	}

	env, err := utilsenv.ParseSpecs(o.envSpecs)
	if err != nil {
		return model.SandboxConfig{}, fmt.Errorf("invalid --env value: %w", err)
	}
	cfg.Env = utilsenv.Merge(cfg.Env, env)

	return cfg, nil
}

func (c RootCommand) newSessionFactory(ctx context.Context, o sandboxOptions) (sandbox.SessionFactory, error) {
	if o.sandbox == sandboxFake {
		return &fake.SessionFactory{Config: fake.SessionConfig{
			Commands: fakeCommands(),
			Logger:   c.Logger,
		}}, nil
	}

	cfg, err := c.loadSandboxConfig(ctx, o)
	if err != nil {
		return nil, err
	}

	return docker.NewSessionFactory(docker.SessionFactoryConfig{
		Sandbox: cfg,
		Logger:  c.Logger,
	})
}

// fakeCommands makes every package manager install and serve successfully.
func fakeCommands() map[string]fake.Command {
	cmds := map[string]fake.Command{}
	for _, pm := range []model.PackageManager{model.PackageManagerNPM, model.PackageManagerYarn, model.PackageManagerPNPM} {
		cmds[string(pm)+" install"] = fake.Command{Output: []string{"Dependencies installed (fake sandbox).\n"}}
		cmds[string(pm)+" run dev"] = fake.Command{Output: []string{"Dev server listening (fake sandbox).\n"}, Hang: true, Ready: true}
		cmds[string(pm)+" start"] = fake.Command{Output: []string{"Server listening (fake sandbox).\n"}, Hang: true, Ready: true}
	}
	return cmds
}

func (c RootCommand) newFetcher(o sandboxOptions) (*archive.Fetcher, error) {
	var resolver archive.LinkResolver = archive.HEADLinkResolver{BaseURL: o.archiveBaseURL}
	if o.githubToken != "" {
		r, err := archive.NewGitHubAPILinkResolver(archive.GitHubAPILinkResolverConfig{Token: o.githubToken})
		if err != nil {
			return nil, fmt.Errorf("could not create GitHub link resolver: %w", err)
		}
		resolver = r
	}

	return archive.NewFetcher(archive.FetcherConfig{
		Resolver: resolver,
		Logger:   c.Logger,
	})
}

// newPreviewService wires the run orchestrator with its dependencies.
func (c RootCommand) newPreviewService(ctx context.Context, o sandboxOptions, repo storage.RunRepository) (*preview.Service, error) {
	fetcher, err := c.newFetcher(o)
	if err != nil {
		return nil, err
	}

	sessions, err := c.newSessionFactory(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("could not create sandbox: %w", err)
	}

	svc, err := preview.NewService(preview.ServiceConfig{
		Fetcher:    fetcher,
		Sessions:   sessions,
		Repository: repo,
		Timeout:    o.timeout,
		Logger:     c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	return svc, nil
}

func newPrinter(format string, w io.Writer) printer.Printer {
	if format == formatJSON {
		return printer.NewJSONPrinter(w)
	}
	return printer.NewTablePrinter(w)
}

func registerFormatFlag(cmd *kingpin.CmdClause, format *string) {
	cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(format, formatTable, formatJSON)
}
