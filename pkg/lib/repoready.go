package lib

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"k8s.io/client-go/util/homedir"

	"github.com/slok/repoready/internal/app/list"
	"github.com/slok/repoready/internal/app/preview"
	"github.com/slok/repoready/internal/app/status"
	"github.com/slok/repoready/internal/archive"
	"github.com/slok/repoready/internal/conventions"
	"github.com/slok/repoready/internal/fallback"
	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/sandbox"
	"github.com/slok/repoready/internal/sandbox/docker"
	"github.com/slok/repoready/internal/sandbox/fake"
	"github.com/slok/repoready/internal/storage"
	"github.com/slok/repoready/internal/storage/memory"
	"github.com/slok/repoready/internal/storage/sqlite"
	"github.com/slok/repoready/pkg/lib/log"
)

// Config configures a [Client].
type Config struct {
	// DataDir is the directory of the run history database. Defaults to ~/.repoready.
	DataDir string
	// DBPath overrides the database path. Defaults to {DataDir}/repoready.db.
	DBPath string
	// InMemory keeps the run history in memory, nothing is written to disk.
	InMemory bool
	// Sandbox selects the sandbox implementation. Defaults to [SandboxDocker].
	Sandbox SandboxType
	// SandboxImage overrides the Docker sandbox image.
	SandboxImage string
	// SandboxEnv are set on top of the default sandbox environment.
	SandboxEnv map[string]string
	// Timeout is the max duration of a run until its server is ready. Defaults to 120s.
	Timeout time.Duration
	// GitHubToken, when set, resolves the archive links with the GitHub API.
	GitHubToken string
	// ArchiveBaseURL overrides the host the repository archives are downloaded from.
	// Ignored when GitHubToken is set.
	ArchiveBaseURL string
	// Logger for SDK operations. Defaults to [log.Noop].
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	}
	if c.DBPath == "" {
		c.DBPath = conventions.DBPath(c.DataDir)
	}
	if c.Sandbox == "" {
		c.Sandbox = SandboxDocker
	}
	if c.Sandbox != SandboxDocker && c.Sandbox != SandboxFake {
		return fmt.Errorf("unknown sandbox %q: %w", c.Sandbox, ErrNotValid)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout can't be negative: %w", ErrNotValid)
	}
	if c.Timeout == 0 {
		c.Timeout = conventions.DefaultRunTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

// Client is the main entry point for the repoready SDK.
type Client struct {
	runs    *preview.Service
	list    *list.Service
	status  *status.Service
	checker func(ctx context.Context) []model.CheckResult
	close   func() error
	logger  log.Logger
}

// New creates a new repoready client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	repo, closeRepo, err := newRunRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c, err := newClient(cfg, repo)
	if err != nil {
		_ = closeRepo()
		return nil, err
	}
	c.close = closeRepo

	return c, nil
}

func newRunRepository(ctx context.Context, cfg Config) (storage.RunRepository, func() error, error) {
	if cfg.InMemory {
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create repository: %w", err)
		}
		return repo, func() error { return nil }, nil
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: cfg.DBPath, Logger: cfg.Logger})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create repository: %w", err)
	}
	return repo, repo.Close, nil
}

func newClient(cfg Config, repo storage.RunRepository) (*Client, error) {
	var resolver archive.LinkResolver = archive.HEADLinkResolver{BaseURL: cfg.ArchiveBaseURL}
	if cfg.GitHubToken != "" {
		r, err := archive.NewGitHubAPILinkResolver(archive.GitHubAPILinkResolverConfig{Token: cfg.GitHubToken})
		if err != nil {
			return nil, fmt.Errorf("could not create GitHub link resolver: %w", err)
		}
		resolver = r
	}

	fetcher, err := archive.NewFetcher(archive.FetcherConfig{Resolver: resolver, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create fetcher: %w", err)
	}

	sessions, checker, err := newSessionFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not create sandbox: %w", err)
	}

	runs, err := preview.NewService(preview.ServiceConfig{
		Fetcher:    fetcher,
		Sessions:   sessions,
		Repository: repo,
		Timeout:    cfg.Timeout,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create run service: %w", err)
	}

	listSvc, err := list.NewService(list.ServiceConfig{Repository: repo, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create list service: %w", err)
	}

	statusSvc, err := status.NewService(status.ServiceConfig{Repository: repo, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create status service: %w", err)
	}

	return &Client{
		runs:    runs,
		list:    listSvc,
		status:  statusSvc,
		checker: checker,
		close:   func() error { return nil },
		logger:  cfg.Logger,
	}, nil
}

func newSessionFactory(cfg Config) (sandbox.SessionFactory, func(ctx context.Context) []model.CheckResult, error) {
	if cfg.Sandbox == SandboxFake {
		f := &fake.SessionFactory{Config: fake.SessionConfig{Commands: fakeCommands(), Logger: cfg.Logger}}
		return f, func(context.Context) []model.CheckResult { return nil }, nil
	}

	sbCfg := conventions.DefaultSandboxConfig()
	if cfg.SandboxImage != "" {
		sbCfg.Image = cfg.SandboxImage
	}
	for k, v := range cfg.SandboxEnv {
		sbCfg.Env[k] = v
	}

	f, err := docker.NewSessionFactory(docker.SessionFactoryConfig{Sandbox: sbCfg, Logger: cfg.Logger})
	if err != nil {
		return nil, nil, err
	}
	return f, f.Check, nil
}

func fakeCommands() map[string]fake.Command {
	cmds := map[string]fake.Command{}
	for _, pm := range []model.PackageManager{model.PackageManagerNPM, model.PackageManagerYarn, model.PackageManagerPNPM} {
		cmds[string(pm)+" install"] = fake.Command{Output: []string{"Dependencies installed.\n"}}
		cmds[string(pm)+" run dev"] = fake.Command{Output: []string{"Dev server listening.\n"}, Hang: true, Ready: true}
		cmds[string(pm)+" start"] = fake.Command{Output: []string{"Server listening.\n"}, Hang: true, Ready: true}
	}
	return cmds
}

// Close disposes the current run and releases the client resources.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), conventions.DefaultTeardownTimeout)
	defer cancel()

	if err := c.runs.Dispose(ctx); err != nil {
		c.logger.Warningf("Could not dispose current run: %s", err)
	}
	return c.close()
}

// Start triggers a run of the repository and returns its ID without waiting for it.
// The analysis is optional, when present and not runnable [ErrNotRunnable] is returned.
func (c *Client) Start(ctx context.Context, repositoryURL string, analysis *Analysis) (string, error) {
	id, err := c.runs.Start(ctx, preview.Request{
		RepositoryURL: repositoryURL,
		Analysis:      toInternalAnalysis(analysis),
	})
	if err != nil {
		return "", mapError(err)
	}
	return id, nil
}

// Wait blocks until the current run reaches a terminal phase or the context is done.
func (c *Client) Wait(ctx context.Context) (RunState, error) {
	st, err := c.runs.Wait(ctx)
	if err != nil {
		return RunState{}, mapError(err)
	}
	return fromInternalRunState(st), nil
}

// Run starts a run and waits for it to be terminal. A failed run is not an error,
// check the returned phase.
func (c *Client) Run(ctx context.Context, repositoryURL string, analysis *Analysis) (RunState, error) {
	if _, err := c.Start(ctx, repositoryURL, analysis); err != nil {
		return RunState{}, err
	}
	return c.Wait(ctx)
}

// State returns the current run state.
func (c *Client) State() RunState {
	return fromInternalRunState(c.runs.Snapshot())
}

// Dispose tears down the sandbox of the current run and resets the state to idle.
func (c *Client) Dispose(ctx context.Context) error {
	return mapError(c.runs.Dispose(ctx))
}

// ListRuns returns the run history, newest first.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]Run, error) {
	req := list.Request{Repository: opts.Repository, Limit: opts.Limit}
	if opts.Phase != nil {
		p := model.Phase(*opts.Phase)
		req.PhaseFilter = &p
	}

	runs, err := c.list.Run(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}
	return fromInternalRunList(runs), nil
}

// GetRun returns a run of the history with its log, by ID or by `owner/name` (latest run
// of the repository).
func (c *Client) GetRun(ctx context.Context, idOrRepository string) (*Run, error) {
	res, err := c.status.Run(ctx, status.Request{IDOrRepository: idOrRepository, WithLog: true})
	if err != nil {
		return nil, mapError(err)
	}
	r := fromInternalRun(res.Run, res.Log)
	return &r, nil
}

// Links returns the cloud environments where a repository can be opened. Malformed
// URLs get placeholder links.
func (c *Client) Links(repositoryURL string) FallbackLinks {
	return fromInternalLinks(fallback.LinksFromURL(repositoryURL))
}

// Doctor runs the preflight checks of the sandbox. The fake sandbox has no checks.
func (c *Client) Doctor(ctx context.Context) []CheckResult {
	return fromInternalCheckResults(c.checker(ctx))
}
