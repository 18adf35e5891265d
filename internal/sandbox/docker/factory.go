package docker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/client"

	"github.com/slok/repoready/internal/log"
	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/sandbox"
)

// SessionFactoryConfig is the configuration for the Docker session factory.
type SessionFactoryConfig struct {
	Client        DockerClient
	Sandbox       model.SandboxConfig
	PublishHost   string
	ProbeInterval time.Duration
	HTTPClient    *http.Client
	Logger        log.Logger
}

func (c *SessionFactoryConfig) defaults() error {
	if c.Client == nil {
		// Create a default Docker client
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

// SessionFactory creates Docker sessions.
type SessionFactory struct {
	cfg    SessionFactoryConfig
	logger log.Logger
}

// NewSessionFactory returns a new Docker session factory.
func NewSessionFactory(cfg SessionFactoryConfig) (*SessionFactory, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &SessionFactory{
		cfg:    cfg,
		logger: cfg.Logger.WithValues(log.Kv{"svc": "sandbox.DockerFactory"}),
	}, nil
}

func (f *SessionFactory) NewSession(ctx context.Context) (sandbox.Session, error) {
	s, err := NewSession(SessionConfig{
		Client:        f.cfg.Client,
		Sandbox:       f.cfg.Sandbox,
		PublishHost:   f.cfg.PublishHost,
		ProbeInterval: f.cfg.ProbeInterval,
		HTTPClient:    f.cfg.HTTPClient,
		Logger:        f.cfg.Logger,
	})
	if err != nil {
		return nil, model.NewBootError("could not create Docker session", err)
	}
	f.logger.Debugf("Created session %s", s.ID())

	return s, nil
}

// Check performs preflight checks for the Docker sandbox.
func (f *SessionFactory) Check(ctx context.Context) []model.CheckResult {
	var results []model.CheckResult

	// Check 1: Docker daemon reachable.
	results = append(results, f.checkDaemon(ctx))

	// Check 2: Sandbox configuration.
	results = append(results, f.checkSandboxConfig())

	return results
}

func (f *SessionFactory) checkDaemon(ctx context.Context) model.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ping, err := f.cfg.Client.Ping(ctx)
	if err != nil {
		return model.CheckResult{
			ID:      "docker_daemon",
			Message: fmt.Sprintf("Docker daemon is not reachable: %v", err),
			Status:  model.CheckStatusError,
		}
	}

	if ping.OSType != "" && ping.OSType != "linux" {
		return model.CheckResult{
			ID:      "docker_daemon",
			Message: fmt.Sprintf("Docker daemon runs %s containers, Node.js images need linux", ping.OSType),
			Status:  model.CheckStatusWarning,
		}
	}

	return model.CheckResult{
		ID:      "docker_daemon",
		Message: fmt.Sprintf("Docker daemon is reachable (API %s)", ping.APIVersion),
		Status:  model.CheckStatusOK,
	}
}

func (f *SessionFactory) checkSandboxConfig() model.CheckResult {
	if err := f.cfg.Sandbox.Validate(); err != nil {
		return model.CheckResult{
			ID:      "sandbox_config",
			Message: fmt.Sprintf("Invalid sandbox configuration: %v", err),
			Status:  model.CheckStatusError,
		}
	}

	return model.CheckResult{
		ID:      "sandbox_config",
		Message: fmt.Sprintf("Image %s, ports %s", f.cfg.Sandbox.Image, portString(f.cfg.Sandbox.Ports)),
		Status:  model.CheckStatusOK,
	}
}

func portString(ports []int) string {
	ss := make([]string, 0, len(ports))
	for _, p := range ports {
		ss = append(ss, strconv.Itoa(p))
	}
	return strings.Join(ss, ",")
}

var _ sandbox.SessionFactory = &SessionFactory{}
