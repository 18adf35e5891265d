package status

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slok/repoready/internal/log"
	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/storage"
)

// ServiceConfig is the configuration for the status service.
type ServiceConfig struct {
	Repository storage.RunRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Status"})

	return nil
}

// Service retrieves detailed run status.
type Service struct {
	repo   storage.RunRepository
	logger log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the status request parameters.
type Request struct {
	// IDOrRepository is the run ID or an `owner/name` repository, for the
	// latter the most recent run of the repository is returned.
	IDOrRepository string
	// WithLog loads the run log lines.
	WithLog bool
}

// Result is the status of a run.
type Result struct {
	Run model.Run
	Log []string
}

// Run retrieves the status of a run by ID or repository.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	s.logger.Debugf("getting status for run: %s", req.IDOrRepository)

	if req.IDOrRepository == "" {
		return nil, fmt.Errorf("run ID or repository is required: %w", model.ErrNotValid)
	}

	run, err := s.getRun(ctx, req.IDOrRepository)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("run not found: %s: %w", req.IDOrRepository, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get run status: %w", err)
	}

	res := &Result{Run: *run}
	if req.WithLog {
		lines, err := s.repo.ListRunLog(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("could not get run log: %w", err)
		}
		res.Log = lines
	}

	return res, nil
}

func (s *Service) getRun(ctx context.Context, idOrRepo string) (*model.Run, error) {
	if looksLikeULID(idOrRepo) {
		return s.repo.GetRun(ctx, idOrRepo)
	}

	if !strings.Contains(idOrRepo, "/") {
		return nil, fmt.Errorf("%q is not a run ID or an owner/name repository: %w", idOrRepo, model.ErrNotFound)
	}

	s.logger.Debugf("not a run ID, looking for the latest run of repository")
	runs, err := s.repo.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if strings.EqualFold(r.Repository.String(), idOrRepo) {
			return &r, nil
		}
	}

	return nil, model.ErrNotFound
}

// looksLikeULID checks if a string looks like a ULID (26 characters, alphanumeric uppercase).
func looksLikeULID(s string) bool {
	if len(s) != 26 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}
