package list

import (
	"context"
	"fmt"
	"strings"

	"github.com/slok/repoready/internal/log"
	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/storage"
)

// ServiceConfig is the configuration for the list service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.List"})

	return nil
}

// Service lists the run history with optional filtering.
type Service struct {
	repo   storage.RunRepository
	logger log.Logger
}

// NewService creates a new list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	// PhaseFilter is an optional filter to only show runs on this phase.
	PhaseFilter *model.Phase
	// Repository is an optional `owner/name` filter, case insensitive.
	Repository string
	// Limit is the max number of runs returned, 0 means no limit.
	Limit int
}

// Run lists the runs, newest first.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Run, error) {
	s.logger.Debugf("listing runs with phase filter: %v, repository filter: %q", req.PhaseFilter, req.Repository)

	if req.Limit < 0 {
		return nil, fmt.Errorf("limit can't be negative: %w", model.ErrNotValid)
	}

	runs, err := s.repo.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list runs: %w", err)
	}

	filtered := make([]model.Run, 0, len(runs))
	for _, r := range runs {
		if req.PhaseFilter != nil && r.Phase != *req.PhaseFilter {
			continue
		}
		if req.Repository != "" && !strings.EqualFold(r.Repository.String(), req.Repository) {
			continue
		}
		filtered = append(filtered, r)
		if req.Limit > 0 && len(filtered) == req.Limit {
			break
		}
	}

	s.logger.Debugf("found %d runs", len(filtered))
	return filtered, nil
}
