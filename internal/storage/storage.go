package storage

import (
	"context"

	"github.com/slok/repoready/internal/model"
)

// RunRepository is the interface for run persistence.
type RunRepository interface {
	CreateRun(ctx context.Context, r model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	// ListRuns returns the runs, newest first.
	ListRuns(ctx context.Context) ([]model.Run, error)
	UpdateRun(ctx context.Context, r model.Run) error
	DeleteRun(ctx context.Context, id string) error
	// AppendRunLog appends lines to the run log.
	AppendRunLog(ctx context.Context, id string, lines ...string) error
	ListRunLog(ctx context.Context, id string) ([]string, error)
}
