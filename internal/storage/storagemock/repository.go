package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/storage"
)

// MockRunRepository is a mock type for the storage.RunRepository type.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) CreateRun(ctx context.Context, r model.Run) error {
	ret := m.Called(ctx, r)
	return ret.Error(0)
}

func (m *MockRunRepository) GetRun(ctx context.Context, id string) (*model.Run, error) {
	ret := m.Called(ctx, id)
	var r0 *model.Run
	if v := ret.Get(0); v != nil {
		r0 = v.(*model.Run)
	}
	return r0, ret.Error(1)
}

func (m *MockRunRepository) ListRuns(ctx context.Context) ([]model.Run, error) {
	ret := m.Called(ctx)
	var r0 []model.Run
	if v := ret.Get(0); v != nil {
		r0 = v.([]model.Run)
	}
	return r0, ret.Error(1)
}

func (m *MockRunRepository) UpdateRun(ctx context.Context, r model.Run) error {
	ret := m.Called(ctx, r)
	return ret.Error(0)
}

func (m *MockRunRepository) DeleteRun(ctx context.Context, id string) error {
	ret := m.Called(ctx, id)
	return ret.Error(0)
}

func (m *MockRunRepository) AppendRunLog(ctx context.Context, id string, lines ...string) error {
	ret := m.Called(ctx, id, lines)
	return ret.Error(0)
}

func (m *MockRunRepository) ListRunLog(ctx context.Context, id string) ([]string, error) {
	ret := m.Called(ctx, id)
	var r0 []string
	if v := ret.Get(0); v != nil {
		r0 = v.([]string)
	}
	return r0, ret.Error(1)
}

var _ storage.RunRepository = &MockRunRepository{}
