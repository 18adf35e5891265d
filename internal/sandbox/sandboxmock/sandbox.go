package sandboxmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/sandbox"
)

// MockSessionFactory is a mock type for the sandbox.SessionFactory type.
type MockSessionFactory struct {
	mock.Mock
}

func (m *MockSessionFactory) NewSession(ctx context.Context) (sandbox.Session, error) {
	ret := m.Called(ctx)
	var r0 sandbox.Session
	if v := ret.Get(0); v != nil {
		r0 = v.(sandbox.Session)
	}
	return r0, ret.Error(1)
}

// MockSession is a mock type for the sandbox.Session type.
type MockSession struct {
	mock.Mock
}

func (m *MockSession) Boot(ctx context.Context) error {
	ret := m.Called(ctx)
	return ret.Error(0)
}

func (m *MockSession) Mount(ctx context.Context, tree *model.FileTree) error {
	ret := m.Called(ctx, tree)
	return ret.Error(0)
}

func (m *MockSession) Spawn(ctx context.Context, command string, args ...string) (sandbox.Process, error) {
	ret := m.Called(ctx, command, args)
	var r0 sandbox.Process
	if v := ret.Get(0); v != nil {
		r0 = v.(sandbox.Process)
	}
	return r0, ret.Error(1)
}

func (m *MockSession) Events() <-chan sandbox.Event {
	ret := m.Called()
	var r0 <-chan sandbox.Event
	if v := ret.Get(0); v != nil {
		r0 = v.(<-chan sandbox.Event)
	}
	return r0
}

func (m *MockSession) Teardown(ctx context.Context) error {
	ret := m.Called(ctx)
	return ret.Error(0)
}

// MockProcess is a mock type for the sandbox.Process type.
type MockProcess struct {
	mock.Mock
}

func (m *MockProcess) Output() <-chan []byte {
	ret := m.Called()
	var r0 <-chan []byte
	if v := ret.Get(0); v != nil {
		r0 = v.(<-chan []byte)
	}
	return r0
}

func (m *MockProcess) Wait(ctx context.Context) (int, error) {
	ret := m.Called(ctx)
	return ret.Int(0), ret.Error(1)
}
