package status_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/repoready/internal/app/status"
	"github.com/slok/repoready/internal/log"
	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/storage/storagemock"
)

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config status.ServiceConfig
		expErr bool
	}{
		"valid config should create service": {
			config: status.ServiceConfig{
				Repository: &storagemock.MockRunRepository{},
				Logger:     log.Noop,
			},
		},
		"missing repository should fail": {
			config: status.ServiceConfig{
				Logger: log.Noop,
			},
			expErr: true,
		},
		"nil logger should default to noop": {
			config: status.ServiceConfig{
				Repository: &storagemock.MockRunRepository{},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			svc, err := status.NewService(test.config)

			if test.expErr {
				require.Error(err)
				require.Nil(svc)
			} else {
				require.NoError(err)
				require.NotNil(svc)
			}
		})
	}
}

func TestService_Run(t *testing.T) {
	createdAt := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	finishedAt := time.Date(2026, 1, 30, 10, 1, 5, 0, time.UTC)

	readyRun := func() model.Run {
		return model.Run{
			ID:             "01H2QWERTYASDFGZXCVBNMLKJH",
			RepositoryURL:  "https://github.com/acme/widget",
			Repository:     model.RepositoryRef{Owner: "acme", Name: "widget"},
			Phase:          model.PhaseReady,
			Progress:       100,
			PackageManager: model.PackageManagerPNPM,
			URL:            "http://127.0.0.1:49153",
			CreatedAt:      createdAt,
			FinishedAt:     &finishedAt,
		}
	}
	olderRun := func() model.Run {
		r := readyRun()
		r.ID = "01H2QWERTYASDFGZXCVBNMLKJA"
		r.Phase = model.PhaseFailed
		r.ErrorKind = model.ErrorKindInstall
		return r
	}

	tests := map[string]struct {
		mock      func(m *storagemock.MockRunRepository)
		req       status.Request
		expResult *status.Result
		expErr    error
	}{
		"get run by ID": {
			mock: func(m *storagemock.MockRunRepository) {
				r := readyRun()
				m.On("GetRun", mock.Anything, "01H2QWERTYASDFGZXCVBNMLKJH").Once().Return(&r, nil)
			},
			req:       status.Request{IDOrRepository: "01H2QWERTYASDFGZXCVBNMLKJH"},
			expResult: &status.Result{Run: readyRun()},
		},
		"get run by ID with log": {
			mock: func(m *storagemock.MockRunRepository) {
				r := readyRun()
				m.On("GetRun", mock.Anything, "01H2QWERTYASDFGZXCVBNMLKJH").Once().Return(&r, nil)
				m.On("ListRunLog", mock.Anything, "01H2QWERTYASDFGZXCVBNMLKJH").Once().Return([]string{"Booting sandbox...\n", "Server ready\n"}, nil)
			},
			req: status.Request{IDOrRepository: "01H2QWERTYASDFGZXCVBNMLKJH", WithLog: true},
			expResult: &status.Result{
				Run: readyRun(),
				Log: []string{"Booting sandbox...\n", "Server ready\n"},
			},
		},
		"get latest run by repository": {
			mock: func(m *storagemock.MockRunRepository) {
				m.On("ListRuns", mock.Anything).Once().Return([]model.Run{readyRun(), olderRun()}, nil)
			},
			req:       status.Request{IDOrRepository: "ACME/widget"},
			expResult: &status.Result{Run: readyRun()},
		},
		"run not found by ID": {
			mock: func(m *storagemock.MockRunRepository) {
				m.On("GetRun", mock.Anything, "01H2QWERTYASDFGZXCVBNMLKJH").Once().Return(nil, model.ErrNotFound)
			},
			req:    status.Request{IDOrRepository: "01H2QWERTYASDFGZXCVBNMLKJH"},
			expErr: model.ErrNotFound,
		},
		"run not found by repository": {
			mock: func(m *storagemock.MockRunRepository) {
				m.On("ListRuns", mock.Anything).Once().Return([]model.Run{readyRun()}, nil)
			},
			req:    status.Request{IDOrRepository: "acme/other"},
			expErr: model.ErrNotFound,
		},
		"input that is not an ID or repository should not hit the repository": {
			mock:   func(m *storagemock.MockRunRepository) {},
			req:    status.Request{IDOrRepository: "nonexistent"},
			expErr: model.ErrNotFound,
		},
		"empty input should fail": {
			mock:   func(m *storagemock.MockRunRepository) {},
			req:    status.Request{},
			expErr: model.ErrNotValid,
		},
		"repository error should propagate": {
			mock: func(m *storagemock.MockRunRepository) {
				m.On("GetRun", mock.Anything, "01H2QWERTYASDFGZXCVBNMLKJH").Once().Return(nil, fmt.Errorf("database error"))
			},
			req:    status.Request{IDOrRepository: "01H2QWERTYASDFGZXCVBNMLKJH"},
			expErr: fmt.Errorf("database error"),
		},
		"log error should propagate": {
			mock: func(m *storagemock.MockRunRepository) {
				r := readyRun()
				m.On("GetRun", mock.Anything, "01H2QWERTYASDFGZXCVBNMLKJH").Once().Return(&r, nil)
				m.On("ListRunLog", mock.Anything, "01H2QWERTYASDFGZXCVBNMLKJH").Once().Return(nil, fmt.Errorf("database error"))
			},
			req:    status.Request{IDOrRepository: "01H2QWERTYASDFGZXCVBNMLKJH", WithLog: true},
			expErr: fmt.Errorf("database error"),
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			// Setup
			m := &storagemock.MockRunRepository{}
			test.mock(m)

			svc, err := status.NewService(status.ServiceConfig{
				Repository: m,
				Logger:     log.Noop,
			})
			require.NoError(err)

			// Execute
			result, err := svc.Run(context.Background(), test.req)

			// Verify
			if test.expErr != nil {
				require.Error(err)
				if test.expErr == model.ErrNotFound || test.expErr == model.ErrNotValid {
					assert.ErrorIs(err, test.expErr)
				} else {
					assert.Contains(err.Error(), test.expErr.Error())
				}
			} else {
				require.NoError(err)
				assert.Equal(test.expResult, result)
			}

			m.AssertExpectations(t)
		})
	}
}
