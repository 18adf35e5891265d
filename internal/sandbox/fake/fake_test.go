package fake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/repoready/internal/log"
	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/sandbox"
	"github.com/slok/repoready/internal/sandbox/fake"
)

func readAll(p sandbox.Process) string {
	var out string
	for chunk := range p.Output() {
		out += string(chunk)
	}
	return out
}

func TestSession(t *testing.T) {
	tests := map[string]struct {
		config  fake.SessionConfig
		actions func(ctx context.Context, t *testing.T, s *fake.Session) error
		expErr  bool
	}{
		"Booting twice should only boot once.": {
			actions: func(ctx context.Context, t *testing.T, s *fake.Session) error {
				require.NoError(t, s.Boot(ctx))
				require.NoError(t, s.Boot(ctx))
				assert.Equal(t, 1, s.BootCount())
				return nil
			},
		},

		"A boot error should be a boot error.": {
			config: fake.SessionConfig{BootErr: errors.New("no runtime")},
			actions: func(ctx context.Context, t *testing.T, s *fake.Session) error {
				err := s.Boot(ctx)
				var bootErr *model.BootError
				assert.ErrorAs(t, err, &bootErr)
				return err
			},
			expErr: true,
		},

		"A mount error should be a mount error.": {
			config: fake.SessionConfig{MountErr: errors.New("disk full")},
			actions: func(ctx context.Context, t *testing.T, s *fake.Session) error {
				err := s.Mount(ctx, model.NewFileTree())
				var mountErr *model.MountError
				assert.ErrorAs(t, err, &mountErr)
				return err
			},
			expErr: true,
		},

		"A scripted command should stream its output and exit code.": {
			config: fake.SessionConfig{Commands: map[string]fake.Command{
				"npm install": {Output: []string{"a", "b"}, ExitCode: 137},
			}},
			actions: func(ctx context.Context, t *testing.T, s *fake.Session) error {
				p, err := s.Spawn(ctx, "npm", "install")
				require.NoError(t, err)
				assert.Equal(t, "ab", readAll(p))

				code, err := p.Wait(ctx)
				require.NoError(t, err)
				assert.Equal(t, 137, code)
				assert.Equal(t, []string{"npm install"}, s.Spawned())
				return nil
			},
		},

		"An unknown command should fail to spawn.": {
			actions: func(ctx context.Context, t *testing.T, s *fake.Session) error {
				_, err := s.Spawn(ctx, "npm", "run", "dev")
				var spawnErr *model.SpawnError
				assert.ErrorAs(t, err, &spawnErr)
				return err
			},
			expErr: true,
		},

		"A ready command should emit an endpoint ready event.": {
			config: fake.SessionConfig{Commands: map[string]fake.Command{
				"npm run dev": {Hang: true, Ready: true},
			}},
			actions: func(ctx context.Context, t *testing.T, s *fake.Session) error {
				_, err := s.Spawn(ctx, "npm", "run", "dev")
				require.NoError(t, err)

				select {
				case ev := <-s.Events():
					assert.Equal(t, sandbox.EventTypeEndpointReady, ev.Type)
					assert.Equal(t, fake.DefaultReadyURL, ev.URL)
				case <-time.After(time.Second):
					t.Fatal("endpoint ready event not received")
				}
				return nil
			},
		},

		"Hung processes should end on teardown.": {
			config: fake.SessionConfig{Commands: map[string]fake.Command{
				"npm start": {Hang: true},
			}},
			actions: func(ctx context.Context, t *testing.T, s *fake.Session) error {
				p, err := s.Spawn(ctx, "npm", "start")
				require.NoError(t, err)

				require.NoError(t, s.Teardown(ctx))
				require.NoError(t, s.Teardown(ctx))
				assert.Equal(t, 2, s.TeardownCount())

				_, err = p.Wait(ctx)
				assert.Error(t, err)

				_, err = s.Spawn(ctx, "npm", "start")
				return err
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			test.config.Logger = log.Noop
			s, err := fake.NewSession(test.config)
			require.NoError(t, err)

			err = test.actions(context.Background(), t, s)

			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
