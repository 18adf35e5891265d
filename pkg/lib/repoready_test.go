package lib_test

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/repoready/pkg/lib"
)

func newArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create("widget-HEAD/" + name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// newArchiveServer serves the same archive for any repository.
func newArchiveServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func newTestClient(t *testing.T, archiveURL string, inMemory bool) *lib.Client {
	t.Helper()

	dir := t.TempDir()
	client, err := lib.New(context.Background(), lib.Config{
		DataDir:        dir,
		DBPath:         filepath.Join(dir, "test.db"),
		InMemory:       inMemory,
		Sandbox:        lib.SandboxFake,
		ArchiveBaseURL: archiveURL,
		Timeout:        10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestNewConfigValidation(t *testing.T) {
	tests := map[string]struct {
		cfg    lib.Config
		expErr error
	}{
		"An unknown sandbox should fail.": {
			cfg:    lib.Config{Sandbox: "firecracker", InMemory: true},
			expErr: lib.ErrNotValid,
		},
		"A negative timeout should fail.": {
			cfg:    lib.Config{Sandbox: lib.SandboxFake, Timeout: -time.Second, InMemory: true},
			expErr: lib.ErrNotValid,
		},
		"A fake sandbox with memory history should be created.": {
			cfg: lib.Config{Sandbox: lib.SandboxFake, InMemory: true},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			client, err := lib.New(context.Background(), test.cfg)
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, client.Close())
		})
	}
}

func TestClientRun(t *testing.T) {
	tests := map[string]struct {
		files       map[string]string
		expPhase    lib.Phase
		expPM       string
		expErrKind  string
		expFallback bool
	}{
		"A repository with a dev script should be ready.": {
			files: map[string]string{
				"package.json": `{"name":"widget","scripts":{"dev":"vite"}}`,
				"src/main.js":  "console.log('hi')",
			},
			expPhase: lib.PhaseReady,
			expPM:    "npm",
		},
		"A repository with a pnpm lockfile should use pnpm.": {
			files: map[string]string{
				"package.json":   `{"name":"widget","scripts":{"start":"node server.js"}}`,
				"pnpm-lock.yaml": "lockfileVersion: '9.0'",
			},
			expPhase: lib.PhaseReady,
			expPM:    "pnpm",
		},
		"A repository without package.json should fail with fallback links.": {
			files: map[string]string{
				"README.md": "# widget",
			},
			expPhase:    lib.PhaseFailed,
			expErrKind:  "start",
			expFallback: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			// Setup.
			srv := newArchiveServer(t, newArchive(t, test.files))
			client := newTestClient(t, srv.URL, false)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			// Execute.
			st, err := client.Run(ctx, "https://github.com/acme/widget", nil)

			// Verify.
			require.NoError(err)
			assert.Equal(test.expPhase, st.Phase)
			assert.Equal("acme/widget", st.Repository)
			assert.NotEmpty(st.ID)
			assert.NotEmpty(st.Log)
			if test.expPhase == lib.PhaseReady {
				assert.Equal(test.expPM, st.PackageManager)
				assert.Equal(100, st.Progress)
				assert.NotEmpty(st.URL)
				assert.Nil(st.Fallback)
			}
			if test.expFallback {
				require.NotNil(st.Fallback)
				assert.Equal("https://stackblitz.com/github/acme/widget", st.Fallback.StackBlitz)
				assert.NotEmpty(st.Message)
				assert.Equal(test.expErrKind, st.ErrorKind)
			}

			// The run should be on the history.
			run, err := client.GetRun(ctx, st.ID)
			require.NoError(err)
			assert.Equal(test.expPhase, run.Phase)
			assert.NotEmpty(run.Log)
			assert.NotNil(run.FinishedAt)

			require.NoError(client.Dispose(ctx))
			assert.Equal(lib.PhaseIdle, client.State().Phase)
		})
	}
}

func TestClientStartErrors(t *testing.T) {
	tests := map[string]struct {
		url      string
		analysis *lib.Analysis
		expErr   error
	}{
		"A malformed URL should fail.": {
			url:    "not a url",
			expErr: lib.ErrNotValid,
		},
		"A URL without repository name should fail.": {
			url:    "https://github.com/acme",
			expErr: lib.ErrNotValid,
		},
		"A not runnable analysis should fail.": {
			url:      "https://github.com/acme/widget",
			analysis: &lib.Analysis{Runnable: false, Instructions: "A Python library."},
			expErr:   lib.ErrNotRunnable,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, "http://127.0.0.1:1", true)

			_, err := client.Start(context.Background(), test.url, test.analysis)
			assert.ErrorIs(t, err, test.expErr)
			assert.Equal(t, lib.PhaseIdle, client.State().Phase)
		})
	}
}

func TestClientHistory(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	srv := newArchiveServer(t, newArchive(t, map[string]string{
		"package.json": `{"scripts":{"dev":"next dev"}}`,
	}))
	client := newTestClient(t, srv.URL, true)
	ctx := context.Background()

	_, err := client.Run(ctx, "https://github.com/acme/widget", nil)
	require.NoError(err)
	_, err = client.Run(ctx, "https://github.com/acme/gadget", nil)
	require.NoError(err)

	// All.
	runs, err := client.ListRuns(ctx, lib.ListRunsOpts{})
	require.NoError(err)
	require.Len(runs, 2)
	assert.Equal("acme/gadget", runs[0].Repository)
	assert.Equal("acme/widget", runs[1].Repository)
	assert.Nil(runs[0].Log)

	// Filtered.
	ready := lib.PhaseReady
	runs, err = client.ListRuns(ctx, lib.ListRunsOpts{Phase: &ready, Repository: "ACME/Widget"})
	require.NoError(err)
	require.Len(runs, 1)
	assert.Equal("https://github.com/acme/widget", runs[0].RepositoryURL)

	_, err = client.ListRuns(ctx, lib.ListRunsOpts{Limit: -1})
	assert.ErrorIs(err, lib.ErrNotValid)

	// By repository.
	run, err := client.GetRun(ctx, "acme/widget")
	require.NoError(err)
	assert.Equal(lib.PhaseReady, run.Phase)

	_, err = client.GetRun(ctx, "acme/missing")
	assert.ErrorIs(err, lib.ErrNotFound)
}

func TestClientRunInProgress(t *testing.T) {
	// The archive server blocks so the first run stays in flight.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client := newTestClient(t, srv.URL, true)
	ctx := context.Background()

	_, err := client.Start(ctx, "https://github.com/acme/widget", nil)
	require.NoError(t, err)

	_, err = client.Start(ctx, "https://github.com/acme/gadget", nil)
	assert.ErrorIs(t, err, lib.ErrRunInProgress)

	require.NoError(t, client.Dispose(ctx))
}

func TestClientLinks(t *testing.T) {
	client := newTestClient(t, "", true)

	links := client.Links("https://github.com/acme/widget.git")
	assert.Equal(t, lib.FallbackLinks{
		StackBlitz: "https://stackblitz.com/github/acme/widget",
		Replit:     "https://replit.com/github/acme/widget",
		Source:     "https://github.com/acme/widget",
	}, links)

	assert.Empty(t, client.Doctor(context.Background()))
}
