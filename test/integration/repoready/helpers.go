package repoready

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/stretchr/testify/require"

	"github.com/slok/repoready/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "repoready"
	}

	// go test changes the CWD to the test package directory, relative paths would break.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("REPOREADY_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("repoready binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "REPOREADY_INTEGRATION"
		envBinary     = "REPOREADY_INTEGRATION_BINARY"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{Binary: os.Getenv(envBinary)}
	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// RunCmd runs a repoready command isolated on its own data dir, logging is disabled.
func RunCmd(ctx context.Context, config Config, dataDir string, args ...string) (stdout, stderr []byte, err error) {
	fullArgs := append([]string{"--no-log", "--data-dir", dataDir}, args...)
	return testutils.RunRepoready(ctx, nil, config.Binary, fullArgs, true)
}

// RunRepository runs a repository on the Docker sandbox with the archives served by archiveURL.
func RunRepository(ctx context.Context, config Config, dataDir, archiveURL, repoURL string) (stdout, stderr []byte, err error) {
	return RunCmd(ctx, config, dataDir, "run", "--format", "json", "--sandbox", "docker", "--archive-base-url", archiveURL, repoURL)
}

// NewArchiveServer serves GitHub like `HEAD.zip` archives, the key of repos is `owner/name`.
func NewArchiveServer(t *testing.T, repos map[string]map[string]string) *httptest.Server {
	t.Helper()

	archives := map[string][]byte{}
	for repo, files := range repos {
		_, name, _ := strings.Cut(repo, "/")
		archives["/"+repo+"/archive/HEAD.zip"] = newZip(t, name+"-HEAD", files)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func newZip(t *testing.T, wrapper string, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(wrapper + "/" + name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// DockerHelper provides utilities for interacting with Docker in tests.
type DockerHelper struct {
	client *client.Client
}

// NewDockerHelper creates a new Docker helper for tests.
func NewDockerHelper(t *testing.T) *DockerHelper {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	require.NoError(t, err, "Failed to create Docker client")
	t.Cleanup(func() { _ = cli.Close() })

	return &DockerHelper{client: cli}
}

// SessionContainers returns the names of the sandbox session containers, stopped ones included.
func (d *DockerHelper) SessionContainers(t *testing.T) []string {
	t.Helper()

	containers, err := d.client.ContainerList(context.Background(), container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", "dev.repoready.session")),
	})
	require.NoError(t, err, "Failed to list containers")

	names := []string{}
	for _, c := range containers {
		names = append(names, c.Names...)
	}
	return names
}
