package conventions

import (
	"path/filepath"
	"time"

	"github.com/slok/repoready/internal/model"
)

const (
	// DefaultDataDir is the default repoready data directory name (relative to home).
	DefaultDataDir = ".repoready"
	// DBFile is the run history database filename.
	DBFile = "repoready.db"
	// SandboxConfigFile is the optional sandbox configuration filename inside the data dir.
	SandboxConfigFile = "sandbox.yaml"

	// DefaultRunTimeout is the wall-clock budget of a run.
	DefaultRunTimeout = 120 * time.Second
	// DefaultTeardownTimeout bounds the session teardown.
	DefaultTeardownTimeout = 30 * time.Second

	// DefaultSandboxImage is the image of the sandbox sessions, it carries node, npm, yarn and pnpm (corepack).
	DefaultSandboxImage = "node:20-bookworm-slim"
	// DefaultSandboxWorkDir is where the repository is mounted inside the sandbox.
	DefaultSandboxWorkDir = "/workspace"

	// DefaultListenAddress is the HTTP API listen address.
	DefaultListenAddress = "127.0.0.1:8765"
)

// DefaultSandboxPorts are the ports dev servers bind by default (CRA/Next, Vite preview, Vite, webpack/Vue, Angular, misc).
var DefaultSandboxPorts = []int{3000, 4173, 5173, 8080, 4200, 8000}

// DefaultSandboxConfig returns the sandbox configuration used when none is provided.
func DefaultSandboxConfig() model.SandboxConfig {
	return model.SandboxConfig{
		Image:   DefaultSandboxImage,
		WorkDir: DefaultSandboxWorkDir,
		Ports:   append([]int{}, DefaultSandboxPorts...),
		Env: map[string]string{
			// Dev servers must listen on all interfaces to be published.
			"HOST":    "0.0.0.0",
			"BROWSER": "none",
		},
		Resources: model.Resources{VCPUs: 2, MemoryMB: 2048},
	}
}

// DBPath returns the run history database path.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// SandboxConfigPath returns the optional sandbox configuration path.
func SandboxConfigPath(dataDir string) string {
	return filepath.Join(dataDir, SandboxConfigFile)
}
