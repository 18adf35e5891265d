package model

import "fmt"

// SandboxConfig is the configuration of the sandbox sessions where the runs are executed.
type SandboxConfig struct {
	// Image is the container image with the Node.js toolchain.
	Image string
	// WorkDir is the directory where the repository is mounted.
	WorkDir string
	// Ports are the ports dev servers usually bind, they are published and probed for readiness.
	Ports     []int
	Env       map[string]string
	Resources Resources
}

// Resources represents the resource limits of a sandbox session.
type Resources struct {
	VCPUs    float64
	MemoryMB int
}

// Validate validates the sandbox configuration.
func (c SandboxConfig) Validate() error {
	if c.Image == "" {
		return fmt.Errorf("image is required: %w", ErrNotValid)
	}
	if c.WorkDir == "" || c.WorkDir[0] != '/' {
		return fmt.Errorf("workdir must be an absolute path: %w", ErrNotValid)
	}
	if len(c.Ports) == 0 {
		return fmt.Errorf("at least one port is required: %w", ErrNotValid)
	}
	for _, p := range c.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid port %d: %w", p, ErrNotValid)
		}
	}
	if c.Resources.VCPUs < 0 || c.Resources.MemoryMB < 0 {
		return fmt.Errorf("resources can't be negative: %w", ErrNotValid)
	}
	return nil
}
