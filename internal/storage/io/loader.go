package io

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/slok/repoready/internal/model"
)

// ConfigYAMLRepository loads sandbox configuration from YAML files.
type ConfigYAMLRepository struct {
	fs   fs.FS
	base model.SandboxConfig
}

// NewConfigYAMLRepository creates a new YAML config repository, the loaded
// values are set on top of the base configuration.
func NewConfigYAMLRepository(filesystem fs.FS, base model.SandboxConfig) *ConfigYAMLRepository {
	return &ConfigYAMLRepository{fs: filesystem, base: base}
}

// GetConfig loads a sandbox configuration from a YAML file and returns a validated domain model.
func (r *ConfigYAMLRepository) GetConfig(ctx context.Context, path string) (model.SandboxConfig, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.SandboxConfig{}, fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return model.SandboxConfig{}, ctx.Err()
	}

	var cfg SandboxConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.SandboxConfig{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return model.SandboxConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	mcfg := cfg.toModel(r.base)
	if err := mcfg.Validate(); err != nil {
		return model.SandboxConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return mcfg, nil
}

// SandboxConfig represents the YAML structure for sandbox configuration.
type SandboxConfig struct {
	Image     string            `yaml:"image"`
	WorkDir   string            `yaml:"workdir"`
	Ports     []int             `yaml:"ports"`
	Env       map[string]string `yaml:"env"`
	Resources *ResourcesConfig  `yaml:"resources,omitempty"`
}

func (c SandboxConfig) validate() error {
	if c.WorkDir != "" && !strings.HasPrefix(c.WorkDir, "/") {
		return fmt.Errorf("workdir must be absolute, got: %s", c.WorkDir)
	}

	seen := map[int]bool{}
	for _, p := range c.Ports {
		if seen[p] {
			return fmt.Errorf("duplicated port: %d", p)
		}
		seen[p] = true
	}

	if c.Resources != nil {
		if err := c.Resources.validate(); err != nil {
			return fmt.Errorf("resources: %w", err)
		}
	}
	return nil
}

func (c SandboxConfig) toModel(base model.SandboxConfig) model.SandboxConfig {
	cfg := base
	cfg.Ports = append([]int{}, base.Ports...)
	cfg.Env = map[string]string{}
	for k, v := range base.Env {
		cfg.Env[k] = v
	}

	if c.Image != "" {
		cfg.Image = c.Image
	}
	if c.WorkDir != "" {
		cfg.WorkDir = c.WorkDir
	}
	if len(c.Ports) > 0 {
		cfg.Ports = c.Ports
	}
	for k, v := range c.Env {
		cfg.Env[k] = v
	}
	if c.Resources != nil {
		cfg.Resources = model.Resources{
			VCPUs:    c.Resources.VCPUs,
			MemoryMB: c.Resources.MemoryMB,
		}
	}

	return cfg
}

// ResourcesConfig represents the YAML structure for resource configuration.
type ResourcesConfig struct {
	VCPUs    float64 `yaml:"vcpus"`
	MemoryMB int     `yaml:"memory_mb"`
}

func (r ResourcesConfig) validate() error {
	if r.VCPUs <= 0 {
		return fmt.Errorf("vcpus must be positive, got: %v", r.VCPUs)
	}
	if r.MemoryMB <= 0 {
		return fmt.Errorf("memory_mb must be positive, got: %d", r.MemoryMB)
	}
	return nil
}

// AnalysisYAMLRepository loads the repository analysis results. JSON files are
// also accepted, they are valid YAML.
type AnalysisYAMLRepository struct {
	fs fs.FS
}

// NewAnalysisYAMLRepository creates a new analysis repository.
func NewAnalysisYAMLRepository(filesystem fs.FS) *AnalysisYAMLRepository {
	return &AnalysisYAMLRepository{fs: filesystem}
}

// GetAnalysis loads an analysis file.
func (r *AnalysisYAMLRepository) GetAnalysis(ctx context.Context, path string) (model.Analysis, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("reading analysis file: %w", err)
	}

	if ctx.Err() != nil {
		return model.Analysis{}, ctx.Err()
	}

	var a Analysis
	if err := yaml.Unmarshal(data, &a); err != nil {
		return model.Analysis{}, fmt.Errorf("parsing YAML: %w", err)
	}
	if a.Runnable == nil {
		return model.Analysis{}, fmt.Errorf("runnable is required: %w", model.ErrNotValid)
	}

	return model.Analysis{
		Instructions: strings.TrimSpace(a.Instructions),
		Runnable:     *a.Runnable,
	}, nil
}

// Analysis represents the YAML structure of an analysis file.
type Analysis struct {
	Instructions string `yaml:"instructions" json:"instructions"`
	Runnable     *bool  `yaml:"runnable" json:"runnable"`
}
