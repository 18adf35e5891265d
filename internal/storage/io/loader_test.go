package io

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/repoready/internal/model"
)

func baseSandboxConfig() model.SandboxConfig {
	return model.SandboxConfig{
		Image:     "node:20-bookworm-slim",
		WorkDir:   "/workspace",
		Ports:     []int{3000, 5173},
		Env:       map[string]string{"HOST": "0.0.0.0"},
		Resources: model.Resources{VCPUs: 2, MemoryMB: 2048},
	}
}

func TestConfigYAMLRepository_GetConfig(t *testing.T) {
	tests := map[string]struct {
		fs     fstest.MapFS
		path   string
		expCfg model.SandboxConfig
		expErr bool
		errMsg string
	}{
		"Empty config should load the base config": {
			fs: fstest.MapFS{
				"sandbox.yaml": &fstest.MapFile{Data: []byte(`---
`)},
			},
			path:   "sandbox.yaml",
			expCfg: baseSandboxConfig(),
		},
		"Config values should be set on top of the base config": {
			fs: fstest.MapFS{
				"sandbox.yaml": &fstest.MapFile{Data: []byte(`image: node:22
workdir: /app
ports: [4321]
env:
  NODE_OPTIONS: --max-old-space-size=1536
resources:
  vcpus: 0.5
  memory_mb: 1024
`)},
			},
			path: "sandbox.yaml",
			expCfg: model.SandboxConfig{
				Image:   "node:22",
				WorkDir: "/app",
				Ports:   []int{4321},
				Env: map[string]string{
					"HOST":         "0.0.0.0",
					"NODE_OPTIONS": "--max-old-space-size=1536",
				},
				Resources: model.Resources{VCPUs: 0.5, MemoryMB: 1024},
			},
		},
		"Relative workdir should return error": {
			fs: fstest.MapFS{
				"sandbox.yaml": &fstest.MapFile{Data: []byte(`workdir: app`)},
			},
			path:   "sandbox.yaml",
			expErr: true,
			errMsg: "workdir must be absolute",
		},
		"Duplicated ports should return error": {
			fs: fstest.MapFS{
				"sandbox.yaml": &fstest.MapFile{Data: []byte(`ports: [3000, 3000]`)},
			},
			path:   "sandbox.yaml",
			expErr: true,
			errMsg: "duplicated port",
		},
		"Out of range ports should return error": {
			fs: fstest.MapFS{
				"sandbox.yaml": &fstest.MapFile{Data: []byte(`ports: [70000]`)},
			},
			path:   "sandbox.yaml",
			expErr: true,
			errMsg: "invalid port",
		},
		"Invalid resources should return error": {
			fs: fstest.MapFS{
				"sandbox.yaml": &fstest.MapFile{Data: []byte(`resources:
  vcpus: 1
`)},
			},
			path:   "sandbox.yaml",
			expErr: true,
			errMsg: "memory_mb must be positive",
		},
		"Missing file should return error": {
			fs:     fstest.MapFS{},
			path:   "nonexistent.yaml",
			expErr: true,
			errMsg: "reading config file",
		},
		"Invalid YAML should return error": {
			fs: fstest.MapFS{
				"invalid.yaml": &fstest.MapFile{Data: []byte(`invalid: yaml: content: {}`)},
			},
			path:   "invalid.yaml",
			expErr: true,
			errMsg: "parsing YAML",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			base := baseSandboxConfig()
			repo := NewConfigYAMLRepository(tc.fs, base)
			cfg, err := repo.GetConfig(context.Background(), tc.path)

			if tc.expErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errMsg)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expCfg, cfg)
			assert.Equal(t, baseSandboxConfig(), base, "base config should not be mutated")
		})
	}
}

func TestAnalysisYAMLRepository_GetAnalysis(t *testing.T) {
	tests := map[string]struct {
		fs          fstest.MapFS
		path        string
		expAnalysis model.Analysis
		expErr      bool
	}{
		"A YAML analysis should load": {
			fs: fstest.MapFS{
				"analysis.yaml": &fstest.MapFile{Data: []byte(`runnable: true
instructions: |
  Run pnpm install and pnpm dev.
`)},
			},
			path:        "analysis.yaml",
			expAnalysis: model.Analysis{Runnable: true, Instructions: "Run pnpm install and pnpm dev."},
		},
		"A JSON analysis should load": {
			fs: fstest.MapFS{
				"analysis.json": &fstest.MapFile{Data: []byte(`{"instructions": "Not a web project.", "runnable": false}`)},
			},
			path:        "analysis.json",
			expAnalysis: model.Analysis{Runnable: false, Instructions: "Not a web project."},
		},
		"An analysis without runnable flag should fail": {
			fs: fstest.MapFS{
				"analysis.yaml": &fstest.MapFile{Data: []byte(`instructions: hi`)},
			},
			path:   "analysis.yaml",
			expErr: true,
		},
		"Missing file should fail": {
			fs:     fstest.MapFS{},
			path:   "analysis.yaml",
			expErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			repo := NewAnalysisYAMLRepository(tc.fs)
			a, err := repo.GetAnalysis(context.Background(), tc.path)

			if tc.expErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expAnalysis, a)
		})
	}
}

func TestConfigYAMLRepository_GetConfig_ContextCancellation(t *testing.T) {
	fs := fstest.MapFS{
		"test.yaml": &fstest.MapFile{Data: []byte(`image: node:22
`)},
	}

	repo := NewConfigYAMLRepository(fs, baseSandboxConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := repo.GetConfig(ctx, "test.yaml")
	require.Error(t, err)
	assert.Equal(t, context.Canceled, err)
}
