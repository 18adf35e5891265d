package packagemanager_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/packagemanager"
)

func newTree(t *testing.T, files map[string]string) *model.FileTree {
	t.Helper()
	tree := model.NewFileTree()
	for p, c := range files {
		require.NoError(t, tree.AddFile(p, []byte(c)))
	}
	return tree
}

func TestDetect(t *testing.T) {
	tests := map[string]struct {
		files       map[string]string
		expKind     model.PackageManager
		expLockFile string
	}{
		"No lock files should default to npm.": {
			files:   map[string]string{"package.json": "{}"},
			expKind: model.PackageManagerNPM,
		},
		"npm lock file should use npm.": {
			files:   map[string]string{"package-lock.json": "{}"},
			expKind: model.PackageManagerNPM,
		},
		"Yarn lock file should use yarn.": {
			files:       map[string]string{"yarn.lock": ""},
			expKind:     model.PackageManagerYarn,
			expLockFile: "yarn.lock",
		},
		"pnpm lock file should use pnpm.": {
			files:       map[string]string{"pnpm-lock.yaml": ""},
			expKind:     model.PackageManagerPNPM,
			expLockFile: "pnpm-lock.yaml",
		},
		"pnpm and yarn lock files should use pnpm.": {
			files:       map[string]string{"yarn.lock": "", "pnpm-lock.yaml": ""},
			expKind:     model.PackageManagerPNPM,
			expLockFile: "pnpm-lock.yaml",
		},
		"pnpm, yarn and npm lock files should use pnpm.": {
			files:       map[string]string{"package-lock.json": "", "yarn.lock": "", "pnpm-lock.yaml": ""},
			expKind:     model.PackageManagerPNPM,
			expLockFile: "pnpm-lock.yaml",
		},
		"Yarn and npm lock files should use yarn.": {
			files:       map[string]string{"package-lock.json": "", "yarn.lock": ""},
			expKind:     model.PackageManagerYarn,
			expLockFile: "yarn.lock",
		},
		"Nested lock files should be ignored.": {
			files:   map[string]string{"packages/app/pnpm-lock.yaml": "", "docs/yarn.lock": ""},
			expKind: model.PackageManagerNPM,
		},
		"Lock file names used as directories should be ignored.": {
			files:   map[string]string{"yarn.lock/x": ""},
			expKind: model.PackageManagerNPM,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			tree := newTree(t, test.files)
			kind, lockFile := packagemanager.DetectWithLockFile(tree)

			assert.Equal(test.expKind, kind)
			assert.Equal(test.expLockFile, lockFile)
			assert.Equal(test.expKind, packagemanager.Detect(tree))
		})
	}
}

func TestDetectNilTree(t *testing.T) {
	assert.Equal(t, model.PackageManagerNPM, packagemanager.Detect(nil))
}

func TestCommands(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("pnpm install", packagemanager.InstallCommand(model.PackageManagerPNPM).String())

	cands := packagemanager.StartCandidates(model.PackageManagerYarn)
	if assert.Len(cands, 2) {
		assert.Equal("yarn run dev", cands[0].Command.String())
		assert.Equal("dev", cands[0].Script)
		assert.Equal("yarn start", cands[1].Command.String())
		assert.Equal("start", cands[1].Script)
	}
}

func TestCandidateAvailable(t *testing.T) {
	tests := map[string]struct {
		files        map[string]string
		expAvailable []bool
		expErr       bool
	}{
		"Dev and start scripts should make both candidates available.": {
			files:        map[string]string{"package.json": `{"scripts":{"dev":"vite","start":"node ."}}`},
			expAvailable: []bool{true, true},
		},
		"Only start script should make only start available.": {
			files:        map[string]string{"package.json": `{"scripts":{"start":"node ."}}`},
			expAvailable: []bool{false, true},
		},
		"A server.js should make start available without script.": {
			files:        map[string]string{"package.json": `{"name":"x"}`, "server.js": ""},
			expAvailable: []bool{false, true},
		},
		"Missing package.json should make nothing available.": {
			files:        map[string]string{"README.md": ""},
			expAvailable: []bool{false, false},
		},
		"Invalid package.json should fail.": {
			files:  map[string]string{"package.json": `{`},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			tree := newTree(t, test.files)
			scripts, err := packagemanager.Scripts(tree)
			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)

			var got []bool
			for _, c := range packagemanager.StartCandidates(model.PackageManagerNPM) {
				got = append(got, c.Available(scripts, tree))
			}
			assert.Equal(test.expAvailable, got)
		})
	}
}
