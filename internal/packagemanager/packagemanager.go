package packagemanager

import (
	"encoding/json"
	"fmt"

	"github.com/slok/repoready/internal/model"
)

const (
	pnpmLockFile    = "pnpm-lock.yaml"
	yarnLockFile    = "yarn.lock"
	packageJSONFile = "package.json"
	serverJSFile    = "server.js"
)

// detectOrder is the lock file priority, first match wins.
var detectOrder = []struct {
	lockFile string
	kind     model.PackageManager
}{
	{lockFile: pnpmLockFile, kind: model.PackageManagerPNPM},
	{lockFile: yarnLockFile, kind: model.PackageManagerYarn},
}

// Detect returns the package manager of a repository based on its top-level lock files.
// Repositories without a known lock file use npm.
func Detect(tree *model.FileTree) model.PackageManager {
	kind, _ := DetectWithLockFile(tree)
	return kind
}

// DetectWithLockFile is like Detect but also returns the lock file used for the detection,
// empty when the default has been selected.
func DetectWithLockFile(tree *model.FileTree) (model.PackageManager, string) {
	if tree == nil {
		return model.PackageManagerNPM, ""
	}

	for _, d := range detectOrder {
		if n, ok := tree.Get(d.lockFile); ok && !n.IsDir() {
			return d.kind, d.lockFile
		}
	}

	return model.PackageManagerNPM, ""
}

// Command is a command executed in the sandbox.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	s := c.Name
	for _, a := range c.Args {
		s += " " + a
	}
	return s
}

// InstallCommand returns the dependency installation command of the package manager.
func InstallCommand(kind model.PackageManager) Command {
	return Command{Name: string(kind), Args: []string{"install"}}
}

// Candidate is a command that could start the project server.
type Candidate struct {
	Command Command
	// Script is the package.json script the command runs.
	Script string
}

// StartCandidates returns the ordered commands used to start the project server,
// the dev script first and the start script as fallback.
func StartCandidates(kind model.PackageManager) []Candidate {
	return []Candidate{
		{Command: Command{Name: string(kind), Args: []string{"run", "dev"}}, Script: "dev"},
		{Command: Command{Name: string(kind), Args: []string{"start"}}, Script: "start"},
	}
}

// Available returns true if the candidate can be executed for the repository.
// A missing start script is still runnable when the repository has a top-level
// server.js, that is how npm resolves the default start.
func (c Candidate) Available(scripts map[string]string, tree *model.FileTree) bool {
	if _, ok := scripts[c.Script]; ok {
		return true
	}
	if c.Script != "start" || tree == nil {
		return false
	}
	n, ok := tree.Get(serverJSFile)
	return ok && !n.IsDir()
}

type packageJSON struct {
	Scripts map[string]string `json:"scripts"`
}

// Scripts returns the scripts of the top-level package.json. Repositories without a
// package.json have no scripts.
func Scripts(tree *model.FileTree) (map[string]string, error) {
	if tree == nil {
		return map[string]string{}, nil
	}

	n, ok := tree.Get(packageJSONFile)
	if !ok || n.IsDir() {
		return map[string]string{}, nil
	}

	var pkg packageJSON
	if err := json.Unmarshal(n.Contents, &pkg); err != nil {
		return nil, fmt.Errorf("could not decode %s: %w", packageJSONFile, err)
	}
	if pkg.Scripts == nil {
		pkg.Scripts = map[string]string{}
	}

	return pkg.Scripts, nil
}
