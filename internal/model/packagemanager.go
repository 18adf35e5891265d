package model

// PackageManager is the Node.js package manager used to install and run a project.
type PackageManager string

const (
	// PackageManagerNPM is npm, the default package manager.
	PackageManagerNPM PackageManager = "npm"
	// PackageManagerYarn is yarn.
	PackageManagerYarn PackageManager = "yarn"
	// PackageManagerPNPM is pnpm.
	PackageManagerPNPM PackageManager = "pnpm"
)
