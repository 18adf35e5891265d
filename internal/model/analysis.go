package model

// Analysis is the result of the external repository analysis step.
// The run orchestrator is only invoked for runnable projects.
type Analysis struct {
	// Instructions are the plain-text setup instructions.
	Instructions string
	// Runnable is true when the project is eligible for sandboxed execution.
	Runnable bool
}

// FallbackLinks are the external environments suggested when a run can't be completed.
type FallbackLinks struct {
	StackBlitz string
	Replit     string
	Source     string
}
