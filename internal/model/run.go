package model

import (
	"strings"
	"time"
)

// Phase is the phase of a run.
type Phase string

const (
	// PhaseIdle indicates there is no run.
	PhaseIdle Phase = "idle"
	// PhaseBooting indicates the sandbox is booting and the repository archive is being fetched.
	PhaseBooting Phase = "booting"
	// PhaseMounting indicates the repository files are being mounted in the sandbox.
	PhaseMounting Phase = "mounting"
	// PhaseInstalling indicates the project dependencies are being installed.
	PhaseInstalling Phase = "installing"
	// PhaseStarting indicates the project server is starting.
	PhaseStarting Phase = "starting"
	// PhaseReady indicates the project server is reachable.
	PhaseReady Phase = "ready"
	// PhaseFailed indicates the run failed.
	PhaseFailed Phase = "failed"
	// PhaseTimedOut indicates the run didn't get ready in time.
	PhaseTimedOut Phase = "timed_out"
)

// Phase progress markers.
const (
	ProgressBooting    = 5
	ProgressMounting   = 30
	ProgressInstalling = 40
	ProgressStarting   = 85
	ProgressReady      = 100
)

var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseBooting},
	PhaseBooting:    {PhaseMounting, PhaseFailed, PhaseTimedOut},
	PhaseMounting:   {PhaseInstalling, PhaseFailed, PhaseTimedOut},
	PhaseInstalling: {PhaseStarting, PhaseFailed, PhaseTimedOut},
	PhaseStarting:   {PhaseReady, PhaseFailed, PhaseTimedOut},
}

// CanTransitionTo returns true if the run can go from the phase to the next one.
// Phases never skip forward and terminal phases have no way out.
func (p Phase) CanTransitionTo(next Phase) bool {
	for _, to := range phaseTransitions[p] {
		if to == next {
			return true
		}
	}
	return false
}

// Terminal returns true for the phases that end a run.
func (p Phase) Terminal() bool {
	return p == PhaseReady || p == PhaseFailed || p == PhaseTimedOut
}

// Active returns true when a run is in flight.
func (p Phase) Active() bool {
	return p != PhaseIdle && !p.Terminal()
}

// RunState is the observable state of a run.
type RunState struct {
	RunID          string
	RepositoryURL  string
	Repository     RepositoryRef
	Phase          Phase
	Progress       int
	Log            []string
	PackageManager PackageManager
	// URL is the reachable server address once ready.
	URL string
	// Err is the failure reason for failed and timed out runs.
	Err error
	// Message is the human readable failure message.
	Message   string
	Fallback  *FallbackLinks
	StartedAt time.Time
	// FinishedAt is set once the run reaches a terminal phase.
	FinishedAt *time.Time
}

// LogText returns the full run log.
func (s RunState) LogText() string { return strings.Join(s.Log, "") }

// Record returns the persistable view of the run state.
func (s RunState) Record() Run {
	r := Run{
		ID:             s.RunID,
		RepositoryURL:  s.RepositoryURL,
		Repository:     s.Repository,
		Phase:          s.Phase,
		Progress:       s.Progress,
		PackageManager: s.PackageManager,
		URL:            s.URL,
		ErrorMessage:   s.Message,
		CreatedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
	}
	if s.Err != nil {
		r.ErrorKind = ErrorKindOf(s.Err)
	}
	return r
}

// RunUpdate is a notification of a run change.
type RunUpdate struct {
	RunID    string
	Phase    Phase
	Progress int
	// LogChunk is set when the update is a log append.
	LogChunk string
}

// Run is the persisted record of a run.
type Run struct {
	ID             string
	RepositoryURL  string
	Repository     RepositoryRef
	Phase          Phase
	Progress       int
	PackageManager PackageManager
	URL            string
	ErrorKind      ErrorKind
	ErrorMessage   string
	CreatedAt      time.Time
	FinishedAt     *time.Time
}
