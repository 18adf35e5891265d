package lib

import (
	"errors"
	"time"

	"github.com/slok/repoready/internal/model"
)

// SandboxType identifies the sandbox implementation.
type SandboxType string

const (
	// SandboxDocker runs the repositories in Docker containers.
	SandboxDocker SandboxType = "docker"

	// SandboxFake uses a scripted in-memory sandbox (no containers).
	// Use this for unit testing without infrastructure dependencies.
	SandboxFake SandboxType = "fake"
)

var (
	// ErrNotFound is returned when a run does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotValid is returned on invalid input.
	ErrNotValid = errors.New("not valid")
	// ErrRunInProgress is returned when starting a run while another one is in flight.
	ErrRunInProgress = errors.New("run in progress")
	// ErrNotRunnable is returned when the repository analysis marks it as not runnable.
	ErrNotRunnable = errors.New("not runnable")
)

// Phase is the stage of a run.
//
// The typical lifecycle is:
//
//	idle -> booting -> mounting -> installing -> starting -> ready
//
// Any active phase can end in failed or timed_out.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseBooting    Phase = "booting"
	PhaseMounting   Phase = "mounting"
	PhaseInstalling Phase = "installing"
	PhaseStarting   Phase = "starting"
	PhaseReady      Phase = "ready"
	PhaseFailed     Phase = "failed"
	PhaseTimedOut   Phase = "timed_out"
)

// Analysis is the result of a previous repository analysis, only runnable
// repositories are executed.
type Analysis struct {
	Instructions string
	Runnable     bool
}

// FallbackLinks are the cloud environments where a repository can be opened
// when it can't be run.
type FallbackLinks struct {
	StackBlitz string
	Replit     string
	Source     string
}

// RunState is the observable state of the current run.
type RunState struct {
	// ID is the unique identifier (ULID) of the run.
	ID string
	// Repository is the `owner/name` of the repository.
	Repository string
	Phase      Phase
	// Progress goes from 0 to 100 and never decreases during a run.
	Progress int
	// Log is the full run log.
	Log string
	// PackageManager is set once detected (npm, yarn or pnpm).
	PackageManager string
	// URL is the reachable dev server address once ready.
	URL string
	// ErrorKind classifies the failure of failed and timed out runs (e.g. install, timeout).
	ErrorKind string
	// Message is the human readable failure message.
	Message string
	// Fallback is set on failed and timed out runs.
	Fallback *FallbackLinks
}

// Run is a run of the history.
type Run struct {
	ID             string
	RepositoryURL  string
	Repository     string
	Phase          Phase
	Progress       int
	PackageManager string
	URL            string
	ErrorKind      string
	ErrorMessage   string
	CreatedAt      time.Time
	// FinishedAt is nil while the run is in flight.
	FinishedAt *time.Time
	// Log is only loaded by [Client.GetRun].
	Log []string
}

// ListRunsOpts are the optional filters of [Client.ListRuns].
type ListRunsOpts struct {
	Phase      *Phase
	Repository string
	Limit      int
}

// CheckStatus represents the status of a preflight check.
type CheckStatus string

const (
	// CheckStatusOK indicates the check passed.
	CheckStatusOK CheckStatus = "ok"
	// CheckStatusWarning indicates the check passed with a warning.
	CheckStatusWarning CheckStatus = "warning"
	// CheckStatusError indicates the check failed.
	CheckStatusError CheckStatus = "error"
)

// CheckResult represents the result of a single preflight check.
type CheckResult struct {
	// ID is a unique identifier for the check (e.g. "docker_daemon").
	ID string
	// Message is a human-readable description of the result.
	Message string
	// Status is the check status.
	Status CheckStatus
}

// --- Internal conversion helpers ---

func toInternalAnalysis(a *Analysis) *model.Analysis {
	if a == nil {
		return nil
	}
	return &model.Analysis{Instructions: a.Instructions, Runnable: a.Runnable}
}

func fromInternalLinks(l model.FallbackLinks) FallbackLinks {
	return FallbackLinks{StackBlitz: l.StackBlitz, Replit: l.Replit, Source: l.Source}
}

func fromInternalRunState(st model.RunState) RunState {
	out := RunState{
		ID:             st.RunID,
		Phase:          Phase(st.Phase),
		Progress:       st.Progress,
		Log:            st.LogText(),
		PackageManager: string(st.PackageManager),
		URL:            st.URL,
		Message:        st.Message,
	}
	if st.Phase != model.PhaseIdle {
		out.Repository = st.Repository.String()
	}
	if st.Err != nil {
		out.ErrorKind = string(model.ErrorKindOf(st.Err))
	}
	if st.Fallback != nil {
		l := fromInternalLinks(*st.Fallback)
		out.Fallback = &l
	}
	return out
}

func fromInternalRun(r model.Run, log []string) Run {
	return Run{
		ID:             r.ID,
		RepositoryURL:  r.RepositoryURL,
		Repository:     r.Repository.String(),
		Phase:          Phase(r.Phase),
		Progress:       r.Progress,
		PackageManager: string(r.PackageManager),
		URL:            r.URL,
		ErrorKind:      string(r.ErrorKind),
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      r.CreatedAt,
		FinishedAt:     r.FinishedAt,
		Log:            log,
	}
}

func fromInternalRunList(rs []model.Run) []Run {
	out := make([]Run, 0, len(rs))
	for _, r := range rs {
		out = append(out, fromInternalRun(r, nil))
	}
	return out
}

func fromInternalCheckResults(results []model.CheckResult) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{ID: r.ID, Message: r.Message, Status: CheckStatus(r.Status)})
	}
	return out
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return joinErrors(err, ErrNotFound)
	case errors.Is(err, model.ErrRunInProgress):
		return joinErrors(err, ErrRunInProgress)
	case errors.Is(err, model.ErrNotRunnable):
		return joinErrors(err, ErrNotRunnable)
	case errors.Is(err, model.ErrNotValid):
		return joinErrors(err, ErrNotValid)
	default:
		return err
	}
}

func joinErrors(original, sentinel error) error {
	return &mappedError{original: original, sentinel: sentinel}
}

type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
