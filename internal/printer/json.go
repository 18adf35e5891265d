package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/repoready/internal/model"
)

// JSONPrinter prints run information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// listItem represents a run in the list output (subset of fields).
type listItem struct {
	ID         string    `json:"id"`
	Repository string    `json:"repository"`
	Phase      string    `json:"phase"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	URL        string    `json:"url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunOutput is the JSON representation of a persisted run.
type RunOutput struct {
	ID             string     `json:"id"`
	RepositoryURL  string     `json:"repository_url"`
	Repository     string     `json:"repository"`
	Phase          string     `json:"phase"`
	Progress       int        `json:"progress"`
	PackageManager string     `json:"package_manager,omitempty"`
	URL            string     `json:"url,omitempty"`
	ErrorKind      string     `json:"error_kind,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	Log            []string   `json:"log,omitempty"`
}

// NewRunOutput maps a run to its JSON representation.
func NewRunOutput(r model.Run, log []string) RunOutput {
	out := RunOutput{
		ID:             r.ID,
		RepositoryURL:  r.RepositoryURL,
		Repository:     r.Repository.String(),
		Phase:          string(r.Phase),
		Progress:       r.Progress,
		PackageManager: string(r.PackageManager),
		URL:            r.URL,
		ErrorKind:      string(r.ErrorKind),
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      r.CreatedAt.UTC(),
		Log:            log,
	}
	if r.FinishedAt != nil {
		utcTime := r.FinishedAt.UTC()
		out.FinishedAt = &utcTime
	}
	return out
}

// RunStateOutput is the JSON representation of the live run state.
type RunStateOutput struct {
	RunOutput
	Fallback *LinksOutput `json:"fallback,omitempty"`
}

// NewRunStateOutput maps a run state to its JSON representation. The idle
// state has no run data.
func NewRunStateOutput(st model.RunState) RunStateOutput {
	out := RunStateOutput{RunOutput: NewRunOutput(st.Record(), st.Log)}
	if st.Phase == model.PhaseIdle {
		out.RunOutput = RunOutput{Phase: string(model.PhaseIdle)}
	}
	if st.Fallback != nil {
		l := NewLinksOutput(*st.Fallback)
		out.Fallback = &l
	}
	return out
}

// LinksOutput is the JSON representation of the fallback links.
type LinksOutput struct {
	StackBlitz string `json:"stackblitz"`
	Replit     string `json:"replit"`
	Source     string `json:"source"`
}

// NewLinksOutput maps fallback links to their JSON representation.
func NewLinksOutput(l model.FallbackLinks) LinksOutput {
	return LinksOutput{StackBlitz: l.StackBlitz, Replit: l.Replit, Source: l.Source}
}

// checkOutput represents a preflight check result.
type checkOutput struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintRuns prints runs in JSON format with a subset of fields.
func (j *JSONPrinter) PrintRuns(runs []model.Run) error {
	items := make([]listItem, len(runs))
	for i, r := range runs {
		items[i] = listItem{
			ID:         r.ID,
			Repository: r.Repository.String(),
			Phase:      string(r.Phase),
			ErrorKind:  string(r.ErrorKind),
			URL:        r.URL,
			CreatedAt:  r.CreatedAt.UTC(),
		}
	}

	return j.encode(items)
}

// PrintRunStatus prints detailed run status in JSON format.
func (j *JSONPrinter) PrintRunStatus(run model.Run, log []string) error {
	return j.encode(NewRunOutput(run, log))
}

// PrintRunResult prints the run final state in JSON format.
func (j *JSONPrinter) PrintRunResult(st model.RunState) error {
	return j.encode(NewRunStateOutput(st))
}

// PrintLinks prints the fallback links in JSON format.
func (j *JSONPrinter) PrintLinks(links model.FallbackLinks) error {
	return j.encode(NewLinksOutput(links))
}

// PrintChecks prints preflight check results in JSON format.
func (j *JSONPrinter) PrintChecks(results []model.CheckResult) error {
	items := make([]checkOutput, len(results))
	for i, r := range results {
		items[i] = checkOutput{ID: r.ID, Status: string(r.Status), Message: r.Message}
	}
	return j.encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
