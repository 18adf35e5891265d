package printer

import (
	"time"

	"github.com/slok/repoready/internal/model"
)

// Printer knows how to print run information in different formats.
type Printer interface {
	PrintRuns(runs []model.Run) error
	PrintRunStatus(run model.Run, log []string) error
	PrintRunResult(st model.RunState) error
	PrintLinks(links model.FallbackLinks) error
	PrintChecks(results []model.CheckResult) error
	PrintMessage(msg string) error
}

// FormatTimestamp returns a formatted timestamp string in UTC.
// Format: "2006-01-02 15:04:05 UTC".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// runDuration returns the time the run took to finish, zero when still running.
func runDuration(r model.Run) time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.CreatedAt).Round(time.Second)
}
