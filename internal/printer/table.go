package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/slok/repoready/internal/model"
)

// TablePrinter prints run information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintRuns prints runs in a table format.
func (t *TablePrinter) PrintRuns(runs []model.Run) error {
	if len(runs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header.
	fmt.Fprintln(tw, "ID\tREPOSITORY\tPHASE\tPM\tURL\tCREATED")

	// Print rows.
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.Repository,
			phaseWithKind(r.Phase, r.ErrorKind),
			orDash(string(r.PackageManager)),
			orDash(r.URL),
			humanize.Time(r.CreatedAt),
		)
	}

	return nil
}

// PrintRunStatus prints detailed run status, with the log when present.
func (t *TablePrinter) PrintRunStatus(run model.Run, log []string) error {
	fmt.Fprintf(t.writer, "ID:          %s\n", run.ID)
	fmt.Fprintf(t.writer, "Repository:  %s\n", run.Repository)
	fmt.Fprintf(t.writer, "URL:         %s\n", run.RepositoryURL)
	fmt.Fprintf(t.writer, "Phase:       %s\n", run.Phase)
	fmt.Fprintf(t.writer, "Progress:    %d%%\n", run.Progress)

	if run.PackageManager != "" {
		fmt.Fprintf(t.writer, "PM:          %s\n", run.PackageManager)
	}
	if run.URL != "" {
		fmt.Fprintf(t.writer, "Server:      %s\n", run.URL)
	}
	if run.ErrorKind != "" {
		fmt.Fprintf(t.writer, "Error:       %s: %s\n", run.ErrorKind, run.ErrorMessage)
	}

	fmt.Fprintf(t.writer, "Created:     %s\n", FormatTimestamp(run.CreatedAt))
	if run.FinishedAt != nil {
		fmt.Fprintf(t.writer, "Finished:    %s (took %s)\n", FormatTimestamp(*run.FinishedAt), runDuration(run))
	}

	if len(log) > 0 {
		fmt.Fprintf(t.writer, "\nLog:\n")
		text := strings.Join(log, "")
		fmt.Fprint(t.writer, text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Fprintln(t.writer)
		}
	}

	return nil
}

// PrintRunResult prints the outcome of a finished run, failed runs get the
// fallback environments listed.
func (t *TablePrinter) PrintRunResult(st model.RunState) error {
	switch st.Phase {
	case model.PhaseReady:
		fmt.Fprintf(t.writer, "%s is running at %s\n", st.Repository, st.URL)
		return nil
	case model.PhaseFailed, model.PhaseTimedOut:
		fmt.Fprintf(t.writer, "%s could not be run (%s): %s\n", st.Repository, st.Phase, st.Message)
	default:
		fmt.Fprintf(t.writer, "%s run is %s (%d%%)\n", st.Repository, st.Phase, st.Progress)
		return nil
	}

	if st.Fallback != nil {
		fmt.Fprintln(t.writer)
		fmt.Fprintln(t.writer, "Try it in a cloud environment instead:")
		return t.PrintLinks(*st.Fallback)
	}

	return nil
}

// PrintLinks prints the fallback environment links.
func (t *TablePrinter) PrintLinks(links model.FallbackLinks) error {
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "  StackBlitz\t%s\n", links.StackBlitz)
	fmt.Fprintf(tw, "  Replit\t%s\n", links.Replit)
	fmt.Fprintf(tw, "  Source\t%s\n", links.Source)

	return nil
}

// PrintChecks prints preflight check results with a summary line.
func (t *TablePrinter) PrintChecks(results []model.CheckResult) error {
	for _, r := range results {
		fmt.Fprintf(t.writer, "  %s %-20s %s\n", statusIcon(r.Status), r.ID, r.Message)
	}

	fmt.Fprintln(t.writer)
	counts := model.SummarizeChecks(results)
	if counts.Errors == 0 && counts.Warnings == 0 {
		fmt.Fprintln(t.writer, "All checks passed!")
		return nil
	}

	var summary []string
	if counts.Errors > 0 {
		summary = append(summary, fmt.Sprintf("%d error(s)", counts.Errors))
	}
	if counts.Warnings > 0 {
		summary = append(summary, fmt.Sprintf("%d warning(s)", counts.Warnings))
	}
	fmt.Fprintln(t.writer, strings.Join(summary, ", "))

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func statusIcon(status model.CheckStatus) string {
	switch status {
	case model.CheckStatusOK:
		return "OK"
	case model.CheckStatusWarning:
		return "!!"
	case model.CheckStatusError:
		return "XX"
	default:
		return "??"
	}
}

func phaseWithKind(p model.Phase, kind model.ErrorKind) string {
	if kind == "" {
		return string(p)
	}
	return fmt.Sprintf("%s (%s)", p, kind)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
