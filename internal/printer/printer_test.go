package printer_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/repoready/internal/fallback"
	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/printer"
)

func runFixture() model.Run {
	createdAt := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	finishedAt := createdAt.Add(95 * time.Second)
	return model.Run{
		ID:             "01H2QWERTYASDFGZXCVBNMLKJH",
		RepositoryURL:  "https://github.com/acme/widget",
		Repository:     model.RepositoryRef{Owner: "acme", Name: "widget"},
		Phase:          model.PhaseFailed,
		Progress:       40,
		PackageManager: model.PackageManagerPNPM,
		ErrorKind:      model.ErrorKindInstall,
		ErrorMessage:   `"pnpm install" failed with exit code 137`,
		CreatedAt:      createdAt,
		FinishedAt:     &finishedAt,
	}
}

func failedState() model.RunState {
	r := runFixture()
	links := fallback.Links(r.Repository)
	return model.RunState{
		RunID:         r.ID,
		RepositoryURL: r.RepositoryURL,
		Repository:    r.Repository,
		Phase:         model.PhaseTimedOut,
		Progress:      85,
		Log:           []string{"Booting sandbox...\n"},
		Err:           &model.TimeoutError{},
		Message:       "run timed out",
		Fallback:      &links,
		StartedAt:     r.CreatedAt,
		FinishedAt:    r.FinishedAt,
	}
}

func TestTablePrinterPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintRuns([]model.Run{runFixture()})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "acme/widget")
	assert.Contains(t, lines[1], "failed (install)")
	assert.Contains(t, lines[1], "pnpm")
	assert.Contains(t, lines[1], "ago")
}

func TestTablePrinterPrintRunsEmpty(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	require.NoError(t, p.PrintRuns(nil))
	assert.Empty(t, buf.String())
}

func TestTablePrinterPrintRunStatus(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintRunStatus(runFixture(), []string{"Running pnpm install...\n", "Killed"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Phase:       failed")
	assert.Contains(t, out, `Error:       install: "pnpm install" failed with exit code 137`)
	assert.Contains(t, out, "Finished:    2026-01-30 10:01:35 UTC (took 1m35s)")
	assert.True(t, strings.HasSuffix(out, "Running pnpm install...\nKilled\n"))
}

func TestTablePrinterPrintRunResult(t *testing.T) {
	tests := map[string]struct {
		state  model.RunState
		expOut []string
		notOut []string
	}{
		"A ready run should print the server URL.": {
			state: model.RunState{
				Repository: model.RepositoryRef{Owner: "acme", Name: "widget"},
				Phase:      model.PhaseReady,
				URL:        "http://127.0.0.1:49153",
			},
			expOut: []string{"acme/widget is running at http://127.0.0.1:49153"},
			notOut: []string{"StackBlitz"},
		},
		"A timed out run should print the fallback links.": {
			state: failedState(),
			expOut: []string{
				"acme/widget could not be run (timed_out): run timed out",
				"https://stackblitz.com/github/acme/widget",
				"https://replit.com/github/acme/widget",
				"https://github.com/acme/widget",
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			p := printer.NewTablePrinter(&buf)

			require.NoError(t, p.PrintRunResult(test.state))
			for _, s := range test.expOut {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range test.notOut {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestTablePrinterPrintChecks(t *testing.T) {
	tests := map[string]struct {
		results []model.CheckResult
		expOut  string
	}{
		"All passing checks.": {
			results: []model.CheckResult{{ID: "docker_daemon", Message: "reachable", Status: model.CheckStatusOK}},
			expOut:  "All checks passed!",
		},
		"Errors and warnings should be summarized.": {
			results: []model.CheckResult{
				{ID: "docker_daemon", Message: "unreachable", Status: model.CheckStatusError},
				{ID: "sandbox_config", Message: "no ports", Status: model.CheckStatusWarning},
			},
			expOut: "1 error(s), 1 warning(s)",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			p := printer.NewTablePrinter(&buf)

			require.NoError(t, p.PrintChecks(test.results))
			assert.Contains(t, buf.String(), test.expOut)
		})
	}
}

func TestJSONPrinterPrintRunResult(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	require.NoError(t, p.PrintRunResult(failedState()))

	var out printer.RunStateOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "timed_out", out.Phase)
	assert.Equal(t, "timeout", out.ErrorKind)
	assert.Equal(t, "acme/widget", out.Repository)
	require.NotNil(t, out.Fallback)
	assert.Equal(t, "https://stackblitz.com/github/acme/widget", out.Fallback.StackBlitz)
	assert.Equal(t, []string{"Booting sandbox...\n"}, out.Log)
}

func TestJSONPrinterPrintRunResultIdle(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	require.NoError(t, p.PrintRunResult(model.RunState{Phase: model.PhaseIdle}))
	assert.NotContains(t, buf.String(), `"fallback"`)
	assert.Contains(t, buf.String(), `"phase": "idle"`)
}

func TestJSONPrinterPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	require.NoError(t, p.PrintRuns([]model.Run{runFixture()}))

	out := buf.String()
	assert.Contains(t, out, `"repository": "acme/widget"`)
	assert.Contains(t, out, `"error_kind": "install"`)
	assert.NotContains(t, out, `"url"`)
}

func TestTablePrinterPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintMessage("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(buf.String()))
}
