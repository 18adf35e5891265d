package model

// CheckStatus is the outcome of a preflight check.
type CheckStatus string

const (
	CheckStatusOK      CheckStatus = "ok"
	CheckStatusWarning CheckStatus = "warning"
	// CheckStatusError means runs will fail until it's fixed.
	CheckStatusError CheckStatus = "error"
)

// CheckResult is the result of a sandbox preflight check (e.g. docker daemon reachable).
type CheckResult struct {
	ID      string
	Message string
	Status  CheckStatus
}

// CheckSummary is the number of check results per status.
type CheckSummary struct {
	OK       int
	Warnings int
	Errors   int
}

// Healthy returns true when no check failed, warnings are accepted.
func (s CheckSummary) Healthy() bool { return s.Errors == 0 }

// SummarizeChecks counts the results by status.
func SummarizeChecks(results []CheckResult) CheckSummary {
	var s CheckSummary
	for _, r := range results {
		switch r.Status {
		case CheckStatusOK:
			s.OK++
		case CheckStatusWarning:
			s.Warnings++
		case CheckStatusError:
			s.Errors++
		}
	}
	return s
}
