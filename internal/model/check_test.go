package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/repoready/internal/model"
)

func TestSummarizeChecks(t *testing.T) {
	tests := map[string]struct {
		results    []model.CheckResult
		expSummary model.CheckSummary
		expHealthy bool
	}{
		"No results should be healthy.": {
			expHealthy: true,
		},
		"Warnings should be healthy.": {
			results: []model.CheckResult{
				{ID: "docker_daemon", Status: model.CheckStatusOK},
				{ID: "sandbox_config", Status: model.CheckStatusWarning},
			},
			expSummary: model.CheckSummary{OK: 1, Warnings: 1},
			expHealthy: true,
		},
		"Errors should not be healthy.": {
			results: []model.CheckResult{
				{ID: "docker_daemon", Status: model.CheckStatusError},
				{ID: "sandbox_config", Status: model.CheckStatusError},
				{ID: "sandbox_image", Status: model.CheckStatusOK},
			},
			expSummary: model.CheckSummary{OK: 1, Errors: 2},
			expHealthy: false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := model.SummarizeChecks(test.results)
			assert.Equal(t, test.expSummary, got)
			assert.Equal(t, test.expHealthy, got.Healthy())
		})
	}
}
