package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeAccuracyMetrics(t *testing.T) {
	m := ComputeAccuracyMetrics(8, 1, 1, 10)

	assert.InDelta(t, 8.0/9.0, m.Precision, 1e-9)
	assert.InDelta(t, 8.0/9.0, m.Recall, 1e-9)
	assert.InDelta(t, 2*m.Precision*m.Recall/(m.Precision+m.Recall), m.F1, 1e-9)
	assert.InDelta(t, 0.8, m.Accuracy, 1e-9)
	assert.InDelta(t, 0.2, m.ErrorRate, 1e-9)
	assert.Equal(t, 2, m.ErrorCount)
}

func TestComputeAccuracyMetricsZeroDenominators(t *testing.T) {
	m := ComputeAccuracyMetrics(0, 0, 0, 0)

	assert.Zero(t, m.Precision)
	assert.Zero(t, m.Recall)
	assert.Zero(t, m.F1, "f1 must be 0 when precision+recall is 0")
	assert.Zero(t, m.Accuracy)
	assert.Zero(t, m.ErrorRate)
}

func TestComputeAccuracyMetricsBounds(t *testing.T) {
	cases := []struct{ tp, fp, fn, total int }{
		{10, 0, 0, 10},
		{0, 10, 0, 10},
		{0, 0, 10, 10},
		{5, 3, 2, 10},
	}
	for _, c := range cases {
		m := ComputeAccuracyMetrics(c.tp, c.fp, c.fn, c.total)
		assert.GreaterOrEqual(t, m.Accuracy, 0.0)
		assert.LessOrEqual(t, m.Accuracy, 1.0)
		assert.Equal(t, c.tp+c.fn, m.TruePositives+m.FalseNegatives)
	}
}

func TestValidationReportPassedLaw(t *testing.T) {
	r := &ValidationReport{
		DetailedChecks: []ValidationCheck{
			{Name: "currency_consistency", Status: CheckPassed},
			{Name: "timezone_consistency", Status: CheckWarning},
			{Name: "mta_vs_threshold", Status: CheckFailed},
		},
		Warnings: []ValidationWarning{
			{Check: "timezone_consistency", Severity: SeverityLow, Message: "timezone inferred, not explicit"},
		},
		Errors: []ValidationError{
			{Check: "mta_vs_threshold", Category: "business_rules", Message: "MTA exceeds threshold", Blocking: false},
		},
	}
	r.Finalize()
	assert.True(t, r.Passed, "non-blocking errors and warnings must not fail the report")
	assert.Equal(t, 3, r.ChecksPerformed)
	assert.Equal(t, 1, r.ChecksPassed)
	assert.Equal(t, 1, r.ChecksFailed)

	r.Errors = append(r.Errors, ValidationError{
		Check: "date_consistency", Category: "date", Message: "effective date precedes agreement date", Blocking: true,
	})
	r.Finalize()
	assert.False(t, r.Passed, "a blocking error must fail the report")
}
