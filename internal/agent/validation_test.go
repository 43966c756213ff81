package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/csa-normalizer/internal/model"
)

func currencyResult(data map[string]any) map[string]*model.AgentResult {
	return map[string]*model.AgentResult{
		"currency": {AgentName: "currency", Data: data},
	}
}

func TestValidationMTAExceedsThresholdBlocks(t *testing.T) {
	v := NewValidationAgent()
	report := v.Validate(currencyResult(map[string]any{
		"party_a_threshold":           model.FiniteAmount(1_000_000, "USD", "1,000,000", 1.0),
		"party_a_min_transfer_amount": model.FiniteAmount(5_000_000, "USD", "5,000,000", 1.0),
		"base_currency":               "USD",
	}), nil)

	assert.False(t, report.Passed, "MTA above threshold is a blocking failure")
	require.True(t, report.HasBlockingError())

	var found bool
	for _, e := range report.Errors {
		if e.Check == "mta_vs_threshold" {
			found = true
			assert.Equal(t, "business_rules", e.Category)
			assert.True(t, e.Blocking)
		}
	}
	assert.True(t, found, "expected an mta_vs_threshold error")
}

func TestValidationUnboundedThresholdTriviallyCompliant(t *testing.T) {
	v := NewValidationAgent()
	report := v.Validate(currencyResult(map[string]any{
		"party_a_threshold":           model.UnboundedAmount("Infinity", 1.0),
		"party_a_min_transfer_amount": model.FiniteAmount(50_000, "USD", "50,000", 1.0),
		"base_currency":               "USD",
	}), nil)

	assert.True(t, report.Passed, "any MTA satisfies an unlimited threshold")
	assert.Empty(t, report.Errors)
}

func TestValidationNegativeThresholdBlocks(t *testing.T) {
	v := NewValidationAgent()
	report := v.Validate(currencyResult(map[string]any{
		"party_b_threshold": model.FiniteAmount(-100, "USD", "-100", 1.0),
		"base_currency":     "USD",
	}), nil)

	assert.False(t, report.Passed)
	require.NotEmpty(t, report.Errors)
	assert.Equal(t, "threshold_sign", report.Errors[0].Check)
}

func TestValidationEffectiveBeforeAgreementBlocks(t *testing.T) {
	v := NewValidationAgent()
	results := map[string]*model.AgentResult{
		"temporal": {AgentName: "temporal", Data: map[string]any{
			"agreement_date": model.NormalizedDate{Date: "2024-03-01", FormatDetected: "ISO"},
			"effective_date": model.NormalizedDate{Date: "2024-01-15", FormatDetected: "ISO"},
		}},
	}
	report := v.Validate(results, nil)

	assert.False(t, report.Passed)
	var found bool
	for _, e := range report.Errors {
		if e.Check == "date_consistency" {
			found = true
			assert.Equal(t, "date", e.Category)
		}
	}
	assert.True(t, found, "expected a date_consistency error")
}

func TestValidationTimezoneMismatchWarnsOnly(t *testing.T) {
	v := NewValidationAgent()
	results := map[string]*model.AgentResult{
		"temporal": {AgentName: "temporal", Data: map[string]any{
			"valuation_time":    &model.NormalizedTime{Time: "17:00:00", Timezone: "America/New_York"},
			"notification_time": &model.NormalizedTime{Time: "10:00:00", Timezone: "Europe/London"},
		}},
	}
	report := v.Validate(results, nil)

	assert.True(t, report.Passed, "timezone drift is a warning, never blocking")
	var found bool
	for _, w := range report.Warnings {
		if w.Check == "timezone_consistency" {
			found = true
			assert.Equal(t, model.SeverityLow, w.Severity)
		}
	}
	assert.True(t, found, "expected a timezone_consistency warning")
}

func TestValidationCurrencyMismatchWarnsOnly(t *testing.T) {
	v := NewValidationAgent()
	report := v.Validate(currencyResult(map[string]any{
		"party_a_threshold": model.FiniteAmount(1_000_000, "JPY", "1,000,000", 1.0),
		"base_currency":     "USD",
	}), nil)

	assert.True(t, report.Passed)
	var found bool
	for _, w := range report.Warnings {
		if w.Check == "currency_consistency" {
			found = true
			assert.Contains(t, w.Fields, "party_a_threshold")
		}
	}
	assert.True(t, found, "expected a currency_consistency warning")
}

func TestValidationCollateralStructure(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	table := model.NormalizedCollateralTable{Items: []model.NormalizedCollateral{
		{
			Description: "US Treasury bonds",
			AssetClass:  model.AssetGovernmentBond,
			Buckets: []model.MaturityBucket{
				{MinYears: f(0), MaxYears: f(5), ValuationPct: 0.98, HaircutPct: 0.02},
				{MinYears: f(3), MaxYears: f(10), ValuationPct: 0.95, HaircutPct: 0.05},
			},
		},
		{Description: "US Treasury bonds", AssetClass: model.AssetGovernmentBond},
	}}

	v := NewValidationAgent()
	results := map[string]*model.AgentResult{
		"collateral": {AgentName: "collateral", Data: map[string]any{"collateral_table": table}},
	}
	report := v.Validate(results, nil)

	assert.True(t, report.Passed, "collateral problems warn but never block")

	warnings := map[string]bool{}
	for _, w := range report.Warnings {
		warnings[w.Check] = true
		if w.Check == "collateral_duplicates" {
			assert.Equal(t, model.SeverityHigh, w.Severity)
		}
	}
	assert.True(t, warnings["collateral_duplicates"], "duplicate descriptions should warn")
	assert.True(t, warnings["bucket_overlap"], "overlapping buckets should warn")

	var failed int
	for _, c := range report.DetailedChecks {
		if c.Status == model.CheckFailed {
			failed++
		}
	}
	assert.Equal(t, failed, report.ChecksFailed, "counters must match the detailed checks")
}

func TestValidationSplitRowDetection(t *testing.T) {
	table := model.NormalizedCollateralTable{Items: []model.NormalizedCollateral{
		{Description: "Negotiable debt obligations issued by the U.S. Treasury Department"},
		{Description: "Negotiable debt obligations issued by the U.S. Treasury Departmen"},
	}}

	v := NewValidationAgent()
	results := map[string]*model.AgentResult{
		"collateral": {AgentName: "collateral", Data: map[string]any{"collateral_table": table}},
	}
	report := v.Validate(results, nil)

	var found bool
	for _, w := range report.Warnings {
		if w.Check == "split_rows" {
			found = true
		}
	}
	assert.True(t, found, "near-identical adjacent descriptions should flag a probable split")
}

func TestValidationCleanRunPasses(t *testing.T) {
	v := NewValidationAgent()
	results := map[string]*model.AgentResult{
		"currency": {AgentName: "currency", Data: map[string]any{
			"party_a_threshold":           model.FiniteAmount(1_000_000, "USD", "1,000,000", 1.0),
			"party_a_min_transfer_amount": model.FiniteAmount(50_000, "USD", "50,000", 1.0),
			"base_currency":               "USD",
		}},
		"temporal": {AgentName: "temporal", Data: map[string]any{
			"valuation_time": &model.NormalizedTime{Time: "17:00:00", Timezone: "America/New_York"},
			"agreement_date": model.NormalizedDate{Date: "2024-01-15", FormatDetected: "ISO"},
			"effective_date": model.NormalizedDate{Date: "2024-02-01", FormatDetected: "ISO"},
		}},
	}
	report := v.Validate(results, &model.ContractTerms{BaseCurrency: "USD"})

	assert.True(t, report.Passed)
	assert.Empty(t, report.Errors)
	assert.Equal(t, report.ChecksPerformed, report.ChecksPassed+report.ChecksFailed+countWarningChecks(report))
}

func countWarningChecks(r *model.ValidationReport) int {
	n := 0
	for _, c := range r.DetailedChecks {
		if c.Status == model.CheckWarning {
			n++
		}
	}
	return n
}
