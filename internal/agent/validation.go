package agent

import (
	"fmt"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/sells-group/csa-normalizer/internal/model"
)

// ValidationAgent runs cross-field business rules over the unioned output
// of the domain agents. It never mutates agent results. Failed checks in a
// blocking category become blocking errors; everything else degrades to a
// warning with a remediation recommendation.
type ValidationAgent struct{}

// NewValidationAgent builds the cross-field validator.
func NewValidationAgent() *ValidationAgent { return &ValidationAgent{} }

// Name identifies the agent in reports.
func (v *ValidationAgent) Name() string { return "validation" }

// Category severities and blocking policy. Blocking categories carry
// cross-party financial-safety impact.
var (
	categorySeverity = map[string]model.Severity{
		"collateral":     model.SeverityHigh,
		"business_rules": model.SeverityMedium,
		"date":           model.SeverityMedium,
		"currency":       model.SeverityLow,
		"timezone":       model.SeverityLow,
	}
	blockingCategories = map[string]bool{
		"business_rules": true,
		"date":           true,
	}
)

var checkRecommendations = map[string]string{
	"currency_consistency":  "confirm all monetary fields share the documented base currency",
	"timezone_consistency":  "align valuation and notification times to one timezone",
	"date_consistency":      "verify the agreement and effective dates against the execution page",
	"threshold_sign":        "thresholds must be non-negative or explicitly infinite",
	"mta_vs_threshold":      "review the minimum transfer amount against the party threshold",
	"collateral_duplicates": "merge duplicate eligible-collateral rows",
	"unusual_maturity":      "confirm sub-0.1-year maturity limits against the source table",
	"split_rows":            "near-identical adjacent rows may be one row split by the parser",
	"bucket_overlap":        "overlapping maturity buckets make valuation ambiguous",
	"bucket_coverage":       "maturity buckets leave part of the documented range uncovered",
}

// Validate runs the full check battery and assembles the report.
func (v *ValidationAgent) Validate(results map[string]*model.AgentResult, terms *model.ContractTerms) *model.ValidationReport {
	report := &model.ValidationReport{}

	currencyData := agentData(results, "currency")
	temporalData := agentData(results, "temporal")
	collateralData := agentData(results, "collateral")

	v.checkCurrencyConsistency(report, currencyData, terms)
	v.checkTimezoneConsistency(report, temporalData)
	v.checkDateConsistency(report, temporalData)
	v.checkThresholdSign(report, currencyData)
	v.checkMTAVersusThreshold(report, currencyData)
	v.checkCollateral(report, collateralData)

	report.Finalize()
	return report
}

func agentData(results map[string]*model.AgentResult, name string) map[string]any {
	if r, ok := results[name]; ok && r != nil {
		return r.Data
	}
	return nil
}

// record files one check outcome, fanning failures out to errors or
// warnings per the category policy.
func (v *ValidationAgent) record(report *model.ValidationReport, name, category string, status model.CheckStatus, detail string, fields ...string) {
	report.DetailedChecks = append(report.DetailedChecks, model.ValidationCheck{
		Name:     name,
		Category: category,
		Status:   status,
		Detail:   detail,
		Fields:   fields,
	})
	if status == model.CheckPassed {
		return
	}

	rec := checkRecommendations[name]
	if status == model.CheckFailed && blockingCategories[category] {
		report.Errors = append(report.Errors, model.ValidationError{
			Check:    name,
			Category: category,
			Message:  detail,
			Fields:   fields,
			Blocking: true,
		})
		if rec != "" {
			report.Recommendations = append(report.Recommendations, rec)
		}
		return
	}

	severity := categorySeverity[category]
	if severity == "" {
		severity = model.SeverityLow
	}
	report.Warnings = append(report.Warnings, model.ValidationWarning{
		Check:          name,
		Severity:       severity,
		Message:        detail,
		Fields:         fields,
		Recommendation: rec,
	})
}

func (v *ValidationAgent) checkCurrencyConsistency(report *model.ValidationReport, data map[string]any, terms *model.ContractTerms) {
	base := ""
	if terms != nil {
		base = strings.ToUpper(strings.TrimSpace(terms.BaseCurrency))
	}
	if b, ok := data["base_currency"].(string); ok && b != "" {
		base = b
	}
	if base == "" {
		v.record(report, "currency_consistency", "currency", model.CheckWarning,
			"no base currency stated; cross-field currency consistency not verifiable")
		return
	}

	var mismatched []string
	for key, val := range data {
		nc, ok := val.(model.NormalizedCurrency)
		if !ok || nc.Kind() != model.AmountFinite || nc.CurrencyCode == "" {
			continue
		}
		if nc.CurrencyCode != base {
			mismatched = append(mismatched, key)
		}
	}
	if len(mismatched) > 0 {
		v.record(report, "currency_consistency", "currency", model.CheckWarning,
			fmt.Sprintf("fields %v differ from base currency %s", mismatched, base), mismatched...)
		return
	}
	v.record(report, "currency_consistency", "currency", model.CheckPassed,
		fmt.Sprintf("all monetary fields consistent with %s", base))
}

func (v *ValidationAgent) checkTimezoneConsistency(report *model.ValidationReport, data map[string]any) {
	zones := map[string][]string{}
	for key, val := range data {
		nt, ok := val.(*model.NormalizedTime)
		if !ok || nt.Timezone == "" {
			continue
		}
		zones[nt.Timezone] = append(zones[nt.Timezone], key)
	}
	if len(zones) > 1 {
		var fields []string
		for _, keys := range zones {
			fields = append(fields, keys...)
		}
		v.record(report, "timezone_consistency", "timezone", model.CheckWarning,
			fmt.Sprintf("temporal fields span %d timezones", len(zones)), fields...)
		return
	}
	v.record(report, "timezone_consistency", "timezone", model.CheckPassed,
		"all temporal fields share one timezone")
}

func (v *ValidationAgent) checkDateConsistency(report *model.ValidationReport, data map[string]any) {
	agreement, okA := data["agreement_date"].(model.NormalizedDate)
	effective, okE := data["effective_date"].(model.NormalizedDate)
	if !okA || !okE || agreement.FormatDetected == "unknown" || effective.FormatDetected == "unknown" {
		v.record(report, "date_consistency", "date", model.CheckPassed,
			"insufficient normalized dates for ordering check")
		return
	}
	// ISO strings order lexicographically.
	if effective.Date < agreement.Date {
		v.record(report, "date_consistency", "date", model.CheckFailed,
			fmt.Sprintf("effective date %s precedes agreement date %s", effective.Date, agreement.Date),
			"agreement_date", "effective_date")
		return
	}
	v.record(report, "date_consistency", "date", model.CheckPassed,
		"agreement and effective dates are consistently ordered")
}

func (v *ValidationAgent) checkThresholdSign(report *model.ValidationReport, data map[string]any) {
	bad := []string{}
	for _, key := range []string{"party_a_threshold", "party_b_threshold"} {
		nc, ok := data[key].(model.NormalizedCurrency)
		if !ok {
			continue
		}
		if nc.Kind() == model.AmountFinite && nc.Amount != nil && *nc.Amount < 0 {
			bad = append(bad, key)
		}
	}
	if len(bad) > 0 {
		v.record(report, "threshold_sign", "business_rules", model.CheckFailed,
			fmt.Sprintf("negative threshold in %v", bad), bad...)
		return
	}
	v.record(report, "threshold_sign", "business_rules", model.CheckPassed,
		"thresholds are non-negative or explicitly infinite")
}

// checkMTAVersusThreshold enforces MTA <= threshold per party. Unbounded
// thresholds trivially satisfy the rule; not-applicable values skip it.
func (v *ValidationAgent) checkMTAVersusThreshold(report *model.ValidationReport, data map[string]any) {
	pairs := [][2]string{
		{"party_a_min_transfer_amount", "party_a_threshold"},
		{"party_b_min_transfer_amount", "party_b_threshold"},
	}
	for _, pair := range pairs {
		mta, okM := data[pair[0]].(model.NormalizedCurrency)
		threshold, okT := data[pair[1]].(model.NormalizedCurrency)
		if !okM || !okT {
			continue
		}
		if threshold.Kind() == model.AmountUnbounded {
			v.record(report, "mta_vs_threshold", "business_rules", model.CheckPassed,
				fmt.Sprintf("%s is unbounded; %s trivially compliant", pair[1], pair[0]))
			continue
		}
		if mta.Kind() != model.AmountFinite || threshold.Kind() != model.AmountFinite ||
			mta.Amount == nil || threshold.Amount == nil {
			continue
		}
		if *mta.Amount > *threshold.Amount {
			v.record(report, "mta_vs_threshold", "business_rules", model.CheckFailed,
				fmt.Sprintf("%s %.2f exceeds %s %.2f", pair[0], *mta.Amount, pair[1], *threshold.Amount),
				pair[0], pair[1])
			continue
		}
		v.record(report, "mta_vs_threshold", "business_rules", model.CheckPassed,
			fmt.Sprintf("%s within %s", pair[0], pair[1]))
	}
}

// splitRowSimilarity is the description similarity above which two adjacent
// rows look like one row split by the parser.
const splitRowSimilarity = 0.85

func (v *ValidationAgent) checkCollateral(report *model.ValidationReport, data map[string]any) {
	table, ok := data["collateral_table"].(model.NormalizedCollateralTable)
	if !ok {
		return
	}
	items := table.Items

	// Duplicates.
	seen := map[string][]int{}
	for i, it := range items {
		key := strings.ToLower(strings.TrimSpace(it.Description))
		seen[key] = append(seen[key], i)
	}
	dupes := 0
	for _, idxs := range seen {
		if len(idxs) > 1 {
			dupes++
		}
	}
	if dupes > 0 {
		v.record(report, "collateral_duplicates", "collateral", model.CheckWarning,
			fmt.Sprintf("%d duplicated collateral descriptions", dupes))
	} else {
		v.record(report, "collateral_duplicates", "collateral", model.CheckPassed,
			"no duplicate collateral rows")
	}

	// Probable split rows.
	splits := 0
	for i := 0; i+1 < len(items); i++ {
		a, b := items[i].Description, items[i+1].Description
		if a == "" || b == "" || a == b {
			continue
		}
		if levenshtein.Similarity(strings.ToLower(a), strings.ToLower(b), nil) >= splitRowSimilarity {
			splits++
		}
	}
	if splits > 0 {
		v.record(report, "split_rows", "collateral", model.CheckWarning,
			fmt.Sprintf("%d adjacent row pairs look like parser splits", splits))
	} else {
		v.record(report, "split_rows", "collateral", model.CheckPassed,
			"no probable split rows")
	}

	// Unusual maturities and bucket structure.
	unusual, overlaps, gaps := 0, 0, 0
	for _, it := range items {
		for x := 0; x < len(it.Buckets); x++ {
			if it.Buckets[x].MaxYears != nil && *it.Buckets[x].MaxYears < 0.1 {
				unusual++
			}
			for y := x + 1; y < len(it.Buckets); y++ {
				if bucketsOverlap(it.Buckets[x], it.Buckets[y]) {
					overlaps++
				}
			}
		}
		if _, hasGap := coverageGap(it.Buckets); hasGap {
			gaps++
		}
	}

	if unusual > 0 {
		v.record(report, "unusual_maturity", "collateral", model.CheckWarning,
			fmt.Sprintf("%d maturity limits below 0.1 years", unusual))
	} else {
		v.record(report, "unusual_maturity", "collateral", model.CheckPassed,
			"no unusually short maturity limits")
	}

	if overlaps > 0 {
		v.record(report, "bucket_overlap", "collateral", model.CheckFailed,
			fmt.Sprintf("%d overlapping maturity bucket pairs", overlaps))
	} else {
		v.record(report, "bucket_overlap", "collateral", model.CheckPassed,
			"maturity buckets do not overlap")
	}

	if gaps > 0 {
		v.record(report, "bucket_coverage", "collateral", model.CheckWarning,
			fmt.Sprintf("%d items leave maturity-range gaps", gaps))
	} else {
		v.record(report, "bucket_coverage", "collateral", model.CheckPassed,
			"maturity buckets cover the documented range")
	}
}
