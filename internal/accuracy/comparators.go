package accuracy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/agext/levenshtein"

	"github.com/sells-group/csa-normalizer/internal/model"
)

// fuzzyThreshold is the textual similarity a free-text field must clear to
// count as a match.
const fuzzyThreshold = 0.8

// relativeTolerance bounds acceptable drift for numeric comparisons.
const relativeTolerance = 1e-6

// compareField scores a candidate value against its ground-truth
// counterpart with a type-appropriate comparator. The score is in [0,1];
// matched means the comparator cleared its threshold.
func compareField(expected, actual any) (score float64, matched bool) {
	switch exp := expected.(type) {
	case model.NormalizedCurrency:
		act, ok := actual.(model.NormalizedCurrency)
		if !ok {
			return compareText(stringify(expected), stringify(actual))
		}
		return compareCurrency(exp, act)
	case model.NormalizedCollateralTable:
		act, ok := actual.(model.NormalizedCollateralTable)
		if !ok {
			return 0, false
		}
		return compareTables(exp, act)
	case float64:
		return compareNumber(exp, actual)
	case int:
		return compareNumber(float64(exp), actual)
	case string:
		if norm, ok := normalizeDateString(exp); ok {
			if actNorm, ok := normalizeDateString(stringify(actual)); ok {
				if norm == actNorm {
					return 1, true
				}
				return 0, false
			}
			return 0, false
		}
		return compareText(exp, stringify(actual))
	default:
		return compareText(stringify(expected), stringify(actual))
	}
}

// compareCurrency matches on kind first; sentinels never equal finite
// amounts regardless of text similarity.
func compareCurrency(expected, actual model.NormalizedCurrency) (float64, bool) {
	if expected.Kind() != actual.Kind() {
		return 0, false
	}
	if expected.Kind() != model.AmountFinite {
		return 1, true
	}
	if expected.Amount == nil || actual.Amount == nil {
		return 0, false
	}
	if !numbersClose(*expected.Amount, *actual.Amount) {
		return 0, false
	}
	if expected.CurrencyCode != "" && !strings.EqualFold(expected.CurrencyCode, actual.CurrencyCode) {
		return 0.5, false
	}
	return 1, true
}

// compareTables scores table-shaped fields as the average per-row match
// with a row-count agreement factor.
func compareTables(expected, actual model.NormalizedCollateralTable) (float64, bool) {
	if len(expected.Items) == 0 {
		if len(actual.Items) == 0 {
			return 1, true
		}
		return 0, false
	}

	rowTotal := 0.0
	for i, exp := range expected.Items {
		if i >= len(actual.Items) {
			break
		}
		rowTotal += compareCollateralRows(exp, actual.Items[i])
	}
	rowAvg := rowTotal / float64(len(expected.Items))

	countAgreement := 1.0
	if len(actual.Items) != len(expected.Items) {
		larger := math.Max(float64(len(actual.Items)), float64(len(expected.Items)))
		countAgreement = math.Min(float64(len(actual.Items)), float64(len(expected.Items))) / larger
	}

	score := rowAvg * countAgreement
	return score, score >= fuzzyThreshold
}

func compareCollateralRows(expected, actual model.NormalizedCollateral) float64 {
	parts := 0
	total := 0.0

	parts++
	if expected.AssetClass == actual.AssetClass {
		total++
	}

	parts++
	descScore, _ := compareText(expected.Description, actual.Description)
	total += descScore

	if expected.FlatValuationPct != nil {
		parts++
		if actual.FlatValuationPct != nil && numbersClose(*expected.FlatValuationPct, *actual.FlatValuationPct) {
			total++
		}
	}
	if len(expected.Buckets) > 0 {
		parts++
		if len(actual.Buckets) == len(expected.Buckets) {
			bucketHits := 0
			for i, b := range expected.Buckets {
				if bucketsEqual(b, actual.Buckets[i]) {
					bucketHits++
				}
			}
			total += float64(bucketHits) / float64(len(expected.Buckets))
		}
	}
	return total / float64(parts)
}

func bucketsEqual(a, b model.MaturityBucket) bool {
	return boundsEqual(a.MinYears, b.MinYears) &&
		boundsEqual(a.MaxYears, b.MaxYears) &&
		numbersClose(a.ValuationPct, b.ValuationPct)
}

func boundsEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return numbersClose(*a, *b)
}

func compareNumber(expected float64, actual any) (float64, bool) {
	var got float64
	switch v := actual.(type) {
	case float64:
		got = v
	case int:
		got = float64(v)
	case string:
		parsed, ok := model.ParseDecimal(v)
		if !ok {
			return 0, false
		}
		got = parsed
	default:
		return 0, false
	}
	if numbersClose(expected, got) {
		return 1, true
	}
	return 0, false
}

func numbersClose(a, b float64) bool {
	return math.Abs(a-b) <= math.Max(1e-9, relativeTolerance*math.Abs(a))
}

// compareText matches free text: exact after normalization, then the
// better of edit-distance similarity and token overlap against the fuzzy
// threshold.
func compareText(expected, actual string) (float64, bool) {
	e, a := normalizeText(expected), normalizeText(actual)
	if e == a {
		return 1, true
	}
	if e == "" || a == "" {
		return 0, false
	}
	score := math.Max(levenshtein.Similarity(e, a, nil), jaccard(e, a))
	return score, score >= fuzzyThreshold
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// jaccard is token-set overlap, which tolerates reordered clauses that
// edit distance punishes.
func jaccard(a, b string) float64 {
	setA := map[string]bool{}
	for _, tok := range strings.Fields(a) {
		setA[tok] = true
	}
	setB := map[string]bool{}
	for _, tok := range strings.Fields(b) {
		setB[tok] = true
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	inter := 0
	for tok := range setA {
		if setB[tok] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

var groundTruthDateLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02/01/2006",
}

// normalizeDateString reports the ISO form of a date-shaped string. Only
// strings that parse as dates participate in date comparison.
func normalizeDateString(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	for _, layout := range groundTruthDateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
