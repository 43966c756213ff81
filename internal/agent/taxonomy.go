package agent

import (
	_ "embed"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/csa-normalizer/internal/model"
)

//go:embed taxonomy.yaml
var taxonomyYAML []byte

// taxonomy is the embedded domain vocabulary.
type taxonomy struct {
	CurrencyAliases     map[string]string   `yaml:"currency_aliases"`
	TimezoneAliases     map[string]string   `yaml:"timezone_aliases"`
	AssetClasses        map[string][]string `yaml:"asset_classes"`
	RatingAgencies      []string            `yaml:"rating_agencies"`
	RatingEventKeywords []string            `yaml:"rating_event_keywords"`
}

var vocab taxonomy

func init() {
	if err := yaml.Unmarshal(taxonomyYAML, &vocab); err != nil {
		panic("agent: embedded taxonomy is invalid: " + err.Error())
	}
}

// currencyAlias resolves a symbol or word form to an ISO 4217 code.
func currencyAlias(raw string) (string, bool) {
	code, ok := vocab.CurrencyAliases[strings.ToLower(strings.TrimSpace(raw))]
	return code, ok
}

// timezoneAlias resolves a city or abbreviation to an IANA zone name.
// Single-word aliases match whole tokens only, so "est" cannot fire inside
// "Settlement"; multi-word names match by containment. Longest alias wins,
// so "new york city" beats "new york" inside longer text.
func timezoneAlias(text string) (zone string, matched string) {
	lower := strings.ToLower(text)
	tokens := map[string]bool{}
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens[tok] = true
	}
	for alias, z := range vocab.TimezoneAliases {
		if len(alias) <= len(matched) {
			continue
		}
		if strings.ContainsRune(alias, ' ') {
			if strings.Contains(lower, alias) {
				zone, matched = z, alias
			}
		} else if tokens[alias] {
			zone, matched = z, alias
		}
	}
	return zone, matched
}

// classifyAsset maps a raw collateral description onto the standard asset
// taxonomy by keyword containment.
func classifyAsset(description string) (model.AssetClass, bool) {
	lower := strings.ToLower(description)
	for class, keywords := range vocab.AssetClasses {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return model.AssetClass(class), true
			}
		}
	}
	return model.AssetOther, false
}

// closestAssetClass finds the taxonomy entry most similar to the given
// label. Returns ok only when the similarity clears minSimilarity.
func closestAssetClass(label string, minSimilarity float64) (model.AssetClass, float64, bool) {
	lower := strings.ToLower(strings.TrimSpace(label))
	best := 0.0
	var bestClass model.AssetClass
	for class, keywords := range vocab.AssetClasses {
		candidates := append([]string{strings.ReplaceAll(class, "_", " ")}, keywords...)
		for _, c := range candidates {
			if s := levenshtein.Similarity(lower, c, nil); s > best {
				best = s
				bestClass = model.AssetClass(class)
			}
		}
	}
	return bestClass, best, best >= minSimilarity
}

// canonicalRatingAgency corrects a rating-agency name to the known set.
func canonicalRatingAgency(name string, minSimilarity float64) (string, bool) {
	trimmed := strings.TrimSpace(name)
	for _, a := range vocab.RatingAgencies {
		if strings.EqualFold(trimmed, a) {
			return a, true
		}
	}
	best, bestScore := "", 0.0
	for _, a := range vocab.RatingAgencies {
		if s := levenshtein.Similarity(strings.ToLower(trimmed), strings.ToLower(a), nil); s > bestScore {
			best, bestScore = a, s
		}
	}
	if bestScore >= minSimilarity {
		return best, true
	}
	return trimmed, false
}

// looksLikeRatingEvent reports whether a column header describes a
// rating-trigger-dependent branch.
func looksLikeRatingEvent(header string) bool {
	lower := strings.ToLower(header)
	for _, kw := range vocab.RatingEventKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
