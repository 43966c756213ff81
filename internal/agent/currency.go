package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/sells-group/csa-normalizer/internal/model"
	"github.com/sells-group/csa-normalizer/pkg/anthropic"
)

// CurrencyAgent standardizes monetary amounts and currency codes. It owns
// the infinity / not-applicable sentinel handling: those values are decided
// rule-based before any model call.
type CurrencyAgent struct {
	backend *Backend
	opts    Options
}

// NewCurrencyAgent builds the currency normalizer.
func NewCurrencyAgent(backend *Backend, opts Options) *CurrencyAgent {
	return &CurrencyAgent{backend: backend, opts: opts}
}

// Name implements Normalizer.
func (a *CurrencyAgent) Name() string { return "currency" }

// currencyFields maps result keys to term accessors.
var currencyFields = []struct {
	key string
	get func(*model.ContractTerms) string
}{
	{"party_a_threshold", func(t *model.ContractTerms) string { return t.PartyAThreshold }},
	{"party_b_threshold", func(t *model.ContractTerms) string { return t.PartyBThreshold }},
	{"party_a_min_transfer_amount", func(t *model.ContractTerms) string { return t.PartyAMinTransferAmount }},
	{"party_b_min_transfer_amount", func(t *model.ContractTerms) string { return t.PartyBMinTransferAmount }},
}

const currencyParsePrompt = `Parse this monetary value from a Credit Support Annex into JSON.

Value: %q

Reply with only JSON: {"amount": <number or null>, "currency": "<ISO 4217 code or empty>", "confidence": <0..1>}`

// Normalize implements Normalizer. Pipeline: extract amounts → standardize
// codes → validate against ISO 4217.
func (a *CurrencyAgent) Normalize(ctx context.Context, in *Input) (*model.AgentResult, error) {
	if in == nil || in.Terms == nil {
		return nil, &model.MissingDependencyError{Dependency: "mapped contract terms"}
	}

	start := time.Now()
	var ch chain
	var stepConfs []float64
	var unresolved []model.Ambiguity
	var resolutions []model.Resolution
	data := make(map[string]any)
	corrections := 0

	// Step 1: extract each monetary field into a draft NormalizedCurrency.
	began := time.Now()
	drafts := make(map[string]model.NormalizedCurrency)
	tier := model.TierRuleBased
	var parseConfs []float64
	for _, f := range currencyFields {
		raw := f.get(in.Terms)
		nc, usedModel, amb := a.parseAmount(ctx, raw)
		if usedModel {
			tier = model.TierLight
		}
		if amb != nil {
			amb.Field = f.key
			unresolved = append(unresolved, *amb)
		}
		drafts[f.key] = nc
		parseConfs = append(parseConfs, nc.Confidence)
	}
	stepConf := CombineConfidence(parseConfs)
	stepConfs = append(stepConfs, stepConf)
	ch.add("extract_amounts", tier,
		map[string]any{"fields": len(currencyFields)},
		map[string]any{"parsed": len(drafts)},
		"Parsed monetary fields, deciding infinity and not-applicable sentinels rule-based before any model use",
		confPtr(stepConf), began)

	// Step 2: standardize currency codes, inheriting the base currency
	// where a field carries an amount but no code.
	began = time.Now()
	base := strings.ToUpper(strings.TrimSpace(in.Terms.BaseCurrency))
	if alias, ok := currencyAlias(base); ok {
		base = alias
	}
	inherited := 0
	for key, nc := range drafts {
		if nc.Kind() == model.AmountFinite && nc.CurrencyCode == "" && base != "" {
			nc.CurrencyCode = base
			inherited++
			drafts[key] = nc
		}
	}
	ch.add("standardize_codes", model.TierRuleBased,
		map[string]any{"base_currency": base},
		map[string]any{"inherited_codes": inherited},
		"Standardized currency codes to ISO 4217, inheriting the document base currency where unstated",
		nil, began)

	// Step 3: validate codes against ISO 4217; invalid codes are corrected
	// when an alias resolves them, otherwise flagged.
	began = time.Now()
	var validateConfs []float64
	for key, nc := range drafts {
		if nc.Kind() != model.AmountFinite || nc.CurrencyCode == "" {
			continue
		}
		if _, err := currency.ParseISO(nc.CurrencyCode); err != nil {
			if alias, ok := currencyAlias(nc.CurrencyCode); ok {
				corrections++
				resolutions = append(resolutions, model.Resolution{
					Ambiguity:      model.Ambiguity{Issue: "non-ISO currency code", Severity: model.SeverityLow, Field: key},
					Interpretation: alias,
					Reasoning:      fmt.Sprintf("%q is a known alias of %s", nc.CurrencyCode, alias),
					Confidence:     0.9,
					SourcesUsed:    []model.ResolutionSource{model.SourceConvention},
				})
				nc.CurrencyCode = alias
				drafts[key] = nc
				validateConfs = append(validateConfs, 0.9)
				continue
			}
			nc.Confidence = 0.7
			drafts[key] = nc
			validateConfs = append(validateConfs, 0.7)
			unresolved = append(unresolved, model.Ambiguity{
				Issue:    fmt.Sprintf("currency code %q is not valid ISO 4217", nc.CurrencyCode),
				Severity: model.SeverityMedium,
				Field:    key,
			})
			continue
		}
		validateConfs = append(validateConfs, 1.0)
	}
	stepConf = CombineConfidence(validateConfs)
	stepConfs = append(stepConfs, stepConf)
	ch.add("validate_codes", model.TierRuleBased,
		map[string]any{"validated": len(drafts)},
		map[string]any{"corrections": corrections},
		"Validated currency codes against ISO 4217",
		confPtr(stepConf), began)

	for key, nc := range drafts {
		data[key] = nc
	}
	if base != "" {
		data["base_currency"] = base
	}
	if r, ok := parseRounding(in.Terms.Rounding); ok {
		data["rounding"] = r
	}

	res := &model.AgentResult{
		AgentName:       a.Name(),
		Data:            data,
		Confidence:      CombineConfidence(stepConfs),
		ReasoningChain:  ch.steps,
		SelfCorrections: corrections,
		ProcessingTime:  time.Since(start),
	}
	finalize(res, a.opts, unresolved, resolutions)
	return res, nil
}

// parseAmount turns a raw monetary string into a NormalizedCurrency. The
// sentinel checks and plain-number path never touch the model; the model is
// a fallback for prose amounts. A nil return ambiguity means the value was
// fully resolved.
func (a *CurrencyAgent) parseAmount(ctx context.Context, raw string) (model.NormalizedCurrency, bool, *model.Ambiguity) {
	trimmed := strings.TrimSpace(raw)

	// Infinity takes precedence over not-applicable for the overlapping
	// forms ("none", "null").
	if model.IsInfinityValue(trimmed) {
		return model.UnboundedAmount(raw, 1.0), false, nil
	}
	if model.IsNotApplicableValue(trimmed) {
		return model.NotApplicableAmount(raw, 1.0), false, nil
	}

	if v, ok := model.ParseDecimal(trimmed); ok {
		return model.FiniteAmount(v, detectCurrencyCode(trimmed), raw, 1.0), false, nil
	}

	// Prose amount ("Two Million Dollars"): ask the light model.
	nc, err := a.askAmount(ctx, raw)
	if err != nil {
		zap.L().Warn("currency parse fell through",
			zap.String("raw", raw),
			zap.Error(err),
		)
		out := model.NormalizedCurrency{RawValue: raw, Confidence: 0.3}
		return out, false, &model.Ambiguity{
			Issue:               fmt.Sprintf("monetary value %q could not be parsed", raw),
			Severity:            model.SeverityHigh,
			SuggestedResolution: "confirm the amount against the source document",
		}
	}
	return nc, true, nil
}

func (a *CurrencyAgent) askAmount(ctx context.Context, raw string) (model.NormalizedCurrency, error) {
	text, err := a.backend.Ask(ctx, model.TierLight, a.Name(), "", fmt.Sprintf(currencyParsePrompt, raw), a.opts.UseBurst)
	if err != nil {
		return model.NormalizedCurrency{}, err
	}

	var parsed struct {
		Amount     *float64 `json:"amount"`
		Currency   string   `json:"currency"`
		Confidence float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(anthropic.ExtractJSON(text)), &parsed); err != nil {
		return model.NormalizedCurrency{}, err
	}
	if parsed.Amount == nil {
		return model.NotApplicableAmount(raw, parsed.Confidence), nil
	}
	return model.FiniteAmount(*parsed.Amount, strings.ToUpper(parsed.Currency), raw, parsed.Confidence), nil
}

var isoCodePattern = regexp.MustCompile(`\b[A-Z]{3}\b`)

// detectCurrencyCode finds an explicit currency token in the raw text.
func detectCurrencyCode(raw string) string {
	for _, tok := range strings.Fields(raw) {
		if code, ok := currencyAlias(tok); ok {
			return code
		}
	}
	// Leading symbol without whitespace ("$1,000,000").
	for prefix, code := range map[string]string{"$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY"} {
		if strings.HasPrefix(raw, prefix) {
			return code
		}
	}
	if m := isoCodePattern.FindString(raw); m != "" {
		if _, err := currency.ParseISO(m); err == nil {
			return m
		}
	}
	return ""
}

var roundingPattern = regexp.MustCompile(`(?i)(nearest|up|down)[^0-9]*([\d,]+(?:\.\d+)?)`)

// parseRounding extracts a rounding provision such as "nearest 10,000" or
// "rounded up to the nearest integral multiple of USD 50,000".
func parseRounding(raw string) (model.NormalizedRounding, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || model.IsNotApplicableValue(trimmed) {
		return model.NormalizedRounding{}, false
	}

	m := roundingPattern.FindStringSubmatch(trimmed)
	if m == nil {
		if v, ok := model.ParseDecimal(trimmed); ok {
			return model.NormalizedRounding{Amount: v, Direction: "nearest", RawValue: raw, Confidence: 0.8}, true
		}
		return model.NormalizedRounding{}, false
	}

	v, ok := model.ParseDecimal(m[2])
	if !ok {
		return model.NormalizedRounding{}, false
	}
	direction := strings.ToLower(m[1])
	lower := strings.ToLower(trimmed)
	if direction == "nearest" {
		switch {
		case strings.Contains(lower, "rounded up"), strings.Contains(lower, "round up"):
			direction = "up"
		case strings.Contains(lower, "rounded down"), strings.Contains(lower, "round down"):
			direction = "down"
		}
	}
	return model.NormalizedRounding{Amount: v, Direction: direction, RawValue: raw, Confidence: 0.95}, true
}
