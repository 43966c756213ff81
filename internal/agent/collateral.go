package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/csa-normalizer/internal/model"
	"github.com/sells-group/csa-normalizer/pkg/anthropic"
)

// CollateralAgent normalizes the eligible-collateral table into typed items
// with maturity buckets and a rating-event vocabulary. It is the deepest
// pipeline: table rows frequently encode rating-trigger-dependent branching
// that needs the heavy model to resolve.
type CollateralAgent struct {
	backend *Backend
	opts    Options
}

// NewCollateralAgent builds the collateral normalizer.
func NewCollateralAgent(backend *Backend, opts Options) *CollateralAgent {
	return &CollateralAgent{backend: backend, opts: opts}
}

// Name implements Normalizer.
func (a *CollateralAgent) Name() string { return "collateral" }

// taxonomyCorrectionFloor is the minimum similarity for a closest-match
// taxonomy correction to be applied automatically.
const taxonomyCorrectionFloor = 0.7

const collateralRowPrompt = `Normalize this eligible-collateral row from a Credit Support Annex.

Description: %q
Column values: %s

Reply with only JSON:
{"asset_class": "<cash|government_bond|agency_bond|corporate_bond|equity|money_market|mortgage_backed_security|asset_backed_security|other>",
 "buckets": [{"min_years": <number or null>, "max_years": <number or null>, "valuation_pct": <0..1>}],
 "flat_valuation_pct": <0..1 or null>,
 "confidence": <0..1>}`

const collateralResolvePrompt = `An eligible-collateral row in a Credit Support Annex is ambiguous.

Issue: %s
Row: %q
Document context: %q

Decide the most defensible interpretation. Reply with only JSON:
{"interpretation": "<text>", "reasoning": "<text>", "confidence": <0..1>, "sources": ["convention"|"document-context"|"domain-knowledge"]}`

// Normalize implements Normalizer. Pipeline: parse rows → detect
// ambiguities → resolve → taxonomy validate → logic validate → synthesize.
func (a *CollateralAgent) Normalize(ctx context.Context, in *Input) (*model.AgentResult, error) {
	if in == nil || in.Extraction == nil {
		return nil, &model.MissingDependencyError{Dependency: "raw extraction"}
	}
	if len(in.Extraction.CollateralTable) == 0 {
		return nil, &model.MissingDependencyError{Dependency: "eligible-collateral table"}
	}

	start := time.Now()
	var ch chain
	var stepConfs []float64
	var unresolved []model.Ambiguity
	var resolutions []model.Resolution
	corrections := 0

	rows := in.Extraction.CollateralTable
	ratingEvents := ratingEventVocabulary(in.Extraction.Columns)

	// Step 1: parse rows into draft items, batched when the table is large.
	began := time.Now()
	items, usedModel, parseConfs, err := a.parseRows(ctx, rows)
	if err != nil {
		return nil, err
	}
	tier := model.TierRuleBased
	if usedModel {
		tier = model.TierLight
	}
	stepConf := CombineConfidence(parseConfs)
	stepConfs = append(stepConfs, stepConf)
	ch.add("parse_rows", tier,
		map[string]any{"rows": len(rows), "batched": len(rows) > a.opts.AutoBatchThreshold},
		map[string]any{"items": len(items)},
		"Parsed collateral rows into typed items with maturity buckets",
		confPtr(stepConf), began)

	// Step 2: detect ambiguities.
	began = time.Now()
	ambiguities := detectCollateralAmbiguities(items, in.Extraction.Columns)
	ch.add("detect_ambiguities", model.TierRuleBased,
		map[string]any{"items": len(items)},
		map[string]any{"ambiguities": len(ambiguities)},
		"Scanned draft items for rating-trigger branching and under-specified valuations",
		nil, began)

	// Step 3: resolve ambiguities with the heavy model; unresolved ones
	// propagate into the review reason.
	began = time.Now()
	resTier := model.TierRuleBased
	for _, amb := range ambiguities {
		if amb.Severity == model.SeverityLow {
			// Low severity needs no model time; convention applies.
			resolutions = append(resolutions, model.Resolution{
				Ambiguity:      amb,
				Interpretation: amb.SuggestedResolution,
				Reasoning:      "standard market convention",
				Confidence:     0.9,
				SourcesUsed:    []model.ResolutionSource{model.SourceConvention},
			})
			continue
		}
		resTier = model.TierHeavy
		r, err := a.resolveAmbiguity(ctx, amb, in.Extraction.DocumentText)
		if err != nil {
			zap.L().Warn("ambiguity left unresolved",
				zap.String("field", amb.Field),
				zap.String("issue", amb.Issue),
				zap.Error(err),
			)
			unresolved = append(unresolved, amb)
			continue
		}
		resolutions = append(resolutions, *r)
	}
	var resConfs []float64
	for _, r := range resolutions {
		resConfs = append(resConfs, r.Confidence)
	}
	stepConf = 1.0
	if len(ambiguities) > 0 {
		stepConf = CombineConfidence(resConfs)
	}
	stepConfs = append(stepConfs, stepConf)
	ch.add("resolve_ambiguities", resTier,
		map[string]any{"ambiguities": len(ambiguities)},
		map[string]any{"resolved": len(resolutions), "unresolved": len(unresolved)},
		"Resolved ambiguities against document context and market convention",
		confPtr(stepConf), began)

	// Step 4: taxonomy validation with closest-match self-correction.
	began = time.Now()
	taxonomyFixes := 0
	for i := range items {
		if items[i].AssetClass != model.AssetOther {
			continue
		}
		class, score, ok := closestAssetClass(items[i].RawDescription, taxonomyCorrectionFloor)
		if !ok {
			continue
		}
		items[i].AssetClass = class
		taxonomyFixes++
		corrections++
		zap.L().Debug("taxonomy correction applied",
			zap.String("description", items[i].RawDescription),
			zap.String("class", string(class)),
			zap.Float64("similarity", score),
		)
	}
	for i, ev := range ratingEvents {
		if fixed, ok := canonicalRatingAgencyInText(ev); ok {
			ratingEvents[i] = fixed
			corrections++
		}
	}
	ch.add("validate_taxonomy", model.TierRuleBased,
		map[string]any{"items": len(items)},
		map[string]any{"corrections": taxonomyFixes},
		"Checked asset classes and rating-agency names against the standard taxonomy",
		nil, began)

	// Step 5: logic validation of bucket structure.
	began = time.Now()
	logicIssues, logicFixes := validateBucketLogic(items)
	corrections += logicFixes
	unresolved = append(unresolved, logicIssues...)
	var logicConf float64 = 1.0
	if len(logicIssues) > 0 {
		logicConf = 0.6
	}
	stepConfs = append(stepConfs, logicConf)
	ch.add("validate_logic", model.TierRuleBased,
		map[string]any{"items": len(items)},
		map[string]any{"issues": len(logicIssues), "corrections": logicFixes},
		"Checked maturity buckets for overlap, coverage gaps, and percentage sanity",
		confPtr(logicConf), began)

	// Step 6: synthesize the normalized table.
	began = time.Now()
	table := model.NormalizedCollateralTable{Items: items, RatingEvents: ratingEvents}
	data := map[string]any{
		"collateral_table": table,
	}
	if len(ratingEvents) > 0 {
		data["rating_events"] = ratingEvents
	}
	ch.add("synthesize", model.TierRuleBased,
		map[string]any{"items": len(items)},
		map[string]any{"rating_events": len(ratingEvents)},
		"Assembled the normalized eligible-collateral table",
		nil, began)

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

// parseRows converts raw rows to draft items. Tables above the batching
// threshold are processed in sequential batches, concurrently within each
// batch, to stay under the global concurrency ceiling.
func (a *CollateralAgent) parseRows(ctx context.Context, rows []model.CollateralRow) ([]model.NormalizedCollateral, bool, []float64, error) {
	items := make([]model.NormalizedCollateral, len(rows))
	confs := make([]float64, len(rows))
	usedModel := false

	batchSize := a.opts.BatchSize
	if batchSize <= 0 {
		batchSize = 25
	}
	if len(rows) <= a.opts.AutoBatchThreshold {
		batchSize = len(rows)
	}

	var mu sync.Mutex
	for lo := 0; lo < len(rows); lo += batchSize {
		hi := lo + batchSize
		if hi > len(rows) {
			hi = len(rows)
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(batchSize)
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				item, viaModel, err := a.parseRow(gCtx, rows[i])
				if err != nil {
					return err
				}
				mu.Lock()
				items[i] = item
				confs[i] = item.Confidence
				if viaModel {
					usedModel = true
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, false, nil, err
		}
	}
	return items, usedModel, confs, nil
}

// parseRow handles one collateral row: rule-based where the structure is
// regular, the light model otherwise. Unparseable rows degrade to low
// confidence instead of failing.
func (a *CollateralAgent) parseRow(ctx context.Context, row model.CollateralRow) (model.NormalizedCollateral, bool, error) {
	item := model.NormalizedCollateral{
		Description:    strings.TrimSpace(row.Description),
		RawDescription: row.Description,
	}

	class, matched := classifyAsset(row.Description)
	item.AssetClass = class

	buckets, flat := extractBuckets(row)
	item.Buckets = buckets
	if flat != nil {
		item.FlatValuationPct = flat
		h := round4(1 - *flat)
		item.FlatHaircutPct = &h
	}

	if matched && (len(buckets) > 0 || flat != nil) {
		item.Confidence = 0.95
		return item, false, nil
	}

	// Irregular row: ask the light model, fold its answer into the draft.
	answer, err := a.askRow(ctx, row)
	if err != nil {
		if ctx.Err() != nil {
			return item, false, ctx.Err()
		}
		zap.L().Warn("collateral row fell back to low confidence",
			zap.String("description", row.Description),
			zap.Error(err),
		)
		item.Confidence = 0.4
		return item, false, nil
	}

	if !matched && answer.AssetClass != "" {
		item.AssetClass = model.AssetClass(answer.AssetClass)
	}
	if len(item.Buckets) == 0 {
		item.Buckets = answer.buckets()
	}
	if item.FlatValuationPct == nil && answer.FlatValuationPct != nil {
		item.FlatValuationPct = answer.FlatValuationPct
		h := round4(1 - *answer.FlatValuationPct)
		item.FlatHaircutPct = &h
	}
	item.Confidence = answer.Confidence
	return item, true, nil
}

type rowAnswer struct {
	AssetClass string `json:"asset_class"`
	Buckets    []struct {
		MinYears     *float64 `json:"min_years"`
		MaxYears     *float64 `json:"max_years"`
		ValuationPct float64  `json:"valuation_pct"`
	} `json:"buckets"`
	FlatValuationPct *float64 `json:"flat_valuation_pct"`
	Confidence       float64  `json:"confidence"`
}

func (r *rowAnswer) buckets() []model.MaturityBucket {
	out := make([]model.MaturityBucket, 0, len(r.Buckets))
	for _, b := range r.Buckets {
		out = append(out, model.MaturityBucket{
			MinYears:     b.MinYears,
			MaxYears:     b.MaxYears,
			ValuationPct: b.ValuationPct,
			HaircutPct:   round4(1 - b.ValuationPct),
		})
	}
	return out
}

func (a *CollateralAgent) askRow(ctx context.Context, row model.CollateralRow) (*rowAnswer, error) {
	values, _ := json.Marshal(row.Values)
	prompt := fmt.Sprintf(collateralRowPrompt, row.Description, string(values))
	text, err := a.backend.Ask(ctx, model.TierLight, a.Name(), "", prompt, a.opts.UseBurst)
	if err != nil {
		return nil, err
	}
	var parsed rowAnswer
	if err := json.Unmarshal([]byte(anthropic.ExtractJSON(text)), &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (a *CollateralAgent) resolveAmbiguity(ctx context.Context, amb model.Ambiguity, docText string) (*model.Resolution, error) {
	excerpt := docText
	if len(excerpt) > 2000 {
		excerpt = excerpt[:2000]
	}
	prompt := fmt.Sprintf(collateralResolvePrompt, amb.Issue, amb.Field, excerpt)
	text, err := a.backend.Ask(ctx, model.TierHeavy, a.Name(), "", prompt, a.opts.UseBurst)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Interpretation string   `json:"interpretation"`
		Reasoning      string   `json:"reasoning"`
		Confidence     float64  `json:"confidence"`
		Sources        []string `json:"sources"`
	}
	if err := json.Unmarshal([]byte(anthropic.ExtractJSON(text)), &parsed); err != nil {
		return nil, err
	}

	sources := make([]model.ResolutionSource, 0, len(parsed.Sources))
	for _, s := range parsed.Sources {
		sources = append(sources, model.ResolutionSource(s))
	}
	return &model.Resolution{
		Ambiguity:      amb,
		Interpretation: parsed.Interpretation,
		Reasoning:      parsed.Reasoning,
		Confidence:     parsed.Confidence,
		SourcesUsed:    sources,
	}, nil
}

// ratingEventVocabulary collects rating-trigger descriptions from column
// metadata.
func ratingEventVocabulary(cols []model.ColumnInfo) []string {
	var events []string
	seen := map[string]bool{}
	for _, c := range cols {
		if !c.IsRatingEvent && !looksLikeRatingEvent(c.Name) {
			continue
		}
		ev := c.RatingTrigger
		if ev == "" {
			ev = c.Name
		}
		if !seen[ev] {
			seen[ev] = true
			events = append(events, ev)
		}
	}
	return events
}

// detectCollateralAmbiguities flags rating-trigger branching and rows with
// no usable valuation.
func detectCollateralAmbiguities(items []model.NormalizedCollateral, cols []model.ColumnInfo) []model.Ambiguity {
	var out []model.Ambiguity
	for _, c := range cols {
		if c.IsRatingEvent || looksLikeRatingEvent(c.Name) {
			out = append(out, model.Ambiguity{
				Issue:               fmt.Sprintf("valuation percentages branch on rating trigger %q", c.Name),
				Severity:            model.SeverityHigh,
				Field:               c.Name,
				SuggestedResolution: "carry each rating branch as a separate valuation set",
			})
		}
	}
	for _, it := range items {
		if len(it.Buckets) == 0 && it.FlatValuationPct == nil {
			out = append(out, model.Ambiguity{
				Issue:               "row has no parseable valuation percentage",
				Severity:            model.SeverityMedium,
				Field:               it.Description,
				SuggestedResolution: "confirm the valuation percentage against the source table",
			})
		}
	}
	return out
}

// validateBucketLogic checks bucket structure per item. Precision problems
// are self-corrected; structural problems become ambiguities.
func validateBucketLogic(items []model.NormalizedCollateral) ([]model.Ambiguity, int) {
	var issues []model.Ambiguity
	fixes := 0

	for i := range items {
		buckets := items[i].Buckets
		for bi := range buckets {
			b := &buckets[bi]
			if b.ValuationPct < 0 || b.ValuationPct > 1 {
				issues = append(issues, model.Ambiguity{
					Issue:    fmt.Sprintf("valuation percentage %.4f outside (0,1]", b.ValuationPct),
					Severity: model.SeverityHigh,
					Field:    items[i].Description,
				})
				continue
			}
			if rounded := round4(b.ValuationPct); rounded != b.ValuationPct {
				// More than two decimals of precision is a transcription
				// artifact, not a real term.
				b.ValuationPct = rounded
				b.HaircutPct = round4(1 - rounded)
				fixes++
			}
			if b.MaxYears != nil && b.MinYears != nil && *b.MaxYears <= *b.MinYears {
				issues = append(issues, model.Ambiguity{
					Issue:    fmt.Sprintf("maturity bucket [%.2f, %.2f] is empty", *b.MinYears, *b.MaxYears),
					Severity: model.SeverityHigh,
					Field:    items[i].Description,
				})
			}
			if b.MaxYears != nil && *b.MaxYears < 0.1 {
				issues = append(issues, model.Ambiguity{
					Issue:    fmt.Sprintf("unusually short maturity limit %.3f years", *b.MaxYears),
					Severity: model.SeverityLow,
					Field:    items[i].Description,
				})
			}
		}

		for x := 0; x < len(buckets); x++ {
			for y := x + 1; y < len(buckets); y++ {
				if bucketsOverlap(buckets[x], buckets[y]) {
					issues = append(issues, model.Ambiguity{
						Issue:    "maturity buckets overlap",
						Severity: model.SeverityHigh,
						Field:    items[i].Description,
					})
				}
			}
		}
		if gap, ok := coverageGap(buckets); ok {
			issues = append(issues, model.Ambiguity{
				Issue:    fmt.Sprintf("maturity coverage gap of %.2f years between buckets", gap),
				Severity: model.SeverityMedium,
				Field:    items[i].Description,
			})
		}
	}
	return issues, fixes
}

// bucketsOverlap reports whether two buckets share maturity range. A nil
// bound is treated as open: two buckets both unbounded above overlap, but a
// missing bound on one side never counts against a concrete bound.
func bucketsOverlap(b1, b2 model.MaturityBucket) bool {
	min1, max1 := bound(b1.MinYears, 0), bound(b1.MaxYears, math.Inf(1))
	min2, max2 := bound(b2.MinYears, 0), bound(b2.MaxYears, math.Inf(1))
	return !(max1 <= min2 || max2 <= min1)
}

func bound(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// coverageGap finds the largest gap between adjacent sorted buckets.
// Gaps up to 0.01 years are treated as transcription noise.
func coverageGap(buckets []model.MaturityBucket) (float64, bool) {
	if len(buckets) < 2 {
		return 0, false
	}
	sorted := make([]model.MaturityBucket, len(buckets))
	copy(sorted, buckets)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if bound(sorted[j].MinYears, 0) < bound(sorted[i].MinYears, 0) {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	worst := 0.0
	for i := 0; i < len(sorted)-1; i++ {
		if sorted[i].MaxYears == nil {
			continue
		}
		gap := bound(sorted[i+1].MinYears, 0) - *sorted[i].MaxYears
		if gap > worst {
			worst = gap
		}
	}
	return worst, worst > 0.01
}

// canonicalRatingAgencyInText corrects rating-agency spellings inside a
// rating-event description.
func canonicalRatingAgencyInText(text string) (string, bool) {
	fixed := text
	changed := false
	for _, word := range strings.Fields(text) {
		cleaned := strings.Trim(word, ".,;:()")
		if len(cleaned) < 3 {
			continue
		}
		if canonical, ok := canonicalRatingAgency(cleaned, 0.85); ok && canonical != cleaned {
			fixed = strings.ReplaceAll(fixed, cleaned, canonical)
			changed = true
		}
	}
	return fixed, changed
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

var (
	lessThanPattern  = regexp.MustCompile(`(?i)(?:less than|under|up to|below)\s+(\d+(?:\.\d+)?)\s*year`)
	moreThanPattern  = regexp.MustCompile(`(?i)(?:more than|over|greater than|exceeding|above)\s+(\d+(?:\.\d+)?)\s*year`)
	rangePattern     = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:-|to)\s*(\d+(?:\.\d+)?)\s*year`)
	percentPattern   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	numberOnlyFields = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*%?\s*$`)
)

// extractBuckets derives maturity buckets from a row's column values, or a
// flat valuation when no maturity structure exists.
func extractBuckets(row model.CollateralRow) ([]model.MaturityBucket, *float64) {
	var buckets []model.MaturityBucket
	var flat *float64

	for col, val := range row.Values {
		pct, ok := parsePercent(val)
		if !ok {
			continue
		}
		lo, hi, isBucket := parseMaturityDescriptor(col)
		if !isBucket {
			// Also allow the descriptor to live in the cell itself
			// ("less than 1 year: 99.5%").
			lo, hi, isBucket = parseMaturityDescriptor(val)
		}
		if isBucket {
			buckets = append(buckets, model.MaturityBucket{
				MinYears:      lo,
				MaxYears:      hi,
				ValuationPct:  pct,
				HaircutPct:    round4(1 - pct),
				RawDescriptor: col,
			})
		} else if flat == nil {
			p := pct
			flat = &p
		}
	}

	// Descriptor embedded in the description with a single percentage.
	if len(buckets) == 0 && flat == nil {
		if pct, ok := parsePercent(row.Description); ok {
			if lo, hi, isBucket := parseMaturityDescriptor(row.Description); isBucket {
				buckets = append(buckets, model.MaturityBucket{
					MinYears:      lo,
					MaxYears:      hi,
					ValuationPct:  pct,
					HaircutPct:    round4(1 - pct),
					RawDescriptor: row.Description,
				})
			} else {
				p := pct
				flat = &p
			}
		}
	}
	return buckets, flat
}

// parseMaturityDescriptor reads "less than 1 year", "1-5 years", "more
// than 5 years" style text into bucket bounds.
func parseMaturityDescriptor(text string) (lo, hi *float64, ok bool) {
	if m := rangePattern.FindStringSubmatch(text); m != nil {
		l, _ := model.ParseDecimal(m[1])
		h, _ := model.ParseDecimal(m[2])
		return &l, &h, true
	}
	if m := lessThanPattern.FindStringSubmatch(text); m != nil {
		zero := 0.0
		h, _ := model.ParseDecimal(m[1])
		return &zero, &h, true
	}
	if m := moreThanPattern.FindStringSubmatch(text); m != nil {
		l, _ := model.ParseDecimal(m[1])
		return &l, nil, true
	}
	return nil, nil, false
}

// parsePercent reads "98%", "98", or "0.98" as a valuation fraction.
func parsePercent(val string) (float64, bool) {
	if m := percentPattern.FindStringSubmatch(val); m != nil {
		v, _ := model.ParseDecimal(m[1])
		return v / 100, true
	}
	if m := numberOnlyFields.FindStringSubmatch(val); m != nil {
		v, _ := model.ParseDecimal(m[1])
		if v > 1 {
			return v / 100, true
		}
		if v > 0 {
			return v, true
		}
	}
	return 0, false
}
