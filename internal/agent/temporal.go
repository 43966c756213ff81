package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/csa-normalizer/internal/model"
	"github.com/sells-group/csa-normalizer/pkg/anthropic"
)

// TemporalAgent resolves ambiguous clock times into explicit IANA timezones
// and normalizes dates to ISO form. The inference source (explicit text vs
// document context) is recorded for downstream audits.
type TemporalAgent struct {
	backend *Backend
	opts    Options
}

// NewTemporalAgent builds the temporal normalizer.
func NewTemporalAgent(backend *Backend, opts Options) *TemporalAgent {
	return &TemporalAgent{backend: backend, opts: opts}
}

// Name implements Normalizer.
func (a *TemporalAgent) Name() string { return "temporal" }

// Confidence by inference source, and the review floor for timezones.
const (
	tzConfExplicit = 0.95
	tzConfContext  = 0.90
	tzConfNone     = 0.50
	tzReviewFloor  = 0.80
)

const temporalParsePrompt = `Parse this time expression from a Credit Support Annex.

Expression: %q

Reply with only JSON: {"time": "HH:MM:SS or empty", "timezone_hint": "<city or zone mentioned, or empty>", "confidence": <0..1>}`

// Normalize implements Normalizer. Pipeline: parse times → search document
// context → infer timezones → validate.
func (a *TemporalAgent) Normalize(ctx context.Context, in *Input) (*model.AgentResult, error) {
	if in == nil || in.Terms == nil {
		return nil, &model.MissingDependencyError{Dependency: "mapped contract terms"}
	}

	start := time.Now()
	var ch chain
	var stepConfs []float64
	var unresolved []model.Ambiguity
	var resolutions []model.Resolution
	data := make(map[string]any)

	timeFields := []struct {
		key string
		raw string
	}{
		{"valuation_time", in.Terms.ValuationTime},
		{"notification_time", in.Terms.NotificationTime},
	}

	// Step 1: parse clock times.
	began := time.Now()
	tier := model.TierRuleBased
	drafts := make(map[string]*model.NormalizedTime)
	var parseConfs []float64
	for _, f := range timeFields {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		nt, usedModel := a.parseTime(ctx, f.raw)
		if usedModel {
			tier = model.TierLight
		}
		drafts[f.key] = nt
		parseConfs = append(parseConfs, nt.Confidence)
	}
	stepConf := CombineConfidence(parseConfs)
	stepConfs = append(stepConfs, stepConf)
	ch.add("parse_time", tier,
		map[string]any{"fields": len(timeFields)},
		map[string]any{"parsed": len(drafts)},
		"Parsed clock-time expressions into HH:MM:SS form",
		confPtr(stepConf), began)

	// Step 2: search the document context for timezone hints near fields
	// that lack an explicit zone.
	began = time.Now()
	contextHits := 0
	for key, nt := range drafts {
		if nt.Timezone != "" {
			continue
		}
		if zone, excerpt := searchContextTimezone(in.Extraction, nt.RawValue); zone != "" {
			nt.Timezone = zone
			nt.InferenceSource = model.InferenceContext
			nt.Description = excerpt
			contextHits++
			resolutions = append(resolutions, model.Resolution{
				Ambiguity:      model.Ambiguity{Issue: "time stated without timezone", Severity: model.SeverityMedium, Field: key},
				Interpretation: zone,
				Reasoning:      fmt.Sprintf("document text near the value names %s", zone),
				Confidence:     tzConfContext,
				SourcesUsed:    []model.ResolutionSource{model.SourceDocumentContext},
			})
		}
	}
	ch.add("access_document_context", model.TierRuleBased,
		map[string]any{"searched": len(drafts)},
		map[string]any{"context_hits": contextHits},
		"Searched extracted document text around each time for jurisdiction hints",
		nil, began)

	// Step 3: settle inference source and confidence per field.
	began = time.Now()
	var inferConfs []float64
	for key, nt := range drafts {
		switch nt.InferenceSource {
		case model.InferenceExplicit:
			nt.Confidence = tzConfExplicit
		case model.InferenceContext:
			nt.Confidence = tzConfContext
		default:
			nt.InferenceSource = model.InferenceNone
			nt.Confidence = tzConfNone
			unresolved = append(unresolved, model.Ambiguity{
				Issue:               fmt.Sprintf("no timezone determinable for %q", nt.RawValue),
				Severity:            model.SeverityMedium,
				Field:               key,
				SuggestedResolution: "use the counterparty jurisdiction's principal financial center",
			})
		}
		if nt.Confidence < tzReviewFloor || nt.Timezone == "" {
			nt.RequiresHumanReview = true
		}
		inferConfs = append(inferConfs, nt.Confidence)
	}
	stepConf = CombineConfidence(inferConfs)
	stepConfs = append(stepConfs, stepConf)
	ch.add("infer_timezone", model.TierRuleBased,
		map[string]any{"fields": len(drafts)},
		map[string]any{"resolved": len(drafts) - countMissingTZ(drafts)},
		"Assigned IANA timezones with per-source confidence",
		confPtr(stepConf), began)

	// Step 4: validate formats and normalize dates.
	began = time.Now()
	var validateConfs []float64
	for key, nt := range drafts {
		if !timeFormatValid(nt.Time) {
			nt.RequiresHumanReview = true
			nt.Confidence = tzConfNone
			validateConfs = append(validateConfs, tzConfNone)
		} else {
			validateConfs = append(validateConfs, 1.0)
		}
		data[key] = nt
	}
	for key, raw := range map[string]string{
		"agreement_date": in.Terms.AgreementDate,
		"effective_date": in.Terms.EffectiveDate,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		nd := normalizeDate(raw)
		if nd.Confidence < a.opts.ConfidenceThreshold {
			unresolved = append(unresolved, model.Ambiguity{
				Issue:    fmt.Sprintf("date %q did not match a known format", raw),
				Severity: model.SeverityMedium,
				Field:    key,
			})
		}
		validateConfs = append(validateConfs, nd.Confidence)
		data[key] = nd
	}
	stepConf = CombineConfidence(validateConfs)
	stepConfs = append(stepConfs, stepConf)
	ch.add("validate", model.TierRuleBased,
		map[string]any{"times": len(drafts)},
		map[string]any{"fields_out": len(data)},
		"Validated time formats and normalized dates to YYYY-MM-DD",
		confPtr(stepConf), began)

	res := &model.AgentResult{
		AgentName:      a.Name(),
		Data:           data,
		Confidence:     CombineConfidence(stepConfs),
		ReasoningChain: ch.steps,
		ProcessingTime: time.Since(start),
	}
	finalize(res, a.opts, unresolved, resolutions)
	return res, nil
}

var clockPattern = regexp.MustCompile(`(?i)(\d{1,2})(?::(\d{2}))?(?::(\d{2}))?\s*(a\.?m\.?|p\.?m\.?)?`)

// parseTime turns a raw expression into a draft NormalizedTime. Regular
// forms resolve rule-based; qualitative expressions ("close of business")
// fall back to the light model.
func (a *TemporalAgent) parseTime(ctx context.Context, raw string) (*model.NormalizedTime, bool) {
	nt := &model.NormalizedTime{RawValue: raw}

	if zone, _ := timezoneAlias(raw); zone != "" {
		nt.Timezone = zone
		nt.InferenceSource = model.InferenceExplicit
	}

	m := clockPattern.FindStringSubmatch(raw)
	if m != nil && m[1] != "" {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		second := 0
		if m[3] != "" {
			second, _ = strconv.Atoi(m[3])
		}
		meridiem := strings.ToLower(strings.ReplaceAll(m[4], ".", ""))
		if meridiem == "pm" && hour < 12 {
			hour += 12
		}
		if meridiem == "am" && hour == 12 {
			hour = 0
		}
		if hour < 24 && minute < 60 && second < 60 && (meridiem != "" || m[2] != "") {
			nt.Time = fmt.Sprintf("%02d:%02d:%02d", hour, minute, second)
			nt.Confidence = 1.0
			return nt, false
		}
	}

	// Qualitative expression: ask the light model.
	parsed, err := a.askTime(ctx, raw)
	if err != nil {
		zap.L().Warn("time parse fell through",
			zap.String("raw", raw),
			zap.Error(err),
		)
		nt.Confidence = tzConfNone
		nt.RequiresHumanReview = true
		return nt, false
	}
	nt.Time = parsed.Time
	if nt.Timezone == "" && parsed.TimezoneHint != "" {
		if zone, _ := timezoneAlias(parsed.TimezoneHint); zone != "" {
			nt.Timezone = zone
			nt.InferenceSource = model.InferenceContext
		}
	}
	nt.Confidence = parsed.Confidence
	return nt, true
}

type timeAnswer struct {
	Time         string  `json:"time"`
	TimezoneHint string  `json:"timezone_hint"`
	Confidence   float64 `json:"confidence"`
}

func (a *TemporalAgent) askTime(ctx context.Context, raw string) (*timeAnswer, error) {
	text, err := a.backend.Ask(ctx, model.TierLight, a.Name(), "", fmt.Sprintf(temporalParsePrompt, raw), a.opts.UseBurst)
	if err != nil {
		return nil, err
	}
	var parsed timeAnswer
	if err := json.Unmarshal([]byte(anthropic.ExtractJSON(text)), &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// searchContextTimezone looks for a timezone mention within a window around
// the raw value's occurrence in the extracted document text.
func searchContextTimezone(ex *model.RawExtraction, rawValue string) (zone, excerpt string) {
	if ex == nil || ex.DocumentText == "" || rawValue == "" {
		return "", ""
	}
	lowerDoc := strings.ToLower(ex.DocumentText)
	idx := strings.Index(lowerDoc, strings.ToLower(rawValue))
	if idx < 0 {
		return "", ""
	}
	lo := idx - 100
	if lo < 0 {
		lo = 0
	}
	hi := idx + len(rawValue) + 100
	if hi > len(ex.DocumentText) {
		hi = len(ex.DocumentText)
	}
	window := ex.DocumentText[lo:hi]
	if z, matched := timezoneAlias(window); z != "" {
		return z, fmt.Sprintf("inferred from %q near the value", matched)
	}
	return "", ""
}

func countMissingTZ(drafts map[string]*model.NormalizedTime) int {
	n := 0
	for _, nt := range drafts {
		if nt.Timezone == "" {
			n++
		}
	}
	return n
}

var timePattern = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)

func timeFormatValid(s string) bool { return timePattern.MatchString(s) }

// dateFormats are tried in order; the layout name is recorded as the
// detected format.
var dateFormats = []struct {
	layout string
	name   string
}{
	{"2006-01-02", "ISO"},
	{"January 2, 2006", "long-US"},
	{"Jan 2, 2006", "abbrev-US"},
	{"2 January 2006", "long-intl"},
	{"02/01/2006", "DD/MM/YYYY"},
	{"01/02/06", "MM/DD/YY"},
}

// normalizeDate converts a raw date to YYYY-MM-DD, recording the detected
// source format. Unrecognized input keeps the raw value at low confidence.
func normalizeDate(raw string) model.NormalizedDate {
	trimmed := strings.TrimSpace(raw)
	for _, f := range dateFormats {
		if t, err := time.Parse(f.layout, trimmed); err == nil {
			return model.NormalizedDate{
				Date:           t.Format("2006-01-02"),
				FormatDetected: f.name,
				RawValue:       raw,
				Confidence:     0.95,
			}
		}
	}
	return model.NormalizedDate{
		Date:           trimmed,
		FormatDetected: "unknown",
		RawValue:       raw,
		Confidence:     0.50,
	}
}
