// Package accuracy measures extracted and normalized field sets against
// manually curated ground truth. Measurement is optional instrumentation:
// absent ground truth degrades to an unavailable report, never an error.
package accuracy

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/csa-normalizer/internal/model"
)

// Thresholds a field set must clear to be considered accurate enough for
// unattended use.
const (
	ExtractionThreshold    = 0.95
	NormalizationThreshold = 0.90
)

// GroundTruthSource resolves a reference id to its curated field set.
// Absence is signalled with model.GroundTruthUnavailableError.
type GroundTruthSource interface {
	GroundTruth(ctx context.Context, referenceID string) (map[string]any, error)
}

// FieldOutcome is the per-field comparison verdict.
type FieldOutcome struct {
	Field    string  `json:"field"`
	Expected string  `json:"expected"`
	Actual   string  `json:"actual,omitempty"`
	Score    float64 `json:"score"`
	Matched  bool    `json:"matched"`
	Missing  bool    `json:"missing"`
}

// Report is one accuracy evaluation against ground truth.
type Report struct {
	ReferenceID    string                `json:"reference_id"`
	Available      bool                  `json:"ground_truth_available"`
	Metrics        model.AccuracyMetrics `json:"metrics"`
	Fields         []FieldOutcome        `json:"fields,omitempty"`
	Threshold      float64               `json:"threshold"`
	MeetsThreshold bool                  `json:"meets_threshold"`
	ReviewAdvised  bool                  `json:"review_advised"`
}

// Validator compares field sets against a ground-truth source.
type Validator struct {
	source GroundTruthSource
}

// NewValidator builds a validator over the given source.
func NewValidator(source GroundTruthSource) *Validator {
	return &Validator{source: source}
}

// ValidateExtraction measures a raw extracted field set against the 0.95
// extraction bar.
func (v *Validator) ValidateExtraction(ctx context.Context, referenceID string, fields map[string]any) (*Report, error) {
	return v.validate(ctx, referenceID, fields, ExtractionThreshold)
}

// ValidateNormalization measures a normalized field set against the 0.90
// normalization bar.
func (v *Validator) ValidateNormalization(ctx context.Context, referenceID string, fields map[string]any) (*Report, error) {
	return v.validate(ctx, referenceID, fields, NormalizationThreshold)
}

func (v *Validator) validate(ctx context.Context, referenceID string, fields map[string]any, threshold float64) (*Report, error) {
	if v.source == nil {
		return unavailableReport(referenceID, threshold), nil
	}

	truth, err := v.source.GroundTruth(ctx, referenceID)
	if err != nil {
		var unavailable *model.GroundTruthUnavailableError
		if errors.As(err, &unavailable) {
			zap.L().Info("ground truth unavailable",
				zap.String("reference_id", referenceID),
			)
			return unavailableReport(referenceID, threshold), nil
		}
		return nil, eris.Wrap(err, "accuracy: load ground truth")
	}

	report := &Report{
		ReferenceID: referenceID,
		Available:   true,
		Threshold:   threshold,
	}

	keys := make([]string, 0, len(truth))
	for k := range truth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tp, fp, fn := 0, 0, 0
	for _, key := range keys {
		expected := truth[key]
		actual, present := fields[key]
		outcome := FieldOutcome{
			Field:    key,
			Expected: stringify(expected),
		}

		if !present || actual == nil {
			// A missing candidate value is a miss against ground truth.
			fn++
			outcome.Missing = true
			report.Fields = append(report.Fields, outcome)
			continue
		}

		outcome.Actual = stringify(actual)
		outcome.Score, outcome.Matched = compareField(expected, actual)
		if outcome.Matched {
			tp++
		} else {
			// Present but wrong: the candidate asserted a wrong value and
			// the true value went unrecovered.
			fp++
			fn++
		}
		report.Fields = append(report.Fields, outcome)
	}

	report.Metrics = model.ComputeAccuracyMetrics(tp, fp, fn, len(truth))
	report.MeetsThreshold = report.Metrics.Accuracy >= threshold
	report.ReviewAdvised = !report.MeetsThreshold
	return report, nil
}

func unavailableReport(referenceID string, threshold float64) *Report {
	return &Report{
		ReferenceID: referenceID,
		Available:   false,
		Threshold:   threshold,
	}
}

// FileSource serves ground truth from a JSON fixture keyed by reference
// id: {"ref-1": {"field": value, ...}, ...}.
type FileSource struct {
	sets map[string]map[string]any
}

// NewFileSource loads a fixture file into memory.
func NewFileSource(path string) (*FileSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "accuracy: read fixture %s", path)
	}
	var sets map[string]map[string]any
	if err := json.Unmarshal(raw, &sets); err != nil {
		return nil, eris.Wrapf(err, "accuracy: parse fixture %s", path)
	}
	return &FileSource{sets: sets}, nil
}

// GroundTruth implements GroundTruthSource.
func (f *FileSource) GroundTruth(_ context.Context, referenceID string) (map[string]any, error) {
	set, ok := f.sets[referenceID]
	if !ok {
		return nil, &model.GroundTruthUnavailableError{ReferenceID: referenceID}
	}
	return set, nil
}

// SourceFunc adapts a lookup function to GroundTruthSource, letting the
// store's GetGroundTruth serve directly as a source.
type SourceFunc func(ctx context.Context, referenceID string) (map[string]any, error)

// GroundTruth implements GroundTruthSource.
func (f SourceFunc) GroundTruth(ctx context.Context, referenceID string) (map[string]any, error) {
	return f(ctx, referenceID)
}

// StaticSource serves in-memory ground truth, used by tests and by the
// impact analyzer when the caller already holds the reference set.
type StaticSource map[string]map[string]any

// GroundTruth implements GroundTruthSource.
func (s StaticSource) GroundTruth(_ context.Context, referenceID string) (map[string]any, error) {
	set, ok := s[referenceID]
	if !ok {
		return nil, &model.GroundTruthUnavailableError{ReferenceID: referenceID}
	}
	return set, nil
}
