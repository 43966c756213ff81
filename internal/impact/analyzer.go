// Package impact quantifies what normalization bought for one document:
// the accuracy validator runs over the raw fields and again over the
// normalized fields, and the delta drives a recommendation list.
package impact

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/csa-normalizer/internal/accuracy"
)

// Effectiveness cutoffs on absolute accuracy improvement.
const (
	effectiveImprovement       = 0.05
	worthProcessingImprovement = 0.03
	fieldImprovementNotable    = 0.01
)

// Priority orders recommendations by urgency.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Recommendation is one prioritized follow-up action.
type Recommendation struct {
	Priority Priority `json:"priority"`
	Message  string   `json:"message"`
}

// FieldDelta is the per-field before/after score movement.
type FieldDelta struct {
	Field  string  `json:"field"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
	Delta  float64 `json:"delta"`
}

// Report is the full before/after comparison for one document.
type Report struct {
	ReferenceID          string           `json:"reference_id"`
	GroundTruthAvailable bool             `json:"ground_truth_available"`
	BeforeAccuracy       float64          `json:"before_accuracy"`
	AfterAccuracy        float64          `json:"after_accuracy"`
	AbsoluteImprovement  float64          `json:"absolute_improvement"`
	RelativeImprovement  float64          `json:"relative_improvement"`
	BeforeQuality        string           `json:"before_quality"`
	AfterQuality         string           `json:"after_quality"`
	ImprovementTier      string           `json:"improvement_tier"`
	ImprovedFields       []FieldDelta     `json:"improved_fields,omitempty"`
	DegradedFields       []FieldDelta     `json:"degraded_fields,omitempty"`
	Effective            bool             `json:"normalization_effective"`
	WorthProcessing      bool             `json:"worth_processing"`
	Recommendations      []Recommendation `json:"recommendations,omitempty"`
}

// Analyzer runs the before/after comparison.
type Analyzer struct {
	validator *accuracy.Validator
}

// New builds an analyzer over a ground-truth source.
func New(source accuracy.GroundTruthSource) *Analyzer {
	return &Analyzer{validator: accuracy.NewValidator(source)}
}

// Analyze measures raw and normalized field sets against the same ground
// truth and derives the impact report.
func (a *Analyzer) Analyze(ctx context.Context, referenceID string, rawFields, normalizedFields map[string]any) (*Report, error) {
	before, err := a.validator.ValidateExtraction(ctx, referenceID, rawFields)
	if err != nil {
		return nil, eris.Wrap(err, "impact: before measurement")
	}
	after, err := a.validator.ValidateNormalization(ctx, referenceID, normalizedFields)
	if err != nil {
		return nil, eris.Wrap(err, "impact: after measurement")
	}

	report := &Report{
		ReferenceID:          referenceID,
		GroundTruthAvailable: before.Available && after.Available,
	}
	if !report.GroundTruthAvailable {
		report.Recommendations = []Recommendation{{
			Priority: PriorityLow,
			Message:  "no ground truth for this document; impact not measurable",
		}}
		return report, nil
	}

	report.BeforeAccuracy = before.Metrics.Accuracy
	report.AfterAccuracy = after.Metrics.Accuracy
	report.AbsoluteImprovement = report.AfterAccuracy - report.BeforeAccuracy
	if report.BeforeAccuracy > 0 {
		report.RelativeImprovement = report.AbsoluteImprovement / report.BeforeAccuracy
	}
	report.BeforeQuality = QualityLabel(report.BeforeAccuracy)
	report.AfterQuality = QualityLabel(report.AfterAccuracy)
	report.ImprovementTier = improvementTier(report.AbsoluteImprovement)
	report.Effective = report.AbsoluteImprovement >= effectiveImprovement
	report.WorthProcessing = report.AbsoluteImprovement >= worthProcessingImprovement

	report.ImprovedFields, report.DegradedFields = fieldDeltas(before, after)
	report.Recommendations = recommend(report)

	zap.L().Info("impact analysis complete",
		zap.String("reference_id", referenceID),
		zap.Float64("before", report.BeforeAccuracy),
		zap.Float64("after", report.AfterAccuracy),
		zap.Float64("improvement", report.AbsoluteImprovement),
		zap.Bool("effective", report.Effective),
	)
	return report, nil
}

// QualityLabel buckets an accuracy figure into a reporting tier.
func QualityLabel(accuracy float64) string {
	switch {
	case accuracy >= 0.95:
		return "Excellent"
	case accuracy >= 0.90:
		return "Good"
	case accuracy >= 0.80:
		return "Acceptable"
	case accuracy >= 0.70:
		return "Poor"
	default:
		return "Inadequate"
	}
}

func improvementTier(delta float64) string {
	switch {
	case delta >= 0.20:
		return "transformative"
	case delta >= 0.10:
		return "major"
	case delta >= 0.05:
		return "moderate"
	case delta >= 0.01:
		return "marginal"
	case delta > -0.01:
		return "neutral"
	default:
		return "degraded"
	}
}

// fieldDeltas pairs the per-field scores of the two reports. A degrading
// field is a signal worth surfacing, not suppressing.
func fieldDeltas(before, after *accuracy.Report) (improved, degraded []FieldDelta) {
	beforeScores := map[string]float64{}
	for _, f := range before.Fields {
		beforeScores[f.Field] = f.Score
	}
	for _, f := range after.Fields {
		b, ok := beforeScores[f.Field]
		if !ok {
			continue
		}
		delta := f.Score - b
		fd := FieldDelta{Field: f.Field, Before: b, After: f.Score, Delta: delta}
		switch {
		case delta >= fieldImprovementNotable:
			improved = append(improved, fd)
		case delta <= -fieldImprovementNotable:
			degraded = append(degraded, fd)
		}
	}
	sort.Slice(improved, func(i, j int) bool { return improved[i].Delta > improved[j].Delta })
	sort.Slice(degraded, func(i, j int) bool { return degraded[i].Delta < degraded[j].Delta })
	return improved, degraded
}

func recommend(r *Report) []Recommendation {
	var recs []Recommendation

	if r.AfterAccuracy < 0.80 {
		recs = append(recs, Recommendation{
			Priority: PriorityCritical,
			Message: fmt.Sprintf("post-normalization accuracy %.2f is below acceptable; route this document to human review",
				r.AfterAccuracy),
		})
	}
	for _, fd := range r.DegradedFields {
		recs = append(recs, Recommendation{
			Priority: PriorityHigh,
			Message:  fmt.Sprintf("field %q degraded from %.2f to %.2f during normalization; inspect the agent's reasoning chain", fd.Field, fd.Before, fd.After),
		})
	}
	if !r.WorthProcessing {
		recs = append(recs, Recommendation{
			Priority: PriorityMedium,
			Message:  fmt.Sprintf("improvement %+.2f did not cover processing cost; consider rule-based-only handling for documents like this", r.AbsoluteImprovement),
		})
	}
	if r.Effective && len(r.DegradedFields) == 0 {
		recs = append(recs, Recommendation{
			Priority: PriorityLow,
			Message:  "normalization was effective; no further action needed",
		})
	}
	return recs
}
