package model

// InferenceSource records how a timezone was determined, so audits can tell
// explicit text from inferred values.
type InferenceSource string

const (
	InferenceExplicit InferenceSource = "explicit"
	InferenceContext  InferenceSource = "context"
	InferenceNone     InferenceSource = "none"
)

// NormalizedTime is a clock time with an explicit IANA timezone.
type NormalizedTime struct {
	Time                string          `json:"time"` // HH:MM:SS
	Timezone            string          `json:"timezone,omitempty"`
	Description         string          `json:"description,omitempty"`
	RawValue            string          `json:"raw_value"`
	Confidence          float64         `json:"confidence"`
	InferenceSource     InferenceSource `json:"inference_source,omitempty"`
	RequiresHumanReview bool            `json:"requires_human_review"`
	ReasoningChain      []ReasoningStep `json:"reasoning_chain,omitempty"`
}

// NormalizedDate is a calendar date normalized to ISO form.
type NormalizedDate struct {
	Date           string  `json:"date"` // YYYY-MM-DD
	FormatDetected string  `json:"format_detected"`
	RawValue       string  `json:"raw_value"`
	Confidence     float64 `json:"confidence"`
}
