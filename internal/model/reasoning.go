package model

import "time"

// ModelTier identifies which class of reasoning produced a step.
type ModelTier string

const (
	// TierRuleBased marks steps resolved by deterministic logic, no model call.
	TierRuleBased ModelTier = "rule-based"
	// TierLight marks steps answered by the fast, cheap model.
	TierLight ModelTier = "light-model"
	// TierHeavy marks steps that needed the stronger model.
	TierHeavy ModelTier = "heavy-model"
)

// ReasoningStep is one entry in an agent's audit trail. Steps are appended
// in execution order and never mutated after the agent returns.
type ReasoningStep struct {
	StepNumber int            `json:"step_number"`
	StepName   string         `json:"step_name"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	ModelUsed  ModelTier      `json:"model_used"`
	Reasoning  string         `json:"reasoning"`
	Confidence *float64       `json:"confidence,omitempty"`
	Duration   time.Duration  `json:"duration_ms,omitempty"`
}

// Severity grades how much an ambiguity or warning matters.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Ambiguity is a point in the extracted text whose correct interpretation
// is not determinable from the text alone.
type Ambiguity struct {
	Issue               string   `json:"issue"`
	Severity            Severity `json:"severity"`
	Field               string   `json:"field"`
	SuggestedResolution string   `json:"suggested_resolution,omitempty"`
}

// ResolutionSource names what a resolution was based on.
type ResolutionSource string

const (
	SourceConvention      ResolutionSource = "convention"
	SourceDocumentContext ResolutionSource = "document-context"
	SourceDomainKnowledge ResolutionSource = "domain-knowledge"
)

// Resolution records how an ambiguity was resolved and how sure the agent is.
type Resolution struct {
	Ambiguity      Ambiguity          `json:"ambiguity"`
	Interpretation string             `json:"interpretation"`
	Reasoning      string             `json:"reasoning"`
	Confidence     float64            `json:"confidence"`
	SourcesUsed    []ResolutionSource `json:"sources_used,omitempty"`
}

// CorrectionType classifies a self-correction.
type CorrectionType string

const (
	CorrectionTaxonomy CorrectionType = "taxonomy"
	CorrectionLogic    CorrectionType = "logic"
	CorrectionFormat   CorrectionType = "format"
)

// Correction is a self-correction an agent applied to its own prior output
// within the same run.
type Correction struct {
	Type           CorrectionType `json:"type"`
	OriginalValue  string         `json:"original_value"`
	CorrectedValue string         `json:"corrected_value"`
	Reasoning      string         `json:"reasoning"`
	Confidence     float64        `json:"confidence"`
}
