package model

import "time"

// AgentResult is the complete output of one normalizer agent. Owned by the
// agent that produced it and immutable after return.
type AgentResult struct {
	AgentName           string           `json:"agent_name"`
	Data                map[string]any   `json:"data"`
	Confidence          float64          `json:"confidence"`
	ReasoningChain      []ReasoningStep  `json:"reasoning_chain"`
	SelfCorrections     int              `json:"self_corrections"`
	RequiresHumanReview bool             `json:"requires_human_review"`
	HumanReviewReason   string           `json:"human_review_reason,omitempty"`
	ProcessingTime      time.Duration    `json:"processing_time_ms"`
	AccuracyMetrics     *AccuracyMetrics `json:"accuracy_metrics,omitempty"`
}

// CheckStatus is the outcome of one validation check.
type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckWarning CheckStatus = "warning"
)

// ValidationCheck is a single cross-field rule evaluation.
type ValidationCheck struct {
	Name     string      `json:"name"`
	Category string      `json:"category"`
	Status   CheckStatus `json:"status"`
	Detail   string      `json:"detail,omitempty"`
	Fields   []string    `json:"fields,omitempty"`
}

// ValidationWarning is a non-blocking observation with a remediation hint.
type ValidationWarning struct {
	Check          string   `json:"check"`
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	Fields         []string `json:"fields,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// ValidationError is a failed check. When Blocking is set the result must
// not feed automated downstream calculation.
type ValidationError struct {
	Check    string   `json:"check"`
	Category string   `json:"category"`
	Message  string   `json:"message"`
	Fields   []string `json:"fields,omitempty"`
	Blocking bool     `json:"blocking"`
}

// ValidationReport is the validation agent's verdict over the unioned
// normalized output.
type ValidationReport struct {
	Passed          bool                `json:"passed"`
	ChecksPerformed int                 `json:"checks_performed"`
	ChecksPassed    int                 `json:"checks_passed"`
	ChecksFailed    int                 `json:"checks_failed"`
	Warnings        []ValidationWarning `json:"warnings,omitempty"`
	Errors          []ValidationError   `json:"errors,omitempty"`
	Recommendations []string            `json:"recommendations,omitempty"`
	DetailedChecks  []ValidationCheck   `json:"detailed_checks,omitempty"`
}

// HasBlockingError reports whether any error forbids automated use.
func (r *ValidationReport) HasBlockingError() bool {
	for _, e := range r.Errors {
		if e.Blocking {
			return true
		}
	}
	return false
}

// Finalize recomputes the derived counters. Passed is true iff no blocking
// error exists; warnings never flip it.
func (r *ValidationReport) Finalize() {
	r.ChecksPerformed = len(r.DetailedChecks)
	r.ChecksPassed = 0
	r.ChecksFailed = 0
	for _, c := range r.DetailedChecks {
		switch c.Status {
		case CheckPassed:
			r.ChecksPassed++
		case CheckFailed:
			r.ChecksFailed++
		}
	}
	r.Passed = !r.HasBlockingError()
}

// ProcessingSummary aggregates run-level counters for reporting.
type ProcessingSummary struct {
	TotalTime           time.Duration    `json:"total_time_ms"`
	AgentsUsed          []string         `json:"agents_used"`
	TotalReasoningSteps int              `json:"total_reasoning_steps"`
	TotalCorrections    int              `json:"total_corrections"`
	ModelsUsed          []string         `json:"models_used"`
	ContextAccessed     bool             `json:"context_accessed"`
	ItemsForReview      int              `json:"items_for_review"`
	AccuracyMetrics     *AccuracyMetrics `json:"accuracy_metrics,omitempty"`
}

// NormalizedResult is the root aggregate of one normalization run. Built
// once by the orchestrator, immutable thereafter, persisted by document id.
type NormalizedResult struct {
	ID                  string                  `json:"id"`
	DocumentID          string                  `json:"document_id"`
	ExtractionID        string                  `json:"extraction_id,omitempty"`
	OverallConfidence   float64                 `json:"overall_confidence"`
	RequiresHumanReview bool                    `json:"requires_human_review"`
	AgentResults        map[string]*AgentResult `json:"agent_results"`
	ValidationReport    *ValidationReport       `json:"validation_report"`
	ProcessingSummary   *ProcessingSummary      `json:"processing_summary"`
	CreatedAt           time.Time               `json:"created_at"`
}
