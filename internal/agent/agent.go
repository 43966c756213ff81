// Package agent contains the normalizer agents that turn raw extracted CSA
// fields into canonical typed values, and the validation agent that checks
// the combined output. Each agent runs a fixed multi-step pipeline recorded
// as a reasoning chain.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/csa-normalizer/internal/limiter"
	"github.com/sells-group/csa-normalizer/internal/model"
	"github.com/sells-group/csa-normalizer/internal/resilience"
	"github.com/sells-group/csa-normalizer/pkg/anthropic"
)

// Input is everything a normalizer agent may consult for one document.
type Input struct {
	Extraction *model.RawExtraction
	Terms      *model.ContractTerms
}

// Normalizer is the common contract of all field-normalizer agents. Data
// quality problems never surface as errors — they become low confidence and
// a review flag. Only structural failures (missing upstream inputs) error.
type Normalizer interface {
	Name() string
	Normalize(ctx context.Context, in *Input) (*model.AgentResult, error)
}

// DefaultConfidence applies when a step produced no usable confidence signal.
const DefaultConfidence = 0.8

// Options carries tunables shared by all agents.
type Options struct {
	// ConfidenceThreshold is the floor below which requires_human_review
	// is forced on.
	ConfidenceThreshold float64
	// AutoBatchThreshold and BatchSize control collateral batching.
	AutoBatchThreshold int
	BatchSize          int
	// UseBurst declares capacity for the limiter's burst tier.
	UseBurst bool
}

// DefaultOptions mirrors the configured defaults.
func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold: 0.85,
		AutoBatchThreshold:  50,
		BatchSize:           25,
	}
}

// Backend issues reasoning calls on behalf of agents: global concurrency
// limiting, retry on transient failures, and a circuit breaker guarding the
// external service.
type Backend struct {
	Client      anthropic.Client
	Limiter     *limiter.Limiter
	Breaker     *resilience.CircuitBreaker
	Retry       resilience.RetryConfig
	HaikuModel  string
	SonnetModel string
	MaxTokens   int64
}

// NewBackend wires a backend with sane defaults for zero fields.
func NewBackend(client anthropic.Client, lim *limiter.Limiter) *Backend {
	return &Backend{
		Client:      client,
		Limiter:     lim,
		Breaker:     resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		Retry:       resilience.DefaultRetryConfig(),
		HaikuModel:  "claude-haiku-4-5-20251001",
		SonnetModel: "claude-sonnet-4-5-20250929",
		MaxTokens:   4096,
	}
}

func (b *Backend) modelFor(tier model.ModelTier) string {
	if tier == model.TierHeavy {
		return b.SonnetModel
	}
	return b.HaikuModel
}

// Ask sends one reasoning request and returns the reply text. The limiter
// slot is held for the duration of the call and released on every exit path.
func (b *Backend) Ask(ctx context.Context, tier model.ModelTier, agentName, system, prompt string, burst bool) (string, error) {
	if b.Client == nil {
		return "", eris.New("agent: no reasoning client configured")
	}

	if b.Limiter != nil {
		if burst {
			if err := b.Limiter.AcquireBurst(ctx); err != nil {
				return "", err
			}
			defer b.Limiter.ReleaseBurst()
		} else {
			if err := b.Limiter.Acquire(ctx); err != nil {
				return "", err
			}
			defer b.Limiter.Release()
		}
	}

	m := b.modelFor(tier)
	req := anthropic.MessageRequest{
		Model:     m,
		MaxTokens: b.MaxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	}
	if system != "" {
		// System prompts repeat across every call for a document, so they
		// carry a cache breakpoint.
		req.System = anthropic.BuildCachedSystemBlocks(system)
	}

	retry := b.Retry
	retry.OnRetry = resilience.RetryLogger("anthropic", agentName)

	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if b.Breaker != nil {
			return resilience.ExecuteVal(ctx, b.Breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
				return b.Client.CreateMessage(ctx, req)
			})
		}
		return b.Client.CreateMessage(ctx, req)
	})
	if err != nil {
		return "", eris.Wrapf(err, "agent: %s reasoning call", agentName)
	}

	resp.Usage.LogCost(m, agentName)
	return resp.Text(), nil
}

// chain accumulates reasoning steps in execution order.
type chain struct {
	steps []model.ReasoningStep
}

func (c *chain) add(name string, tier model.ModelTier, input, output map[string]any, reasoning string, confidence *float64, began time.Time) {
	c.steps = append(c.steps, model.ReasoningStep{
		StepNumber: len(c.steps) + 1,
		StepName:   name,
		Input:      input,
		Output:     output,
		ModelUsed:  tier,
		Reasoning:  reasoning,
		Confidence: confidence,
		Duration:   time.Since(began),
	})
}

func confPtr(v float64) *float64 { return &v }

// CombineConfidence aggregates step confidences into one value. The formula
// is 0.7*min + 0.3*mean: monotone in every component and minimum-dominated,
// so a single very low sub-confidence drags the aggregate toward itself
// rather than being averaged away. Empty input yields DefaultConfidence.
func CombineConfidence(values []float64) float64 {
	if len(values) == 0 {
		return DefaultConfidence
	}
	min, sum := values[0], 0.0
	for _, v := range values {
		if v < min {
			min = v
		}
		sum += v
	}
	return 0.7*min + 0.3*sum/float64(len(values))
}

// finalize applies the shared review policy to a draft result: unresolved
// ambiguities cap confidence at the lowest resolution confidence and force
// review; a confidence below the threshold forces review.
func finalize(res *model.AgentResult, opts Options, unresolved []model.Ambiguity, resolutions []model.Resolution) {
	if len(unresolved) > 0 {
		minRes := 1.0
		for _, r := range resolutions {
			if r.Confidence < minRes {
				minRes = r.Confidence
			}
		}
		if res.Confidence > minRes {
			res.Confidence = minRes
		}
		res.RequiresHumanReview = true
		res.HumanReviewReason = describeUnresolved(unresolved)
	}

	if res.Confidence < opts.ConfidenceThreshold {
		res.RequiresHumanReview = true
		if res.HumanReviewReason == "" {
			res.HumanReviewReason = fmt.Sprintf("Low confidence (%.2f) below threshold (%.2f)",
				res.Confidence, opts.ConfidenceThreshold)
		}
	}

	if res.RequiresHumanReview {
		zap.L().Info("agent flagged result for review",
			zap.String("agent", res.AgentName),
			zap.Float64("confidence", res.Confidence),
			zap.String("reason", res.HumanReviewReason),
		)
	}
}

func describeUnresolved(ambiguities []model.Ambiguity) string {
	msg := "Unresolved ambiguities:"
	for _, a := range ambiguities {
		msg += fmt.Sprintf(" [%s/%s] %s;", a.Field, a.Severity, a.Issue)
	}
	return msg
}
