// Package orchestrator fans a document out to the normalizer agents, runs
// cross-field validation over their combined output, and aggregates the
// final result. One Normalize call is one run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/csa-normalizer/internal/agent"
	"github.com/sells-group/csa-normalizer/internal/model"
)

// RunState tracks a run through its lifecycle. Transitions are linear;
// Failed is reachable only from a cancelled run context.
type RunState string

const (
	StatePending       RunState = "pending"
	StateAgentsRunning RunState = "agents_running"
	StateValidating    RunState = "validating"
	StateAggregating   RunState = "aggregating"
	StateComplete      RunState = "complete"
	StateFailed        RunState = "failed"
)

// Config carries the orchestration tunables.
type Config struct {
	// ConfidenceThreshold is the overall floor below which the run is
	// flagged for human review.
	ConfidenceThreshold float64
	// AgentTimeout bounds each agent individually. A timed-out agent is
	// replaced by a synthetic failed result; its siblings keep running.
	AgentTimeout time.Duration
	// AutoBatchThreshold and BatchSize pass through to the agents.
	AutoBatchThreshold int
	BatchSize          int
	// CallsPerItem estimates model calls per collateral row, used with
	// SustainedCap to decide when a run may draw on burst capacity.
	CallsPerItem int
	SustainedCap int
}

// DefaultConfig mirrors the configured defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.85,
		AgentTimeout:        5 * time.Minute,
		AutoBatchThreshold:  50,
		BatchSize:           25,
		CallsPerItem:        4,
		SustainedCap:        60,
	}
}

// Orchestrator runs the multi-agent normalization pipeline.
type Orchestrator struct {
	backend   *agent.Backend
	validator *agent.ValidationAgent
	cfg       Config

	// buildAgents constructs the per-run agent set.
	buildAgents func(opts agent.Options) []agent.Normalizer
}

// New builds an orchestrator over a shared reasoning backend.
func New(backend *agent.Backend, cfg Config) *Orchestrator {
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = DefaultConfig().AgentTimeout
	}
	o := &Orchestrator{
		backend:   backend,
		validator: agent.NewValidationAgent(),
		cfg:       cfg,
	}
	o.buildAgents = func(opts agent.Options) []agent.Normalizer {
		return []agent.Normalizer{
			agent.NewCurrencyAgent(o.backend, opts),
			agent.NewTemporalAgent(o.backend, opts),
			agent.NewCollateralAgent(o.backend, opts),
		}
	}
	return o
}

// Normalize runs all agents over one document and aggregates the result.
// It errors when the run context is cancelled or a required upstream input
// is absent; other agent-level failures are folded into the result as
// blocking validation errors.
func (o *Orchestrator) Normalize(ctx context.Context, extraction *model.RawExtraction, terms *model.ContractTerms) (*model.NormalizedResult, error) {
	if extraction == nil {
		return nil, eris.New("orchestrator: nil extraction")
	}

	start := time.Now()
	state := StatePending
	logState := func(next RunState) {
		zap.L().Debug("run state transition",
			zap.String("document_id", extraction.DocumentID),
			zap.String("from", string(state)),
			zap.String("to", string(next)),
		)
		state = next
	}

	opts := agent.Options{
		ConfidenceThreshold: o.cfg.ConfidenceThreshold,
		AutoBatchThreshold:  o.cfg.AutoBatchThreshold,
		BatchSize:           o.cfg.BatchSize,
		UseBurst:            o.useBurst(extraction),
	}
	normalizers := o.buildAgents(opts)
	input := &agent.Input{Extraction: extraction, Terms: terms}

	// Fan out. The group deliberately carries no shared cancellation: one
	// agent timing out must not abort its siblings.
	logState(StateAgentsRunning)
	results := make(map[string]*model.AgentResult, len(normalizers))
	var agentErrors []model.ValidationError
	var fatalErr error
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(len(normalizers))
	for _, n := range normalizers {
		g.Go(func() error {
			res, err := o.runAgent(ctx, n, input)
			mu.Lock()
			defer mu.Unlock()
			results[n.Name()] = res
			if err != nil {
				// A missing upstream input is fatal: no partial result.
				var missing *model.MissingDependencyError
				if errors.As(err, &missing) {
					if fatalErr == nil {
						fatalErr = err
					}
					return nil
				}
				agentErrors = append(agentErrors, model.ValidationError{
					Check:    "agent_execution",
					Category: "agents",
					Message:  fmt.Sprintf("%s agent: %s", n.Name(), err.Error()),
					Blocking: true,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		logState(StateFailed)
		return nil, eris.Wrap(ctx.Err(), "orchestrator: run cancelled")
	}
	if fatalErr != nil {
		logState(StateFailed)
		return nil, eris.Wrapf(fatalErr, "orchestrator: run for %s aborted", extraction.DocumentID)
	}

	logState(StateValidating)
	report := o.validator.Validate(results, terms)
	if len(agentErrors) > 0 {
		report.Errors = append(report.Errors, agentErrors...)
		report.Finalize()
	}

	logState(StateAggregating)
	result := o.aggregate(extraction, results, report, start)

	logState(StateComplete)
	zap.L().Info("normalization run complete",
		zap.String("document_id", extraction.DocumentID),
		zap.Float64("confidence", result.OverallConfidence),
		zap.Bool("requires_review", result.RequiresHumanReview),
		zap.Bool("passed", report.Passed),
		zap.Duration("elapsed", result.ProcessingSummary.TotalTime),
	)
	return result, nil
}

// runAgent executes one agent under its own deadline. Any failure is
// converted into a synthetic zero-confidence result so downstream
// aggregation always sees every agent.
func (o *Orchestrator) runAgent(ctx context.Context, n agent.Normalizer, in *agent.Input) (*model.AgentResult, error) {
	agentCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
	defer cancel()

	began := time.Now()
	res, err := n.Normalize(agentCtx, in)
	if err == nil {
		return res, nil
	}

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = &model.AgentTimeoutError{Agent: n.Name(), Timeout: o.cfg.AgentTimeout}
	}
	zap.L().Error("agent failed",
		zap.String("agent", n.Name()),
		zap.Error(err),
	)
	return &model.AgentResult{
		AgentName:           n.Name(),
		Data:                map[string]any{},
		Confidence:          0,
		RequiresHumanReview: true,
		HumanReviewReason:   err.Error(),
		ProcessingTime:      time.Since(began),
	}, err
}

// useBurst reports whether the run's estimated call volume justifies the
// limiter's burst tier.
func (o *Orchestrator) useBurst(extraction *model.RawExtraction) bool {
	if o.cfg.CallsPerItem <= 0 || o.cfg.SustainedCap <= 0 {
		return false
	}
	return len(extraction.CollateralTable)*o.cfg.CallsPerItem > o.cfg.SustainedCap
}

func (o *Orchestrator) aggregate(extraction *model.RawExtraction, results map[string]*model.AgentResult, report *model.ValidationReport, start time.Time) *model.NormalizedResult {
	var confs []float64
	var agentsUsed []string
	modelSet := map[string]bool{}
	totalSteps, totalCorrections, itemsForReview := 0, 0, 0
	contextAccessed := false

	for name, res := range results {
		agentsUsed = append(agentsUsed, name)
		confs = append(confs, res.Confidence)
		totalSteps += len(res.ReasoningChain)
		totalCorrections += res.SelfCorrections
		if res.RequiresHumanReview {
			itemsForReview++
		}
		for _, step := range res.ReasoningChain {
			modelSet[string(step.ModelUsed)] = true
			if step.StepName == "access_document_context" {
				contextAccessed = true
			}
		}
	}
	sort.Strings(agentsUsed)
	var modelsUsed []string
	for m := range modelSet {
		modelsUsed = append(modelsUsed, m)
	}
	sort.Strings(modelsUsed)

	overall := agent.CombineConfidence(confs)
	review := overall < o.cfg.ConfidenceThreshold || report.HasBlockingError() || itemsForReview > 0

	return &model.NormalizedResult{
		ID:                  uuid.NewString(),
		DocumentID:          extraction.DocumentID,
		ExtractionID:        extraction.ExtractionID,
		OverallConfidence:   overall,
		RequiresHumanReview: review,
		AgentResults:        results,
		ValidationReport:    report,
		ProcessingSummary: &model.ProcessingSummary{
			TotalTime:           time.Since(start),
			AgentsUsed:          agentsUsed,
			TotalReasoningSteps: totalSteps,
			TotalCorrections:    totalCorrections,
			ModelsUsed:          modelsUsed,
			ContextAccessed:     contextAccessed,
			ItemsForReview:      itemsForReview,
		},
		CreatedAt: time.Now().UTC(),
	}
}
