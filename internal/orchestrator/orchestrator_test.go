package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/csa-normalizer/internal/agent"
	"github.com/sells-group/csa-normalizer/internal/model"
	"github.com/sells-group/csa-normalizer/pkg/anthropic"
)

// stubAgent returns a canned result, an error, or blocks until its context
// expires.
type stubAgent struct {
	name   string
	result *model.AgentResult
	err    error
	block  bool

	mu       sync.Mutex
	sawAbort bool
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Normalize(ctx context.Context, _ *agent.Input) (*model.AgentResult, error) {
	if s.block {
		<-ctx.Done()
		s.mu.Lock()
		s.sawAbort = true
		s.mu.Unlock()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func okResult(name string, confidence float64) *model.AgentResult {
	return &model.AgentResult{
		AgentName:  name,
		Data:       map[string]any{},
		Confidence: confidence,
		ReasoningChain: []model.ReasoningStep{
			{StepNumber: 1, StepName: "parse", ModelUsed: model.TierRuleBased},
		},
	}
}

// erroringClient fails every call; the stub agents never reach it.
type erroringClient struct{}

func (erroringClient) CreateMessage(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return nil, eris.New("unexpected model call")
}

func testOrchestrator(cfg Config, agents ...agent.Normalizer) *Orchestrator {
	o := New(agent.NewBackend(erroringClient{}, nil), cfg)
	o.buildAgents = func(agent.Options) []agent.Normalizer { return agents }
	return o
}

func extraction() *model.RawExtraction {
	return &model.RawExtraction{DocumentID: "doc-1", ExtractionID: "ex-1"}
}

func TestNormalizeAggregatesCleanRun(t *testing.T) {
	o := testOrchestrator(DefaultConfig(),
		&stubAgent{name: "currency", result: okResult("currency", 0.95)},
		&stubAgent{name: "temporal", result: okResult("temporal", 0.92)},
		&stubAgent{name: "collateral", result: okResult("collateral", 0.97)},
	)

	res, err := o.Normalize(context.Background(), extraction(), &model.ContractTerms{BaseCurrency: "USD"})
	require.NoError(t, err)

	assert.Equal(t, "doc-1", res.DocumentID)
	assert.Equal(t, "ex-1", res.ExtractionID)
	assert.NotEmpty(t, res.ID)
	assert.Len(t, res.AgentResults, 3)
	assert.False(t, res.RequiresHumanReview)
	assert.True(t, res.ValidationReport.Passed)
	assert.Greater(t, res.OverallConfidence, 0.9)
	assert.Equal(t, []string{"collateral", "currency", "temporal"}, res.ProcessingSummary.AgentsUsed)
	assert.Equal(t, 3, res.ProcessingSummary.TotalReasoningSteps)
	assert.Equal(t, []string{"rule-based"}, res.ProcessingSummary.ModelsUsed)
}

func TestNormalizeTimeoutDegradesWithoutAbortingSiblings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AgentTimeout = 20 * time.Millisecond

	slow := &stubAgent{name: "collateral", block: true}
	o := testOrchestrator(cfg,
		&stubAgent{name: "currency", result: okResult("currency", 0.95)},
		&stubAgent{name: "temporal", result: okResult("temporal", 0.95)},
		slow,
	)

	res, err := o.Normalize(context.Background(), extraction(), nil)
	require.NoError(t, err, "an agent timeout must not fail the run")

	timedOut := res.AgentResults["collateral"]
	require.NotNil(t, timedOut, "the timed-out agent still occupies its slot")
	assert.Zero(t, timedOut.Confidence)
	assert.True(t, timedOut.RequiresHumanReview)
	assert.Contains(t, timedOut.HumanReviewReason, "exceeded time budget")

	// Siblings delivered real results.
	assert.InDelta(t, 0.95, res.AgentResults["currency"].Confidence, 1e-9)
	assert.InDelta(t, 0.95, res.AgentResults["temporal"].Confidence, 1e-9)

	assert.True(t, res.ValidationReport.HasBlockingError())
	assert.False(t, res.ValidationReport.Passed)
	assert.True(t, res.RequiresHumanReview)
	assert.Less(t, res.OverallConfidence, cfg.ConfidenceThreshold,
		"a zero-confidence agent must drag the overall confidence below the review floor")
}

func TestNormalizeAgentErrorBecomesBlockingError(t *testing.T) {
	o := testOrchestrator(DefaultConfig(),
		&stubAgent{name: "currency", result: okResult("currency", 0.95)},
		&stubAgent{name: "temporal", result: okResult("temporal", 0.95)},
		&stubAgent{name: "collateral", err: eris.New("reasoning backend unreachable")},
	)

	res, err := o.Normalize(context.Background(), extraction(), nil)
	require.NoError(t, err)

	var found bool
	for _, e := range res.ValidationReport.Errors {
		if e.Check == "agent_execution" {
			found = true
			assert.True(t, e.Blocking)
			assert.Contains(t, e.Message, "collateral agent")
		}
	}
	assert.True(t, found, "expected an agent_execution blocking error")
	assert.True(t, res.RequiresHumanReview)
}

func TestNormalizeMissingDependencyFailsRun(t *testing.T) {
	o := testOrchestrator(DefaultConfig(),
		&stubAgent{name: "currency", result: okResult("currency", 0.95)},
		&stubAgent{name: "temporal", result: okResult("temporal", 0.95)},
		&stubAgent{name: "collateral", err: &model.MissingDependencyError{Dependency: "eligible-collateral table"}},
	)

	res, err := o.Normalize(context.Background(), extraction(), nil)
	require.Error(t, err, "a missing upstream input aborts the run")
	assert.Nil(t, res, "no partial result may escape an aborted run")

	var missing *model.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "eligible-collateral table", missing.Dependency)
}

func TestNormalizeCancelledRunFails(t *testing.T) {
	o := testOrchestrator(DefaultConfig(), &stubAgent{name: "currency", block: true})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := o.Normalize(ctx, extraction(), nil)
	require.Error(t, err, "cancelling the run context fails the whole run")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUseBurstDecision(t *testing.T) {
	o := New(agent.NewBackend(erroringClient{}, nil), DefaultConfig())

	small := &model.RawExtraction{CollateralTable: make([]model.CollateralRow, 10)}
	assert.False(t, o.useBurst(small), "10 rows at 4 calls each fits the sustained tier")

	large := &model.RawExtraction{CollateralTable: make([]model.CollateralRow, 20)}
	assert.True(t, o.useBurst(large), "20 rows at 4 calls each exceeds 60 sustained slots")
}

func TestNormalizeNilExtraction(t *testing.T) {
	o := New(agent.NewBackend(erroringClient{}, nil), DefaultConfig())
	_, err := o.Normalize(context.Background(), nil, nil)
	require.Error(t, err)
}
