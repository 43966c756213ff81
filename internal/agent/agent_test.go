package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/csa-normalizer/internal/model"
	"github.com/sells-group/csa-normalizer/pkg/anthropic"
)

// scriptedClient replays canned reply texts in order and records which
// models were requested. With an empty script every call errors, which
// lets rule-based tests prove no model was consulted.
type scriptedClient struct {
	mu        sync.Mutex
	responses []string
	models    []string
	calls     int
}

func (c *scriptedClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.models = append(c.models, req.Model)
	if len(c.responses) == 0 {
		return nil, eris.New("scripted client exhausted")
	}
	text := c.responses[0]
	c.responses = c.responses[1:]
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *scriptedClient) requestedModels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.models...)
}

func testBackend(client anthropic.Client) *Backend {
	b := NewBackend(client, nil)
	b.Retry.MaxAttempts = 1
	return b
}

func TestCombineConfidenceEmptyDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfidence, CombineConfidence(nil), "empty input should yield the default confidence")
}

func TestCombineConfidenceSingleValue(t *testing.T) {
	assert.InDelta(t, 0.9, CombineConfidence([]float64{0.9}), 1e-9, "single value should pass through")
}

func TestCombineConfidenceMinDominated(t *testing.T) {
	values := []float64{1.0, 1.0, 0.1}
	mean := (1.0 + 1.0 + 0.1) / 3
	got := CombineConfidence(values)
	assert.Less(t, got, mean, "aggregate should sit below the mean when one component is low")
	assert.Greater(t, got, 0.1, "aggregate should sit above the minimum")
}

func TestCombineConfidenceMonotone(t *testing.T) {
	lower := CombineConfidence([]float64{0.5, 0.8, 0.9})
	higher := CombineConfidence([]float64{0.6, 0.8, 0.9})
	assert.Greater(t, higher, lower, "raising any component should raise the aggregate")
}

func TestFinalizeLowConfidenceForcesReview(t *testing.T) {
	res := &model.AgentResult{AgentName: "currency", Confidence: 0.7}
	finalize(res, DefaultOptions(), nil, nil)

	require.True(t, res.RequiresHumanReview, "confidence below threshold must force review")
	assert.Contains(t, res.HumanReviewReason, "Low confidence (0.70)")
	assert.Contains(t, res.HumanReviewReason, "threshold (0.85)")
}

func TestFinalizeUnresolvedCapsConfidence(t *testing.T) {
	res := &model.AgentResult{AgentName: "collateral", Confidence: 0.97}
	unresolved := []model.Ambiguity{{Issue: "rating branch undecided", Field: "row 3", Severity: model.SeverityHigh}}
	resolutions := []model.Resolution{{Confidence: 0.6}, {Confidence: 0.9}}
	finalize(res, DefaultOptions(), unresolved, resolutions)

	assert.InDelta(t, 0.6, res.Confidence, 1e-9, "confidence should be capped at the weakest resolution")
	require.True(t, res.RequiresHumanReview)
	assert.Contains(t, res.HumanReviewReason, "rating branch undecided")
}

func TestFinalizeCleanResultUntouched(t *testing.T) {
	res := &model.AgentResult{AgentName: "temporal", Confidence: 0.95}
	finalize(res, DefaultOptions(), nil, nil)

	assert.False(t, res.RequiresHumanReview, "high confidence with no ambiguities should not flag review")
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
}
