package anthropic

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/csa-normalizer/internal/resilience"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

func TestCreateMessage_MockClient(t *testing.T) {
	mc := new(MockClient)
	want := &MessageResponse{
		ID:    "msg_123",
		Model: "claude-haiku-4-5-20251001",
		Content: []ContentBlock{
			{Type: "text", Text: "normalized"},
		},
		StopReason: "end_turn",
		Usage:      TokenUsage{InputTokens: 120, OutputTokens: 18},
	}
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(want, nil)

	resp, err := mc.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "normalized", resp.Text())
	mc.AssertExpectations(t)
}

func TestMessageResponse_Text_ConcatenatesTextBlocks(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "part one "},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "part two"},
	}}
	assert.Equal(t, "part one part two", resp.Text())
}

func TestSDKTypeConversion_toSDKMessages(t *testing.T) {
	out := toSDKMessages([]Message{
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "answer"},
		{Role: "bogus", Content: "defaults to user"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, "user", string(out[0].Role))
	assert.Equal(t, "assistant", string(out[1].Role))
	assert.Equal(t, "user", string(out[2].Role))
}

func TestSDKTypeConversion_toSDKSystemBlocks(t *testing.T) {
	out := toSDKSystemBlocks([]SystemBlock{
		{Text: "plain"},
		{Text: "cached", CacheControl: &CacheControl{TTL: "1h"}},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "plain", out[0].Text)
	assert.Equal(t, "cached", out[1].Text)
	assert.Equal(t, "1h", string(out[1].CacheControl.TTL))
}

// apiError builds an SDK error the way the transport produces one. Request
// and Response must be populated; the SDK's Error() dereferences both.
func apiError(statusCode int) *sdk.Error {
	return &sdk.Error{
		StatusCode: statusCode,
		Request: &http.Request{
			Method: http.MethodPost,
			URL:    &url.URL{Scheme: "https", Host: "api.anthropic.com", Path: "/v1/messages"},
		},
		Response: &http.Response{StatusCode: statusCode},
	}
}

func TestClassifyAPIError_RateLimitIsTransient(t *testing.T) {
	err := classifyAPIError(apiError(429))

	var te *resilience.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 429, te.StatusCode)

	// The wrapped form that CreateMessage returns must still classify, or
	// the retry layer never re-attempts the call.
	wrapped := eris.Wrap(err, "anthropic: create message")
	assert.True(t, resilience.IsTransient(wrapped))
}

func TestClassifyAPIError_ServerErrorsAreTransient(t *testing.T) {
	for _, code := range []int{500, 502, 503, 504} {
		assert.True(t, resilience.IsTransient(classifyAPIError(apiError(code))),
			"HTTP %d from the backend must be retryable", code)
	}
}

func TestClassifyAPIError_ClientErrorPassesThrough(t *testing.T) {
	badRequest := apiError(400)
	err := classifyAPIError(badRequest)
	assert.Equal(t, error(badRequest), err, "client errors are not wrapped")
	assert.False(t, resilience.IsTransient(err), "a malformed request must not be retried")
}

func TestClassifyAPIError_NonAPIErrorPassesThrough(t *testing.T) {
	plain := eris.New("connection refused by proxy")
	assert.Equal(t, plain, classifyAPIError(plain))
}

func TestEstimateCost_Haiku(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 0.80+4.00, u.EstimateCost("claude-haiku-4-5-20251001"), 1e-9)
}

func TestEstimateCost_Sonnet(t *testing.T) {
	u := TokenUsage{InputTokens: 2_000_000, OutputTokens: 500_000}
	assert.InDelta(t, 2*3.00+0.5*15.00, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
}

func TestEstimateCost_WithCache(t *testing.T) {
	u := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}
	// Cache writes cost 1.25x input rate, reads 0.1x.
	assert.InDelta(t, 0.80*1.25+0.80*0.1, u.EstimateCost("claude-haiku-4-5-20251001"), 1e-9)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000}
	assert.Zero(t, u.EstimateCost("some-other-model"))
}

func TestEstimateCost_ZeroTokens(t *testing.T) {
	assert.Zero(t, TokenUsage{}.EstimateCost("claude-haiku-4-5-20251001"))
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 10}.LogCost("claude-haiku-4-5-20251001", "parse_amount")
	})
}

func TestNewClient_ReturnsNonNil(t *testing.T) {
	assert.NotNil(t, NewClient("test-key"))
}
