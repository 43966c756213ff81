package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBuildCachedSystemBlocks(t *testing.T) {
	text := "You normalize CSA credit support terms. Taxonomy:\n\n# Asset classes\n..."

	blocks := BuildCachedSystemBlocks(text)

	require.Len(t, blocks, 1)
	assert.Equal(t, text, blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestBuildCachedSystemBlocks_EmptyText(t *testing.T) {
	blocks := BuildCachedSystemBlocks("")

	require.Len(t, blocks, 1)
	assert.Equal(t, "", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
}

func TestPrimerRequest_Success(t *testing.T) {
	mc := new(MockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(&MessageResponse{
		Usage: TokenUsage{CacheCreationInputTokens: 5000},
	}, nil)

	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		System:    BuildCachedSystemBlocks("long shared prompt"),
		Messages:  []Message{{Role: "user", Content: "ack"}},
	}

	resp, err := PrimerRequest(context.Background(), mc, req)
	require.NoError(t, err)
	assert.EqualValues(t, 5000, resp.Usage.CacheCreationInputTokens)
	mc.AssertExpectations(t)
}

func TestPrimerRequest_Error(t *testing.T) {
	mc := new(MockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	_, err := PrimerRequest(context.Background(), mc, MessageRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primer request")
}
