package llm

import (
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAnthropicParamsBasic(t *testing.T) {
	req := Request{
		Model:        "claude-3-5-sonnet-latest",
		MaxTokens:    512,
		SystemPrompt: "be terse",
		Messages: []Message{
			{Role: RoleUser, Content: "hello"},
			{Role: RoleAssistant, Content: "hi"},
		},
	}
	params := buildAnthropicParams(req)
	assert.Equal(t, anthropic.Model("claude-3-5-sonnet-latest"), params.Model)
	assert.Equal(t, int64(512), params.MaxTokens)
	require.Len(t, params.Messages, 2)
	require.Len(t, params.System, 1)
	assert.Equal(t, "be terse", params.System[0].Text)
}

func TestBuildAnthropicParamsTemperature(t *testing.T) {
	temp := 0.2
	req := Request{Model: "claude-3-5-haiku-latest", MaxTokens: 10, Temperature: &temp}
	params := buildAnthropicParams(req)
	require.NotZero(t, params.Temperature)
}

func TestBuildAnthropicParamsTools(t *testing.T) {
	req := Request{
		Model:     "claude-3-5-sonnet-latest",
		MaxTokens: 10,
		Tools: []ToolSchema{
			{Name: "lookup", Description: "look things up"},
		},
	}
	params := buildAnthropicParams(req)
	require.Len(t, params.Tools, 1)
}

func TestClassifyAnthropicErrMapsAPIError(t *testing.T) {
	apiErr := &anthropic.Error{StatusCode: 429}

	err := classifyAnthropicErr(apiErr)
	require.Equal(t, KindRateLimit, err.Kind)
	assert.Equal(t, "anthropic", err.Provider)
}

func TestClassifyAnthropicErrMapsNetworkError(t *testing.T) {
	err := classifyAnthropicErr(errors.New("connection reset"))
	assert.Equal(t, KindNetwork, err.Kind)
	assert.Equal(t, "anthropic", err.Provider)
}

func TestClassifyAnthropicErrMapsServerError(t *testing.T) {
	apiErr := &anthropic.Error{StatusCode: 503}

	err := classifyAnthropicErr(apiErr)
	require.Equal(t, KindBackend, err.Kind)
}
