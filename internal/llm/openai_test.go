package llm

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOpenAIRequestBasic(t *testing.T) {
	req := Request{
		Model:        "gpt-4o",
		MaxTokens:    256,
		SystemPrompt: "be terse",
		Messages: []Message{
			{Role: RoleUser, Content: "hello"},
			{Role: RoleAssistant, Content: "hi"},
		},
	}
	chatReq := buildOpenAIRequest(req)
	assert.Equal(t, "gpt-4o", chatReq.Model)
	assert.Equal(t, 256, chatReq.MaxTokens)
	require.Len(t, chatReq.Messages, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, chatReq.Messages[0].Role)
}

func TestBuildOpenAIRequestTools(t *testing.T) {
	req := Request{
		Model: "gpt-4o",
		Tools: []ToolSchema{
			{Name: "lookup", Description: "look things up", InputSchema: []byte(`{"type":"object"}`)},
		},
	}
	chatReq := buildOpenAIRequest(req)
	require.Len(t, chatReq.Tools, 1)
	assert.Equal(t, "lookup", chatReq.Tools[0].Function.Name)
}

func TestBuildOpenAIRequestMalformedToolSchemaFallsBack(t *testing.T) {
	req := Request{
		Model: "gpt-4o",
		Tools: []ToolSchema{{Name: "broken", InputSchema: []byte(`not json`)}},
	}
	chatReq := buildOpenAIRequest(req)
	require.Len(t, chatReq.Tools, 1)
	assert.NotNil(t, chatReq.Tools[0].Function.Parameters)
}

func TestClassifyOpenAIErrMapsAPIError(t *testing.T) {
	apiErr := &openai.APIError{HTTPStatusCode: 429, Message: "rate limit exceeded", Code: "rate_limit_error"}

	err := classifyOpenAIErr(apiErr)
	require.Equal(t, KindRateLimit, err.Kind)
	assert.Equal(t, "openai", err.Provider)
}

func TestClassifyOpenAIErrMapsRequestError(t *testing.T) {
	reqErr := &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("upstream unavailable")}

	err := classifyOpenAIErr(reqErr)
	require.Equal(t, KindBackend, err.Kind)
}

func TestClassifyOpenAIErrMapsNetworkError(t *testing.T) {
	err := classifyOpenAIErr(errors.New("connection reset"))
	assert.Equal(t, KindNetwork, err.Kind)
}

func TestMapOpenAIFinishReason(t *testing.T) {
	assert.Equal(t, StopToolUse, mapOpenAIFinishReason("tool_calls"))
	assert.Equal(t, StopMaxTokens, mapOpenAIFinishReason("length"))
	assert.Equal(t, StopEndTurn, mapOpenAIFinishReason("stop"))
}
