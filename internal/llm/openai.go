package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend wraps the go-openai client behind the Backend contract.
type OpenAIBackend struct {
	client *openai.Client
	retry  RetryPolicy
}

// NewOpenAIBackend builds a Backend against the OpenAI Chat Completions API.
func NewOpenAIBackend(apiKey string, retry RetryPolicy) *OpenAIBackend {
	return &OpenAIBackend{client: openai.NewClient(apiKey), retry: retry}
}

func (b *OpenAIBackend) Name() string             { return "openai" }
func (b *OpenAIBackend) SupportsNativeTools() bool { return true }

func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	return b.retry.Do(ctx, func(ctx context.Context) (*Response, error) {
		return b.complete(ctx, req)
	})
}

func (b *OpenAIBackend) complete(ctx context.Context, req Request) (*Response, error) {
	chatReq := buildOpenAIRequest(req)
	chatReq.Stream = false

	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, classifyOpenAIErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(KindBackend, "no choices returned").WithProvider("openai")
	}

	choice := resp.Choices[0]
	out := &Response{
		ID:         resp.ID,
		StopReason: mapOpenAIFinishReason(string(choice.FinishReason)),
		Provider:   b.Name(),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, ContentBlock{Kind: BlockText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Content = append(out.Content, ContentBlock{
			Kind:      BlockToolUse,
			ToolUseID: tc.ID,
			ToolName:  tc.Function.Name,
			ToolInput: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// CompleteStream issues a streaming chat completion and translates
// go-openai's delta chunks into the shared §4.1 event sequence, since the
// SDK's own chunk shape (one struct per token, no explicit block framing)
// does not correspond 1:1 to Anthropic's block-oriented events.
func (b *OpenAIBackend) CompleteStream(ctx context.Context, req Request) (<-chan Event, error) {
	chatReq := buildOpenAIRequest(req)
	chatReq.Stream = true

	stream, err := b.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, classifyOpenAIErr(err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		out <- Event{Kind: EventMessageStart, Model: req.Model}

		textOpen := false
		toolCalls := map[int]*toolInputAccumulator{}
		toolNames := map[int]string{}
		toolIDs := map[int]string{}
		lastFinish := ""

		for {
			chunk, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				out <- Event{Kind: EventError, ErrorMessage: classifyOpenAIErr(err).Error()}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if chunk.Choices[0].FinishReason != "" {
				lastFinish = string(chunk.Choices[0].FinishReason)
			}

			if delta.Content != "" {
				if !textOpen {
					out <- Event{Kind: EventContentBlockStart, Index: 0, BlockKind: BlockText}
					textOpen = true
				}
				out <- Event{Kind: EventContentBlockDelta, Index: 0, TextDelta: delta.Content}
			}

			for _, tc := range delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				if _, ok := toolCalls[index]; !ok {
					toolCalls[index] = &toolInputAccumulator{}
					out <- Event{Kind: EventContentBlockStart, Index: index + 1, BlockKind: BlockToolUse}
				}
				if tc.ID != "" {
					toolIDs[index] = tc.ID
				}
				if tc.Function.Name != "" {
					toolNames[index] = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					toolCalls[index].Write(tc.Function.Arguments)
					out <- Event{Kind: EventContentBlockDelta, Index: index + 1, InputJSONDelta: tc.Function.Arguments}
				}
			}
		}

		if textOpen {
			out <- Event{Kind: EventContentBlockStop, Index: 0}
		}
		for index := range toolCalls {
			out <- Event{Kind: EventContentBlockStop, Index: index + 1}
		}
		out <- Event{Kind: EventMessageDelta, StopReason: mapOpenAIFinishReason(lastFinish)}
		out <- Event{Kind: EventMessageStop}
	}()
	return out, nil
}

func buildOpenAIRequest(req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	for _, t := range req.Tools {
		var schema map[string]any
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return chatReq
}

func mapOpenAIFinishReason(reason string) StopReason {
	switch reason {
	case "tool_calls":
		return StopToolUse
	case "length":
		return StopMaxTokens
	case "stop":
		return StopEndTurn
	default:
		return StopEndTurn
	}
}

func classifyOpenAIErr(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return ClassifyStatusCode(apiErr.HTTPStatusCode, "", apiErr.Message).WithProvider("openai").WithCause(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ClassifyStatusCode(reqErr.HTTPStatusCode, "", reqErr.Error()).WithProvider("openai").WithCause(err)
	}
	return ClassifyNetworkError(err).WithProvider("openai")
}
