package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend wraps the official Anthropic SDK client behind the
// Backend contract, translating its streaming events into the §4.1 event
// sequence ourselves rather than trusting the SDK's own iterator shape,
// since the spec's contract is narrower and framing-exact.
type AnthropicBackend struct {
	client anthropic.Client
	retry  RetryPolicy
}

// NewAnthropicBackend builds a Backend against the Anthropic Messages API.
func NewAnthropicBackend(apiKey string, retry RetryPolicy) *AnthropicBackend {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicBackend{client: client, retry: retry}
}

func (b *AnthropicBackend) Name() string                { return "anthropic" }
func (b *AnthropicBackend) SupportsNativeTools() bool    { return true }

func (b *AnthropicBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	return b.retry.Do(ctx, func(ctx context.Context) (*Response, error) {
		return b.complete(ctx, req)
	})
}

func (b *AnthropicBackend) complete(ctx context.Context, req Request) (*Response, error) {
	params := buildAnthropicParams(req)

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicErr(err)
	}

	resp := &Response{
		ID:         msg.ID,
		StopReason: mapStopReason(string(msg.StopReason)),
		Provider:   b.Name(),
		Usage: Usage{
			InputTokens:       int(msg.Usage.InputTokens),
			OutputTokens:      int(msg.Usage.OutputTokens),
			CacheCreateTokens: int(msg.Usage.CacheCreationInputTokens),
			CacheReadTokens:   int(msg.Usage.CacheReadInputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content = append(resp.Content, ContentBlock{Kind: BlockText, Text: variant.Text})
		case anthropic.ToolUseBlock:
			resp.Content = append(resp.Content, ContentBlock{
				Kind:      BlockToolUse,
				ToolUseID: variant.ID,
				ToolName:  variant.Name,
				ToolInput: json.RawMessage(variant.Input),
			})
		}
	}
	return resp, nil
}

// CompleteStream issues a streaming request and translates the SDK's
// decoded server-sent-events into the §4.1 Event sequence, accumulating
// input_json_delta fragments per content block index.
func (b *AnthropicBackend) CompleteStream(ctx context.Context, req Request) (<-chan Event, error) {
	params := buildAnthropicParams(req)
	stream := b.client.Messages.NewStreaming(ctx, params)

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		accumulators := map[int]*toolInputAccumulator{}

		for stream.Next() {
			event := stream.Current()
			raw, err := json.Marshal(event)
			if err != nil {
				out <- Event{Kind: EventError, ErrorMessage: err.Error()}
				return
			}
			translated, ok := translateAnthropicEvent(raw)
			if !ok {
				continue
			}
			if translated.Kind == EventContentBlockStart && translated.BlockKind == BlockToolUse {
				accumulators[translated.Index] = &toolInputAccumulator{}
			}
			if translated.Kind == EventContentBlockDelta && translated.InputJSONDelta != "" {
				if acc, ok := accumulators[translated.Index]; ok {
					acc.Write(translated.InputJSONDelta)
				}
			}
			out <- translated
			if translated.Kind == EventError || translated.Kind == EventMessageStop {
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- Event{Kind: EventError, ErrorMessage: classifyAnthropicErr(err).Error()}
		}
	}()
	return out, nil
}

func buildAnthropicParams(req Request) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  messages,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
			},
		})
	}
	return params
}

// anthropicErrorPayload mirrors the JSON body Anthropic returns alongside
// an API error, since *anthropic.Error exposes only StatusCode/RequestID
// directly and leaves the message in its raw JSON.
type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func classifyAnthropicErr(err error) *Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Error()
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				message = payload.Error.Message
			}
		}
		return ClassifyStatusCode(apiErr.StatusCode, "", message).WithProvider("anthropic").WithCause(err)
	}
	return ClassifyNetworkError(err).WithProvider("anthropic")
}
