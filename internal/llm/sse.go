package llm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

// sseFrame is one parsed `event:`/`data:` pair from a server-sent-events
// stream.
type sseFrame struct {
	Event string
	Data  string
}

// scanSSE reads r and emits one sseFrame per blank-line-terminated block,
// buffering partial lines across network packet boundaries the way
// bufio.Scanner already does internally. It is the shared parser behind
// both provider streaming clients and the MCP HTTP transport's
// server-initiated notifications.
func scanSSE(r io.Reader, emit func(sseFrame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event strings.Builder
	var data strings.Builder
	haveEvent := false

	flush := func() error {
		if !haveEvent && data.Len() == 0 {
			return nil
		}
		frame := sseFrame{Event: event.String(), Data: data.String()}
		event.Reset()
		data.Reset()
		haveEvent = false
		return emit(frame)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			haveEvent = true
			event.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			haveEvent = true
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// comment/heartbeat line, ignored
		default:
			// unrecognised field, ignored per SSE spec
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

// anthropicStreamEvent mirrors the subset of the Anthropic Messages API
// streaming payload this package translates into llm.Event.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`

	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`

	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`

	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// translateAnthropicEvent converts one raw anthropicStreamEvent into the
// §4.1 event sequence's Event shape. Unrecognised types are dropped.
func translateAnthropicEvent(raw []byte) (Event, bool) {
	var ev anthropicStreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, false
	}

	switch ev.Type {
	case "message_start":
		return Event{Kind: EventMessageStart, MessageID: ev.Message.ID, Model: ev.Message.Model}, true
	case "content_block_start":
		kind := BlockText
		if ev.ContentBlock.Type == "tool_use" {
			kind = BlockToolUse
		}
		return Event{Kind: EventContentBlockStart, Index: ev.Index, BlockKind: kind}, true
	case "content_block_delta":
		if ev.Delta.Type == "input_json_delta" {
			return Event{Kind: EventContentBlockDelta, Index: ev.Index, InputJSONDelta: ev.Delta.PartialJSON}, true
		}
		return Event{Kind: EventContentBlockDelta, Index: ev.Index, TextDelta: ev.Delta.Text}, true
	case "content_block_stop":
		return Event{Kind: EventContentBlockStop, Index: ev.Index}, true
	case "message_delta":
		return Event{
			Kind:       EventMessageDelta,
			StopReason: mapStopReason(ev.Delta.StopReason),
			Usage:      Usage{OutputTokens: ev.Usage.OutputTokens},
		}, true
	case "message_stop":
		return Event{Kind: EventMessageStop}, true
	case "ping":
		return Event{Kind: EventPing}, true
	case "error":
		return Event{Kind: EventError, ErrorMessage: ev.Error.Message}, true
	default:
		return Event{}, false
	}
}

func mapStopReason(s string) StopReason {
	switch s {
	case "end_turn":
		return StopEndTurn
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "stop_sequence":
		return StopStopSequence
	default:
		return StopEndTurn
	}
}

// accumulateToolInput buffers partial_json fragments for a single tool-use
// content block until content_block_stop, at which point Bytes returns the
// complete JSON argument payload.
type toolInputAccumulator struct {
	buf bytes.Buffer
}

func (a *toolInputAccumulator) Write(fragment string) {
	a.buf.WriteString(fragment)
}

func (a *toolInputAccumulator) Bytes() json.RawMessage {
	if a.buf.Len() == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(a.buf.Bytes())
}
