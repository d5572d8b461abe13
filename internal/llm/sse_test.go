package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanSSEParsesFrames(t *testing.T) {
	input := "event: message_start\ndata: {\"a\":1}\n\nevent: ping\ndata: {}\n\n"
	var frames []sseFrame
	err := scanSSE(strings.NewReader(input), func(f sseFrame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "message_start", frames[0].Event)
	assert.Equal(t, `{"a":1}`, frames[0].Data)
	assert.Equal(t, "ping", frames[1].Event)
}

func TestScanSSEMultilineData(t *testing.T) {
	input := "data: line1\ndata: line2\n\n"
	var frames []sseFrame
	err := scanSSE(strings.NewReader(input), func(f sseFrame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "line1\nline2", frames[0].Data)
}

func TestScanSSEIgnoresComments(t *testing.T) {
	input := ": heartbeat\ndata: ok\n\n"
	var frames []sseFrame
	err := scanSSE(strings.NewReader(input), func(f sseFrame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "ok", frames[0].Data)
}

func TestTranslateAnthropicEventMessageStart(t *testing.T) {
	raw := []byte(`{"type":"message_start","message":{"id":"msg_1","model":"claude-3"}}`)
	ev, ok := translateAnthropicEvent(raw)
	require.True(t, ok)
	assert.Equal(t, EventMessageStart, ev.Kind)
	assert.Equal(t, "msg_1", ev.MessageID)
	assert.Equal(t, "claude-3", ev.Model)
}

func TestTranslateAnthropicEventContentBlockDeltaText(t *testing.T) {
	raw := []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`)
	ev, ok := translateAnthropicEvent(raw)
	require.True(t, ok)
	assert.Equal(t, EventContentBlockDelta, ev.Kind)
	assert.Equal(t, "hi", ev.TextDelta)
}

func TestTranslateAnthropicEventContentBlockDeltaToolInput(t *testing.T) {
	raw := []byte(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"a\":"}}`)
	ev, ok := translateAnthropicEvent(raw)
	require.True(t, ok)
	assert.Equal(t, EventContentBlockDelta, ev.Kind)
	assert.Equal(t, `{"a":`, ev.InputJSONDelta)
}

func TestTranslateAnthropicEventUnknownType(t *testing.T) {
	_, ok := translateAnthropicEvent([]byte(`{"type":"something_new"}`))
	assert.False(t, ok)
}

func TestToolInputAccumulator(t *testing.T) {
	acc := &toolInputAccumulator{}
	acc.Write(`{"a":`)
	acc.Write(`1}`)
	assert.JSONEq(t, `{"a":1}`, string(acc.Bytes()))
}

func TestToolInputAccumulatorEmpty(t *testing.T) {
	acc := &toolInputAccumulator{}
	assert.Equal(t, "{}", string(acc.Bytes()))
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, StopToolUse, mapStopReason("tool_use"))
	assert.Equal(t, StopMaxTokens, mapStopReason("max_tokens"))
	assert.Equal(t, StopEndTurn, mapStopReason("end_turn"))
	assert.Equal(t, StopEndTurn, mapStopReason("unknown"))
}
