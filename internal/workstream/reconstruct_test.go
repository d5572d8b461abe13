package workstream

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestReconstructSessionGroupsIntoTurns(t *testing.T) {
	log := NewMemoryMessageLog()
	r := NewReconstructor(log)
	ctx := context.Background()

	require.NoError(t, r.SaveTurn("ws1", "s1", "what's the weather", nil, nil, nil))

	result := "It's sunny."
	toolID := "call-1"
	require.NoError(t, r.SaveTurn("ws1", "s1", "and tomorrow?",
		[]models.ToolCall{{ID: toolID, Name: "weather", Arguments: json.RawMessage(`{"day":"tomorrow"}`)}},
		[]models.ToolResult{{ToolCallID: toolID, Success: true, Content: "cloudy"}},
		&result,
	))

	session, err := r.ReconstructSession(ctx, "ws1", "s1")
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Len(t, session.Turns, 2)

	first := session.Turns[0]
	assert.Equal(t, "what's the weather", first.UserMessage)
	assert.Nil(t, first.AssistantResponse)

	second := session.Turns[1]
	assert.Equal(t, "and tomorrow?", second.UserMessage)
	require.NotNil(t, second.AssistantResponse)
	assert.Equal(t, result, *second.AssistantResponse)
	require.Len(t, second.ToolCalls, 1)
	assert.Equal(t, "weather", second.ToolCalls[0].Name)
	require.Len(t, second.ToolResults, 1)
	assert.Equal(t, "cloudy", second.ToolResults[0].Content)
}

func TestReconstructSessionReturnsNilWhenNoMessages(t *testing.T) {
	log := NewMemoryMessageLog()
	r := NewReconstructor(log)

	session, err := r.ReconstructSession(context.Background(), "ws1", "missing")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestReconstructSessionFiltersBySessionID(t *testing.T) {
	log := NewMemoryMessageLog()
	r := NewReconstructor(log)

	require.NoError(t, r.SaveTurn("ws1", "s1", "message for s1", nil, nil, nil))
	require.NoError(t, r.SaveTurn("ws1", "s2", "message for s2", nil, nil, nil))

	session, err := r.ReconstructSession(context.Background(), "ws1", "s1")
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Len(t, session.Turns, 1)
	assert.Equal(t, "message for s1", session.Turns[0].UserMessage)
}

func TestReconstructSessionSkipsToolMessagesWithNoOpenTurn(t *testing.T) {
	log := NewMemoryMessageLog()
	require.NoError(t, log.Append("ws1", &models.WorkstreamMessage{
		SessionID: "s1",
		Role:      models.RoleToolResult,
		Content:   "orphaned",
		Metadata:  `{"tool_call_id":"x","success":true}`,
	}))
	require.NoError(t, log.Append("ws1", &models.WorkstreamMessage{
		SessionID: "s1",
		Role:      models.RoleUser,
		Content:   "hello",
	}))

	r := NewReconstructor(log)
	session, err := r.ReconstructSession(context.Background(), "ws1", "s1")
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Len(t, session.Turns, 1)
	assert.Empty(t, session.Turns[0].ToolResults)
}

func TestReconstructSessionSkipsUnparseableMetadata(t *testing.T) {
	log := NewMemoryMessageLog()
	require.NoError(t, log.Append("ws1", &models.WorkstreamMessage{SessionID: "s1", Role: models.RoleUser, Content: "hi"}))
	require.NoError(t, log.Append("ws1", &models.WorkstreamMessage{
		SessionID: "s1",
		Role:      models.RoleToolUse,
		Metadata:  "not json",
	}))

	r := NewReconstructor(log)
	session, err := r.ReconstructSession(context.Background(), "ws1", "s1")
	require.NoError(t, err)
	require.Len(t, session.Turns, 1)
	assert.Empty(t, session.Turns[0].ToolCalls)
}

func TestReconstructSessionPreservesLegacyEmptyToolCallID(t *testing.T) {
	log := NewMemoryMessageLog()
	require.NoError(t, log.Append("ws1", &models.WorkstreamMessage{SessionID: "s1", Role: models.RoleUser, Content: "hi"}))
	require.NoError(t, log.Append("ws1", &models.WorkstreamMessage{
		SessionID: "s1",
		Role:      models.RoleToolResult,
		Content:   "legacy result",
		Metadata:  `{"tool_call_id":"","success":true}`,
	}))

	r := NewReconstructor(log)
	session, err := r.ReconstructSession(context.Background(), "ws1", "s1")
	require.NoError(t, err)
	require.Len(t, session.Turns, 1)
	require.Len(t, session.Turns[0].ToolResults, 1)
	assert.Equal(t, "legacy result", session.Turns[0].ToolResults[0].Content)
	assert.Empty(t, session.Turns[0].ToolResults[0].ToolCallID)
}

func TestReconstructSessionIgnoresSystemAndAgentPushMessages(t *testing.T) {
	log := NewMemoryMessageLog()
	require.NoError(t, log.Append("ws1", &models.WorkstreamMessage{SessionID: "s1", Role: models.RoleSystem, Content: "context"}))
	require.NoError(t, log.Append("ws1", &models.WorkstreamMessage{SessionID: "s1", Role: models.RoleUser, Content: "hi"}))
	require.NoError(t, log.Append("ws1", &models.WorkstreamMessage{SessionID: "s1", Role: models.RoleAgentPush, Content: "push"}))

	r := NewReconstructor(log)
	session, err := r.ReconstructSession(context.Background(), "ws1", "s1")
	require.NoError(t, err)
	require.Len(t, session.Turns, 1)
	assert.Equal(t, "hi", session.Turns[0].UserMessage)
}

func TestSaveTurnOrdersMessagesCorrectly(t *testing.T) {
	log := NewMemoryMessageLog()
	r := NewReconstructor(log)

	response := "done"
	require.NoError(t, r.SaveTurn("ws1", "s1", "do it",
		[]models.ToolCall{{ID: "c1", Name: "run"}},
		[]models.ToolResult{{ToolCallID: "c1", Success: true, Content: "ok"}},
		&response,
	))

	messages, err := log.ReadAll("ws1")
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, models.RoleToolUse, messages[1].Role)
	assert.Equal(t, models.RoleToolResult, messages[2].Role)
	assert.Equal(t, models.RoleAssistant, messages[3].Role)
}
