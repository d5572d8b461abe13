package compaction

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/pkg/models"
)

// fakeAgent appends a turn to the session on every call and reports
// truncated until its call count reaches naturalEndAt.
type fakeAgent struct {
	calls        int
	naturalEndAt int
	toolContent  string
}

func (a *fakeAgent) Turn(ctx context.Context, session *models.Session, query string) (*AgentResponse, error) {
	a.calls++
	reply := fmt.Sprintf("reply-%d", a.calls)
	session.Turns = append(session.Turns, models.Turn{
		UserMessage:       query,
		AssistantResponse: &reply,
		ToolResults:       []models.ToolResult{{ToolCallID: "t", Content: a.toolContent}},
	})
	return &AgentResponse{Text: reply, Truncated: a.calls < a.naturalEndAt}, nil
}

func TestOrchestratorRunCompletesNaturally(t *testing.T) {
	agent := &fakeAgent{naturalEndAt: 1}
	compactor := NewTurnCompactor(newTestClient(t, llm.NewMockBackend("mock")), "test-model", Config{})
	orch := NewOrchestrator(agent, compactor, Policy{MaxContextTokens: 1_000_000, CompactionThreshold: 0.9, MaxCompactions: 5, MaxTurns: 10})

	session := &models.Session{ID: "s1", WorkstreamID: "w1"}
	result, err := orch.Run(context.Background(), session, "do the thing")
	require.NoError(t, err)
	assert.False(t, result.Truncated)
	assert.Equal(t, "reply-1", result.Text)
	assert.Equal(t, 1, result.Metadata["turns"])
	assert.Equal(t, 0, result.Metadata["compactions_performed"])
}

func TestOrchestratorRunTruncatesAtMaxTurns(t *testing.T) {
	agent := &fakeAgent{naturalEndAt: 1000}
	compactor := NewTurnCompactor(newTestClient(t, llm.NewMockBackend("mock")), "test-model", Config{})
	orch := NewOrchestrator(agent, compactor, Policy{MaxContextTokens: 1_000_000, CompactionThreshold: 0.9, MaxCompactions: 5, MaxTurns: 2})

	session := &models.Session{ID: "s1", WorkstreamID: "w1"}
	result, err := orch.Run(context.Background(), session, "do the thing")
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, 2, result.Metadata["turns"])
}

func TestOrchestratorCompactsThenCompletesNaturally(t *testing.T) {
	agent := &fakeAgent{naturalEndAt: 3, toolContent: strings.Repeat("x", 100)}

	backend := llm.NewMockBackend("mock")
	backend.ScriptResponse(&llm.Response{Content: []llm.ContentBlock{{Kind: llm.BlockText, Text: "summary one"}}})
	backend.ScriptResponse(&llm.Response{Content: []llm.ContentBlock{{Kind: llm.BlockText, Text: "summary two"}}})
	compactor := NewTurnCompactor(newTestClient(t, backend), "test-model", Config{PreserveRecent: 0})

	orch := NewOrchestrator(agent, compactor, Policy{MaxContextTokens: 40, CompactionThreshold: 0.5, MaxCompactions: 5, MaxTurns: 10})

	session := &models.Session{ID: "s1", WorkstreamID: "w1"}
	result, err := orch.Run(context.Background(), session, "do the thing")
	require.NoError(t, err)
	assert.False(t, result.Truncated)
	assert.Equal(t, 3, result.Metadata["turns"])
	assert.Equal(t, 2, result.Metadata["compactions_performed"])
	assert.Len(t, backend.Requests(), 2)
}

func TestOrchestratorTruncatesWhenMaxCompactionsReached(t *testing.T) {
	agent := &fakeAgent{naturalEndAt: 1000, toolContent: strings.Repeat("x", 100)}

	backend := llm.NewMockBackend("mock")
	backend.ScriptResponse(&llm.Response{Content: []llm.ContentBlock{{Kind: llm.BlockText, Text: "summary one"}}})
	compactor := NewTurnCompactor(newTestClient(t, backend), "test-model", Config{PreserveRecent: 0})

	orch := NewOrchestrator(agent, compactor, Policy{MaxContextTokens: 40, CompactionThreshold: 0.5, MaxCompactions: 1, MaxTurns: 100})

	session := &models.Session{ID: "s1", WorkstreamID: "w1"}
	result, err := orch.Run(context.Background(), session, "do the thing")
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, 1, result.Metadata["compactions_performed"])
	assert.Len(t, backend.Requests(), 1)
}

func TestOrchestratorContinuesOnLLMFailureDuringCompaction(t *testing.T) {
	agent := &fakeAgent{naturalEndAt: 2, toolContent: strings.Repeat("x", 100)}

	backend := llm.NewMockBackend("mock")
	backend.ScriptError(assert.AnError)
	compactor := NewTurnCompactor(newTestClient(t, backend), "test-model", Config{PreserveRecent: 0})

	orch := NewOrchestrator(agent, compactor, Policy{MaxContextTokens: 40, CompactionThreshold: 0.5, MaxCompactions: 5, MaxTurns: 10})

	session := &models.Session{ID: "s1", WorkstreamID: "w1"}
	result, err := orch.Run(context.Background(), session, "do the thing")
	require.NoError(t, err)
	assert.False(t, result.Truncated)
	assert.Equal(t, 2, result.Metadata["turns"])
	assert.Equal(t, 0, result.Metadata["compactions_performed"])
}

func TestEstimateSessionTokensSumsAllParts(t *testing.T) {
	reply := "an answer"
	session := &models.Session{Turns: []models.Turn{
		{UserMessage: "abcd", AssistantResponse: &reply, ToolResults: []models.ToolResult{{Content: "abcd"}}},
	}}
	assert.Equal(t, estimateStringTokens("abcd")+estimateStringTokens(reply)+estimateStringTokens("abcd"), estimateSessionTokens(session))
}

func TestComposeCompactedQueryReferencesOriginalAndSummary(t *testing.T) {
	composed := composeCompactedQuery("original task", "summary text")
	assert.Contains(t, composed, "original task")
	assert.Contains(t, composed, "summary text")
}
