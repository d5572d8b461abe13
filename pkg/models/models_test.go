package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnCompleteInvariant(t *testing.T) {
	turn := Turn{ID: "t1", UserMessage: "hi", StartedAt: time.Now()}
	assert.False(t, turn.IsCompleted())
	assert.Nil(t, turn.AssistantResponse)

	turn.Complete("hello", time.Now())
	assert.True(t, turn.IsCompleted())
	require.NotNil(t, turn.AssistantResponse)
	assert.Equal(t, "hello", *turn.AssistantResponse)
}

func TestSessionIsEmpty(t *testing.T) {
	s := &Session{ID: "s1"}
	assert.True(t, s.IsEmpty())
	s.Turns = append(s.Turns, Turn{ID: "t1"})
	assert.False(t, s.IsEmpty())
}

func TestSessionTouchMonotonic(t *testing.T) {
	base := time.Now()
	s := &Session{UpdatedAt: base}
	s.Touch(base.Add(-time.Second))
	assert.Equal(t, base, s.UpdatedAt)
	later := base.Add(time.Minute)
	s.Touch(later)
	assert.Equal(t, later, s.UpdatedAt)
}

func TestSessionCloneIsDeep(t *testing.T) {
	resp := "done"
	completed := time.Now()
	original := &Session{
		ID: "s1",
		Turns: []Turn{{
			ID:                "t1",
			UserMessage:       "hi",
			AssistantResponse: &resp,
			CompletedAt:       &completed,
			ToolCalls:         []ToolCall{{ID: "c1", Name: "read"}},
		}},
		Metadata: map[string]any{"k": "v"},
	}

	clone := original.Clone()
	clone.Turns[0].UserMessage = "mutated"
	*clone.Turns[0].AssistantResponse = "mutated"
	clone.Metadata["k"] = "mutated"

	assert.Equal(t, "hi", original.Turns[0].UserMessage)
	assert.Equal(t, "done", *original.Turns[0].AssistantResponse)
	assert.Equal(t, "v", original.Metadata["k"])
}

func TestMemorySubjectPredicate(t *testing.T) {
	m := &Memory{Metadata: map[string]any{"subject": "user.model", "predicate": "is"}}
	subj, ok := m.Subject()
	assert.True(t, ok)
	assert.Equal(t, "user.model", subj)

	pred, ok := m.Predicate()
	assert.True(t, ok)
	assert.Equal(t, "is", pred)

	empty := &Memory{}
	_, ok = empty.Subject()
	assert.False(t, ok)
}
