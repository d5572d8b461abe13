package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCompleteUsesPrimaryOnSuccess(t *testing.T) {
	primary := NewMockBackend("primary")
	primary.ScriptResponse(&Response{ID: "from-primary"})
	fallback := NewMockBackend("fallback")

	client, err := NewClient(map[string]Backend{"primary": primary, "fallback": fallback}, "primary", []string{"fallback"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{Model: "x"})
	require.NoError(t, err)
	assert.Equal(t, "from-primary", resp.ID)
	assert.Empty(t, fallback.Requests())
}

func TestClientCompleteFallsOverOnRetryableFailure(t *testing.T) {
	primary := NewMockBackend("primary")
	primary.ScriptError(NewError(KindNetwork, "dial failed"))
	fallback := NewMockBackend("fallback")
	fallback.ScriptResponse(&Response{ID: "from-fallback"})

	client, err := NewClient(map[string]Backend{"primary": primary, "fallback": fallback}, "primary", []string{"fallback"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{Model: "x"})
	require.NoError(t, err)
	assert.Equal(t, "from-fallback", resp.ID)
	assert.Len(t, fallback.Requests(), 1)
}

func TestClientCompleteDoesNotFailoverOnAuthError(t *testing.T) {
	primary := NewMockBackend("primary")
	primary.ScriptError(NewError(KindAuth, "bad key"))
	fallback := NewMockBackend("fallback")
	fallback.ScriptResponse(&Response{ID: "from-fallback"})

	client, err := NewClient(map[string]Backend{"primary": primary, "fallback": fallback}, "primary", []string{"fallback"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{Model: "x"})
	require.Error(t, err)
	assert.Empty(t, fallback.Requests())
}

func TestClientCompleteExhaustsAllFallbacks(t *testing.T) {
	primary := NewMockBackend("primary")
	primary.ScriptError(NewError(KindNetwork, "down"))
	fallback1 := NewMockBackend("fallback1")
	fallback1.ScriptError(NewError(KindBackend, "also down"))
	fallback2 := NewMockBackend("fallback2")
	fallback2.ScriptError(NewError(KindNetwork, "still down"))

	client, err := NewClient(map[string]Backend{
		"primary":   primary,
		"fallback1": fallback1,
		"fallback2": fallback2,
	}, "primary", []string{"fallback1", "fallback2"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{Model: "x"})
	require.Error(t, err)
}

func TestNewClientRejectsUnknownPrimary(t *testing.T) {
	_, err := NewClient(map[string]Backend{}, "missing", nil)
	require.Error(t, err)
}

func TestNewClientRejectsUnknownFallback(t *testing.T) {
	primary := NewMockBackend("primary")
	_, err := NewClient(map[string]Backend{"primary": primary}, "primary", []string{"ghost"})
	require.Error(t, err)
}

func TestClientCompleteStreamUsesPrimary(t *testing.T) {
	primary := NewMockBackend("primary")
	primary.ScriptStream(Event{Kind: EventMessageStart}, Event{Kind: EventMessageStop})
	fallback := NewMockBackend("fallback")

	client, err := NewClient(map[string]Backend{"primary": primary, "fallback": fallback}, "primary", []string{"fallback"})
	require.NoError(t, err)

	events, err := client.CompleteStream(context.Background(), Request{Model: "x"})
	require.NoError(t, err)
	var count int
	for range events {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestClientPrimaryAndFallbacksAccessors(t *testing.T) {
	primary := NewMockBackend("primary")
	fallback := NewMockBackend("fallback")
	client, err := NewClient(map[string]Backend{"primary": primary, "fallback": fallback}, "primary", []string{"fallback"})
	require.NoError(t, err)

	assert.Equal(t, "primary", client.Primary())
	assert.Equal(t, []string{"fallback"}, client.Fallbacks())
	assert.Same(t, Backend(primary), client.Backend("primary"))
}
