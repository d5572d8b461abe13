package memorystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestStoreFactInsertsWhenNoSubjectPredicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mem := &models.Memory{ContentType: models.ContentFact, Content: "just a fact"}
	result, err := store.StoreFact(ctx, mem)
	require.NoError(t, err)
	assert.Equal(t, models.StoreFactInserted, result.Kind)

	count, err := store.Count(ctx, models.ContentFact)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStoreFactInsertsWhenNoExistingMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mem := &models.Memory{
		ContentType: models.ContentFact, Content: "lives in Austin",
		Metadata: map[string]any{"subject": "user", "predicate": "city"},
	}
	result, err := store.StoreFact(ctx, mem)
	require.NoError(t, err)
	assert.Equal(t, models.StoreFactInserted, result.Kind)
}

func TestStoreFactReinforcesIdenticalContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &models.Memory{
		ContentType: models.ContentFact, Content: "favorite color is blue",
		Metadata: map[string]any{"subject": "user", "predicate": "favorite_color"},
	}
	_, err := store.StoreFact(ctx, first)
	require.NoError(t, err)

	duplicate := &models.Memory{
		ContentType: models.ContentFact, Content: "  favorite color is blue  ",
		Metadata: map[string]any{"subject": "user", "predicate": "favorite_color"},
	}
	result, err := store.StoreFact(ctx, duplicate)
	require.NoError(t, err)
	assert.Equal(t, models.StoreFactReinforced, result.Kind)
	assert.Equal(t, first.ID, result.ExistingID)

	reinforced, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reinforced.Confidence.ReinforcementCount)

	count, err := store.Count(ctx, models.ContentFact)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "duplicate must not be inserted")
}

func TestStoreFactSupersedesConflictingContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := &models.Memory{
		ContentType: models.ContentFact, Content: "favorite color is blue",
		Metadata: map[string]any{"subject": "user", "predicate": "favorite_color"},
	}
	_, err := store.StoreFact(ctx, old)
	require.NoError(t, err)

	updated := &models.Memory{
		ContentType: models.ContentFact, Content: "favorite color is red",
		Metadata: map[string]any{"subject": "user", "predicate": "favorite_color"},
	}
	result, err := store.StoreFact(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, models.StoreFactSuperseded, result.Kind)
	require.Len(t, result.SupersededIDs, 1)
	assert.Equal(t, old.ID, result.SupersededIDs[0])

	oldRow, err := store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, oldRow.Confidence.Superseded)
	assert.Equal(t, updated.ID, oldRow.Confidence.SupersededBy)

	newRow, err := store.Get(ctx, updated.ID)
	require.NoError(t, err)
	assert.False(t, newRow.Confidence.Superseded)

	count, err := store.Count(ctx, models.ContentFact)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "both old and new rows persist")
}

func TestStoreWithOptionsInsertsThenUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	vectors, err := InitVectors(ctx, store.db, 2, "local-test")
	require.NoError(t, err)
	store.Vectors = vectors
	graph, err := InitGraph(ctx, store.db)
	require.NoError(t, err)
	store.Graph = graph

	mem := &models.Memory{ContentType: models.ContentFact, Content: "alice works at acme"}
	require.NoError(t, store.StoreWithOptions(ctx, mem, StoreOptions{
		Embedding: []float32{1, 0},
		Entities:  []models.GraphNode{{ID: "acme", Label: "org"}},
	}))

	results, err := vectors.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, mem.ID, results[0].MemoryID)

	neighbors, err := graph.Neighbors(ctx, mem.ID)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "acme", neighbors[0].ID)

	mem.Content = "alice no longer works at acme"
	require.NoError(t, store.StoreWithOptions(ctx, mem, StoreOptions{}))

	fetched, err := store.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice no longer works at acme", fetched.Content)

	count, err := store.Count(ctx, models.ContentFact)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "second call must update, not insert a duplicate")
}

func TestStoreWithOptionsWarnsWithoutSubsystems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mem := &models.Memory{ContentType: models.ContentFact, Content: "no subsystems wired"}
	err := store.StoreWithOptions(ctx, mem, StoreOptions{
		Embedding: []float32{1, 0},
		Entities:  []models.GraphNode{{ID: "x", Label: "thing"}},
	})
	require.NoError(t, err, "missing subsystems degrade to a warning, not an error")

	fetched, err := store.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "no subsystems wired", fetched.Content)
}

func TestDeleteCascadeRemovesGraphAndVectorState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	vectors, err := InitVectors(ctx, store.db, 2, "local-test")
	require.NoError(t, err)
	store.Vectors = vectors
	graph, err := InitGraph(ctx, store.db)
	require.NoError(t, err)
	store.Graph = graph

	mem := &models.Memory{ContentType: models.ContentFact, Content: "ephemeral"}
	require.NoError(t, store.StoreWithOptions(ctx, mem, StoreOptions{Embedding: []float32{1, 0}}))

	require.NoError(t, store.DeleteCascade(ctx, mem.ID))

	_, err = store.Get(ctx, mem.ID)
	assert.Error(t, err)

	results, err := vectors.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	count, err := graph.CountNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeleteCascadeWithoutSubsystemsOnlyDeletesRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mem := &models.Memory{ContentType: models.ContentFact, Content: "solo"}
	require.NoError(t, store.Insert(ctx, mem))
	require.NoError(t, store.DeleteCascade(ctx, mem.ID))

	_, err := store.Get(ctx, mem.ID)
	assert.Error(t, err)
}
