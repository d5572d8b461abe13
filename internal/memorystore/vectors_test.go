package memorystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestInitVectorsFreshRecordsMeta(t *testing.T) {
	db := openTestDB(t)
	migrator, err := NewMigrator(db)
	require.NoError(t, err)
	_, err = migrator.Up(context.Background(), 0)
	require.NoError(t, err)

	vectors, err := InitVectors(context.Background(), db, 3, "local-test")
	require.NoError(t, err)
	assert.False(t, vectors.Stale())

	dims, provider, ok, err := readVectorMeta(context.Background(), db)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, dims)
	assert.Equal(t, "local-test", provider)
}

func TestInitVectorsDimensionMismatchMarksStale(t *testing.T) {
	db := openTestDB(t)
	migrator, err := NewMigrator(db)
	require.NoError(t, err)
	_, err = migrator.Up(context.Background(), 0)
	require.NoError(t, err)

	_, err = InitVectors(context.Background(), db, 3, "local-test")
	require.NoError(t, err)

	vectors, err := InitVectors(context.Background(), db, 8, "local-test")
	require.NoError(t, err)
	assert.True(t, vectors.Stale())

	results, err := vectors.Search(context.Background(), []float32{1, 2, 3, 4, 5, 6, 7, 8}, 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestVectorsUpsertAndSearchOrdersByDistance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	vectors, err := InitVectors(ctx, store.db, 2, "local-test")
	require.NoError(t, err)
	store.Vectors = vectors

	near := &models.Memory{ContentType: models.ContentFact, Content: "near"}
	require.NoError(t, store.Insert(ctx, near))
	far := &models.Memory{ContentType: models.ContentFact, Content: "far"}
	require.NoError(t, store.Insert(ctx, far))

	require.NoError(t, vectors.Upsert(ctx, near.ID, []float32{1, 0}))
	require.NoError(t, vectors.Upsert(ctx, far.ID, []float32{0, 1}))

	results, err := vectors.Search(ctx, []float32{1, 0.01}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, near.ID, results[0].MemoryID)
	assert.Equal(t, far.ID, results[1].MemoryID)
	assert.Less(t, results[0].Distance, results[1].Distance)
}

func TestVectorsUpsertReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	vectors, err := InitVectors(ctx, store.db, 2, "local-test")
	require.NoError(t, err)

	mem := &models.Memory{ContentType: models.ContentFact, Content: "a"}
	require.NoError(t, store.Insert(ctx, mem))

	require.NoError(t, vectors.Upsert(ctx, mem.ID, []float32{1, 0}))
	require.NoError(t, vectors.Upsert(ctx, mem.ID, []float32{0, 1}))

	results, err := vectors.Search(ctx, []float32{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0, results[0].Distance, 0.0001)
}

func TestVectorsDeleteRemovesEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	vectors, err := InitVectors(ctx, store.db, 2, "local-test")
	require.NoError(t, err)

	mem := &models.Memory{ContentType: models.ContentFact, Content: "a"}
	require.NoError(t, store.Insert(ctx, mem))
	require.NoError(t, vectors.Upsert(ctx, mem.ID, []float32{1, 0}))
	require.NoError(t, vectors.Delete(ctx, mem.ID))

	results, err := vectors.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorsReindexSkipsEmptyContentAndUpdatesMeta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	vectors, err := InitVectors(ctx, store.db, 2, "local-test")
	require.NoError(t, err)

	withContent := &models.Memory{ContentType: models.ContentFact, Content: "something"}
	require.NoError(t, store.Insert(ctx, withContent))
	blank := &models.Memory{ContentType: models.ContentFact, Content: "   "}
	require.NoError(t, store.Insert(ctx, blank))

	embed := func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{float32(i), float32(i + 1)}
		}
		return out, nil
	}

	result, err := vectors.Reindex(ctx, store, embed, 2, "local-test-v2")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Embedded)
	assert.Equal(t, 1, result.Skipped)
	assert.False(t, vectors.Stale())

	_, provider, ok, err := readVectorMeta(ctx, store.db)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "local-test-v2", provider)
}

func TestVectorsReindexClearsStaleState(t *testing.T) {
	db := openTestDB(t)
	migrator, err := NewMigrator(db)
	require.NoError(t, err)
	_, err = migrator.Up(context.Background(), 0)
	require.NoError(t, err)
	store := NewStore(db)

	_, err = InitVectors(context.Background(), db, 3, "local-test")
	require.NoError(t, err)
	vectors, err := InitVectors(context.Background(), db, 8, "local-test")
	require.NoError(t, err)
	require.True(t, vectors.Stale())

	embed := func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = make([]float32, 8)
		}
		return out, nil
	}

	_, err = vectors.Reindex(context.Background(), store, embed, 8, "local-test")
	require.NoError(t, err)
	assert.False(t, vectors.Stale())
}
