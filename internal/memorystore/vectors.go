package memorystore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EmbedBatchFunc embeds a batch of text content into vectors, keeping the
// store decoupled from any particular embedding provider.
type EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// MemoryDistance pairs a memory id with its distance to a query embedding,
// ascending (smaller is more similar).
type MemoryDistance struct {
	MemoryID string
	Distance float32
}

// ReindexResult summarizes a completed Reindex call.
type ReindexResult struct {
	Total    int
	Embedded int
	Skipped  int
	Elapsed  time.Duration
}

// Vectors is the memory store's similarity-search subsystem. It owns its
// own embeddings table and tracks (dimensions, provider) in the shared meta
// table so a dimension change can be detected and handled by Reindex rather
// than silently corrupting distances.
type Vectors struct {
	db         *sql.DB
	dimensions int
	provider   string
	stale      bool
}

// InitVectors creates the embeddings table if absent and compares the
// requested (dimensions, provider) against what's recorded in meta. A
// dimension mismatch marks the subsystem stale rather than erroring —
// everything but similarity search keeps working until Reindex runs.
func InitVectors(ctx context.Context, db *sql.DB, dimensions int, provider string) (*Vectors, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS embeddings (
			memory_id TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
			dimensions INTEGER NOT NULL,
			vector BLOB NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("create embeddings table: %w", err)
	}

	v := &Vectors{db: db, dimensions: dimensions, provider: provider}

	recordedDims, recordedProvider, ok, err := readVectorMeta(ctx, db)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := writeVectorMeta(ctx, db, dimensions, provider); err != nil {
			return nil, err
		}
		return v, nil
	}
	if recordedDims != dimensions {
		v.stale = true
		return v, nil
	}
	v.provider = recordedProvider
	return v, nil
}

func readVectorMeta(ctx context.Context, db *sql.DB) (dims int, provider string, ok bool, err error) {
	row := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'vector_dimensions'`)
	var dimsStr string
	if err := row.Scan(&dimsStr); err == sql.ErrNoRows {
		return 0, "", false, nil
	} else if err != nil {
		return 0, "", false, fmt.Errorf("read vector meta: %w", err)
	}
	dims, convErr := strconv.Atoi(dimsStr)
	if convErr != nil {
		return 0, "", false, fmt.Errorf("parse vector dimensions: %w", convErr)
	}
	row = db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'vector_provider'`)
	if err := row.Scan(&provider); err != nil && err != sql.ErrNoRows {
		return 0, "", false, fmt.Errorf("read vector provider: %w", err)
	}
	return dims, provider, true, nil
}

func writeVectorMeta(ctx context.Context, db *sql.DB, dimensions int, provider string) error {
	for key, value := range map[string]string{
		"vector_dimensions": strconv.Itoa(dimensions),
		"vector_provider":   provider,
	} {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value
		`, key, value); err != nil {
			return fmt.Errorf("write vector meta %s: %w", key, err)
		}
	}
	return nil
}

// Stale reports whether the subsystem is waiting on a Reindex after a
// dimension change.
func (v *Vectors) Stale() bool {
	return v.stale
}

// Upsert stores or replaces a memory's embedding.
func (v *Vectors) Upsert(ctx context.Context, memoryID string, embedding []float32) error {
	_, err := v.db.ExecContext(ctx, `
		INSERT INTO embeddings (memory_id, dimensions, vector) VALUES (?, ?, ?)
		ON CONFLICT (memory_id) DO UPDATE SET dimensions = excluded.dimensions, vector = excluded.vector
	`, memoryID, len(embedding), encodeEmbedding(embedding))
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// Delete removes a memory's embedding, if any. Absence is not an error.
func (v *Vectors) Delete(ctx context.Context, memoryID string) error {
	_, err := v.db.ExecContext(ctx, `DELETE FROM embeddings WHERE memory_id = ?`, memoryID)
	if err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}

// Search returns the memories most similar to queryEmbedding, ordered by
// ascending distance. While stale, it short-circuits to an empty result.
func (v *Vectors) Search(ctx context.Context, queryEmbedding []float32, limit int) ([]MemoryDistance, error) {
	if v.stale {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := v.db.QueryContext(ctx, `SELECT memory_id, vector FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var results []MemoryDistance
	for rows.Next() {
		var memoryID string
		var blob []byte
		if err := rows.Scan(&memoryID, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec := decodeEmbedding(blob)
		results = append(results, MemoryDistance{
			MemoryID: memoryID,
			Distance: cosineDistance(queryEmbedding, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Reindex drops and rebuilds the embeddings table at a new dimensionality
// and provider, embedding every memory's content in batches.
func (v *Vectors) Reindex(ctx context.Context, store *Store, embed EmbedBatchFunc, newDims int, newProvider string) (*ReindexResult, error) {
	start := time.Now()

	memories, err := store.List(ctx, "", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list memories for reindex: %w", err)
	}

	if _, err := v.db.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
		return nil, fmt.Errorf("clear embeddings: %w", err)
	}

	const batchSize = 32
	result := &ReindexResult{Total: len(memories)}

	var batch []string
	var batchIDs []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		vectors, err := embed(ctx, batch)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		for i, id := range batchIDs {
			if err := v.Upsert(ctx, id, vectors[i]); err != nil {
				return err
			}
			result.Embedded++
		}
		batch = batch[:0]
		batchIDs = batchIDs[:0]
		return nil
	}

	for _, mem := range memories {
		if strings.TrimSpace(mem.Content) == "" {
			result.Skipped++
			continue
		}
		batch = append(batch, mem.Content)
		batchIDs = append(batchIDs, mem.ID)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	v.dimensions = newDims
	v.provider = newProvider
	v.stale = false
	if err := writeVectorMeta(ctx, v.db, newDims, newProvider); err != nil {
		return nil, err
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

func encodeEmbedding(embedding []float32) []byte {
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

// cosineDistance returns 1 - cosine similarity, so 0 means identical and
// larger values mean less similar (ascending order == most similar first).
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(sqrt32(normA)*sqrt32(normB))
}

func sqrt32(x float32) float32 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 10; i++ {
		z = (z + x/z) / 2
	}
	return z
}
