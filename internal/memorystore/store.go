// Package memorystore implements the versioned SQLite-backed memory store:
// content-addressed facts/notes with contradiction detection, supersession,
// reinforcement, an optional vector-similarity subsystem, and an optional
// small knowledge graph.
package memorystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Store is the SQLite-backed memory store. Vectors and Graph are optional
// subsystems; either may be nil, in which case the corresponding calls
// degrade to a warning (vector indexing during Store) or an error (direct
// graph calls).
type Store struct {
	db      *sql.DB
	Vectors *Vectors
	Graph   *Graph
}

// NewStore wraps an already-migrated *sql.DB.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// Insert stores a brand-new memory row, assigning an id and timestamps if
// absent.
func (s *Store) Insert(ctx context.Context, mem *models.Memory) error {
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}
	now := nowRFC3339()
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = parseTime(now)
	}
	if mem.AccessedAt.IsZero() {
		mem.AccessedAt = mem.CreatedAt
	}
	metadata, err := json.Marshal(mem.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var citation any
	if len(mem.Citation) > 0 {
		citation = string(mem.Citation)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, session_id, content_type, content, metadata,
			created_at, accessed_at, access_count,
			source, reinforcement_count, superseded, superseded_by, last_accessed, score, citation
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		mem.ID, nullString(mem.SessionID), string(mem.ContentType), mem.Content, string(metadata),
		mem.CreatedAt.Format(time.RFC3339), mem.AccessedAt.Format(time.RFC3339), mem.AccessCount,
		mem.Confidence.Source, mem.Confidence.ReinforcementCount, boolToInt(mem.Confidence.Superseded),
		nullString(mem.Confidence.SupersededBy), nullTime(mem.Confidence.LastAccessed), mem.Confidence.Score, citation,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Get fetches a memory by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Memory, error) {
	row := s.db.QueryRowContext(ctx, selectMemoryColumns+` WHERE id = ?`, id)
	return scanMemory(row)
}

// Update overwrites a memory's mutable fields (content, metadata, citation).
func (s *Store) Update(ctx context.Context, mem *models.Memory) error {
	metadata, err := json.Marshal(mem.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var citation any
	if len(mem.Citation) > 0 {
		citation = string(mem.Citation)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE memories SET content = ?, metadata = ?, citation = ? WHERE id = ?
	`, mem.Content, string(metadata), citation, mem.ID)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	return checkRowsAffected(result, "memory", mem.ID)
}

// Delete removes a memory row by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return checkRowsAffected(result, "memory", id)
}

// List returns memories, optionally filtered by content type, most recent
// first.
func (s *Store) List(ctx context.Context, contentType models.ContentType, limit, offset int) ([]*models.Memory, error) {
	query := selectMemoryColumns
	var args []any
	if contentType != "" {
		query += ` WHERE content_type = ?`
		args = append(args, string(contentType))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []*models.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}

// Count returns the number of memories, optionally filtered by content type.
func (s *Store) Count(ctx context.Context, contentType models.ContentType) (int, error) {
	query := `SELECT COUNT(*) FROM memories`
	var args []any
	if contentType != "" {
		query += ` WHERE content_type = ?`
		args = append(args, string(contentType))
	}
	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return count, nil
}

// Touch bumps accessed_at and increments access_count.
func (s *Store) Touch(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memories SET accessed_at = ?, access_count = access_count + 1 WHERE id = ?
	`, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	return checkRowsAffected(result, "memory", id)
}

// FindContradictions returns non-superseded memories sharing the given
// (subject, predicate), most recent first.
func (s *Store) FindContradictions(ctx context.Context, subject, predicate string) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, selectMemoryColumns+`
		WHERE superseded = 0
		  AND json_extract(metadata, '$.subject') = ?
		  AND json_extract(metadata, '$.predicate') = ?
		ORDER BY created_at DESC
	`, subject, predicate)
	if err != nil {
		return nil, fmt.Errorf("find contradictions: %w", err)
	}
	defer rows.Close()

	var out []*models.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}

// Supersede marks oldID superseded by newID. Errors if oldID is absent.
func (s *Store) Supersede(ctx context.Context, oldID, newID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memories SET superseded = 1, superseded_by = ?, score = 0 WHERE id = ?
	`, newID, oldID)
	if err != nil {
		return fmt.Errorf("supersede memory: %w", err)
	}
	return checkRowsAffected(result, "memory", oldID)
}

// Reinforce increments reinforcement_count and updates last_accessed.
func (s *Store) Reinforce(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memories SET reinforcement_count = reinforcement_count + 1, last_accessed = ? WHERE id = ?
	`, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("reinforce memory: %w", err)
	}
	return checkRowsAffected(result, "memory", id)
}

const selectMemoryColumns = `
	SELECT id, session_id, content_type, content, metadata, created_at, accessed_at, access_count,
	       source, reinforcement_count, superseded, superseded_by, last_accessed, score, citation
	FROM memories`

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*models.Memory, error) {
	mem := &models.Memory{}
	var sessionID, supersededBy, citation sql.NullString
	var lastAccessed sql.NullString
	var metadataJSON string
	var createdAt, accessedAt string
	var superseded int

	err := row.Scan(
		&mem.ID, &sessionID, &mem.ContentType, &mem.Content, &metadataJSON,
		&createdAt, &accessedAt, &mem.AccessCount,
		&mem.Confidence.Source, &mem.Confidence.ReinforcementCount, &superseded, &supersededBy,
		&lastAccessed, &mem.Confidence.Score, &citation,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memory not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}

	mem.SessionID = sessionID.String
	mem.CreatedAt = parseTime(createdAt)
	mem.AccessedAt = parseTime(accessedAt)
	mem.Confidence.Superseded = superseded != 0
	mem.Confidence.SupersededBy = supersededBy.String
	if lastAccessed.Valid {
		t := parseTime(lastAccessed.String)
		mem.Confidence.LastAccessed = &t
	}
	if citation.Valid && citation.String != "" {
		mem.Citation = json.RawMessage(citation.String)
	}
	if strings.TrimSpace(metadataJSON) != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &mem.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return mem, nil
}

func checkRowsAffected(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
