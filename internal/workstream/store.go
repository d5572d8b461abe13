// Package workstream implements the metadata store and append-only message
// log that back a workstream's persistent context: its SQLite-backed
// workstream/session records, and the JSONL log of the messages exchanged
// within it.
package workstream

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// MetadataStore persists workstream and session metadata. It is expressed
// as an interface so an in-memory implementation can substitute in tests
// without touching callers.
type MetadataStore interface {
	CreateWorkstream(ctx context.Context, title, defaultModel string, isScratch bool) (*models.Workstream, error)
	GetWorkstream(ctx context.Context, id string) (*models.Workstream, error)
	ListWorkstreams(ctx context.Context, state models.WorkstreamState) ([]*models.Workstream, error)
	UpdateWorkstream(ctx context.Context, id string, update models.WorkstreamUpdate) (*models.Workstream, error)
	SetTags(ctx context.Context, id string, tags []string) error
	GetTags(ctx context.Context, id string) ([]string, error)
	EnsureScratch(ctx context.Context) (*models.Workstream, error)

	CreateSession(ctx context.Context, workstreamID string) (*models.SessionRecord, error)
	CreateSessionWithID(ctx context.Context, workstreamID, sessionID string) (*models.SessionRecord, error)
	GetActiveSession(ctx context.Context, workstreamID string) (*models.SessionRecord, error)
	ListSessions(ctx context.Context, workstreamID string) ([]*models.SessionRecord, error)
	EndSession(ctx context.Context, id string, turnCount int) error
	UpdateSessionSummary(ctx context.Context, id, summary string) error

	ReassignSessions(ctx context.Context, fromWorkstreamID, toWorkstreamID string) error
	ReassignTags(ctx context.Context, fromWorkstreamID, toWorkstreamID string) error
}

// SQLiteStore is the SQLite-backed MetadataStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-migrated *sql.DB.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// CreateWorkstream inserts a new workstream row and returns it.
func (s *SQLiteStore) CreateWorkstream(ctx context.Context, title, defaultModel string, isScratch bool) (*models.Workstream, error) {
	now := nowRFC3339()
	ws := &models.Workstream{
		ID:           uuid.NewString(),
		Title:        title,
		IsScratch:    isScratch,
		State:        models.WorkstreamActive,
		DefaultModel: defaultModel,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workstreams (id, title, summary, is_scratch, state, default_model, created_at, updated_at)
		VALUES (?, ?, '', ?, ?, ?, ?, ?)
	`, ws.ID, ws.Title, boolToInt(ws.IsScratch), ws.State, ws.DefaultModel, now, now)
	if err != nil {
		return nil, fmt.Errorf("create workstream: %w", err)
	}
	ws.CreatedAt = parseTime(now)
	ws.UpdatedAt = ws.CreatedAt
	return ws, nil
}

// GetWorkstream fetches a workstream by id, including its tags.
func (s *SQLiteStore) GetWorkstream(ctx context.Context, id string) (*models.Workstream, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, summary, is_scratch, state, default_model, created_at, updated_at
		FROM workstreams WHERE id = ?
	`, id)

	ws, err := scanWorkstream(row)
	if err != nil {
		return nil, err
	}
	tags, err := s.GetTags(ctx, id)
	if err != nil {
		return nil, err
	}
	ws.Tags = tags
	return ws, nil
}

// ListWorkstreams lists workstreams, optionally filtered by state. An empty
// state lists every active workstream (archived ones stay discoverable by
// explicit state filter but excluded from the default listing).
func (s *SQLiteStore) ListWorkstreams(ctx context.Context, state models.WorkstreamState) ([]*models.Workstream, error) {
	filter := state
	if filter == "" {
		filter = models.WorkstreamActive
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, summary, is_scratch, state, default_model, created_at, updated_at
		FROM workstreams WHERE state = ?
		ORDER BY updated_at DESC
	`, filter)
	if err != nil {
		return nil, fmt.Errorf("list workstreams: %w", err)
	}
	defer rows.Close()

	var out []*models.Workstream
	for rows.Next() {
		ws, err := scanWorkstream(rows)
		if err != nil {
			return nil, err
		}
		tags, err := s.GetTags(ctx, ws.ID)
		if err != nil {
			return nil, err
		}
		ws.Tags = tags
		out = append(out, ws)
	}
	return out, rows.Err()
}

// UpdateWorkstream applies a partial update: only non-nil fields are
// changed, and updated_at is always bumped.
func (s *SQLiteStore) UpdateWorkstream(ctx context.Context, id string, update models.WorkstreamUpdate) (*models.Workstream, error) {
	existing, err := s.GetWorkstream(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Title != nil {
		existing.Title = *update.Title
	}
	if update.Summary != nil {
		existing.Summary = *update.Summary
	}
	if update.State != nil {
		existing.State = *update.State
	}
	if update.DefaultModel != nil {
		existing.DefaultModel = *update.DefaultModel
	}
	now := nowRFC3339()

	_, err = s.db.ExecContext(ctx, `
		UPDATE workstreams SET title = ?, summary = ?, state = ?, default_model = ?, updated_at = ?
		WHERE id = ?
	`, existing.Title, existing.Summary, existing.State, existing.DefaultModel, now, id)
	if err != nil {
		return nil, fmt.Errorf("update workstream: %w", err)
	}
	existing.UpdatedAt = parseTime(now)
	return existing, nil
}

// SetTags replaces the full tag set for a workstream.
func (s *SQLiteStore) SetTags(ctx context.Context, id string, tags []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set tags: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM workstream_tags WHERE workstream_id = ?`, id); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO workstream_tags (workstream_id, tag) VALUES (?, ?)`, id, tag); err != nil {
			return fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}
	return tx.Commit()
}

// GetTags returns a workstream's tags.
func (s *SQLiteStore) GetTags(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM workstream_tags WHERE workstream_id = ? ORDER BY tag`, id)
	if err != nil {
		return nil, fmt.Errorf("get tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// EnsureScratch idempotently creates the well-known "scratch" workstream if
// it doesn't already exist, and returns it either way.
func (s *SQLiteStore) EnsureScratch(ctx context.Context) (*models.Workstream, error) {
	existing, err := s.GetWorkstream(ctx, models.ScratchWorkstreamID)
	if err == nil {
		return existing, nil
	}
	now := nowRFC3339()
	ws := &models.Workstream{
		ID:        models.ScratchWorkstreamID,
		Title:     "Scratch",
		IsScratch: true,
		State:     models.WorkstreamActive,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workstreams (id, title, summary, is_scratch, state, default_model, created_at, updated_at)
		VALUES (?, ?, '', 1, ?, '', ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, ws.ID, ws.Title, ws.State, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure scratch: %w", err)
	}
	return s.GetWorkstream(ctx, models.ScratchWorkstreamID)
}

// CreateSession creates a new session row with a generated id.
func (s *SQLiteStore) CreateSession(ctx context.Context, workstreamID string) (*models.SessionRecord, error) {
	return s.CreateSessionWithID(ctx, workstreamID, uuid.NewString())
}

// CreateSessionWithID creates a new session row with a caller-supplied id.
func (s *SQLiteStore) CreateSessionWithID(ctx context.Context, workstreamID, sessionID string) (*models.SessionRecord, error) {
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workstream_id, turn_count, compressed, summary, created_at, ended_at)
		VALUES (?, ?, 0, 0, '', ?, NULL)
	`, sessionID, workstreamID, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &models.SessionRecord{
		ID:           sessionID,
		WorkstreamID: workstreamID,
		CreatedAt:    parseTime(now),
	}, nil
}

// GetActiveSession returns the one session in a workstream without an
// ended_at, if any.
func (s *SQLiteStore) GetActiveSession(ctx context.Context, workstreamID string) (*models.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workstream_id, turn_count, compressed, summary, created_at, ended_at
		FROM sessions WHERE workstream_id = ? AND ended_at IS NULL
		ORDER BY created_at DESC LIMIT 1
	`, workstreamID)
	return scanSessionRecord(row)
}

// ListSessions lists every session in a workstream, most recent first.
func (s *SQLiteStore) ListSessions(ctx context.Context, workstreamID string) ([]*models.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workstream_id, turn_count, compressed, summary, created_at, ended_at
		FROM sessions WHERE workstream_id = ?
		ORDER BY created_at DESC
	`, workstreamID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.SessionRecord
	for rows.Next() {
		rec, err := scanSessionRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// EndSession marks a session ended and records its final turn count.
func (s *SQLiteStore) EndSession(ctx context.Context, id string, turnCount int) error {
	now := nowRFC3339()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, turn_count = ? WHERE id = ?
	`, now, turnCount, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return checkRowsAffected(result, "session", id)
}

// UpdateSessionSummary sets a session's summary and marks it compressed.
func (s *SQLiteStore) UpdateSessionSummary(ctx context.Context, id, summary string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET summary = ?, compressed = 1 WHERE id = ?
	`, summary, id)
	if err != nil {
		return fmt.Errorf("update session summary: %w", err)
	}
	return checkRowsAffected(result, "session", id)
}

// ReassignSessions bulk-moves every session from one workstream to another
// (used when promoting the scratch workstream into a named one).
func (s *SQLiteStore) ReassignSessions(ctx context.Context, fromWorkstreamID, toWorkstreamID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET workstream_id = ? WHERE workstream_id = ?`, toWorkstreamID, fromWorkstreamID)
	if err != nil {
		return fmt.Errorf("reassign sessions: %w", err)
	}
	return nil
}

// ReassignTags bulk-moves every tag from one workstream to another,
// skipping tags the destination already carries.
func (s *SQLiteStore) ReassignTags(ctx context.Context, fromWorkstreamID, toWorkstreamID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reassign tags: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT tag FROM workstream_tags WHERE workstream_id = ?`, fromWorkstreamID)
	if err != nil {
		return fmt.Errorf("list source tags: %w", err)
	}
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			rows.Close()
			return fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM workstream_tags WHERE workstream_id = ?`, fromWorkstreamID); err != nil {
		return fmt.Errorf("clear source tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workstream_tags (workstream_id, tag) VALUES (?, ?)
			ON CONFLICT (workstream_id, tag) DO NOTHING
		`, toWorkstreamID, tag); err != nil {
			return fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkstream(row scanner) (*models.Workstream, error) {
	ws := &models.Workstream{}
	var isScratch int
	var createdAt, updatedAt string
	err := row.Scan(&ws.ID, &ws.Title, &ws.Summary, &isScratch, &ws.State, &ws.DefaultModel, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workstream not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan workstream: %w", err)
	}
	ws.IsScratch = isScratch != 0
	ws.CreatedAt = parseTime(createdAt)
	ws.UpdatedAt = parseTime(updatedAt)
	return ws, nil
}

func scanSessionRecord(row scanner) (*models.SessionRecord, error) {
	rec := &models.SessionRecord{}
	var compressed int
	var createdAt string
	var endedAt sql.NullString
	err := row.Scan(&rec.ID, &rec.WorkstreamID, &rec.TurnCount, &compressed, &rec.Summary, &createdAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	rec.Compressed = compressed != 0
	rec.CreatedAt = parseTime(createdAt)
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		rec.EndedAt = &t
	}
	return rec, nil
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
