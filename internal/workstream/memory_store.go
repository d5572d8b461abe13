package workstream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// MemoryMetadataStore is an in-memory MetadataStore for tests and local
// runs without a SQLite file, mirroring SQLiteStore's semantics.
type MemoryMetadataStore struct {
	mu         sync.Mutex
	workstreams map[string]*models.Workstream
	tags        map[string][]string
	sessions    map[string]*models.SessionRecord
}

// NewMemoryMetadataStore creates an empty in-memory store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{
		workstreams: map[string]*models.Workstream{},
		tags:        map[string][]string{},
		sessions:    map[string]*models.SessionRecord{},
	}
}

func cloneWorkstream(ws *models.Workstream) *models.Workstream {
	if ws == nil {
		return nil
	}
	clone := *ws
	clone.Tags = append([]string(nil), ws.Tags...)
	return &clone
}

func cloneSessionRecord(rec *models.SessionRecord) *models.SessionRecord {
	if rec == nil {
		return nil
	}
	clone := *rec
	if rec.EndedAt != nil {
		ended := *rec.EndedAt
		clone.EndedAt = &ended
	}
	return &clone
}

func (m *MemoryMetadataStore) CreateWorkstream(ctx context.Context, title, defaultModel string, isScratch bool) (*models.Workstream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	ws := &models.Workstream{
		ID:           uuid.NewString(),
		Title:        title,
		IsScratch:    isScratch,
		State:        models.WorkstreamActive,
		DefaultModel: defaultModel,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.workstreams[ws.ID] = ws
	return cloneWorkstream(ws), nil
}

func (m *MemoryMetadataStore) GetWorkstream(ctx context.Context, id string) (*models.Workstream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.workstreams[id]
	if !ok {
		return nil, fmt.Errorf("workstream not found: %s", id)
	}
	out := cloneWorkstream(ws)
	out.Tags = append([]string(nil), m.tags[id]...)
	return out, nil
}

func (m *MemoryMetadataStore) ListWorkstreams(ctx context.Context, state models.WorkstreamState) ([]*models.Workstream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filter := state
	if filter == "" {
		filter = models.WorkstreamActive
	}

	var out []*models.Workstream
	for _, ws := range m.workstreams {
		if ws.State != filter {
			continue
		}
		clone := cloneWorkstream(ws)
		clone.Tags = append([]string(nil), m.tags[ws.ID]...)
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryMetadataStore) UpdateWorkstream(ctx context.Context, id string, update models.WorkstreamUpdate) (*models.Workstream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.workstreams[id]
	if !ok {
		return nil, fmt.Errorf("workstream not found: %s", id)
	}
	if update.Title != nil {
		ws.Title = *update.Title
	}
	if update.Summary != nil {
		ws.Summary = *update.Summary
	}
	if update.State != nil {
		ws.State = *update.State
	}
	if update.DefaultModel != nil {
		ws.DefaultModel = *update.DefaultModel
	}
	ws.UpdatedAt = time.Now().UTC()
	return cloneWorkstream(ws), nil
}

func (m *MemoryMetadataStore) SetTags(ctx context.Context, id string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workstreams[id]; !ok {
		return fmt.Errorf("workstream not found: %s", id)
	}
	m.tags[id] = append([]string(nil), tags...)
	return nil
}

func (m *MemoryMetadataStore) GetTags(ctx context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.tags[id]...)
	sort.Strings(out)
	return out, nil
}

func (m *MemoryMetadataStore) EnsureScratch(ctx context.Context) (*models.Workstream, error) {
	m.mu.Lock()
	if ws, ok := m.workstreams[models.ScratchWorkstreamID]; ok {
		out := cloneWorkstream(ws)
		m.mu.Unlock()
		return out, nil
	}
	now := time.Now().UTC()
	ws := &models.Workstream{
		ID:        models.ScratchWorkstreamID,
		Title:     "Scratch",
		IsScratch: true,
		State:     models.WorkstreamActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.workstreams[ws.ID] = ws
	m.mu.Unlock()
	return cloneWorkstream(ws), nil
}

func (m *MemoryMetadataStore) CreateSession(ctx context.Context, workstreamID string) (*models.SessionRecord, error) {
	return m.CreateSessionWithID(ctx, workstreamID, uuid.NewString())
}

func (m *MemoryMetadataStore) CreateSessionWithID(ctx context.Context, workstreamID, sessionID string) (*models.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &models.SessionRecord{
		ID:           sessionID,
		WorkstreamID: workstreamID,
		CreatedAt:    time.Now().UTC(),
	}
	m.sessions[sessionID] = rec
	return cloneSessionRecord(rec), nil
}

func (m *MemoryMetadataStore) GetActiveSession(ctx context.Context, workstreamID string) (*models.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active *models.SessionRecord
	for _, rec := range m.sessions {
		if rec.WorkstreamID != workstreamID || rec.EndedAt != nil {
			continue
		}
		if active == nil || rec.CreatedAt.After(active.CreatedAt) {
			active = rec
		}
	}
	return cloneSessionRecord(active), nil
}

func (m *MemoryMetadataStore) ListSessions(ctx context.Context, workstreamID string) ([]*models.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.SessionRecord
	for _, rec := range m.sessions {
		if rec.WorkstreamID != workstreamID {
			continue
		}
		out = append(out, cloneSessionRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryMetadataStore) EndSession(ctx context.Context, id string, turnCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	now := time.Now().UTC()
	rec.EndedAt = &now
	rec.TurnCount = turnCount
	return nil
}

func (m *MemoryMetadataStore) UpdateSessionSummary(ctx context.Context, id, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	rec.Summary = summary
	rec.Compressed = true
	return nil
}

func (m *MemoryMetadataStore) ReassignSessions(ctx context.Context, fromWorkstreamID, toWorkstreamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.sessions {
		if rec.WorkstreamID == fromWorkstreamID {
			rec.WorkstreamID = toWorkstreamID
		}
	}
	return nil
}

func (m *MemoryMetadataStore) ReassignTags(ctx context.Context, fromWorkstreamID, toWorkstreamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := map[string]bool{}
	for _, tag := range m.tags[toWorkstreamID] {
		existing[tag] = true
	}
	for _, tag := range m.tags[fromWorkstreamID] {
		if !existing[tag] {
			m.tags[toWorkstreamID] = append(m.tags[toWorkstreamID], tag)
			existing[tag] = true
		}
	}
	delete(m.tags, fromWorkstreamID)
	return nil
}

// MemoryMessageLog is an in-memory MessageLog for tests.
type MemoryMessageLog struct {
	mu   sync.Mutex
	logs map[string][]*models.WorkstreamMessage
}

// NewMemoryMessageLog creates an empty in-memory message log.
func NewMemoryMessageLog() *MemoryMessageLog {
	return &MemoryMessageLog{logs: map[string][]*models.WorkstreamMessage{}}
}

func cloneMessage(msg *models.WorkstreamMessage) *models.WorkstreamMessage {
	clone := *msg
	return &clone
}

func (l *MemoryMessageLog) Append(workstreamID string, msg *models.WorkstreamMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.WorkstreamID = workstreamID
	l.logs[workstreamID] = append(l.logs[workstreamID], cloneMessage(msg))
	return nil
}

func (l *MemoryMessageLog) ReadAll(workstreamID string) ([]*models.WorkstreamMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*models.WorkstreamMessage, len(l.logs[workstreamID]))
	for i, msg := range l.logs[workstreamID] {
		out[i] = cloneMessage(msg)
	}
	return out, nil
}

func (l *MemoryMessageLog) ReadRange(workstreamID string, since time.Time) ([]*models.WorkstreamMessage, error) {
	all, _ := l.ReadAll(workstreamID)
	var out []*models.WorkstreamMessage
	for _, msg := range all {
		if !msg.Timestamp.Before(since) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (l *MemoryMessageLog) MoveMessages(fromWorkstreamID, toWorkstreamID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	moving := l.logs[fromWorkstreamID]
	for _, msg := range moving {
		msg.WorkstreamID = toWorkstreamID
	}
	l.logs[toWorkstreamID] = append(l.logs[toWorkstreamID], moving...)
	delete(l.logs, fromWorkstreamID)
	return nil
}

func (l *MemoryMessageLog) DeleteAll(workstreamID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.logs, workstreamID)
	return nil
}
