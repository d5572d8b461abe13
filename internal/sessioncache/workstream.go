package sessioncache

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// SessionReconstructor rebuilds a Session from a workstream's durable
// message log — the only read path the workstream-backed persistence hook
// needs. Implemented by the workstream store.
type SessionReconstructor interface {
	ReconstructSession(ctx context.Context, workstreamID, sessionID string) (*models.Session, error)
}

// WorkstreamPersistence is the Session cache's persistence hook backed by a
// workstream's append-only message log. Durability comes entirely from
// per-turn SaveTurn calls on the log, so Save/Delete/OnEvict are no-ops:
// the cache is a read-through view over data the log already owns.
type WorkstreamPersistence struct {
	Reconstructor SessionReconstructor
}

// Load reconstructs the session from the message log. If the workstream has
// no messages for this session, an empty Session with the requested id is
// returned rather than ErrNotFound.
func (w WorkstreamPersistence) Load(ctx context.Context, sessionID, contextID string) (*models.Session, error) {
	session, err := w.Reconstructor.ReconstructSession(ctx, contextID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		now := time.Now()
		session = &models.Session{
			ID:           sessionID,
			WorkstreamID: contextID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	return session, nil
}

// Save is a no-op: durability is provided by SaveTurn on the message log.
func (w WorkstreamPersistence) Save(ctx context.Context, sessionID, contextID string, value *models.Session) error {
	return nil
}

// Delete is a no-op: the cache never owns deletion of workstream data.
func (w WorkstreamPersistence) Delete(ctx context.Context, sessionID, contextID string) error {
	return nil
}

// OnEvict is a no-op: eviction from the cache has no effect on the log.
func (w WorkstreamPersistence) OnEvict(ctx context.Context, sessionID, contextID string) {}

// SessionCache is the Session-specialized cache the runtime uses.
type SessionCache = Cache[models.Session]

// NewSessionCache builds a Session cache backed by a workstream message log.
func NewSessionCache(cfg Config, reconstructor SessionReconstructor) *SessionCache {
	return New[models.Session](cfg, WorkstreamPersistence{Reconstructor: reconstructor})
}

// GetOrCreate returns the cached session if known, otherwise the
// reconstructed session from the log, otherwise a fresh empty session — it
// never returns ErrNotFound.
func GetOrCreate(ctx context.Context, c *SessionCache, sessionID, workstreamID string) (*models.Session, error) {
	session, err := c.GetOrLoad(ctx, sessionID, workstreamID)
	if err == nil {
		return session, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	now := time.Now()
	fresh := &models.Session{
		ID:           sessionID,
		WorkstreamID: workstreamID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c.Insert(ctx, sessionID, workstreamID, fresh)
	return fresh, nil
}
