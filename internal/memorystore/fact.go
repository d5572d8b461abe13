package memorystore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// StoreOptions carries the optional embedding and graph-entity data that
// accompanies a memory through the unified Store call.
type StoreOptions struct {
	Embedding []float32
	Entities  []models.GraphNode
}

// StoreWithOptions inserts or updates mem's row (update iff a row with its
// id already exists), then — if configured — upserts its embedding and
// links it to each entity in the small knowledge graph. Absence of either
// subsystem is a warning, not an error: the memory row itself always lands.
func (s *Store) StoreWithOptions(ctx context.Context, mem *models.Memory, opts StoreOptions) error {
	if mem.ID != "" {
		if _, err := s.Get(ctx, mem.ID); err == nil {
			if err := s.Update(ctx, mem); err != nil {
				return err
			}
			return s.linkOptions(ctx, mem, opts)
		}
	}
	if err := s.Insert(ctx, mem); err != nil {
		return err
	}
	return s.linkOptions(ctx, mem, opts)
}

func (s *Store) linkOptions(ctx context.Context, mem *models.Memory, opts StoreOptions) error {

	if len(opts.Embedding) > 0 {
		if s.Vectors == nil {
			slog.Warn("memory stored without embedding: vector subsystem not initialized", "memory_id", mem.ID)
		} else if err := s.Vectors.Upsert(ctx, mem.ID, opts.Embedding); err != nil {
			return fmt.Errorf("upsert embedding for %s: %w", mem.ID, err)
		}
	}

	if len(opts.Entities) > 0 {
		if s.Graph == nil {
			slog.Warn("memory stored without graph links: graph subsystem not initialized", "memory_id", mem.ID)
		} else {
			memoryNode := models.GraphNode{ID: mem.ID, Label: string(mem.ContentType)}
			if err := s.Graph.AddNode(ctx, &memoryNode); err != nil {
				return fmt.Errorf("add memory node for %s: %w", mem.ID, err)
			}
			for _, entity := range opts.Entities {
				entity := entity
				if err := s.Graph.AddNode(ctx, &entity); err != nil {
					return fmt.Errorf("add entity node %s: %w", entity.ID, err)
				}
				if err := s.Graph.AddRelationship(ctx, models.GraphRelationship{
					FromID: mem.ID, ToID: entity.ID, Kind: "mentions",
				}); err != nil {
					return fmt.Errorf("link memory %s to entity %s: %w", mem.ID, entity.ID, err)
				}
			}
		}
	}

	return nil
}

// DeleteCascade removes a memory's graph node (if present), embedding (if
// present), and its row, ignoring "not found" for the first two.
func (s *Store) DeleteCascade(ctx context.Context, id string) error {
	if s.Graph != nil {
		if err := s.Graph.DeleteNode(ctx, id); err != nil {
			return fmt.Errorf("delete graph node for %s: %w", id, err)
		}
	}
	if s.Vectors != nil {
		if err := s.Vectors.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete embedding for %s: %w", id, err)
		}
	}
	return s.Delete(ctx, id)
}

// StoreFact runs the store_fact decision procedure: reinforce an identical
// existing fact, supersede conflicting ones, or plain-insert when there's
// nothing to compare against. Memories lacking both metadata.subject and
// metadata.predicate skip the procedure entirely.
func (s *Store) StoreFact(ctx context.Context, mem *models.Memory) (*models.StoreFactResult, error) {
	subject, hasSubject := mem.Subject()
	predicate, hasPredicate := mem.Predicate()
	if !hasSubject || !hasPredicate {
		if err := s.Insert(ctx, mem); err != nil {
			return nil, err
		}
		return &models.StoreFactResult{Kind: models.StoreFactInserted}, nil
	}

	existing, err := s.FindContradictions(ctx, subject, predicate)
	if err != nil {
		return nil, err
	}

	trimmedContent := strings.TrimSpace(mem.Content)
	for _, candidate := range existing {
		if candidate.ID == mem.ID {
			continue
		}
		if strings.TrimSpace(candidate.Content) == trimmedContent {
			if err := s.Reinforce(ctx, candidate.ID); err != nil {
				return nil, err
			}
			return &models.StoreFactResult{Kind: models.StoreFactReinforced, ExistingID: candidate.ID}, nil
		}
	}

	if len(existing) == 0 {
		if err := s.Insert(ctx, mem); err != nil {
			return nil, err
		}
		return &models.StoreFactResult{Kind: models.StoreFactInserted}, nil
	}

	supersededIDs := make([]string, 0, len(existing))
	for _, candidate := range existing {
		if err := s.Supersede(ctx, candidate.ID, mem.ID); err != nil {
			return nil, err
		}
		supersededIDs = append(supersededIDs, candidate.ID)
	}
	if err := s.Insert(ctx, mem); err != nil {
		return nil, err
	}
	return &models.StoreFactResult{Kind: models.StoreFactSuperseded, SupersededIDs: supersededIDs}, nil
}
