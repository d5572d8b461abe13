package memorystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrGraphNotInitialized is returned by every Graph method when the
// subsystem was never initialized for this store.
var ErrGraphNotInitialized = errors.New("memorystore: graph not initialized")

// Graph is the memory store's optional small knowledge graph: nodes keyed
// by id, directed relationships between them. Modeled as two more tables in
// the same SQLite database rather than a dedicated graph engine.
type Graph struct {
	db *sql.DB
}

// InitGraph creates the graph tables if absent and returns a ready Graph.
func InitGraph(ctx context.Context, db *sql.DB) (*Graph, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS graph_nodes (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			properties TEXT NOT NULL DEFAULT '{}'
		)
	`); err != nil {
		return nil, fmt.Errorf("create graph_nodes: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS graph_relationships (
			from_id TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
			to_id TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			PRIMARY KEY (from_id, to_id, kind)
		)
	`); err != nil {
		return nil, fmt.Errorf("create graph_relationships: %w", err)
	}
	return &Graph{db: db}, nil
}

// AddNode inserts or replaces a node.
func (g *Graph) AddNode(ctx context.Context, node *models.GraphNode) error {
	if g == nil {
		return ErrGraphNotInitialized
	}
	properties, err := json.Marshal(node.Properties)
	if err != nil {
		return fmt.Errorf("marshal node properties: %w", err)
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO graph_nodes (id, label, properties) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET label = excluded.label, properties = excluded.properties
	`, node.ID, node.Label, string(properties))
	if err != nil {
		return fmt.Errorf("add node: %w", err)
	}
	return nil
}

// DeleteNode removes a node and, via ON DELETE CASCADE, every relationship
// incident to it.
func (g *Graph) DeleteNode(ctx context.Context, id string) error {
	if g == nil {
		return ErrGraphNotInitialized
	}
	_, err := g.db.ExecContext(ctx, `DELETE FROM graph_nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return nil
}

// CountNodes returns the total node count.
func (g *Graph) CountNodes(ctx context.Context) (int, error) {
	if g == nil {
		return 0, ErrGraphNotInitialized
	}
	var count int
	err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_nodes`).Scan(&count)
	return count, err
}

// AddRelationship inserts a directed edge between two existing nodes.
func (g *Graph) AddRelationship(ctx context.Context, rel models.GraphRelationship) error {
	if g == nil {
		return ErrGraphNotInitialized
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO graph_relationships (from_id, to_id, kind) VALUES (?, ?, ?)
		ON CONFLICT (from_id, to_id, kind) DO NOTHING
	`, rel.FromID, rel.ToID, rel.Kind)
	if err != nil {
		return fmt.Errorf("add relationship: %w", err)
	}
	return nil
}

// DeleteRelationship removes one directed edge.
func (g *Graph) DeleteRelationship(ctx context.Context, rel models.GraphRelationship) error {
	if g == nil {
		return ErrGraphNotInitialized
	}
	_, err := g.db.ExecContext(ctx, `
		DELETE FROM graph_relationships WHERE from_id = ? AND to_id = ? AND kind = ?
	`, rel.FromID, rel.ToID, rel.Kind)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	return nil
}

// CountRelationships returns the total relationship count.
func (g *Graph) CountRelationships(ctx context.Context) (int, error) {
	if g == nil {
		return 0, ErrGraphNotInitialized
	}
	var count int
	err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_relationships`).Scan(&count)
	return count, err
}

// Neighbors lists the nodes reachable from id by one outgoing relationship.
func (g *Graph) Neighbors(ctx context.Context, id string) ([]*models.GraphNode, error) {
	if g == nil {
		return nil, ErrGraphNotInitialized
	}
	rows, err := g.db.QueryContext(ctx, `
		SELECT n.id, n.label, n.properties
		FROM graph_relationships r
		JOIN graph_nodes n ON n.id = r.to_id
		WHERE r.from_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query neighbors: %w", err)
	}
	defer rows.Close()

	var out []*models.GraphNode
	for rows.Next() {
		node := &models.GraphNode{}
		var properties string
		if err := rows.Scan(&node.ID, &node.Label, &properties); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if properties != "" {
			if err := json.Unmarshal([]byte(properties), &node.Properties); err != nil {
				return nil, fmt.Errorf("unmarshal node properties: %w", err)
			}
		}
		out = append(out, node)
	}
	return out, rows.Err()
}
