package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Ramsey-B/thistle/pkg/errs"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// TransferDataItem reattaches a data item to a new owning entity.
func (s *Store) TransferDataItem(ctx context.Context, tenantID, itemID, toOwnerID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.TransferDataItem")
	defer span.End()

	cypher := `
		MATCH (old)-[h:HAS_DATA]->(d:DataItem {id: $item_id, tenant_id: $tenant_id})
		MATCH (w:Entity {id: $to_id, tenant_id: $tenant_id})
		DELETE h
		MERGE (w)-[:HAS_DATA]->(d)
		SET d.updated_at = $now
		RETURN d.id
	`
	records, err := s.client.WriteRecords(ctx, cypher, map[string]any{
		"item_id":   itemID,
		"to_id":     toOwnerID,
		"tenant_id": tenantID,
		"now":       time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to transfer data item")
		return fmt.Errorf("failed to transfer data item: %w", err)
	}
	if len(records) == 0 {
		return errs.NotFound(itemID, "data item or target entity not found")
	}
	return nil
}

// RepointRelationships moves domain RELATES_TO edges from one owner to
// another, preserving properties and direction. Edges that would become
// self-edges, and LINKED_TO edges between the two owners, are deleted
// instead. Returns the number of edges moved.
func (s *Store) RepointRelationships(ctx context.Context, tenantID, fromID, toID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.RepointRelationships")
	defer span.End()

	// Edges between the pair collapse to self-edges after the merge; drop
	// them before repointing the rest.
	dropCypher := `
		MATCH (a {id: $from_id, tenant_id: $tenant_id})-[r:RELATES_TO|LINKED_TO]-(b {id: $to_id, tenant_id: $tenant_id})
		DELETE r
	`
	if _, err := s.client.WriteRecords(ctx, dropCypher, map[string]any{
		"from_id":   fromID,
		"to_id":     toID,
		"tenant_id": tenantID,
	}); err != nil {
		return 0, fmt.Errorf("failed to drop pair edges: %w", err)
	}

	outCypher := `
		MATCH (l {id: $from_id, tenant_id: $tenant_id})-[r:RELATES_TO]->(x)
		MATCH (w {id: $to_id, tenant_id: $tenant_id})
		MERGE (w)-[nr:RELATES_TO {tenant_id: $tenant_id, type: r.type}]->(x)
		SET nr += properties(r)
		DELETE r
		RETURN count(nr) AS moved
	`
	moved, err := s.repointDirection(ctx, outCypher, tenantID, fromID, toID)
	if err != nil {
		return 0, err
	}

	inCypher := `
		MATCH (x)-[r:RELATES_TO]->(l {id: $from_id, tenant_id: $tenant_id})
		MATCH (w {id: $to_id, tenant_id: $tenant_id})
		MERGE (x)-[nr:RELATES_TO {tenant_id: $tenant_id, type: r.type}]->(w)
		SET nr += properties(r)
		DELETE r
		RETURN count(nr) AS moved
	`
	in, err := s.repointDirection(ctx, inCypher, tenantID, fromID, toID)
	if err != nil {
		return 0, err
	}

	return moved + in, nil
}

func (s *Store) repointDirection(ctx context.Context, cypher, tenantID, fromID, toID string) (int, error) {
	records, err := s.client.WriteRecords(ctx, cypher, map[string]any{
		"from_id":   fromID,
		"to_id":     toID,
		"tenant_id": tenantID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to repoint relationships: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	moved, _ := records[0].Get("moved")
	count, _ := moved.(int64)
	return int(count), nil
}

// RetireEntity tombstones the loser with an indefinite redirect to the
// winner. Retired entities never match and never merge again.
func (s *Store) RetireEntity(ctx context.Context, tenantID, loserID, winnerID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.RetireEntity")
	defer span.End()

	cypher := `
		MATCH (l:Entity {id: $loser_id, tenant_id: $tenant_id})
		SET l.retired = true, l.merged_into = $winner_id, l.updated_at = $now
		RETURN l.id
	`
	records, err := s.client.WriteRecords(ctx, cypher, map[string]any{
		"loser_id":  loserID,
		"winner_id": winnerID,
		"tenant_id": tenantID,
		"now":       time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to retire entity")
		return fmt.Errorf("failed to retire entity: %w", err)
	}
	if len(records) == 0 {
		return errs.NotFound(loserID, "entity not found")
	}
	return nil
}

// BumpVersion increments an entity's version token if and only if it still
// holds the expected value. Returns the new version, or Conflict.
func (s *Store) BumpVersion(ctx context.Context, tenantID, id string, expected int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.BumpVersion")
	defer span.End()

	cypher := `
		MATCH (e:Entity {id: $id, tenant_id: $tenant_id})
		WHERE coalesce(e.version, 0) = $expected
		SET e.version = $expected + 1, e.updated_at = $now
		RETURN e.version AS version
	`
	records, err := s.client.WriteRecords(ctx, cypher, map[string]any{
		"id":        id,
		"tenant_id": tenantID,
		"expected":  expected,
		"now":       time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to bump version: %w", err)
	}
	if len(records) == 0 {
		return 0, errs.Conflict(id, "version changed (expected %d)", expected)
	}

	version, _ := records[0].Get("version")
	v, _ := version.(int64)
	return v, nil
}
