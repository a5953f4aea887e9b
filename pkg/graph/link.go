package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/thistle/pkg/errs"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// CreateLink creates a non-destructive LINKED_TO relationship between two
// owners and returns the relationship id. Both nodes keep their data items
// and identity. Idempotent per suggestion.
func (s *Store) CreateLink(ctx context.Context, tenantID, sourceID, matchedID, suggestionID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.CreateLink")
	defer span.End()

	linkID := uuid.NewString()
	cypher := `
		MATCH (a {id: $source_id, tenant_id: $tenant_id})
		MATCH (b {id: $matched_id, tenant_id: $tenant_id})
		WHERE (a:Entity OR a:Orphan) AND (b:Entity OR b:Orphan)
			AND coalesce(a.retired, false) = false
			AND coalesce(b.retired, false) = false
		MERGE (a)-[r:LINKED_TO {tenant_id: $tenant_id, suggestion_id: $suggestion_id}]->(b)
		ON CREATE SET r.id = $link_id, r.created_at = $now
		RETURN r.id AS link_id
	`
	records, err := s.client.WriteRecords(ctx, cypher, map[string]any{
		"source_id":     sourceID,
		"matched_id":    matchedID,
		"tenant_id":     tenantID,
		"suggestion_id": suggestionID,
		"link_id":       linkID,
		"now":           time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to create link")
		return "", fmt.Errorf("failed to create link: %w", err)
	}
	if len(records) == 0 {
		return "", errs.NotFound(sourceID, "link endpoints not found")
	}

	created, _ := records[0].Get("link_id")
	if id, ok := created.(string); ok && id != "" {
		return id, nil
	}
	return linkID, nil
}

// RemoveLink deletes a LINKED_TO relationship by id. Removing a link that no
// longer exists is not an error.
func (s *Store) RemoveLink(ctx context.Context, tenantID, linkID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.RemoveLink")
	defer span.End()

	cypher := `
		MATCH ()-[r:LINKED_TO {id: $link_id, tenant_id: $tenant_id}]->()
		DELETE r
	`
	_, err := s.client.WriteRecords(ctx, cypher, map[string]any{
		"link_id":   linkID,
		"tenant_id": tenantID,
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to remove link")
		return fmt.Errorf("failed to remove link: %w", err)
	}
	return nil
}
