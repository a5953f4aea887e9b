package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/thistle/pkg/matching"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// candidateLimit bounds how many rows a single match query can pull back.
const candidateLimit = 500

// FindByNormalizedValue returns owners holding a data item with the exact
// normalized value for the kind. Low-quality items and retired owners never
// match.
func (s *Store) FindByNormalizedValue(ctx context.Context, tenantID string, kind models.FieldKind, value string) ([]models.MatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.FindByNormalizedValue")
	defer span.End()

	cypher := `
		MATCH (o)-[:HAS_DATA]->(d:DataItem {tenant_id: $tenant_id, kind: $kind, normalized_value: $value})
		WHERE (o:Entity OR o:Orphan)
			AND coalesce(o.retired, false) = false
			AND coalesce(d.low_quality, false) = false
		RETURN d, labels(o) AS owner_labels, o.id AS owner_id
		LIMIT $limit
	`
	records, err := s.client.ReadRecords(ctx, cypher, map[string]any{
		"tenant_id": tenantID,
		"kind":      string(kind),
		"value":     value,
		"limit":     candidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find by normalized value: %w", err)
	}
	return matchResultsFromRecords(records), nil
}

// FindByContentHash returns owners holding a data item with the content hash.
func (s *Store) FindByContentHash(ctx context.Context, tenantID string, hash string) ([]models.MatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.FindByContentHash")
	defer span.End()

	cypher := `
		MATCH (o)-[:HAS_DATA]->(d:DataItem {tenant_id: $tenant_id, content_hash: $hash})
		WHERE (o:Entity OR o:Orphan)
			AND coalesce(o.retired, false) = false
			AND coalesce(d.low_quality, false) = false
		RETURN d, labels(o) AS owner_labels, o.id AS owner_id
		LIMIT $limit
	`
	records, err := s.client.ReadRecords(ctx, cypher, map[string]any{
		"tenant_id": tenantID,
		"hash":      hash,
		"limit":     candidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find by content hash: %w", err)
	}
	return matchResultsFromRecords(records), nil
}

// FindCandidatesForFuzzy returns same-kind data items inside the prefilter
// window (first character and length band) for similarity scoring in memory.
func (s *Store) FindCandidatesForFuzzy(ctx context.Context, tenantID string, kind models.FieldKind, pre matching.Prefilter) ([]models.DataItem, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.FindCandidatesForFuzzy")
	defer span.End()

	cypher := `
		MATCH (o)-[:HAS_DATA]->(d:DataItem {tenant_id: $tenant_id, kind: $kind})
		WHERE (o:Entity OR o:Orphan)
			AND coalesce(o.retired, false) = false
			AND coalesce(d.low_quality, false) = false
			AND size(d.normalized_value) >= $min_len
			AND size(d.normalized_value) <= $max_len
			AND ($first_char = '' OR left(d.normalized_value, 1) = $first_char)
		RETURN d, labels(o) AS owner_labels, o.id AS owner_id
		LIMIT $limit
	`
	records, err := s.client.ReadRecords(ctx, cypher, map[string]any{
		"tenant_id":  tenantID,
		"kind":       string(kind),
		"min_len":    pre.MinLen,
		"max_len":    pre.MaxLen,
		"first_char": pre.FirstChar,
		"limit":      candidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find fuzzy candidates: %w", err)
	}

	items := make([]models.DataItem, 0, len(records))
	for _, record := range records {
		item, ok := dataItemFromRecord(record)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func matchResultsFromRecords(records []*neo4j.Record) []models.MatchResult {
	results := make([]models.MatchResult, 0, len(records))
	for _, record := range records {
		item, ok := dataItemFromRecord(record)
		if !ok {
			continue
		}

		result := models.MatchResult{
			FieldKind:  item.Kind,
			DataItemID: item.ID,
			UpdatedAt:  item.UpdatedAt,
		}
		if fieldPath, ok := item.Metadata["field_path"].(string); ok {
			result.FieldPath = fieldPath
		}
		result.EntityID = item.OwnerEntityID
		result.OrphanID = item.OwnerOrphanID
		results = append(results, result)
	}
	return results
}
