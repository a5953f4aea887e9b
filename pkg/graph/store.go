package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Store exposes the graph operations the engine, suggestion manager, merge
// coordinator, and ingest processor need. Owners are :Entity or :Orphan
// nodes; data items hang off their owner via :HAS_DATA edges.
type Store struct {
	client *Client
	logger ectologger.Logger
}

// NewStore creates a graph store over the given client.
func NewStore(client *Client, logger ectologger.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// WithWriteTx runs fn inside one managed write transaction.
func (s *Store) WithWriteTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.client.WithWriteTx(ctx, fn)
}

// UpsertEntity creates or updates an entity node.
func (s *Store) UpsertEntity(ctx context.Context, entity *models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.UpsertEntity")
	defer span.End()

	cypher := `
		MERGE (e:Entity {id: $id, tenant_id: $tenant_id})
		ON CREATE SET e.version = 1, e.created_at = $now
		SET e.entity_type = $entity_type,
			e.name = $name,
			e.retired = coalesce(e.retired, false),
			e.updated_at = $now
		RETURN e.id
	`
	_, err := s.client.WriteRecords(ctx, cypher, map[string]any{
		"id":          entity.ID,
		"tenant_id":   entity.TenantID,
		"entity_type": string(entity.EntityType),
		"name":        entity.Name,
		"now":         time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to upsert entity")
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

// UpsertOrphan creates or updates an orphan node. Orphans own data items that
// have not been claimed by an entity yet.
func (s *Store) UpsertOrphan(ctx context.Context, orphan *models.Orphan) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.UpsertOrphan")
	defer span.End()

	cypher := `
		MERGE (o:Orphan {id: $id, tenant_id: $tenant_id})
		ON CREATE SET o.version = 1, o.created_at = $now
		SET o.label = $label, o.updated_at = $now
		RETURN o.id
	`
	_, err := s.client.WriteRecords(ctx, cypher, map[string]any{
		"id":        orphan.ID,
		"tenant_id": orphan.TenantID,
		"label":     orphan.Label,
		"now":       time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to upsert orphan")
		return fmt.Errorf("failed to upsert orphan: %w", err)
	}
	return nil
}

// UpsertDataItem creates or updates a data item node and attaches it to its
// owner. The owner node must already exist.
func (s *Store) UpsertDataItem(ctx context.Context, item *models.DataItem) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.UpsertDataItem")
	defer span.End()

	ownerID := item.OwnerID()
	if ownerID == "" {
		return fmt.Errorf("data item %s has no owner", item.ID)
	}

	cypher := `
		MATCH (o {id: $owner_id, tenant_id: $tenant_id})
		WHERE o:Entity OR o:Orphan
		MERGE (d:DataItem {id: $id, tenant_id: $tenant_id})
		ON CREATE SET d.created_at = $now
		SET d.kind = $kind,
			d.raw_value = $raw_value,
			d.normalized_value = $normalized_value,
			d.content_hash = $content_hash,
			d.low_quality = $low_quality,
			d.field_path = $field_path,
			d.updated_at = $now
		MERGE (o)-[:HAS_DATA]->(d)
		RETURN d.id
	`
	records, err := s.client.WriteRecords(ctx, cypher, map[string]any{
		"owner_id":         ownerID,
		"id":               item.ID,
		"tenant_id":        item.TenantID,
		"kind":             string(item.Kind),
		"raw_value":        item.RawValue,
		"normalized_value": item.NormalizedValue,
		"content_hash":     item.ContentHash,
		"low_quality":      item.LowQuality,
		"field_path":       item.Metadata["field_path"],
		"now":              time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to upsert data item")
		return fmt.Errorf("failed to upsert data item: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("owner %s not found for data item %s", ownerID, item.ID)
	}
	return nil
}

// OwnerExists reports whether an active (non-retired) entity or orphan with
// the id exists.
func (s *Store) OwnerExists(ctx context.Context, tenantID, ownerID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.OwnerExists")
	defer span.End()

	cypher := `
		MATCH (o {id: $id, tenant_id: $tenant_id})
		WHERE (o:Entity OR o:Orphan) AND coalesce(o.retired, false) = false
		RETURN o.id
		LIMIT 1
	`
	records, err := s.client.ReadRecords(ctx, cypher, map[string]any{
		"id":        ownerID,
		"tenant_id": tenantID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check owner: %w", err)
	}
	return len(records) > 0, nil
}

// GetEntity retrieves an entity node with its version. Returns nil when the
// entity does not exist. Retired entities are returned so callers can follow
// the merged_into redirect.
func (s *Store) GetEntity(ctx context.Context, tenantID, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.GetEntity")
	defer span.End()

	cypher := `
		MATCH (e:Entity {id: $id, tenant_id: $tenant_id})
		RETURN e
		LIMIT 1
	`
	records, err := s.client.ReadRecords(ctx, cypher, map[string]any{
		"id":        id,
		"tenant_id": tenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	node, ok := records[0].Get("e")
	if !ok {
		return nil, nil
	}
	entity := entityFromProps(node.(neo4j.Node).Props)
	return &entity, nil
}

// ListDataItems returns the data items attached to an owner.
func (s *Store) ListDataItems(ctx context.Context, tenantID, ownerID string) ([]models.DataItem, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.ListDataItems")
	defer span.End()

	cypher := `
		MATCH (o {id: $owner_id, tenant_id: $tenant_id})-[:HAS_DATA]->(d:DataItem)
		WHERE o:Entity OR o:Orphan
		RETURN d, labels(o) AS owner_labels, o.id AS owner_id
	`
	records, err := s.client.ReadRecords(ctx, cypher, map[string]any{
		"owner_id":  ownerID,
		"tenant_id": tenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list data items: %w", err)
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

func entityFromProps(props map[string]any) models.Entity {
	entity := models.Entity{
		ID:         stringProp(props, "id"),
		TenantID:   stringProp(props, "tenant_id"),
		EntityType: models.EntityType(stringProp(props, "entity_type")),
		Name:       stringProp(props, "name"),
		Version:    intProp(props, "version"),
		Retired:    boolProp(props, "retired"),
		CreatedAt:  timeProp(props, "created_at"),
		UpdatedAt:  timeProp(props, "updated_at"),
	}
	if target := stringProp(props, "merged_into"); target != "" {
		entity.MergedInto = &target
	}
	return entity
}

func dataItemFromRecord(record *neo4j.Record) (models.DataItem, bool) {
	node, ok := record.Get("d")
	if !ok {
		return models.DataItem{}, false
	}
	props := node.(neo4j.Node).Props

	item := models.DataItem{
		ID:              stringProp(props, "id"),
		TenantID:        stringProp(props, "tenant_id"),
		Kind:            models.FieldKind(stringProp(props, "kind")),
		RawValue:        stringProp(props, "raw_value"),
		NormalizedValue: stringProp(props, "normalized_value"),
		ContentHash:     stringProp(props, "content_hash"),
		LowQuality:      boolProp(props, "low_quality"),
		CreatedAt:       timeProp(props, "created_at"),
		UpdatedAt:       timeProp(props, "updated_at"),
	}
	if fieldPath := stringProp(props, "field_path"); fieldPath != "" {
		item.Metadata = map[string]any{"field_path": fieldPath}
	}

	ownerID, _ := record.Get("owner_id")
	ownerLabels, _ := record.Get("owner_labels")
	id, _ := ownerID.(string)
	if id != "" {
		if hasLabel(ownerLabels, "Orphan") {
			item.OwnerOrphanID = &id
		} else {
			item.OwnerEntityID = &id
		}
	}
	return item, true
}

func hasLabel(labels any, want string) bool {
	list, ok := labels.([]any)
	if !ok {
		return false
	}
	for _, l := range list {
		if s, ok := l.(string); ok && s == want {
			return true
		}
	}
	return false
}

func stringProp(props map[string]any, key string) string {
	v, _ := props[key].(string)
	return v
}

func boolProp(props map[string]any, key string) bool {
	v, _ := props[key].(bool)
	return v
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func timeProp(props map[string]any, key string) time.Time {
	s, ok := props[key].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
