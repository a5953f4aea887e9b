// Package processor handles incoming data-item messages: it upserts owners
// and items into the graph, runs matching, and turns the hits into pending
// suggestions.
package processor

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/thistle/pkg/graph"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/normalize"
	"github.com/Ramsey-B/thistle/pkg/suggestion"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Processor handles message processing for the ingest topic.
type Processor struct {
	logger  ectologger.Logger
	store   *graph.Store
	manager *suggestion.Manager
	policy  normalize.Policy
}

// NewProcessor creates a new ingest processor.
func NewProcessor(
	logger ectologger.Logger,
	store *graph.Store,
	manager *suggestion.Manager,
	policy normalize.Policy,
) *Processor {
	return &Processor{
		logger:  logger,
		store:   store,
		manager: manager,
		policy:  policy,
	}
}

// HandleMessage is the kafka.MessageHandler for the ingest topic.
func (p *Processor) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.HandleMessage")
	defer span.End()

	item := msg.DataItem
	if item == nil {
		return fmt.Errorf("message has no data item payload")
	}

	tenantID := msg.GetTenantID()
	if tenantID == "" {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"offset": msg.Offset,
		}).Warn("Dropping message without tenant id")
		return nil
	}
	if !item.Kind.Valid() {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"kind": item.Kind,
		}).Warn("Dropping message with unknown field kind")
		return nil
	}

	dataItem, err := p.buildDataItem(tenantID, item)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Dropping malformed data item")
		return nil
	}

	if err := p.upsertOwner(ctx, tenantID, item); err != nil {
		return err
	}
	if err := p.store.UpsertDataItem(ctx, dataItem); err != nil {
		return err
	}

	// Low-quality values are stored but never matched against.
	if dataItem.LowQuality {
		return nil
	}

	created, err := p.manager.Generate(ctx, tenantID, item.OwnerID, []models.DataItem{*dataItem})
	if err != nil {
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":   tenantID,
		"owner_id":    item.OwnerID,
		"kind":        item.Kind,
		"suggestions": len(created),
	}).Debug("Processed data item")
	return nil
}

func (p *Processor) buildDataItem(tenantID string, msg *kafka.DataItemMessage) (*models.DataItem, error) {
	id := msg.ItemID
	if id == "" {
		id = uuid.NewString()
	}

	item := &models.DataItem{
		ID:       id,
		TenantID: tenantID,
		Kind:     msg.Kind,
	}

	if msg.Kind.IsBinary() {
		content, err := msg.DecodeContent()
		if err != nil {
			return nil, fmt.Errorf("invalid binary content: %w", err)
		}
		if len(content) == 0 {
			return nil, fmt.Errorf("binary data item has no content")
		}
		item.RawValue = msg.Value
		item.ContentHash = normalize.ContentHash(content)
	} else {
		if msg.Value == "" {
			return nil, fmt.Errorf("data item has no value")
		}
		result := normalize.ValueWithPolicy(msg.Kind, msg.Value, p.policy)
		item.RawValue = msg.Value
		item.NormalizedValue = result.Value
		item.LowQuality = result.LowQuality
	}

	if msg.FieldPath != "" {
		item.Metadata = map[string]any{"field_path": msg.FieldPath}
	}

	switch msg.OwnerKind {
	case "orphan":
		item.OwnerOrphanID = &msg.OwnerID
	default:
		item.OwnerEntityID = &msg.OwnerID
	}
	return item, nil
}

func (p *Processor) upsertOwner(ctx context.Context, tenantID string, msg *kafka.DataItemMessage) error {
	if msg.OwnerKind == "orphan" {
		return p.store.UpsertOrphan(ctx, &models.Orphan{
			ID:       msg.OwnerID,
			TenantID: tenantID,
			Label:    msg.OwnerName,
		})
	}

	entityType := models.EntityType(msg.EntityType)
	if entityType == "" {
		entityType = models.EntityTypePerson
	}
	return p.store.UpsertEntity(ctx, &models.Entity{
		ID:         msg.OwnerID,
		TenantID:   tenantID,
		EntityType: entityType,
		Name:       msg.OwnerName,
	})
}
