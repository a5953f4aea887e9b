// Package events handles event emission for suggestion and merge lifecycle
// changes.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter publishes lifecycle events. Emission is best-effort: failures are
// logged, never surfaced to the operation that triggered them.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitSuggestionCreated emits a suggestion.created event.
func (e *Emitter) EmitSuggestionCreated(ctx context.Context, s *models.Suggestion) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitSuggestionCreated")
	defer span.End()

	e.publishSuggestion(ctx, EventTypeSuggestionCreated, s)
}

// EmitSuggestionDecided emits the event matching the decision that was made
// (suggestion.dismissed, suggestion.linked, or suggestion.merged).
func (e *Emitter) EmitSuggestionDecided(ctx context.Context, s *models.Suggestion, action models.SuggestionStatus) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitSuggestionDecided")
	defer span.End()

	var eventType EventType
	switch action {
	case models.SuggestionStatusDismissed:
		eventType = EventTypeSuggestionDismissed
	case models.SuggestionStatusLinked:
		eventType = EventTypeSuggestionLinked
	case models.SuggestionStatusMerged:
		eventType = EventTypeSuggestionMerged
	default:
		return
	}
	e.publishSuggestion(ctx, eventType, s)
}

// EmitEntityMerged emits an entity.merged event with the merge audit details.
func (e *Emitter) EmitEntityMerged(ctx context.Context, record *models.MergeRecord) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntityMerged")
	defer span.End()

	event := EntityMergedEvent{
		BaseEvent:          NewBaseEvent(EventTypeEntityMerged, record.TenantID),
		MergeID:            record.ID,
		WinnerID:           record.WinnerID,
		LoserID:            record.LoserID,
		Reason:             record.Reason,
		DataTransferred:    record.DataTransferred,
		ConflictsResolved:  record.ConflictsResolved,
		RelationshipsMoved: record.RelationshipsMoved,
		PerformedBy:        record.PerformedBy,
	}

	if err := e.producer.Publish(ctx, &kafka.Event{
		Type:     string(EventTypeEntityMerged),
		TenantID: record.TenantID,
		Key:      record.WinnerID,
		Payload:  event,
	}); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.merged event")
	}
}

func (e *Emitter) publishSuggestion(ctx context.Context, eventType EventType, s *models.Suggestion) {
	event := SuggestionEvent{
		BaseEvent:       NewBaseEvent(eventType, s.TenantID),
		SuggestionID:    s.ID,
		SourceID:        s.SourceID,
		MatchedID:       s.MatchedID,
		MatchType:       s.MatchType,
		MatchedField:    s.MatchedField,
		Confidence:      s.Confidence,
		ConfidenceLevel: s.ConfidenceLevel,
		Status:          s.Status,
		DismissReason:   s.DismissReason,
	}

	if err := e.producer.Publish(ctx, &kafka.Event{
		Type:     string(eventType),
		TenantID: s.TenantID,
		Key:      s.ID,
		Payload:  event,
	}); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": eventType,
		}).Error("Failed to emit suggestion event")
	}
}
