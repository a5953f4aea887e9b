package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/thistle/pkg/models"
)

// EventType defines the type of event
type EventType string

const (
	EventTypeSuggestionCreated   EventType = "suggestion.created"
	EventTypeSuggestionDismissed EventType = "suggestion.dismissed"
	EventTypeSuggestionLinked    EventType = "suggestion.linked"
	EventTypeSuggestionMerged    EventType = "suggestion.merged"
	EventTypeEntityMerged        EventType = "entity.merged"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	TenantID      string    `json:"tenant_id"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// SuggestionEvent is emitted on suggestion lifecycle transitions.
type SuggestionEvent struct {
	BaseEvent
	SuggestionID    string                  `json:"suggestion_id"`
	SourceID        string                  `json:"source_id"`
	MatchedID       string                  `json:"matched_id"`
	MatchType       models.MatchType        `json:"match_type"`
	MatchedField    models.FieldKind        `json:"matched_field"`
	Confidence      float64                 `json:"confidence"`
	ConfidenceLevel models.ConfidenceLevel  `json:"confidence_level"`
	Status          models.SuggestionStatus `json:"status"`
	DismissReason   *string                 `json:"dismiss_reason,omitempty"`
}

// EntityMergedEvent is emitted once per completed merge.
type EntityMergedEvent struct {
	BaseEvent
	MergeID            string                      `json:"merge_id"`
	WinnerID           string                      `json:"winner_id"`
	LoserID            string                      `json:"loser_id"`
	Reason             string                      `json:"reason"`
	DataTransferred    map[models.FieldKind]int    `json:"data_transferred"`
	ConflictsResolved  []models.ConflictResolution `json:"conflicts_resolved,omitempty"`
	RelationshipsMoved int                         `json:"relationships_moved"`
	PerformedBy        *string                     `json:"performed_by,omitempty"`
}

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType EventType, tenantID string) BaseEvent {
	return BaseEvent{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		TenantID:      tenantID,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}
}
