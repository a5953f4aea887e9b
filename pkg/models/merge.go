package models

import (
	"time"
)

// ConflictResolution records one field-level decision made during a merge,
// e.g. dropping the loser's copy of a data item the winner already holds.
type ConflictResolution struct {
	Kind            FieldKind `json:"kind"`
	NormalizedValue string    `json:"normalized_value"`
	KeptItemID      string    `json:"kept_item_id"`
	DroppedItemID   string    `json:"dropped_item_id"`
	Resolution      string    `json:"resolution"`
}

// MergeRecord is the append-only audit artifact written once per completed
// merge. Immutable once written.
type MergeRecord struct {
	ID                 string               `json:"id" db:"id"`
	TenantID           string               `json:"tenant_id" db:"tenant_id"`
	WinnerID           string               `json:"winner_id" db:"winner_id"`
	LoserID            string               `json:"loser_id" db:"loser_id"`
	Reason             string               `json:"reason" db:"reason"`
	DataTransferred    map[FieldKind]int    `json:"data_transferred" db:"-"`
	ConflictsResolved  []ConflictResolution `json:"conflicts_resolved,omitempty" db:"-"`
	RelationshipsMoved int                  `json:"relationships_moved" db:"relationships_moved"`
	PerformedBy        *string              `json:"performed_by,omitempty" db:"performed_by"`
	PerformedAt        time.Time            `json:"performed_at" db:"performed_at"`
}
