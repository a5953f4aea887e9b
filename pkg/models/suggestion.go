package models

import (
	"time"
)

// SuggestionStatus is the lifecycle state of a suggestion. Pending is the only
// non-terminal status; dismissed and linked can return to pending through a
// time-bounded undo, merged never can.
type SuggestionStatus string

const (
	SuggestionStatusPending   SuggestionStatus = "pending"
	SuggestionStatusDismissed SuggestionStatus = "dismissed"
	SuggestionStatusLinked    SuggestionStatus = "linked"
	SuggestionStatusMerged    SuggestionStatus = "merged"
)

// Terminal reports whether the status is one a suggestion cannot leave except
// through undo.
func (s SuggestionStatus) Terminal() bool {
	return s == SuggestionStatusDismissed || s == SuggestionStatusLinked || s == SuggestionStatusMerged
}

// ConfidenceLevel is the discrete bucket derived from a confidence score.
type ConfidenceLevel string

const (
	ConfidenceLevelHigh   ConfidenceLevel = "high"
	ConfidenceLevelMedium ConfidenceLevel = "medium"
	ConfidenceLevelLow    ConfidenceLevel = "low"
)

// Factor is one weighted contribution to a suggestion's confidence. Factors
// are recorded in order so the score is reproducible from the stored rows.
type Factor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
}

// Suggestion is a proposed link between a source (entity or orphan) and a
// matched candidate, pending a human decision. Terminal suggestions are
// retained for audit and excluded from default listings.
type Suggestion struct {
	ID              string           `json:"id" db:"id"`
	TenantID        string           `json:"tenant_id" db:"tenant_id"`
	SourceID        string           `json:"source_id" db:"source_id"`
	MatchedID       string           `json:"matched_id" db:"matched_id"`
	MatchType       MatchType        `json:"match_type" db:"match_type"`
	MatchedField    FieldKind        `json:"matched_field" db:"matched_field"`
	Confidence      float64          `json:"confidence" db:"confidence"`
	ConfidenceLevel ConfidenceLevel  `json:"confidence_level" db:"confidence_level"`
	Factors         []Factor         `json:"factors" db:"-"`
	Status          SuggestionStatus `json:"status" db:"status"`
	DismissReason   *string          `json:"dismiss_reason,omitempty" db:"dismiss_reason"`
	LinkID          *string          `json:"link_id,omitempty" db:"link_id"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// DismissSuggestionRequest is the request body for dismissing a suggestion.
type DismissSuggestionRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// MergeSuggestionRequest is the request body for merging a suggestion. The
// minimum reason length forces a deliberate justification; merges cannot be
// undone.
type MergeSuggestionRequest struct {
	Reason string `json:"reason" validate:"required,min=10"`
}

// FindMatchesRequest is the request body for an ad-hoc match query.
type FindMatchesRequest struct {
	Value            string    `json:"value" validate:"required"`
	FieldKind        FieldKind `json:"field_kind" validate:"required"`
	IncludePartial   bool      `json:"include_partial"`
	PartialThreshold float64   `json:"partial_threshold" validate:"omitempty,gte=0,lte=1"`
	ExcludeID        string    `json:"exclude_id,omitempty"`
}
