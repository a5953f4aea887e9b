package models

import "time"

// FieldKind identifies the type of value a DataItem holds. The kind drives
// normalization and which similarity strategies apply.
type FieldKind string

const (
	FieldKindEmail    FieldKind = "email"
	FieldKindPhone    FieldKind = "phone"
	FieldKindName     FieldKind = "name"
	FieldKindAddress  FieldKind = "address"
	FieldKindUsername FieldKind = "username"
	FieldKindURL      FieldKind = "url"
	FieldKindIP       FieldKind = "ip"
	FieldKindCrypto   FieldKind = "crypto"
	FieldKindFile     FieldKind = "file"
)

// IsBinary reports whether the kind is compared by content hash rather than
// normalized string value.
func (k FieldKind) IsBinary() bool {
	return k == FieldKindFile
}

// Valid reports whether the kind is one of the known field kinds.
func (k FieldKind) Valid() bool {
	switch k {
	case FieldKindEmail, FieldKindPhone, FieldKindName, FieldKindAddress,
		FieldKindUsername, FieldKindURL, FieldKindIP, FieldKindCrypto, FieldKindFile:
		return true
	}
	return false
}

// DataItem is an atomic piece of data (email, phone, file, address...) owned by
// at most one entity or orphan. NormalizedValue is always derived from
// (Kind, RawValue) and recomputed on write; ContentHash is set only for binary
// kinds.
type DataItem struct {
	ID              string         `json:"id" db:"id"`
	TenantID        string         `json:"tenant_id" db:"tenant_id"`
	Kind            FieldKind      `json:"kind" db:"kind"`
	RawValue        string         `json:"raw_value" db:"raw_value"`
	NormalizedValue string         `json:"normalized_value" db:"normalized_value"`
	ContentHash     string         `json:"content_hash,omitempty" db:"content_hash"`
	LowQuality      bool           `json:"low_quality,omitempty" db:"low_quality"`
	OwnerEntityID   *string        `json:"owner_entity_id,omitempty" db:"owner_entity_id"`
	OwnerOrphanID   *string        `json:"owner_orphan_id,omitempty" db:"owner_orphan_id"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// OwnerID returns the owning entity or orphan id, or "" for unowned items.
func (d *DataItem) OwnerID() string {
	if d.OwnerEntityID != nil {
		return *d.OwnerEntityID
	}
	if d.OwnerOrphanID != nil {
		return *d.OwnerOrphanID
	}
	return ""
}

// MatchType classifies how a candidate was found.
type MatchType string

const (
	MatchTypeHash  MatchType = "hash_match"
	MatchTypeExact MatchType = "exact_string"
	MatchTypeFuzzy MatchType = "fuzzy_match"
)

// Specificity ranks match types for tie-breaking: hash > exact > fuzzy.
func (m MatchType) Specificity() int {
	switch m {
	case MatchTypeHash:
		return 3
	case MatchTypeExact:
		return 2
	case MatchTypeFuzzy:
		return 1
	}
	return 0
}

// MatchResult is a candidate hit returned by the store for a query. It is
// ephemeral; produced per query and never persisted.
type MatchResult struct {
	EntityID   *string   `json:"entity_id,omitempty"`
	OrphanID   *string   `json:"orphan_id,omitempty"`
	FieldKind  FieldKind `json:"field_kind"`
	FieldPath  string    `json:"field_path,omitempty"`
	DataItemID string    `json:"data_item_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OwnerID returns the matched entity or orphan id.
func (m *MatchResult) OwnerID() string {
	if m.EntityID != nil {
		return *m.EntityID
	}
	if m.OrphanID != nil {
		return *m.OrphanID
	}
	return ""
}

// Match pairs a MatchResult with its scored confidence.
type Match struct {
	Result     MatchResult     `json:"result"`
	MatchType  MatchType       `json:"match_type"`
	Confidence float64         `json:"confidence"`
	Level      ConfidenceLevel `json:"confidence_level"`
	Factors    []Factor        `json:"factors"`
	Similarity float64         `json:"similarity,omitempty"`
}
