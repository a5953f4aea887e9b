package models

import "time"

// EntityType classifies a graph entity.
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypeOrganization EntityType = "organization"
)

// Entity is a graph node representing a person or organization. Version is the
// optimistic-concurrency token: it is returned on every read and re-checked
// before any mutating write.
type Entity struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	EntityType EntityType `json:"entity_type"`
	Name       string     `json:"name"`
	Version    int64      `json:"version"`
	Retired    bool       `json:"retired,omitempty"`
	MergedInto *string    `json:"merged_into,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Orphan is an identifier cluster not yet linked to any entity. Orphans own
// DataItems the same way entities do and participate in matching.
type Orphan struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Label     string    `json:"label,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
