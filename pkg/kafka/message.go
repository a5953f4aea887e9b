package kafka

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/Ramsey-B/thistle/pkg/models"
)

// DataItemMessage is the ingest payload: one observed value for an owner.
// Binary kinds carry base64 content; string kinds carry the raw value.
type DataItemMessage struct {
	TenantID   string            `json:"tenant_id"`
	OwnerID    string            `json:"owner_id"`
	OwnerKind  string            `json:"owner_kind"` // "entity" or "orphan"
	EntityType string            `json:"entity_type,omitempty"`
	OwnerName  string            `json:"owner_name,omitempty"`
	ItemID     string            `json:"item_id,omitempty"`
	Kind       models.FieldKind  `json:"kind"`
	Value      string            `json:"value,omitempty"`
	Content    string            `json:"content,omitempty"` // base64 for binary kinds
	FieldPath  string            `json:"field_path,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DecodeContent returns the binary content for binary-kind messages.
func (m *DataItemMessage) DecodeContent() ([]byte, error) {
	if m.Content == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(m.Content)
}

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	DataItem *DataItemMessage
}

// ParseDataItem parses the message value as a data item message.
func (m *IncomingMessage) ParseDataItem() error {
	var msg DataItemMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return err
	}
	m.DataItem = &msg
	return nil
}

// GetTenantID returns the tenant id from the payload, falling back to the
// header.
func (m *IncomingMessage) GetTenantID() string {
	if m.DataItem != nil && m.DataItem.TenantID != "" {
		return m.DataItem.TenantID
	}
	return m.Headers["tenant_id"]
}
