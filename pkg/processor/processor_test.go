package processor

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/logging"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/normalize"
)

func newTestProcessor() *Processor {
	return NewProcessor(logging.NewNopLogger(), nil, nil, normalize.Policy{})
}

func TestBuildDataItemString(t *testing.T) {
	p := newTestProcessor()

	item, err := p.buildDataItem("t1", &kafka.DataItemMessage{
		OwnerID:   "e1",
		OwnerKind: "entity",
		Kind:      models.FieldKindEmail,
		Value:     "John@Example.COM",
		FieldPath: "contacts[0].email",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "t1", item.TenantID)
	assert.Equal(t, "John@Example.COM", item.RawValue)
	assert.Equal(t, "john@example.com", item.NormalizedValue)
	assert.False(t, item.LowQuality)
	require.NotNil(t, item.OwnerEntityID)
	assert.Equal(t, "e1", *item.OwnerEntityID)
	assert.Nil(t, item.OwnerOrphanID)
	assert.Equal(t, "contacts[0].email", item.Metadata["field_path"])
}

func TestBuildDataItemBinary(t *testing.T) {
	p := newTestProcessor()

	content := []byte("file bytes")
	item, err := p.buildDataItem("t1", &kafka.DataItemMessage{
		OwnerID:   "o1",
		OwnerKind: "orphan",
		Kind:      models.FieldKindFile,
		Content:   base64.StdEncoding.EncodeToString(content),
	})
	require.NoError(t, err)

	assert.Equal(t, normalize.ContentHash(content), item.ContentHash)
	assert.Empty(t, item.NormalizedValue)
	require.NotNil(t, item.OwnerOrphanID)
	assert.Equal(t, "o1", *item.OwnerOrphanID)
}

func TestBuildDataItemRejectsEmpty(t *testing.T) {
	p := newTestProcessor()

	_, err := p.buildDataItem("t1", &kafka.DataItemMessage{
		OwnerID: "e1",
		Kind:    models.FieldKindEmail,
	})
	assert.Error(t, err)

	_, err = p.buildDataItem("t1", &kafka.DataItemMessage{
		OwnerID: "e1",
		Kind:    models.FieldKindFile,
	})
	assert.Error(t, err)
}

func TestBuildDataItemFlagsLowQuality(t *testing.T) {
	p := newTestProcessor()

	item, err := p.buildDataItem("t1", &kafka.DataItemMessage{
		OwnerID:   "e1",
		OwnerKind: "entity",
		Kind:      models.FieldKindEmail,
		Value:     "not-an-email",
	})
	require.NoError(t, err)
	assert.True(t, item.LowQuality)
}

func TestBuildDataItemKeepsProvidedID(t *testing.T) {
	p := newTestProcessor()

	item, err := p.buildDataItem("t1", &kafka.DataItemMessage{
		OwnerID:   "e1",
		OwnerKind: "entity",
		ItemID:    "item-42",
		Kind:      models.FieldKindPhone,
		Value:     "+1 555 123 4567",
	})
	require.NoError(t, err)
	assert.Equal(t, "item-42", item.ID)
}
