package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/thistle/pkg/models"
)

func TestValueEmail(t *testing.T) {
	res := Value(models.FieldKindEmail, "  John.Doe@Example.COM ")
	assert.Equal(t, "john.doe@example.com", res.Value)
	assert.False(t, res.LowQuality)

	// Missing @ still normalizes but is flagged
	res = Value(models.FieldKindEmail, "not-an-email")
	assert.Equal(t, "not-an-email", res.Value)
	assert.True(t, res.LowQuality)

	// Trailing @ means no domain
	res = Value(models.FieldKindEmail, "user@")
	assert.True(t, res.LowQuality)
}

func TestValueEmailTagFolding(t *testing.T) {
	// Off by default
	res := Value(models.FieldKindEmail, "user+tag@example.com")
	assert.Equal(t, "user+tag@example.com", res.Value)

	res = ValueWithPolicy(models.FieldKindEmail, "user+tag@example.com", Policy{FoldEmailTags: true})
	assert.Equal(t, "user@example.com", res.Value)

	// Leading + is not a tag separator
	res = ValueWithPolicy(models.FieldKindEmail, "+weird@example.com", Policy{FoldEmailTags: true})
	assert.Equal(t, "+weird@example.com", res.Value)
}

func TestValuePhone(t *testing.T) {
	res := Value(models.FieldKindPhone, "+1 (555) 123-4567")
	assert.Equal(t, "+15551234567", res.Value)
	assert.False(t, res.LowQuality)

	// No country code: digits kept as-is, none invented
	res = Value(models.FieldKindPhone, "555-123-4567")
	assert.Equal(t, "5551234567", res.Value)
	assert.False(t, res.LowQuality)

	// A + not in the leading position is dropped
	res = Value(models.FieldKindPhone, "555+1234567")
	assert.Equal(t, "5551234567", res.Value)

	res = Value(models.FieldKindPhone, "123")
	assert.Equal(t, "123", res.Value)
	assert.True(t, res.LowQuality)
}

func TestValueName(t *testing.T) {
	res := Value(models.FieldKindName, "  José   GARCÍA  ")
	assert.Equal(t, "jose garcia", res.Value)
	assert.False(t, res.LowQuality)

	res = Value(models.FieldKindName, "   ")
	assert.Equal(t, "", res.Value)
	assert.True(t, res.LowQuality)
}

func TestValueAddress(t *testing.T) {
	res := Value(models.FieldKindAddress, "123  North Main Street Apartment 4")
	assert.Equal(t, "123 n main st apt 4", res.Value)

	// Abbreviations only replace whole words
	res = Value(models.FieldKindAddress, "streetlight avenue")
	assert.Equal(t, "streetlight ave", res.Value)
}

func TestValueDefaultKinds(t *testing.T) {
	res := Value(models.FieldKindUsername, "  CoolUser42 ")
	assert.Equal(t, "cooluser42", res.Value)
	assert.False(t, res.LowQuality)

	res = Value(models.FieldKindURL, "HTTPS://Example.com/Path")
	assert.Equal(t, "https://example.com/path", res.Value)

	res = Value(models.FieldKindIP, "")
	assert.True(t, res.LowQuality)
}

func TestValueBinaryKindHasNoStringForm(t *testing.T) {
	res := Value(models.FieldKindFile, "ignored")
	assert.Equal(t, "", res.Value)
}

func TestValueIsDeterministic(t *testing.T) {
	a := Value(models.FieldKindEmail, "Same@Input.com")
	b := Value(models.FieldKindEmail, "Same@Input.com")
	assert.Equal(t, a, b)
}

func TestContentHash(t *testing.T) {
	h1 := ContentHash([]byte("hello"))
	h2 := ContentHash([]byte("hello"))
	h3 := ContentHash([]byte("hello "))

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64) // hex sha-256

	// Known vector
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h1)
}
