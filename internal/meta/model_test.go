package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultModelLoads(t *testing.T) {
	m := Default()
	require.NotNil(t, m)

	assert.Equal(t, []string{"ClaimItems", "Claims", "Customers", "Policies", "Vehicles"}, m.Names())

	claims, err := m.Entity("Claims")
	require.NoError(t, err)
	assert.True(t, claims.Draft)
	assert.Equal(t, []string{"ID"}, claims.Keys())
}

func TestEntityUnknownListsKnownNames(t *testing.T) {
	m := Default()

	_, err := m.Entity("Bananas")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownEntity)
	assert.Contains(t, err.Error(), "Claims")
	assert.Contains(t, err.Error(), "Policies")
}

func TestLoadRejectsDuplicateEntities(t *testing.T) {
	doc := []byte(`
entities:
  - name: A
    elements:
      - { name: ID, type: uuid, key: true }
  - name: A
    elements:
      - { name: ID, type: uuid, key: true }
`)
	_, err := Load(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate entity")
}

func TestLoadRejectsKeylessEntity(t *testing.T) {
	doc := []byte(`
entities:
  - name: A
    elements:
      - { name: name, type: string }
`)
	_, err := Load(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key elements")
}

func TestLoadRejectsUnresolvedCompositionTarget(t *testing.T) {
	doc := []byte(`
entities:
  - name: A
    elements:
      - { name: ID, type: uuid, key: true }
      - { name: parts, type: composition, target: Missing }
`)
	_, err := Load(doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCompositionTarget)
}

func TestColumnsDraftVariant(t *testing.T) {
	m := Default()
	claims, err := m.Entity("Claims")
	require.NoError(t, err)

	base := claims.Columns(false)
	draft := claims.Columns(true)

	// Associations never become columns.
	assert.NotContains(t, base, "policy")
	assert.NotContains(t, draft, "policy")

	// The composition is serialized as a column on both variants.
	assert.Contains(t, base, "items")
	assert.Contains(t, draft, "items")

	// Virtual draft-control fields other than IsActiveEntity exist only on
	// the draft shadow table.
	assert.Contains(t, base, "IsActiveEntity")
	assert.NotContains(t, base, "DraftUUID")
	assert.NotContains(t, base, "HasActiveEntity")
	assert.Contains(t, draft, "DraftUUID")
	assert.Contains(t, draft, "HasActiveEntity")
}

func TestCompositionLookup(t *testing.T) {
	m := Default()
	claims, err := m.Entity("Claims")
	require.NoError(t, err)

	items, ok := claims.Composition("items")
	require.True(t, ok)
	assert.Equal(t, "ClaimItems", items.Target)

	// Associations do not qualify as compositions.
	_, ok = claims.Composition("policy")
	assert.False(t, ok)

	_, ok = claims.Composition("nope")
	assert.False(t, ok)
}

func TestCompositionTargets(t *testing.T) {
	m := Default()
	targets := m.CompositionTargets()
	assert.True(t, targets["ClaimItems"])
	assert.False(t, targets["Claims"])
	assert.False(t, targets["Policies"])
}

func TestDefaults(t *testing.T) {
	m := Default()
	claims, err := m.Entity("Claims")
	require.NoError(t, err)

	defs := claims.Defaults()
	assert.Equal(t, "Eingegangen", defs["status"])
	assert.Equal(t, "EUR", defs["currency"])
	assert.NotContains(t, defs, "description")
}

func TestAdminColumns(t *testing.T) {
	m := Default()

	claims, err := m.Entity("Claims")
	require.NoError(t, err)
	assert.Equal(t, []string{"DraftUUID", "createdAt", "createdBy", "modifiedAt", "modifiedBy"}, claims.AdminColumns())

	// Vehicles declare none of the admin elements.
	vehicles, err := m.Entity("Vehicles")
	require.NoError(t, err)
	assert.Empty(t, vehicles.AdminColumns())
}
