package draft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/claimbridge/internal/meta"
)

func claimsEntity(t *testing.T) *meta.Entity {
	t.Helper()
	e, err := meta.Default().Entity("Claims")
	require.NoError(t, err)
	return e
}

func TestNormalizeArgsClassifiesFlatFields(t *testing.T) {
	e := claimsEntity(t)

	req := NormalizeArgs(e, map[string]interface{}{
		"entity":    "Claims",
		"ID":        "c1",
		"DraftUUID": "d1",
		"status":    "In Prüfung",
	})

	assert.Equal(t, "c1", req.Convenience["ID"])
	assert.Equal(t, "d1", req.Convenience["DraftUUID"])
	assert.Equal(t, "In Prüfung", req.Data["status"])
	assert.Empty(t, req.Keys)
	assert.NotContains(t, req.Data, "entity")
}

func TestNormalizeArgsNestedObjectsWin(t *testing.T) {
	e := claimsEntity(t)

	req := NormalizeArgs(e, map[string]interface{}{
		"keys":   map[string]interface{}{"ID": "nested"},
		"ID":     "flat",
		"data":   map[string]interface{}{"status": "nested-status"},
		"status": "flat-status",
	})

	assert.Equal(t, "nested", req.Keys["ID"])
	assert.Equal(t, "flat", req.Convenience["ID"])
	// The nested data object overlays the flat field.
	assert.Equal(t, "nested-status", req.Data["status"])
}

func TestNormalizeArgsUnknownFlatFieldGoesToData(t *testing.T) {
	e := claimsEntity(t)

	req := NormalizeArgs(e, map[string]interface{}{"somethingElse": 42})
	assert.Equal(t, 42, req.Data["somethingElse"])
	assert.Empty(t, req.Convenience)
}

func TestHasExplicitKeys(t *testing.T) {
	e := claimsEntity(t)

	assert.False(t, NormalizeArgs(e, map[string]interface{}{"status": "x"}).HasExplicitKeys())
	assert.True(t, NormalizeArgs(e, map[string]interface{}{"ID": "c1"}).HasExplicitKeys())
	assert.True(t, NormalizeArgs(e, map[string]interface{}{
		"keys": map[string]interface{}{"DraftUUID": "d1"},
	}).HasExplicitKeys())
}

func TestIsKeyCandidate(t *testing.T) {
	e := claimsEntity(t)

	assert.True(t, isKeyCandidate(e, "ID"))
	assert.True(t, isKeyCandidate(e, "DraftUUID"))
	assert.True(t, isKeyCandidate(e, "IsActiveEntity"))
	assert.False(t, isKeyCandidate(e, "status"))
	assert.False(t, isKeyCandidate(e, "claimNumber"))
}
