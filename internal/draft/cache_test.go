package draft

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/claimbridge/internal/storage"
)

func TestCachePutAndGetMergesData(t *testing.T) {
	c := NewCache(8)

	c.Put("Claims", Key{ID: "c1", DraftUUID: "d1"}, storage.Row{"status": "Eingegangen"})
	c.Put("Claims", Key{ID: "c1", DraftUUID: "d1"}, storage.Row{"description": "Hagelschaden"})

	entry, ok := c.Get("Claims", "c1")
	require.True(t, ok)
	assert.Equal(t, "d1", entry.Keys.DraftUUID)
	assert.Equal(t, "Eingegangen", entry.Data["status"])
	assert.Equal(t, "Hagelschaden", entry.Data["description"])
}

func TestCachePutWithoutIDIsIgnored(t *testing.T) {
	c := NewCache(8)
	c.Put("Claims", Key{DraftUUID: "d1"}, nil)
	assert.Equal(t, 0, c.Len("Claims"))
}

func TestCachePutKeepsDraftUUIDWhenRefreshOmitsIt(t *testing.T) {
	c := NewCache(8)
	c.Put("Claims", Key{ID: "c1", DraftUUID: "d1"}, nil)
	c.Put("Claims", Key{ID: "c1"}, storage.Row{"status": "In Prüfung"})

	entry, ok := c.Get("Claims", "c1")
	require.True(t, ok)
	assert.Equal(t, "d1", entry.Keys.DraftUUID)
}

func TestCacheCapacityBound(t *testing.T) {
	c := NewCache(4)
	for i := 0; i < 10; i++ {
		c.Put("Claims", Key{ID: fmt.Sprintf("c%d", i), DraftUUID: fmt.Sprintf("d%d", i)}, nil)
	}
	assert.Equal(t, 4, c.Len("Claims"))

	// The oldest entries were evicted, the newest survive.
	_, ok := c.Get("Claims", "c0")
	assert.False(t, ok)
	_, ok = c.Get("Claims", "c9")
	assert.True(t, ok)
}

func TestCacheLastTracksMostRecentTouch(t *testing.T) {
	c := NewCache(8)
	c.Put("Claims", Key{ID: "c1", DraftUUID: "d1"}, nil)
	c.Put("Claims", Key{ID: "c2", DraftUUID: "d2"}, nil)

	entry, ok := c.Last("Claims")
	require.True(t, ok)
	assert.Equal(t, "c2", entry.Keys.ID)

	// Touching c1 again moves the pointer back.
	c.Put("Claims", Key{ID: "c1"}, storage.Row{"status": "In Prüfung"})
	entry, ok = c.Last("Claims")
	require.True(t, ok)
	assert.Equal(t, "c1", entry.Keys.ID)
}

func TestCacheLastFallsBackAfterDelete(t *testing.T) {
	c := NewCache(8)
	c.Put("Claims", Key{ID: "c1", DraftUUID: "d1"}, nil)
	c.Put("Claims", Key{ID: "c2", DraftUUID: "d2"}, nil)

	c.Delete("Claims", "c2")

	entry, ok := c.Last("Claims")
	require.True(t, ok)
	assert.Equal(t, "c1", entry.Keys.ID)
}

func TestCacheLastEmpty(t *testing.T) {
	c := NewCache(8)
	_, ok := c.Last("Claims")
	assert.False(t, ok)
}

func TestCacheFindByDraftUUID(t *testing.T) {
	c := NewCache(8)
	c.Put("Claims", Key{ID: "c1", DraftUUID: "d1"}, nil)
	c.Put("Claims", Key{ID: "c2", DraftUUID: "d2"}, nil)

	entry, ok := c.FindByDraftUUID("Claims", "d2")
	require.True(t, ok)
	assert.Equal(t, "c2", entry.Keys.ID)

	_, ok = c.FindByDraftUUID("Claims", "nope")
	assert.False(t, ok)
	_, ok = c.FindByDraftUUID("Policies", "d2")
	assert.False(t, ok)
}

func TestCacheEntriesAreIsolatedPerEntity(t *testing.T) {
	c := NewCache(8)
	c.Put("Claims", Key{ID: "c1"}, nil)
	c.Put("Policies", Key{ID: "p1"}, nil)

	_, ok := c.Get("Policies", "c1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len("Claims"))
	assert.Equal(t, 1, c.Len("Policies"))
}

func TestCacheGetReturnsCopy(t *testing.T) {
	c := NewCache(8)
	c.Put("Claims", Key{ID: "c1"}, storage.Row{"status": "Eingegangen"})

	entry, _ := c.Get("Claims", "c1")
	entry.Data["status"] = "mutated"

	fresh, _ := c.Get("Claims", "c1")
	assert.Equal(t, "Eingegangen", fresh.Data["status"])
}

func TestKeyRowOmitsEmptyFields(t *testing.T) {
	row := Key{ID: "c1"}.Row()
	assert.Equal(t, storage.Row{"ID": "c1", "IsActiveEntity": false}, row)

	row = Key{ID: "c1", DraftUUID: "d1"}.Row()
	assert.Equal(t, storage.Row{"ID": "c1", "DraftUUID": "d1", "IsActiveEntity": false}, row)
}
