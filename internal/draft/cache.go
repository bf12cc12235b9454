package draft

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/claimbridge/internal/storage"
)

// DefaultCacheCapacity bounds the number of remembered drafts per entity.
// The cache is a resumability aid, not a source of truth, so a bounded LRU
// loses nothing except the convenience of omitting keys for very old drafts.
const DefaultCacheCapacity = 128

// Key identifies one in-progress draft. IsActiveEntity is false for the
// whole lifetime of the draft; it flips to true only as the result of a
// successful save, at which point the key is meaningless for further draft
// operations.
type Key struct {
	ID             string
	DraftUUID      string
	IsActiveEntity bool
}

// Row converts the key into a filter row. Empty fields are omitted so a
// partially known key still produces a usable WHERE clause.
func (k Key) Row() storage.Row {
	row := storage.Row{"IsActiveEntity": k.IsActiveEntity}
	if k.ID != "" {
		row["ID"] = k.ID
	}
	if k.DraftUUID != "" {
		row["DraftUUID"] = k.DraftUUID
	}
	return row
}

// Entry is the cached state of one recently touched draft: its full key
// pair, the last known field snapshot, and when it was last touched.
type Entry struct {
	Keys    Key
	Data    storage.Row
	Touched time.Time
}

// Cache remembers the most recently touched drafts per entity so that a
// chatty tool-calling agent can omit keys on follow-up calls. It is an
// injectable per-process service; the database stays authoritative.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entities map[string]*entityCache
}

type entityCache struct {
	entries *lru.Cache[string, *Entry]
	lastID  string
}

// NewCache creates a cache with the given per-entity capacity.
// Non-positive capacities fall back to DefaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{capacity: capacity, entities: make(map[string]*entityCache)}
}

func (c *Cache) entity(name string) *entityCache {
	ec, ok := c.entities[name]
	if !ok {
		entries, err := lru.New[string, *Entry](c.capacity)
		if err != nil {
			// lru.New fails only for non-positive sizes, which NewCache rules out.
			panic(err)
		}
		ec = &entityCache{entries: entries}
		c.entities[name] = ec
	}
	return ec
}

// Put creates or refreshes the entry for keys.ID: the data snapshot is
// merged into any existing one, the touch time is bumped, and the entity's
// last-touched pointer is moved to this record.
func (c *Cache) Put(entity string, keys Key, data storage.Row) {
	if keys.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ec := c.entity(entity)
	entry, ok := ec.entries.Get(keys.ID)
	if !ok {
		entry = &Entry{Keys: keys, Data: storage.Row{}}
	}
	if keys.DraftUUID != "" {
		entry.Keys.DraftUUID = keys.DraftUUID
	}
	entry.Keys.ID = keys.ID
	entry.Keys.IsActiveEntity = keys.IsActiveEntity
	for k, v := range data {
		entry.Data[k] = v
	}
	entry.Touched = time.Now()
	ec.entries.Add(keys.ID, entry)
	ec.lastID = keys.ID
}

// Get returns a copy of the cached entry for the given record ID.
func (c *Cache) Get(entity, id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ec, ok := c.entities[entity]
	if !ok {
		return Entry{}, false
	}
	entry, ok := ec.entries.Peek(id)
	if !ok {
		return Entry{}, false
	}
	return copyEntry(entry), true
}

// FindByDraftUUID scans the entity's entries for a matching draft UUID.
// Linear scan: caches hold at most capacity entries.
func (c *Cache) FindByDraftUUID(entity, draftUUID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ec, ok := c.entities[entity]
	if !ok {
		return Entry{}, false
	}
	for _, id := range ec.entries.Keys() {
		if entry, ok := ec.entries.Peek(id); ok && entry.Keys.DraftUUID == draftUUID {
			return copyEntry(entry), true
		}
	}
	return Entry{}, false
}

// Last returns the most recently touched entry for the entity. When the
// last-touched pointer has been evicted, the remaining entries are scanned
// for the newest touch time.
func (c *Cache) Last(entity string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ec, ok := c.entities[entity]
	if !ok {
		return Entry{}, false
	}
	if ec.lastID != "" {
		if entry, ok := ec.entries.Peek(ec.lastID); ok {
			return copyEntry(entry), true
		}
	}
	var newest *Entry
	for _, id := range ec.entries.Keys() {
		if entry, ok := ec.entries.Peek(id); ok {
			if newest == nil || entry.Touched.After(newest.Touched) {
				newest = entry
			}
		}
	}
	if newest == nil {
		return Entry{}, false
	}
	return copyEntry(newest), true
}

// Delete evicts the entry for the given record ID, clearing the
// last-touched pointer when it pointed there.
func (c *Cache) Delete(entity, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ec, ok := c.entities[entity]
	if !ok {
		return
	}
	ec.entries.Remove(id)
	if ec.lastID == id {
		ec.lastID = ""
	}
}

// Len reports the number of cached drafts for an entity.
func (c *Cache) Len(entity string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	ec, ok := c.entities[entity]
	if !ok {
		return 0
	}
	return ec.entries.Len()
}

func copyEntry(e *Entry) Entry {
	return Entry{Keys: e.Keys, Data: e.Data.Clone(), Touched: e.Touched}
}
