package draft

import (
	"context"
	"fmt"

	"github.com/scrypster/claimbridge/internal/meta"
	"github.com/scrypster/claimbridge/internal/storage"
)

// Resolver produces a complete draft key pair from partial caller input.
// It is the two-tier strategy the mediation layer is built around: a cheap
// in-memory guess from the cache first, then an authoritative database
// lookup for callers that supplied no keys at all.
type Resolver struct {
	cache *Cache
	store storage.RecordStore
}

// NewResolver wires a resolver to its cache and store.
func NewResolver(cache *Cache, store storage.RecordStore) *Resolver {
	return &Resolver{cache: cache, store: store}
}

// Resolve applies the fixed precedence order to the normalized request and
// returns a complete key, or ErrNoMatchingDraft.
//
// Priority, first match wins:
//  1. explicit keys.DraftUUID, trusted as-is
//  2. explicit keys.ID: cache lookup, else optimistic synthesis
//  3. flat DraftUUID matching a cached entry (linear scan)
//  4. flat {ID, DraftUUID} pair, used directly
//  5. flat ID alone, treated like an explicit ID
//  6. the entity's last-touched cache entry
func (r *Resolver) Resolve(e *meta.Entity, req Request) (Key, error) {
	// 1. Trust an explicit draft UUID.
	if du := stringValue(req.Keys["DraftUUID"]); du != "" {
		return Key{
			ID:             stringValue(req.Keys["ID"]),
			DraftUUID:      du,
			IsActiveEntity: boolValue(req.Keys["IsActiveEntity"]),
		}, nil
	}

	// 2. Explicit ID: prefer the cached key pair, synthesize optimistically
	// when the cache has never seen this record.
	if id := stringValue(req.Keys["ID"]); id != "" {
		return r.resolveByID(e, id, req.Keys), nil
	}

	// 3. A flat DraftUUID can still be matched against the cache.
	if du := stringValue(req.Convenience["DraftUUID"]); du != "" {
		if entry, ok := r.cache.FindByDraftUUID(e.Name, du); ok {
			key := entry.Keys
			if id := stringValue(req.Convenience["ID"]); id != "" {
				key.ID = id
			}
			return key, nil
		}
		// 4. Flat pair supplied directly.
		if id := stringValue(req.Convenience["ID"]); id != "" {
			return Key{ID: id, DraftUUID: du, IsActiveEntity: false}, nil
		}
	}

	// 5. A flat ID alone works like an explicit one.
	if id := stringValue(req.Convenience["ID"]); id != "" {
		return r.resolveByID(e, id, req.Convenience), nil
	}

	// 6. Resume the draft the caller was just touching.
	if entry, ok := r.cache.Last(e.Name); ok {
		return entry.Keys, nil
	}

	return Key{}, fmt.Errorf("%w (entity %s)", ErrNoMatchingDraft, e.Name)
}

func (r *Resolver) resolveByID(e *meta.Entity, id string, supplied storage.Row) Key {
	if entry, ok := r.cache.Get(e.Name, id); ok {
		key := entry.Keys
		// Caller-supplied fields win over the cached pair.
		key.ID = id
		if du := stringValue(supplied["DraftUUID"]); du != "" {
			key.DraftUUID = du
		}
		if _, ok := supplied["IsActiveEntity"]; ok {
			key.IsActiveEntity = boolValue(supplied["IsActiveEntity"])
		}
		return key
	}
	return Key{ID: id, IsActiveEntity: false}
}

// AutoResolve is the authoritative fallback: select the most recently
// modified open draft row for the entity, cache it, and return its key.
// Ordering prefers whichever recency column the entity actually declares.
func (r *Resolver) AutoResolve(ctx context.Context, e *meta.Entity) (Key, error) {
	orderBy := ""
	for _, col := range []string{"modifiedAt", "LastChangedAt", "createdAt"} {
		if e.Has(col) {
			orderBy = col
			break
		}
	}

	sel := storage.Selection{
		Entity:     e.Name,
		Draft:      true,
		Where:      storage.Row{"IsActiveEntity": false},
		OrderBy:    orderBy,
		Descending: true,
		Limit:      1,
	}
	rows, err := r.store.Select(ctx, sel)
	if err != nil {
		return Key{}, fmt.Errorf("auto-resolve %s: %w", e.Name, err)
	}
	if len(rows) == 0 {
		return Key{}, fmt.Errorf("%w (entity %s, no open drafts)", ErrNoMatchingDraft, e.Name)
	}

	row := rows[0]
	key := Key{
		ID:             stringValue(row["ID"]),
		DraftUUID:      stringValue(row["DraftUUID"]),
		IsActiveEntity: false,
	}
	r.cache.Put(e.Name, key, row)
	return key, nil
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func boolValue(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
