package draft

import (
	"github.com/scrypster/claimbridge/internal/meta"
	"github.com/scrypster/claimbridge/internal/storage"
)

// virtualKeyAllowList names the virtual elements that may legitimately
// appear in a draft mutation's key set. Everything else that is not a
// declared primary key is stripped, so untrusted tool payloads cannot
// smuggle arbitrary fields into a WHERE clause.
var virtualKeyAllowList = []string{"IsActiveEntity", "DraftUUID"}

// SanitizeKeys returns the subset of raw that is usable as mutation keys
// for the entity: declared primary-key elements plus the allow-listed
// virtual draft-control fields, minus any names in drop.
func SanitizeKeys(e *meta.Entity, raw storage.Row, drop ...string) storage.Row {
	dropped := make(map[string]bool, len(drop))
	for _, d := range drop {
		dropped[d] = true
	}

	allowed := make(map[string]bool)
	for _, k := range e.Keys() {
		allowed[k] = true
	}
	for _, v := range virtualKeyAllowList {
		if e.Has(v) {
			allowed[v] = true
		}
	}

	out := make(storage.Row)
	for k, v := range raw {
		if allowed[k] && !dropped[k] {
			out[k] = v
		}
	}
	return out
}
