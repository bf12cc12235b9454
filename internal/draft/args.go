package draft

import (
	"github.com/scrypster/claimbridge/internal/meta"
	"github.com/scrypster/claimbridge/internal/storage"
)

// Request is the normalized form of an untyped tool payload. LLM-generated
// calls mix a structured keys/data split with flat convenience fields (a
// bare ID or a status at the top level); every top-level field is
// deterministically classified before any business logic runs.
type Request struct {
	// Keys holds the explicit nested keys object.
	Keys storage.Row

	// Convenience holds flat top-level key-candidate fields (primary keys,
	// DraftUUID, IsActiveEntity). They rank below explicit Keys during
	// resolution.
	Convenience storage.Row

	// Data holds everything else: the explicit nested data object layered
	// over flat non-key fields (nested wins).
	Data storage.Row
}

// reservedArgs are tool-level argument names that are neither keys nor data.
var reservedArgs = map[string]bool{
	"entity":     true,
	"keys":       true,
	"data":       true,
	"child":      true,
	"entry":      true,
	"entries":    true,
	"columns":    true,
	"draft":      true,
	"where":      true,
	"limit":      true,
	"offset":     true,
	"sql":        true,
	"params":     true,
	"allowWrite": true,
}

// NormalizeArgs classifies a raw argument bag for the given entity.
// Precedence is fixed: explicit nested object > flat convenience field.
// Unclassified flat fields default to data.
func NormalizeArgs(e *meta.Entity, raw map[string]interface{}) Request {
	req := Request{
		Keys:        storage.Row{},
		Convenience: storage.Row{},
		Data:        storage.Row{},
	}

	for k, v := range raw {
		if reservedArgs[k] {
			continue
		}
		if isKeyCandidate(e, k) {
			req.Convenience[k] = v
		} else {
			req.Data[k] = v
		}
	}

	if nested, ok := raw["keys"].(map[string]interface{}); ok {
		for k, v := range nested {
			req.Keys[k] = v
		}
	}
	if nested, ok := raw["data"].(map[string]interface{}); ok {
		for k, v := range nested {
			req.Data[k] = v
		}
	}

	return req
}

// isKeyCandidate reports whether a top-level field name is a plausible key:
// a declared primary-key element or an allow-listed virtual draft field.
func isKeyCandidate(e *meta.Entity, name string) bool {
	if el, ok := e.Element(name); ok && el.Key {
		return true
	}
	return name == "DraftUUID" || name == "IsActiveEntity"
}

// HasExplicitKeys reports whether the caller supplied any key material at
// all. The auto-resolve fallback runs only when this is false: a caller who
// supplied wrong keys should fail loudly, not be silently redirected to a
// different draft.
func (r Request) HasExplicitKeys() bool {
	return len(r.Keys) > 0 || len(r.Convenience) > 0
}
