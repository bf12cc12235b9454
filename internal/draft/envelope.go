package draft

import (
	"encoding/json"

	"github.com/scrypster/claimbridge/internal/storage"
)

// Envelope is the single result shape every tool handler produces.
// Countable outcomes carry rows plus rowCount (rowCount always equals
// len(rows) when rows were fetched; for pure affected-row outcomes rows is
// an empty array). Single structured outcomes carry result instead. A bare
// number or bare array never appears at the top level.
type Envelope struct {
	Rows     []storage.Row
	RowCount *int
	Result   interface{}
	Metadata map[string]interface{}
}

// RowsEnvelope wraps fetched rows; rowCount mirrors the row slice length.
func RowsEnvelope(rows []storage.Row) Envelope {
	if rows == nil {
		rows = []storage.Row{}
	}
	n := len(rows)
	return Envelope{Rows: rows, RowCount: &n}
}

// CountEnvelope wraps a pure affected-row outcome: rowCount set, rows empty.
func CountEnvelope(n int) Envelope {
	return Envelope{Rows: []storage.Row{}, RowCount: &n}
}

// ResultEnvelope wraps a single structured outcome.
func ResultEnvelope(v interface{}) Envelope {
	return Envelope{Result: v}
}

// WithMeta attaches a metadata entry and returns the envelope for chaining.
func (e Envelope) WithMeta(key string, value interface{}) Envelope {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// MarshalJSON renders exactly one of the two permitted shapes:
// {rows, rowCount, metadata?} or {result, metadata?}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 3)
	if e.RowCount != nil {
		rows := e.Rows
		if rows == nil {
			rows = []storage.Row{}
		}
		out["rows"] = rows
		out["rowCount"] = *e.RowCount
	} else {
		out["result"] = e.Result
	}
	if len(e.Metadata) > 0 {
		out["metadata"] = e.Metadata
	}
	return json.Marshal(out)
}

// affectedCount reconciles the heterogeneous affected-rows shapes the data
// layer can produce (a number, an array of rows, or some other truthy
// value) into one integer.
func affectedCount(v interface{}) int {
	switch n := v.(type) {
	case nil:
		return 0
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case []storage.Row:
		return len(n)
	case []interface{}:
		return len(n)
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 1
	}
}
