// Package storage provides the record-store abstraction for ClaimBridge.
//
// The store executes structured queries against persisted entity state and
// its shadow draft copies. It is deliberately verb-oriented: the mediation
// layer above composes these verbs into the draft lifecycle and never builds
// SQL of its own (outside the explicit raw escape hatch).
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates that no record matched the given keys.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Row is a single record as a plain field map. Composition children appear
// as a nested []interface{} of maps under their element name.
type Row map[string]interface{}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Selection describes a filtered read against one entity.
type Selection struct {
	// Entity is the entity name to read.
	Entity string

	// Draft targets the shadow draft table instead of the base table.
	Draft bool

	// Columns restricts the selected columns. Empty means all model columns.
	Columns []string

	// Where holds equality filters, combined with AND.
	Where Row

	// OrderBy names the column to sort by. Empty means no explicit order.
	OrderBy string

	// Descending reverses the sort order.
	Descending bool

	// Limit caps the number of returned rows. Zero means no cap at this
	// layer; the mediation layer applies its own default cap.
	Limit int

	// Offset skips the first N matching rows.
	Offset int
}

// RecordStore executes structured queries and draft lifecycle verbs against
// persisted entity state.
type RecordStore interface {
	// Select returns the rows matching the selection.
	Select(ctx context.Context, sel Selection) ([]Row, error)

	// Insert adds a row to the entity's base or draft table.
	Insert(ctx context.Context, entity string, draft bool, data Row) error

	// Update modifies rows matching keys and returns the affected count.
	Update(ctx context.Context, entity string, draft bool, keys, data Row) (int64, error)

	// NewDraft creates a fresh draft row, generating ID and DraftUUID as
	// needed, and returns the complete draft row.
	NewDraft(ctx context.Context, entity string, data Row) (Row, error)

	// EditDraft promotes an active record into draft-editing state and
	// returns the new draft row. Returns ErrNotFound when no active record
	// matches the keys.
	EditDraft(ctx context.Context, entity string, keys Row) (Row, error)

	// SaveDraft activates a draft: the draft row is merged into the active
	// record and destroyed. Returns the resulting active row.
	SaveDraft(ctx context.Context, entity string, keys Row) (Row, error)

	// DiscardDraft deletes a draft row and returns the affected count.
	DiscardDraft(ctx context.Context, entity string, keys Row) (int64, error)

	// Exec runs a raw statement. Read statements return rows; write
	// statements return the affected count. The allowWrite gate is enforced
	// by the mediation layer, not here.
	Exec(ctx context.Context, stmt string, args []interface{}) ([]Row, int64, error)

	// Close releases any resources held by the store.
	Close() error
}
