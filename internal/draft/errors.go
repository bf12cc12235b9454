package draft

import "errors"

// Recoverable-by-caller error taxonomy of the mediation layer. The tool
// dispatcher converts these into textual payloads the agent can act on;
// none of them is process-fatal.
var (
	// ErrNotDraftEnabled indicates the entity has no shadow draft table.
	ErrNotDraftEnabled = errors.New("entity is not draft-enabled")

	// ErrWriteNotAllowed indicates a raw statement with a write verb was
	// submitted without allowWrite.
	ErrWriteNotAllowed = errors.New("write statements require allowWrite=true")

	// ErrEmptyPatch indicates a patch carried no non-key data fields.
	ErrEmptyPatch = errors.New("patch contains no data fields")

	// ErrNothingUpdated indicates an update matched zero rows.
	ErrNothingUpdated = errors.New("no rows were updated")

	// ErrNoMatchingDraft indicates no open draft could be resolved from the
	// supplied keys, the cache, or the database.
	ErrNoMatchingDraft = errors.New("no matching draft; run draft.new first or supply explicit keys")

	// ErrNotAComposition indicates the named child element is not a
	// composition of the entity.
	ErrNotAComposition = errors.New("element is not a composition")
)
