// Package draft implements the draft-state mediation layer: a small,
// uniform verb surface (read, new/edit/patch/save/cancel, admin data,
// composition append, raw escape hatch) over a record store with shadow
// draft tables. It reconciles record identity, draft lifecycle, and the
// "resume the draft I was just touching" ergonomic for an external
// tool-calling agent that frequently omits keys.
package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/claimbridge/internal/meta"
	"github.com/scrypster/claimbridge/internal/reqctx"
	"github.com/scrypster/claimbridge/internal/storage"
)

// DefaultReadLimit caps unqualified reads. A tool-calling agent that
// forgets a limit must not pull the whole table into its context window.
const DefaultReadLimit = 200

// Draft visibility modes for Read.
const (
	ModeMerged = "merged"
	ModeActive = "active"
	ModeDraft  = "draft"
)

// readOnlyVerbs is the allow-list for raw statements without allowWrite.
var readOnlyVerbs = map[string]bool{
	"SELECT": true, "WITH": true, "SHOW": true, "EXPLAIN": true,
}

// Mediator is the draft-state mediation layer. All methods are safe for
// concurrent use; the cache carries its own lock and the store is expected
// to provide row-level update semantics (no additional coordination is
// attempted here).
type Mediator struct {
	model    *meta.Model
	store    storage.RecordStore
	cache    *Cache
	resolver *Resolver
}

// NewMediator wires the mediation layer. A nil cache gets a fresh one with
// the default capacity.
func NewMediator(model *meta.Model, store storage.RecordStore, cache *Cache) *Mediator {
	if cache == nil {
		cache = NewCache(DefaultCacheCapacity)
	}
	return &Mediator{
		model:    model,
		store:    store,
		cache:    cache,
		resolver: NewResolver(cache, store),
	}
}

// Model exposes the entity model (the tool manifest lists known entities).
func (m *Mediator) Model() *meta.Model { return m.model }

// ReadRequest describes a structured read.
type ReadRequest struct {
	Entity  string
	Columns []string
	Where   map[string]interface{}
	Limit   int
	Offset  int
	Draft   string // merged (default), active, or draft
}

// Read executes a filtered select with draft-mode handling and the default
// row cap.
func (m *Mediator) Read(ctx context.Context, req ReadRequest) (Envelope, error) {
	ctx = reqctx.Ensure(ctx)

	e, err := m.model.Entity(req.Entity)
	if err != nil {
		return Envelope{}, err
	}
	// Composition children have no table of their own; their rows live in
	// the parent's composition column.
	if parent, el, ok := m.compositionOwner(e.Name); ok {
		return Envelope{}, fmt.Errorf("entity %s is a composition child of %s; read %s and inspect its %q column", e.Name, parent, parent, el)
	}

	where := storage.Row{}
	for k, v := range req.Where {
		where[k] = v
	}

	sel := storage.Selection{
		Entity:  e.Name,
		Columns: req.Columns,
		Where:   where,
		Limit:   req.Limit,
		Offset:  req.Offset,
	}
	if sel.Limit <= 0 {
		sel.Limit = DefaultReadLimit
	}

	switch req.Draft {
	case "", ModeMerged:
		// Merged view: no implicit filter, whatever live rows match.
	case ModeActive:
		if e.Has("IsActiveEntity") {
			where["IsActiveEntity"] = true
		}
	case ModeDraft:
		if !e.Draft {
			return Envelope{}, fmt.Errorf("%w: %s", ErrNotDraftEnabled, e.Name)
		}
		sel.Draft = true
		where["IsActiveEntity"] = false
	default:
		return Envelope{}, fmt.Errorf("invalid draft mode %q: must be one of merged, active, draft", req.Draft)
	}

	rows, err := m.store.Select(ctx, sel)
	if err != nil {
		return Envelope{}, err
	}
	return RowsEnvelope(rows).WithMeta("entity", e.Name), nil
}

// New creates a fresh draft. Declared domain defaults apply first, then
// flat convenience fields, then the explicit data object (later wins).
func (m *Mediator) New(ctx context.Context, entity string, raw map[string]interface{}) (Envelope, error) {
	ctx = reqctx.Ensure(ctx)

	e, err := m.model.Entity(entity)
	if err != nil {
		return Envelope{}, err
	}
	if !e.Draft {
		return Envelope{}, fmt.Errorf("%w: %s", ErrNotDraftEnabled, e.Name)
	}

	req := NormalizeArgs(e, raw)

	data := storage.Row{}
	for k, v := range e.Defaults() {
		data[k] = v
	}
	// A caller-chosen ID (or draft UUID) for a new draft is legitimate.
	for k, v := range req.Convenience {
		data[k] = v
	}
	for k, v := range req.Keys {
		data[k] = v
	}
	for k, v := range req.Data {
		data[k] = v
	}
	user := reqctx.User(ctx)
	if e.Has("createdBy") {
		data["createdBy"] = user
	}
	if e.Has("modifiedBy") {
		data["modifiedBy"] = user
	}

	row, err := m.store.NewDraft(ctx, e.Name, data)
	if err != nil {
		return Envelope{}, err
	}

	key := keyFromRow(row)
	m.cache.Put(e.Name, key, row)
	return ResultEnvelope(row).WithMeta("entity", e.Name), nil
}

// Edit promotes an active record into draft-editing state.
func (m *Mediator) Edit(ctx context.Context, entity string, raw map[string]interface{}) (Envelope, error) {
	ctx = reqctx.Ensure(ctx)

	e, err := m.model.Entity(entity)
	if err != nil {
		return Envelope{}, err
	}
	if !e.Draft {
		return Envelope{}, fmt.Errorf("%w: %s", ErrNotDraftEnabled, e.Name)
	}

	req := NormalizeArgs(e, raw)
	merged := storage.Row{}
	for k, v := range req.Convenience {
		merged[k] = v
	}
	for k, v := range req.Keys {
		merged[k] = v
	}
	keys := SanitizeKeys(e, merged, "IsActiveEntity", "DraftUUID")
	if stringValue(keys["ID"]) == "" {
		return Envelope{}, fmt.Errorf("draft.edit requires keys.ID or a flat ID for entity %s", e.Name)
	}

	row, err := m.store.EditDraft(ctx, e.Name, keys)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Envelope{}, fmt.Errorf("%w: no active %s record with ID %v", ErrNoMatchingDraft, e.Name, keys["ID"])
		}
		return Envelope{}, err
	}

	key := keyFromRow(row)
	// Downstream patch/save calls need the draft UUID; back-fill it with a
	// point lookup when the edit result didn't carry one.
	if key.DraftUUID == "" {
		lookup, lerr := m.store.Select(ctx, storage.Selection{
			Entity: e.Name,
			Draft:  true,
			Where:  storage.Row{"ID": key.ID},
			Limit:  1,
		})
		if lerr == nil && len(lookup) > 0 {
			key.DraftUUID = stringValue(lookup[0]["DraftUUID"])
		}
	}
	m.cache.Put(e.Name, key, row)
	return ResultEnvelope(row).WithMeta("entity", e.Name), nil
}

// Patch updates fields of an open draft. Keys fall back through the
// two-tier resolver; the sanitized key set scopes the update.
func (m *Mediator) Patch(ctx context.Context, entity string, raw map[string]interface{}) (Envelope, error) {
	ctx = reqctx.Ensure(ctx)

	e, err := m.model.Entity(entity)
	if err != nil {
		return Envelope{}, err
	}
	if !e.Draft {
		return Envelope{}, fmt.Errorf("%w: %s", ErrNotDraftEnabled, e.Name)
	}

	req := NormalizeArgs(e, raw)
	if nonKeyFieldCount(e, req.Data) == 0 {
		return Envelope{}, fmt.Errorf("%w (entity %s)", ErrEmptyPatch, e.Name)
	}

	key, err := m.resolveWithFallback(ctx, e, req)
	if err != nil {
		return Envelope{}, err
	}

	keyRow := SanitizeKeys(e, key.Row())
	data := req.Data.Clone()
	if e.Has("modifiedBy") {
		data["modifiedBy"] = reqctx.User(ctx)
	}
	// The WHERE and SET sides must agree on the key fields.
	for k, v := range keyRow {
		if _, present := data[k]; !present {
			data[k] = v
		}
	}

	affected, err := m.store.Update(ctx, e.Name, true, keyRow, data)
	if err != nil {
		return Envelope{}, err
	}
	n := affectedCount(affected)
	if n == 0 {
		// Zero matches means either the draft was never there (or already
		// saved/cancelled) or the draft exists but the key set missed it.
		// The two failures need different errors: absent draft keys are
		// resolvable by draft.new, a missed update is not.
		exists, lerr := m.draftExists(ctx, e, keyRow)
		if lerr != nil {
			return Envelope{}, lerr
		}
		if !exists {
			m.cache.Delete(e.Name, key.ID)
			return Envelope{}, fmt.Errorf("%w: %s draft %s", ErrNoMatchingDraft, e.Name, key.ID)
		}
		return Envelope{}, fmt.Errorf("%w: %s draft %s", ErrNothingUpdated, e.Name, key.ID)
	}

	m.cache.Put(e.Name, key, req.Data)
	return CountEnvelope(n).WithMeta("entity", e.Name), nil
}

// Save activates a draft. On success the draft row ceases to exist and the
// cache entry is evicted: the key pair is meaningless from here on.
func (m *Mediator) Save(ctx context.Context, entity string, raw map[string]interface{}) (Envelope, error) {
	ctx = reqctx.Ensure(ctx)

	e, err := m.model.Entity(entity)
	if err != nil {
		return Envelope{}, err
	}
	if !e.Draft {
		return Envelope{}, fmt.Errorf("%w: %s", ErrNotDraftEnabled, e.Name)
	}

	req := NormalizeArgs(e, raw)
	key, err := m.resolveWithFallback(ctx, e, req)
	if err != nil {
		return Envelope{}, err
	}

	keyRow := SanitizeKeys(e, key.Row())
	row, err := m.store.SaveDraft(ctx, e.Name, keyRow)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.cache.Delete(e.Name, key.ID)
			return Envelope{}, fmt.Errorf("%w: %s draft %s", ErrNoMatchingDraft, e.Name, key.ID)
		}
		return Envelope{}, err
	}

	m.cache.Delete(e.Name, key.ID)
	return ResultEnvelope(row).WithMeta("entity", e.Name), nil
}

// Cancel discards a draft. IsActiveEntity is dropped from the lookup: a
// discard by definition targets whatever draft exists under the resolved ID.
func (m *Mediator) Cancel(ctx context.Context, entity string, raw map[string]interface{}) (Envelope, error) {
	ctx = reqctx.Ensure(ctx)

	e, err := m.model.Entity(entity)
	if err != nil {
		return Envelope{}, err
	}
	if !e.Draft {
		return Envelope{}, fmt.Errorf("%w: %s", ErrNotDraftEnabled, e.Name)
	}

	req := NormalizeArgs(e, raw)
	key, err := m.resolver.Resolve(e, req)
	if err != nil {
		return Envelope{}, err
	}

	keyRow := SanitizeKeys(e, key.Row(), "IsActiveEntity")
	affected, err := m.store.DiscardDraft(ctx, e.Name, keyRow)
	if err != nil {
		return Envelope{}, err
	}
	m.cache.Delete(e.Name, key.ID)
	n := affectedCount(affected)
	if n == 0 {
		return Envelope{}, fmt.Errorf("%w: %s draft %s", ErrNoMatchingDraft, e.Name, key.ID)
	}
	return CountEnvelope(n).WithMeta("entity", e.Name), nil
}

// AdminData reads the draft administrative metadata (who created/modified
// the draft, and when) with graceful degradation when the entity declares
// no admin elements.
func (m *Mediator) AdminData(ctx context.Context, entity string, columns []string, raw map[string]interface{}) (Envelope, error) {
	ctx = reqctx.Ensure(ctx)

	e, err := m.model.Entity(entity)
	if err != nil {
		return Envelope{}, err
	}
	if !e.Draft {
		return Envelope{}, fmt.Errorf("%w: %s", ErrNotDraftEnabled, e.Name)
	}

	req := NormalizeArgs(e, raw)
	key, err := m.resolveWithFallback(ctx, e, req)
	if err != nil {
		return Envelope{}, err
	}

	cols := e.AdminColumns()
	if len(cols) == 0 {
		cols = e.Keys()
	}
	cols = appendMissing(e.Keys(), cols)
	if len(columns) > 0 {
		filtered := intersect(cols, columns)
		if len(filtered) > 0 {
			cols = filtered
		}
	}

	rows, err := m.store.Select(ctx, storage.Selection{
		Entity:  e.Name,
		Draft:   true,
		Columns: cols,
		Where:   SanitizeKeys(e, key.Row()),
		Limit:   1,
	})
	if err != nil {
		return Envelope{}, err
	}
	if len(rows) == 0 {
		m.cache.Delete(e.Name, key.ID)
		return Envelope{}, fmt.Errorf("%w: %s draft %s", ErrNoMatchingDraft, e.Name, key.ID)
	}
	return ResultEnvelope(rows[0]).WithMeta("entity", e.Name), nil
}

// AddChild appends entries to a composition of an open draft. The child
// list is read first and appended to, never replaced wholesale: composition
// children are a nested sub-document of the parent row during draft editing.
func (m *Mediator) AddChild(ctx context.Context, entity, child string, entries []map[string]interface{}, raw map[string]interface{}) (Envelope, error) {
	ctx = reqctx.Ensure(ctx)

	e, err := m.model.Entity(entity)
	if err != nil {
		return Envelope{}, err
	}
	if !e.Draft {
		return Envelope{}, fmt.Errorf("%w: %s", ErrNotDraftEnabled, e.Name)
	}

	el, ok := e.Composition(child)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %q on entity %s (compositions: %s)",
			ErrNotAComposition, child, e.Name, strings.Join(compositionNames(e), ", "))
	}
	childEntity, err := m.model.Entity(el.Target)
	if err != nil {
		return Envelope{}, err
	}
	if len(entries) == 0 {
		return Envelope{}, fmt.Errorf("draft.addChild requires entries or entry for %s.%s", e.Name, child)
	}

	req := NormalizeArgs(e, raw)
	key, err := m.resolveWithFallback(ctx, e, req)
	if err != nil {
		return Envelope{}, err
	}
	keyRow := SanitizeKeys(e, key.Row())

	rows, err := m.store.Select(ctx, storage.Selection{
		Entity: e.Name,
		Draft:  true,
		Where:  keyRow,
		Limit:  1,
	})
	if err != nil {
		return Envelope{}, err
	}
	if len(rows) == 0 {
		m.cache.Delete(e.Name, key.ID)
		return Envelope{}, fmt.Errorf("%w: %s draft %s", ErrNoMatchingDraft, e.Name, key.ID)
	}

	existing, _ := rows[0][child].([]interface{})
	rootDraftUUID := stringValue(rows[0]["DraftUUID"])

	newList := make([]interface{}, 0, len(existing)+len(entries))
	newList = append(newList, existing...)
	for _, entry := range entries {
		prepared := prepareChildEntry(childEntity, entry, rootDraftUUID)
		newList = append(newList, prepared)
	}

	affected, err := m.store.Update(ctx, e.Name, true, keyRow, storage.Row{child: newList})
	if err != nil {
		return Envelope{}, err
	}
	if affectedCount(affected) == 0 {
		return Envelope{}, fmt.Errorf("%w: %s draft %s", ErrNothingUpdated, e.Name, key.ID)
	}

	m.cache.Put(e.Name, key, storage.Row{child: newList})
	return ResultEnvelope(storage.Row{child: newList}).
		WithMeta("entity", e.Name).
		WithMeta("appended", len(entries)), nil
}

// ExecuteRaw is the diagnostics trapdoor. Statements must lead with a
// read-only verb unless allowWrite is set; the structured draft surface is
// the primary API.
func (m *Mediator) ExecuteRaw(ctx context.Context, stmt string, params []interface{}, allowWrite bool) (Envelope, error) {
	ctx = reqctx.Ensure(ctx)

	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return Envelope{}, errors.New("sql statement is required")
	}
	verb := strings.ToUpper(strings.Fields(stmt)[0])
	if !readOnlyVerbs[verb] && !allowWrite {
		return Envelope{}, fmt.Errorf("%w: statement verb %s", ErrWriteNotAllowed, verb)
	}

	rows, affected, err := m.store.Exec(ctx, stmt, params)
	if err != nil {
		return Envelope{}, err
	}
	if readOnlyVerbs[verb] {
		return RowsEnvelope(rows), nil
	}
	return CountEnvelope(int(affected)), nil
}

// resolveWithFallback runs the in-memory resolution and, only when the
// caller supplied no explicit keys at all, falls back to the authoritative
// database lookup. Wrong caller keys fail loudly instead of being silently
// redirected to a different draft.
func (m *Mediator) resolveWithFallback(ctx context.Context, e *meta.Entity, req Request) (Key, error) {
	key, err := m.resolver.Resolve(e, req)
	if err == nil {
		return key, nil
	}
	if errors.Is(err, ErrNoMatchingDraft) && !req.HasExplicitKeys() {
		return m.resolver.AutoResolve(ctx, e)
	}
	return Key{}, err
}

// compositionOwner finds the entity and element under which a
// composition-target entity is stored.
func (m *Mediator) compositionOwner(name string) (string, string, bool) {
	for _, n := range m.model.Names() {
		e, err := m.model.Entity(n)
		if err != nil {
			continue
		}
		for _, c := range e.Compositions() {
			if c.Target == name {
				return e.Name, c.Name, true
			}
		}
	}
	return "", "", false
}

// draftExists reports whether any open draft row matches the primary-key
// portion of the given key set. Draft-control fields are deliberately left
// out of the lookup so a stale DraftUUID still finds the row.
func (m *Mediator) draftExists(ctx context.Context, e *meta.Entity, keyRow storage.Row) (bool, error) {
	where := storage.Row{}
	for _, k := range e.Keys() {
		if v, ok := keyRow[k]; ok {
			where[k] = v
		}
	}
	if len(where) == 0 {
		where = keyRow.Clone()
	}
	rows, err := m.store.Select(ctx, storage.Selection{Entity: e.Name, Draft: true, Where: where, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func keyFromRow(row storage.Row) Key {
	return Key{
		ID:             stringValue(row["ID"]),
		DraftUUID:      stringValue(row["DraftUUID"]),
		IsActiveEntity: false,
	}
}

// prepareChildEntry fills in the framework-managed fields of a composition
// child: a generated key when the child's key is a generated-identifier
// type, draft-control flags defaulted to false, and the root's draft UUID.
func prepareChildEntry(childEntity *meta.Entity, entry map[string]interface{}, rootDraftUUID string) map[string]interface{} {
	prepared := make(map[string]interface{}, len(entry)+4)
	for k, v := range entry {
		prepared[k] = v
	}
	for _, k := range childEntity.Keys() {
		el, _ := childEntity.Element(k)
		if el.Type == meta.TypeUUID && stringValue(prepared[k]) == "" {
			prepared[k] = uuid.NewString()
		}
	}
	for _, flag := range []string{"IsActiveEntity", "HasActiveEntity", "HasDraftEntity"} {
		if childEntity.Has(flag) {
			if _, present := prepared[flag]; !present {
				prepared[flag] = false
			}
		}
	}
	if childEntity.Has("DraftUUID") && rootDraftUUID != "" {
		prepared["DraftUUID"] = rootDraftUUID
	}
	return prepared
}

// nonKeyFieldCount counts data fields that are not key candidates; a patch
// consisting solely of key fields is empty for update purposes.
func nonKeyFieldCount(e *meta.Entity, data storage.Row) int {
	n := 0
	for k := range data {
		if !isKeyCandidate(e, k) {
			n++
		}
	}
	return n
}

func compositionNames(e *meta.Entity) []string {
	var names []string
	for _, c := range e.Compositions() {
		names = append(names, c.Name)
	}
	return names
}

func appendMissing(extra, base []string) []string {
	seen := make(map[string]bool, len(base))
	for _, b := range base {
		seen[b] = true
	}
	out := base
	for _, x := range extra {
		if !seen[x] {
			out = append(out, x)
		}
	}
	return out
}

func intersect(base, requested []string) []string {
	want := make(map[string]bool, len(requested))
	for _, r := range requested {
		want[r] = true
	}
	var out []string
	for _, b := range base {
		if want[b] {
			out = append(out, b)
		}
	}
	return out
}
