package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/claimbridge/internal/meta"
)

// Dialect abstracts the few SQL differences between the supported backends.
type Dialect interface {
	// Name identifies the dialect ("sqlite", "postgres").
	Name() string

	// Placeholder returns the parameter placeholder for the n-th argument
	// (1-indexed).
	Placeholder(n int) string

	// ColumnType maps an element type to the backend column type.
	ColumnType(t meta.ElementType) string

	// LimitOffset renders the LIMIT/OFFSET clause (empty when both are zero).
	LimitOffset(limit, offset int) string
}

// SQLStore implements RecordStore on top of database/sql. Both backend
// packages construct one of these with their own Dialect; all query building
// and draft lifecycle mechanics are shared.
type SQLStore struct {
	db      *sql.DB
	model   *meta.Model
	dialect Dialect
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, model *meta.Model, d Dialect) *SQLStore {
	return &SQLStore{db: db, model: model, dialect: d}
}

// DB exposes the underlying handle for backend-specific setup (pragmas,
// migrations).
func (s *SQLStore) DB() *sql.DB { return s.db }

// TableName returns the table backing the base or draft variant of an entity.
func TableName(entity string, draft bool) string {
	name := strings.ToLower(entity)
	if draft {
		return name + "_drafts"
	}
	return name
}

// CreateSchema creates the base and draft tables for every entity in the
// model. Entities that appear only as composition targets are skipped: their
// rows live denormalized inside the owning entity's composition column.
func (s *SQLStore) CreateSchema(ctx context.Context) error {
	targets := s.model.CompositionTargets()
	for _, name := range s.model.Names() {
		if targets[name] {
			continue
		}
		e, err := s.model.Entity(name)
		if err != nil {
			return err
		}
		if err := s.createTable(ctx, e, false); err != nil {
			return err
		}
		if e.Draft {
			if err := s.createTable(ctx, e, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SQLStore) createTable(ctx context.Context, e *meta.Entity, draft bool) error {
	var defs []string
	for _, col := range e.Columns(draft) {
		el, _ := e.Element(col)
		typ := s.dialect.ColumnType(el.Type)
		if el.Type == meta.TypeComposition {
			typ = s.dialect.ColumnType(meta.TypeString)
		}
		def := quoteIdent(col) + " " + typ
		if el.Key {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", TableName(e.Name, draft), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("storage: failed to create table for %s: %w", e.Name, err)
	}
	return nil
}

// quoteIdent quotes a column identifier. Element names are model-controlled,
// but several (like position) collide with SQL keywords.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

// Select returns the rows matching the selection.
func (s *SQLStore) Select(ctx context.Context, sel Selection) ([]Row, error) {
	e, err := s.model.Entity(sel.Entity)
	if err != nil {
		return nil, err
	}

	cols := sel.Columns
	if len(cols) == 0 {
		cols = e.Columns(sel.Draft)
	}
	for _, c := range cols {
		if !e.Has(c) {
			return nil, fmt.Errorf("%w: unknown column %q on entity %s", ErrInvalidInput, c, e.Name)
		}
	}
	if sel.OrderBy != "" && !e.Has(sel.OrderBy) {
		return nil, fmt.Errorf("%w: unknown order column %q on entity %s", ErrInvalidInput, sel.OrderBy, e.Name)
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(quoted, ", "), TableName(e.Name, sel.Draft))

	where, args, err := s.whereClause(e, sel.Where, 0)
	if err != nil {
		return nil, err
	}
	b.WriteString(where)

	if sel.OrderBy != "" {
		dir := "ASC"
		if sel.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", quoteIdent(sel.OrderBy), dir)
	}
	b.WriteString(s.dialect.LimitOffset(sel.Limit, sel.Offset))

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: select %s: %w", e.Name, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("storage: scan %s: %w", e.Name, err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			el, _ := e.Element(c)
			row[c] = decodeValue(el, vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: select %s: %w", e.Name, err)
	}
	return out, nil
}

// Insert adds a row to the entity's base or draft table. Columns absent from
// data are stored as NULL.
func (s *SQLStore) Insert(ctx context.Context, entity string, draft bool, data Row) error {
	e, err := s.model.Entity(entity)
	if err != nil {
		return err
	}

	var cols []string
	var args []interface{}
	for _, c := range e.Columns(draft) {
		v, ok := data[c]
		if !ok {
			continue
		}
		el, _ := e.Element(c)
		enc, err := encodeValue(el, v)
		if err != nil {
			return err
		}
		cols = append(cols, quoteIdent(c))
		args = append(args, enc)
	}
	if len(cols) == 0 {
		return fmt.Errorf("%w: insert into %s with no columns", ErrInvalidInput, entity)
	}

	ph := make([]string, len(args))
	for i := range args {
		ph[i] = s.dialect.Placeholder(i + 1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		TableName(e.Name, draft), strings.Join(cols, ", "), strings.Join(ph, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("storage: insert %s: %w", e.Name, err)
	}
	return nil
}

// Update modifies rows matching keys and returns the affected count.
func (s *SQLStore) Update(ctx context.Context, entity string, draft bool, keys, data Row) (int64, error) {
	e, err := s.model.Entity(entity)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: update of %s with no data", ErrInvalidInput, entity)
	}

	var sets []string
	var args []interface{}
	for _, c := range sortedKeys(data) {
		if !e.Has(c) {
			return 0, fmt.Errorf("%w: unknown column %q on entity %s", ErrInvalidInput, c, e.Name)
		}
		el, _ := e.Element(c)
		enc, err := encodeValue(el, data[c])
		if err != nil {
			return 0, err
		}
		args = append(args, enc)
		sets = append(sets, fmt.Sprintf("%s = %s", quoteIdent(c), s.dialect.Placeholder(len(args))))
	}

	where, whereArgs, err := s.whereClause(e, keys, len(args))
	if err != nil {
		return 0, err
	}
	args = append(args, whereArgs...)

	stmt := fmt.Sprintf("UPDATE %s SET %s%s", TableName(e.Name, draft), strings.Join(sets, ", "), where)
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("storage: update %s: %w", e.Name, err)
	}
	return res.RowsAffected()
}

// NewDraft creates a fresh draft row and returns it.
func (s *SQLStore) NewDraft(ctx context.Context, entity string, data Row) (Row, error) {
	e, err := s.model.Entity(entity)
	if err != nil {
		return nil, err
	}
	if !e.Draft {
		return nil, fmt.Errorf("%w: entity %s is not draft-enabled", ErrInvalidInput, e.Name)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	row := make(Row)
	for _, c := range e.Columns(true) {
		if v, ok := data[c]; ok {
			row[c] = v
		}
	}
	for _, k := range e.Keys() {
		el, _ := e.Element(k)
		if isEmpty(row[k]) && el.Type == meta.TypeUUID {
			row[k] = uuid.NewString()
		}
	}
	setIfPresent(e, row, "DraftUUID", uuid.NewString(), false)
	setIfPresent(e, row, "IsActiveEntity", false, true)
	setIfPresent(e, row, "HasActiveEntity", false, true)
	setIfPresent(e, row, "HasDraftEntity", false, true)
	setIfPresent(e, row, "createdAt", now, false)
	setIfPresent(e, row, "modifiedAt", now, false)

	if err := s.Insert(ctx, entity, true, row); err != nil {
		return nil, err
	}
	return row, nil
}

// EditDraft promotes an active record into draft-editing state.
func (s *SQLStore) EditDraft(ctx context.Context, entity string, keys Row) (Row, error) {
	e, err := s.model.Entity(entity)
	if err != nil {
		return nil, err
	}
	if !e.Draft {
		return nil, fmt.Errorf("%w: entity %s is not draft-enabled", ErrInvalidInput, e.Name)
	}

	where := keys.Clone()
	delete(where, "IsActiveEntity")
	delete(where, "DraftUUID")
	active, err := s.Select(ctx, Selection{Entity: entity, Where: where, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: no active %s record for keys", ErrNotFound, e.Name)
	}

	draft := make(Row)
	for _, c := range e.Columns(true) {
		if v, ok := active[0][c]; ok {
			draft[c] = v
		}
	}
	draft["DraftUUID"] = uuid.NewString()
	setIfPresent(e, draft, "IsActiveEntity", false, true)
	setIfPresent(e, draft, "HasActiveEntity", true, true)
	setIfPresent(e, draft, "HasDraftEntity", false, true)
	setIfPresent(e, draft, "modifiedAt", time.Now().UTC().Format(time.RFC3339), true)

	// Editing twice must not leave two draft rows for the same record.
	idKeys := make(Row)
	for _, k := range e.Keys() {
		idKeys[k] = draft[k]
	}
	if _, err := s.deleteRows(ctx, e, true, idKeys); err != nil {
		return nil, err
	}
	if err := s.Insert(ctx, entity, true, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// SaveDraft activates a draft and destroys the draft row.
func (s *SQLStore) SaveDraft(ctx context.Context, entity string, keys Row) (Row, error) {
	e, err := s.model.Entity(entity)
	if err != nil {
		return nil, err
	}

	drafts, err := s.Select(ctx, Selection{Entity: entity, Draft: true, Where: keys, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: no open %s draft for keys", ErrNotFound, e.Name)
	}
	draft := drafts[0]

	active := make(Row)
	for _, c := range e.Columns(false) {
		if v, ok := draft[c]; ok {
			active[c] = v
		}
	}
	active["IsActiveEntity"] = true
	setIfPresent(e, active, "modifiedAt", time.Now().UTC().Format(time.RFC3339), true)

	if err := s.upsert(ctx, e, active); err != nil {
		return nil, err
	}

	idKeys := make(Row)
	for _, k := range e.Keys() {
		idKeys[k] = draft[k]
	}
	if _, err := s.deleteRows(ctx, e, true, idKeys); err != nil {
		return nil, err
	}
	return active, nil
}

// DiscardDraft deletes a draft row and returns the affected count.
func (s *SQLStore) DiscardDraft(ctx context.Context, entity string, keys Row) (int64, error) {
	e, err := s.model.Entity(entity)
	if err != nil {
		return 0, err
	}
	where := keys.Clone()
	delete(where, "IsActiveEntity")
	return s.deleteRows(ctx, e, true, where)
}

// Exec runs a raw statement. Statements with a read-verb prefix are executed
// as queries; everything else is executed for its side effect.
func (s *SQLStore) Exec(ctx context.Context, stmt string, args []interface{}) ([]Row, int64, error) {
	verb := leadingKeyword(stmt)
	switch verb {
	case "SELECT", "WITH", "SHOW", "EXPLAIN", "PRAGMA":
		rows, err := s.db.QueryContext(ctx, stmt, args...)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: exec query: %w", err)
		}
		defer rows.Close()
		out, err := scanGeneric(rows)
		if err != nil {
			return nil, 0, err
		}
		return out, int64(len(out)), nil
	default:
		res, err := s.db.ExecContext(ctx, stmt, args...)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: exec: %w", err)
		}
		n, _ := res.RowsAffected()
		return nil, n, nil
	}
}

// Close releases the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// leadingKeyword extracts the first SQL keyword of a statement, uppercased.
func leadingKeyword(stmt string) string {
	fields := strings.Fields(strings.TrimSpace(stmt))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func (s *SQLStore) upsert(ctx context.Context, e *meta.Entity, row Row) error {
	var cols, ph, updates []string
	var args []interface{}
	keySet := make(map[string]bool)
	for _, k := range e.Keys() {
		keySet[k] = true
	}
	for _, c := range e.Columns(false) {
		v, ok := row[c]
		if !ok {
			continue
		}
		el, _ := e.Element(c)
		enc, err := encodeValue(el, v)
		if err != nil {
			return err
		}
		args = append(args, enc)
		cols = append(cols, quoteIdent(c))
		ph = append(ph, s.dialect.Placeholder(len(args)))
		if !keySet[c] {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", quoteIdent(c), quoteIdent(c)))
		}
	}

	keyCols := make([]string, len(e.Keys()))
	for i, k := range e.Keys() {
		keyCols[i] = quoteIdent(k)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		TableName(e.Name, false), strings.Join(cols, ", "), strings.Join(ph, ", "),
		strings.Join(keyCols, ", "), strings.Join(updates, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("storage: activate %s: %w", e.Name, err)
	}
	return nil
}

func (s *SQLStore) deleteRows(ctx context.Context, e *meta.Entity, draft bool, keys Row) (int64, error) {
	where, args, err := s.whereClause(e, keys, 0)
	if err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf("DELETE FROM %s%s", TableName(e.Name, draft), where)
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("storage: delete %s: %w", e.Name, err)
	}
	return res.RowsAffected()
}

// whereClause renders an AND-combined equality filter with deterministic
// column order. argOffset is the number of placeholders already consumed.
func (s *SQLStore) whereClause(e *meta.Entity, where Row, argOffset int) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	var conds []string
	var args []interface{}
	for _, c := range sortedKeys(where) {
		if !e.Has(c) {
			return "", nil, fmt.Errorf("%w: unknown filter column %q on entity %s", ErrInvalidInput, c, e.Name)
		}
		el, _ := e.Element(c)
		enc, err := encodeValue(el, where[c])
		if err != nil {
			return "", nil, err
		}
		args = append(args, enc)
		conds = append(conds, fmt.Sprintf("%s = %s", quoteIdent(c), s.dialect.Placeholder(argOffset+len(args))))
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func sortedKeys(r Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// setIfPresent assigns a value when the entity declares the element.
// With overwrite false an existing non-empty value is kept.
func setIfPresent(e *meta.Entity, row Row, name string, v interface{}, overwrite bool) {
	if !e.Has(name) {
		return
	}
	if !overwrite && !isEmpty(row[name]) {
		return
	}
	row[name] = v
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// encodeValue converts a row value into a driver-friendly representation.
// Compositions and any other nested structures are serialized as JSON text.
func encodeValue(el *meta.Element, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if el.Type == meta.TypeComposition {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("storage: failed to marshal composition %s: %w", el.Name, err)
		}
		return string(data), nil
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("storage: failed to marshal %s: %w", el.Name, err)
		}
		return string(data), nil
	}
	return v, nil
}

// decodeValue normalizes a scanned value back into the Row representation.
func decodeValue(el *meta.Element, v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch el.Type {
	case meta.TypeComposition:
		s, ok := v.(string)
		if !ok || s == "" {
			return v
		}
		var nested interface{}
		if err := json.Unmarshal([]byte(s), &nested); err != nil {
			return v
		}
		return nested
	case meta.TypeBool:
		switch n := v.(type) {
		case int64:
			return n != 0
		case float64:
			return n != 0
		}
	}
	return v
}

// scanGeneric reads arbitrary result rows (raw Exec queries have no model
// metadata to decode against).
func scanGeneric(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("storage: exec columns: %w", err)
	}
	var out []Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("storage: exec scan: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: exec rows: %w", err)
	}
	return out, nil
}
