package draft

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/claimbridge/internal/meta"
	"github.com/scrypster/claimbridge/internal/storage"
	"github.com/scrypster/claimbridge/internal/storage/sqlite"
)

func newTestMediator(t *testing.T) *Mediator {
	t.Helper()
	model := meta.Default()
	store, err := sqlite.NewRecordStore(filepath.Join(t.TempDir(), "claims.db"), model)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewMediator(model, store, NewCache(8))
}

func resultRow(t *testing.T, env Envelope) storage.Row {
	t.Helper()
	row, ok := env.Result.(storage.Row)
	require.True(t, ok, "envelope carries no result row")
	return row
}

func TestNewDraftAppliesDomainDefaults(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	env, err := m.New(ctx, "Claims", map[string]interface{}{
		"data": map[string]interface{}{"description": "Hagelschaden am Dach"},
	})
	require.NoError(t, err)

	row := resultRow(t, env)
	assert.Equal(t, "Eingegangen", row["status"])
	assert.Equal(t, "EUR", row["currency"])
	assert.Equal(t, "Hagelschaden am Dach", row["description"])
	assert.NotEmpty(t, row["ID"])
	assert.NotEmpty(t, row["DraftUUID"])
	assert.Equal(t, false, row["IsActiveEntity"])
	assert.Equal(t, "system", row["createdBy"])
}

func TestNewDraftCallerOverridesDefaults(t *testing.T) {
	m := newTestMediator(t)

	env, err := m.New(context.Background(), "Claims", map[string]interface{}{
		"data": map[string]interface{}{"status": "In Prüfung", "currency": "CHF"},
	})
	require.NoError(t, err)

	row := resultRow(t, env)
	assert.Equal(t, "In Prüfung", row["status"])
	assert.Equal(t, "CHF", row["currency"])
}

func TestNewDraftNotDraftEnabled(t *testing.T) {
	m := newTestMediator(t)

	_, err := m.New(context.Background(), "Vehicles", map[string]interface{}{})
	assert.ErrorIs(t, err, ErrNotDraftEnabled)
}

func TestNewDraftUnknownEntity(t *testing.T) {
	m := newTestMediator(t)

	_, err := m.New(context.Background(), "Bananas", map[string]interface{}{})
	assert.ErrorIs(t, err, meta.ErrUnknownEntity)
}

func TestDraftLifecycleNewPatchSave(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	env, err := m.New(ctx, "Claims", map[string]interface{}{
		"data": map[string]interface{}{"description": "Wildunfall B27"},
	})
	require.NoError(t, err)
	id := resultRow(t, env)["ID"].(string)

	// Patch without keys resumes the draft that was just created.
	patchEnv, err := m.Patch(ctx, "Claims", map[string]interface{}{
		"data": map[string]interface{}{"status": "In Prüfung", "estimatedCost": 2500.0},
	})
	require.NoError(t, err)
	require.NotNil(t, patchEnv.RowCount)
	assert.Equal(t, 1, *patchEnv.RowCount)

	// Save without keys activates the same draft.
	saveEnv, err := m.Save(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)
	active := resultRow(t, saveEnv)
	assert.Equal(t, id, active["ID"])
	assert.Equal(t, true, active["IsActiveEntity"])
	assert.Equal(t, "In Prüfung", active["status"])

	// The draft row is destroyed by the save.
	readEnv, err := m.Read(ctx, ReadRequest{Entity: "Claims", Draft: ModeDraft})
	require.NoError(t, err)
	assert.Empty(t, readEnv.Rows)

	// The active row is visible in active mode.
	readEnv, err = m.Read(ctx, ReadRequest{Entity: "Claims", Draft: ModeActive})
	require.NoError(t, err)
	require.Len(t, readEnv.Rows, 1)
	assert.Equal(t, id, readEnv.Rows[0]["ID"])

	// A saved draft cannot be resumed: its key pair died with it.
	_, err = m.Patch(ctx, "Claims", map[string]interface{}{
		"data": map[string]interface{}{"status": "Abgeschlossen"},
	})
	assert.ErrorIs(t, err, ErrNoMatchingDraft)
}

func TestEditPromotesActiveRecord(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	env, err := m.New(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)
	id := resultRow(t, env)["ID"].(string)
	_, err = m.Save(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)

	editEnv, err := m.Edit(ctx, "Claims", map[string]interface{}{"ID": id})
	require.NoError(t, err)
	draftRow := resultRow(t, editEnv)
	assert.Equal(t, id, draftRow["ID"])
	assert.Equal(t, false, draftRow["IsActiveEntity"])
	assert.Equal(t, true, draftRow["HasActiveEntity"])
	assert.NotEmpty(t, draftRow["DraftUUID"])

	// Editing twice must not leave two draft rows.
	_, err = m.Edit(ctx, "Claims", map[string]interface{}{"ID": id})
	require.NoError(t, err)
	readEnv, err := m.Read(ctx, ReadRequest{Entity: "Claims", Draft: ModeDraft})
	require.NoError(t, err)
	assert.Len(t, readEnv.Rows, 1)
}

func TestEditRequiresID(t *testing.T) {
	m := newTestMediator(t)

	_, err := m.Edit(context.Background(), "Claims", map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires keys.ID")
}

func TestEditUnknownRecord(t *testing.T) {
	m := newTestMediator(t)

	_, err := m.Edit(context.Background(), "Claims", map[string]interface{}{"ID": "does-not-exist"})
	assert.ErrorIs(t, err, ErrNoMatchingDraft)
}

func TestPatchEmptyPayload(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	_, err := m.New(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)

	_, err = m.Patch(ctx, "Claims", map[string]interface{}{})
	assert.ErrorIs(t, err, ErrEmptyPatch)

	// A payload consisting solely of key fields is still empty.
	_, err = m.Patch(ctx, "Claims", map[string]interface{}{"ID": "c1"})
	assert.ErrorIs(t, err, ErrEmptyPatch)
}

func TestPatchWithWrongExplicitKeysFailsLoudly(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	env, err := m.New(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)
	id := resultRow(t, env)["ID"].(string)

	// An ID with no draft row behind it must NOT be silently redirected to
	// the open draft via the database fallback.
	_, err = m.Patch(ctx, "Claims", map[string]interface{}{
		"keys": map[string]interface{}{"ID": "wrong-id"},
		"data": map[string]interface{}{"status": "In Prüfung"},
	})
	assert.ErrorIs(t, err, ErrNoMatchingDraft)

	// A draft row that exists but is missed by the supplied key set is a
	// different failure: the update matched nothing.
	_, err = m.Patch(ctx, "Claims", map[string]interface{}{
		"keys": map[string]interface{}{"ID": id, "DraftUUID": "stale-uuid"},
		"data": map[string]interface{}{"status": "In Prüfung"},
	})
	assert.ErrorIs(t, err, ErrNothingUpdated)
}

func TestPatchAfterCancelReportsNoMatchingDraft(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	env, err := m.New(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)
	id := resultRow(t, env)["ID"].(string)

	_, err = m.Cancel(ctx, "Claims", map[string]interface{}{
		"keys": map[string]interface{}{"ID": id},
	})
	require.NoError(t, err)

	// The draft is gone; patching its old keys must say so, not report a
	// zero-row update.
	_, err = m.Patch(ctx, "Claims", map[string]interface{}{
		"keys": map[string]interface{}{"ID": id},
		"data": map[string]interface{}{"status": "In Prüfung"},
	})
	assert.ErrorIs(t, err, ErrNoMatchingDraft)
}

func TestPatchAutoResolvesAcrossProcessRestart(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	env, err := m.New(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)
	id := resultRow(t, env)["ID"].(string)

	// Simulate a fresh process: the in-memory cache is empty but the draft
	// row survives in the database.
	m.cache = NewCache(8)
	m.resolver = NewResolver(m.cache, m.store)

	patchEnv, err := m.Patch(ctx, "Claims", map[string]interface{}{
		"data": map[string]interface{}{"status": "In Prüfung"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, *patchEnv.RowCount)

	entry, ok := m.cache.Get("Claims", id)
	require.True(t, ok)
	assert.NotEmpty(t, entry.Keys.DraftUUID)
}

func TestCancelDiscardsDraft(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	env, err := m.New(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)
	id := resultRow(t, env)["ID"].(string)

	cancelEnv, err := m.Cancel(ctx, "Claims", map[string]interface{}{"ID": id})
	require.NoError(t, err)
	assert.Equal(t, 1, *cancelEnv.RowCount)

	readEnv, err := m.Read(ctx, ReadRequest{Entity: "Claims", Draft: ModeDraft})
	require.NoError(t, err)
	assert.Empty(t, readEnv.Rows)

	// Cancelled state never becomes active.
	readEnv, err = m.Read(ctx, ReadRequest{Entity: "Claims", Draft: ModeActive})
	require.NoError(t, err)
	assert.Empty(t, readEnv.Rows)
}

func TestCancelDoesNotAutoResolveFromDatabase(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	_, err := m.New(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)

	// Fresh cache: cancel must not fall back to the database lookup.
	m.cache = NewCache(8)
	m.resolver = NewResolver(m.cache, m.store)

	_, err = m.Cancel(ctx, "Claims", map[string]interface{}{})
	assert.ErrorIs(t, err, ErrNoMatchingDraft)
}

func TestAdminData(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	_, err := m.New(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)

	env, err := m.AdminData(ctx, "Claims", nil, map[string]interface{}{})
	require.NoError(t, err)
	row := resultRow(t, env)
	assert.NotEmpty(t, row["DraftUUID"])
	assert.NotEmpty(t, row["createdAt"])
	assert.Equal(t, "system", row["createdBy"])
}

func TestAdminDataColumnFilter(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	_, err := m.New(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)

	env, err := m.AdminData(ctx, "Claims", []string{"createdBy"}, map[string]interface{}{})
	require.NoError(t, err)
	row := resultRow(t, env)
	assert.Equal(t, "system", row["createdBy"])
	assert.NotContains(t, row, "modifiedBy")
}

func TestAddChildAppendsWithoutReplacing(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	_, err := m.New(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)

	_, err = m.AddChild(ctx, "Claims", "items", []map[string]interface{}{
		{"description": "Windschutzscheibe", "amount": 800.0},
	}, map[string]interface{}{})
	require.NoError(t, err)

	env, err := m.AddChild(ctx, "Claims", "items", []map[string]interface{}{
		{"description": "Lackschaden", "amount": 450.0},
	}, map[string]interface{}{})
	require.NoError(t, err)

	row := resultRow(t, env)
	items, ok := row["items"].([]interface{})
	require.True(t, ok)
	require.Len(t, items, 2)

	// Existing children keep their position; new entries are appended.
	first := items[0].(map[string]interface{})
	second := items[1].(map[string]interface{})
	assert.Equal(t, "Windschutzscheibe", first["description"])
	assert.Equal(t, "Lackschaden", second["description"])

	// Framework-managed child fields are synthesized.
	assert.NotEmpty(t, second["ID"])
	assert.Equal(t, false, second["IsActiveEntity"])
	assert.NotEmpty(t, second["DraftUUID"])

	// The appended list is persisted on the draft row.
	readEnv, err := m.Read(ctx, ReadRequest{Entity: "Claims", Draft: ModeDraft})
	require.NoError(t, err)
	require.Len(t, readEnv.Rows, 1)
	persisted, ok := readEnv.Rows[0]["items"].([]interface{})
	require.True(t, ok)
	assert.Len(t, persisted, 2)
}

func TestAddChildRejectsNonComposition(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	_, err := m.New(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)

	_, err = m.AddChild(ctx, "Claims", "policy", []map[string]interface{}{{}}, map[string]interface{}{})
	require.ErrorIs(t, err, ErrNotAComposition)
	assert.Contains(t, err.Error(), "items")

	_, err = m.AddChild(ctx, "Claims", "nope", []map[string]interface{}{{}}, map[string]interface{}{})
	assert.ErrorIs(t, err, ErrNotAComposition)
}

func TestAddChildRequiresEntries(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	_, err := m.New(ctx, "Claims", map[string]interface{}{})
	require.NoError(t, err)

	_, err = m.AddChild(ctx, "Claims", "items", nil, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entries")
}

func TestReadDefaultRowCap(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	for i := 0; i < DefaultReadLimit+50; i++ {
		err := m.store.Insert(ctx, "Vehicles", false, storage.Row{
			"ID":           fmt.Sprintf("v%04d", i),
			"licensePlate": fmt.Sprintf("S-CB %d", i),
		})
		require.NoError(t, err)
	}

	env, err := m.Read(ctx, ReadRequest{Entity: "Vehicles"})
	require.NoError(t, err)
	assert.Len(t, env.Rows, DefaultReadLimit)
	assert.Equal(t, DefaultReadLimit, *env.RowCount)

	// An explicit limit overrides the cap.
	env, err = m.Read(ctx, ReadRequest{Entity: "Vehicles", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, env.Rows, 10)
}

func TestReadInvalidDraftMode(t *testing.T) {
	m := newTestMediator(t)

	_, err := m.Read(context.Background(), ReadRequest{Entity: "Claims", Draft: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid draft mode")
}

func TestReadDraftModeOnNonDraftEntity(t *testing.T) {
	m := newTestMediator(t)

	_, err := m.Read(context.Background(), ReadRequest{Entity: "Vehicles", Draft: ModeDraft})
	assert.ErrorIs(t, err, ErrNotDraftEnabled)
}

func TestReadCompositionTargetRejected(t *testing.T) {
	m := newTestMediator(t)

	// ClaimItems rows live inside the parent's composition column and have
	// no table; the error must point the caller at the parent.
	_, err := m.Read(context.Background(), ReadRequest{Entity: "ClaimItems"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "composition child of Claims")
	assert.Contains(t, err.Error(), "items")
}

func TestExecuteRawReadAllowed(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	err := m.store.Insert(ctx, "Vehicles", false, storage.Row{"ID": "v1", "make": "Audi"})
	require.NoError(t, err)

	env, err := m.ExecuteRaw(ctx, `SELECT "ID", "make" FROM vehicles`, nil, false)
	require.NoError(t, err)
	require.Len(t, env.Rows, 1)
	assert.Equal(t, "Audi", env.Rows[0]["make"])
	assert.Equal(t, 1, *env.RowCount)
}

func TestExecuteRawWriteGate(t *testing.T) {
	m := newTestMediator(t)
	ctx := context.Background()

	_, err := m.ExecuteRaw(ctx, `DELETE FROM vehicles`, nil, false)
	assert.ErrorIs(t, err, ErrWriteNotAllowed)

	// With allowWrite the same statement executes and reports the count.
	err = m.store.Insert(ctx, "Vehicles", false, storage.Row{"ID": "v1"})
	require.NoError(t, err)
	env, err := m.ExecuteRaw(ctx, `DELETE FROM vehicles`, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 1, *env.RowCount)
}

func TestExecuteRawEmptyStatement(t *testing.T) {
	m := newTestMediator(t)

	_, err := m.ExecuteRaw(context.Background(), "   ", nil, true)
	require.Error(t, err)
}
