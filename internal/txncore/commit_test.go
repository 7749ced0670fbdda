package txncore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"novadb/internal/bufferpool"
	"novadb/internal/catalog"
	"novadb/internal/coreerr"
	"novadb/internal/heap"
	"novadb/internal/record"
	"novadb/internal/security"
	"novadb/internal/storage"
	"novadb/internal/store"
	"novadb/internal/tablestate"
)

// newTestEngine builds a fresh Engine over a temp-dir table state store,
// the same wiring db_engine.go does at startup.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()

	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "tablestate"}
	bp := bufferpool.NewPool(sm, fs, bufferpool.DefaultCapacity)
	ovf := storage.NewOverflowManager(sm, storage.LocalFileSet{Dir: dir, Base: "tablestate_ovf"})
	ps, err := store.Open(sm, fs, bp, ovf)
	require.NoError(t, err)

	ts, _, err := tablestate.Create(ps)
	require.NoError(t, err)

	return NewEngine(ts, security.AllowAllChecker{}, 2)
}

// newHeapTable builds a standalone heap.Table (its own FileSet) under dir.
func newHeapTable(t *testing.T, dir, name string, schema record.Schema) *heap.Table {
	t.Helper()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: name}
	bp := bufferpool.NewPool(sm, fs, bufferpool.DefaultCapacity)
	ovf := storage.NewOverflowManager(sm, storage.LocalFileSet{Dir: dir, Base: name + "_ovf"})
	return heap.NewTable(name, schema, sm, fs, bp, ovf, 0)
}

func idTextSchema() record.Schema {
	return record.Schema{Cols: []record.Column{
		{Name: "id", Type: record.ColInt64, Nullable: false},
		{Name: "name", Type: record.ColText, Nullable: true},
	}}
}

// registerTable builds a heap.Table + TableInfo and publishes it directly
// (Engine.CreateTable's immediate path) so tests can start from a table
// that already exists before any transaction begins.
func registerTable(t *testing.T, e *Engine, dir, name string, cols []catalog.Column, cons []catalog.Constraint) (*Source, *heap.Table) {
	t.Helper()
	schema := record.Schema{Cols: make([]record.Column, len(cols))}
	for i, c := range cols {
		schema.Cols[i] = record.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	}
	tbl := newHeapTable(t, dir, name, schema)
	info := &catalog.TableInfo{
		Name:        catalog.ObjectName{Name: name},
		Columns:     cols,
		Constraints: cons,
	}
	src, err := e.CreateTable(info, tbl)
	require.NoError(t, err)
	return src, tbl
}

func idTextColumns() []catalog.Column {
	return []catalog.Column{
		{Name: "id", Type: record.ColInt64, Nullable: false},
		{Name: "name", Type: record.ColText, Nullable: true},
	}
}

// TestCommit_ConcurrentInsertsNoClash: two transactions begun off the same
// snapshot, each inserting distinct new rows into the same table, must
// both commit cleanly — pure inserts never clash (Registry.TestCommitClash).
func TestCommit_ConcurrentInsertsNoClash(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	registerTable(t, e, dir, "users", idTextColumns(), nil)

	tx1 := e.Begin()
	tx2 := e.Begin()

	mt1, err := tx1.GetMutableTable("users")
	require.NoError(t, err)
	_, err = mt1.Insert([]any{int64(1), "alice"})
	require.NoError(t, err)

	mt2, err := tx2.GetMutableTable("users")
	require.NoError(t, err)
	_, err = mt2.Insert([]any{int64(2), "bob"})
	require.NoError(t, err)

	require.NoError(t, e.Commit(tx1))
	require.NoError(t, e.Commit(tx2))

	src, ok := e.lookup("users")
	require.True(t, ok)
	var names []string
	require.NoError(t, src.Heap.Scan(func(_ heap.TID, row []any) error {
		names = append(names, row[1].(string))
		return nil
	}))
	require.ElementsMatch(t, []string{"alice", "bob"}, names)
}

// TestCommit_UpdateConflict_RowRemoveConflictError: two transactions begin
// off the same snapshot of a row, both update it; the first to commit
// succeeds, the second must fail with RowRemoveConflictError.
func TestCommit_UpdateConflict_RowRemoveConflictError(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	_, tbl := registerTable(t, e, dir, "users", idTextColumns(), nil)

	tid, err := tbl.Insert([]any{int64(1), "alice"})
	require.NoError(t, err)
	rn := RowNumberFromTID(tid)

	tx1 := e.Begin()
	tx2 := e.Begin()

	mt1, err := tx1.GetMutableTable("users")
	require.NoError(t, err)
	require.NoError(t, mt1.Update(rn, []any{int64(1), "alice-v2"}))

	mt2, err := tx2.GetMutableTable("users")
	require.NoError(t, err)
	require.NoError(t, mt2.Update(rn, []any{int64(1), "alice-v3"}))

	require.NoError(t, e.Commit(tx1))

	err = e.Commit(tx2)
	require.Error(t, err)
	var conflict *coreerr.RowRemoveConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "users", conflict.Table)
}

// TestCommit_DirtySelect: with ErrorOnDirtySelect on, a transaction that
// only read a table whose committed state advanced since must fail commit
// with DirtySelectError, even though it made no conflicting write itself.
func TestCommit_DirtySelect(t *testing.T) {
	e := newTestEngine(t)
	e.ErrorOnDirtySelect = true
	dir := t.TempDir()
	registerTable(t, e, dir, "users", idTextColumns(), nil)

	tx1 := e.Begin()
	_, _, err := tx1.GetTable("users")
	require.NoError(t, err)

	tx2 := e.Begin()
	mt2, err := tx2.GetMutableTable("users")
	require.NoError(t, err)
	_, err = mt2.Insert([]any{int64(1), "alice"})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2))

	err = e.Commit(tx1)
	require.Error(t, err)
	var dirty *coreerr.DirtySelectError
	require.ErrorAs(t, err, &dirty)
}

// TestCommit_DirtySelect_OffByDefault: the same interleaving must commit
// cleanly when ErrorOnDirtySelect is left at its default (false).
func TestCommit_DirtySelect_OffByDefault(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	registerTable(t, e, dir, "users", idTextColumns(), nil)

	tx1 := e.Begin()
	_, _, err := tx1.GetTable("users")
	require.NoError(t, err)

	tx2 := e.Begin()
	mt2, err := tx2.GetMutableTable("users")
	require.NoError(t, err)
	_, err = mt2.Insert([]any{int64(1), "alice"})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2))

	require.NoError(t, e.Commit(tx1))
}

// TestSession_DDLNamespaceConflict: two sessions each stage CREATE TABLE
// for the same name off overlapping snapshots; the first to commit wins,
// the second must fail with ObjectDuplicatedConflictError (stage ii).
func TestSession_DDLNamespaceConflict(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	schema := idTextSchema()

	s1 := NewSession(e, "alice")
	require.NoError(t, s1.BeginTransaction())
	tbl1 := newHeapTable(t, dir, "widgets_1", schema)
	_, err := s1.CreateTable(&catalog.TableInfo{Name: catalog.ObjectName{Name: "widgets"}, Columns: idTextColumns()}, tbl1)
	require.NoError(t, err)

	s2 := NewSession(e, "bob")
	require.NoError(t, s2.BeginTransaction())
	tbl2 := newHeapTable(t, dir, "widgets_2", schema)
	_, err = s2.CreateTable(&catalog.TableInfo{Name: catalog.ObjectName{Name: "widgets"}, Columns: idTextColumns()}, tbl2)
	require.NoError(t, err)

	require.NoError(t, s1.Commit())

	err = s2.Commit()
	require.Error(t, err)
	var conflict *coreerr.ObjectDuplicatedConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "widgets", conflict.Name)
}

// TestRollback_CreateTable_LeavesNoTrace: a transaction that stages a
// CREATE TABLE and then rolls back must leave the engine's visible set
// exactly as it was — nothing published outside of commit's publish stage.
func TestRollback_CreateTable_LeavesNoTrace(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	tbl := newHeapTable(t, dir, "ghosts", idTextSchema())

	s := NewSession(e, "alice")
	require.NoError(t, s.BeginTransaction())
	_, err := s.CreateTable(&catalog.TableInfo{Name: catalog.ObjectName{Name: "ghosts"}, Columns: idTextColumns()}, tbl)
	require.NoError(t, err)

	require.NoError(t, s.Rollback())

	_, ok := e.lookup("ghosts")
	require.False(t, ok, "rolled back CREATE TABLE must not be visible")
}

// TestRollback_DropTable_LeavesNoTrace: a transaction that stages a DROP
// TABLE and then rolls back must leave the table visible in the engine.
func TestRollback_DropTable_LeavesNoTrace(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	registerTable(t, e, dir, "users", idTextColumns(), nil)

	s := NewSession(e, "alice")
	require.NoError(t, s.BeginTransaction())
	require.NoError(t, s.DropTable("users"))
	require.NoError(t, s.Rollback())

	_, ok := e.lookup("users")
	require.True(t, ok, "rolled back DROP TABLE must leave the table visible")
}

// TestCommit_DropTable_Publishes: the mirror image — a committed DROP
// TABLE must actually retire the table from the visible set.
func TestCommit_DropTable_Publishes(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	registerTable(t, e, dir, "users", idTextColumns(), nil)

	s := NewSession(e, "alice")
	require.NoError(t, s.BeginTransaction())
	require.NoError(t, s.DropTable("users"))
	require.NoError(t, s.Commit())

	_, ok := e.lookup("users")
	require.False(t, ok)
}

// TestCommit_DeferredForeignKey: inserting a child row whose FK column
// does not match any parent row must fail commit (CheckAddedForeignKeys).
func TestCommit_DeferredForeignKey(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	registerTable(t, e, dir, "parents", idTextColumns(), nil)

	childCols := []catalog.Column{
		{Name: "id", Type: record.ColInt64, Nullable: false},
		{Name: "parent_id", Type: record.ColInt64, Nullable: true},
	}
	childCons := []catalog.Constraint{{
		Name: "fk_parent", Kind: catalog.ConstraintForeignKey,
		Columns: []string{"parent_id"}, RefTable: "parents", RefColumns: []string{"id"},
	}}
	registerTable(t, e, dir, "children", childCols, childCons)

	tx := e.Begin()
	mt, err := tx.GetMutableTable("children")
	require.NoError(t, err)
	_, err = mt.Insert([]any{int64(1), int64(999)}) // no parent row with id=999
	require.NoError(t, err)

	err = e.Commit(tx)
	require.Error(t, err)
	var violation *coreerr.ConstraintViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, coreerr.ConstraintForeignKey, violation.Kind)
}

// TestCommit_DeferredForeignKey_ParentPresent: the same shape, but with a
// matching parent row, must commit cleanly.
func TestCommit_DeferredForeignKey_ParentPresent(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	_, parentTbl := registerTable(t, e, dir, "parents", idTextColumns(), nil)
	_, err := parentTbl.Insert([]any{int64(999), "root"})
	require.NoError(t, err)

	childCols := []catalog.Column{
		{Name: "id", Type: record.ColInt64, Nullable: false},
		{Name: "parent_id", Type: record.ColInt64, Nullable: true},
	}
	childCons := []catalog.Constraint{{
		Name: "fk_parent", Kind: catalog.ConstraintForeignKey,
		Columns: []string{"parent_id"}, RefTable: "parents", RefColumns: []string{"id"},
	}}
	registerTable(t, e, dir, "children", childCols, childCons)

	tx := e.Begin()
	mt, err := tx.GetMutableTable("children")
	require.NoError(t, err)
	_, err = mt.Insert([]any{int64(1), int64(999)})
	require.NoError(t, err)

	require.NoError(t, e.Commit(tx))
}

// TestSession_AlterTableConstraints_FullTableValidation: stage (vi) — a
// NOT NULL constraint added by ALTER must be validated against every row
// already in the table, not merely rows this transaction touched.
func TestSession_AlterTableConstraints_FullTableValidation(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	_, tbl := registerTable(t, e, dir, "users", idTextColumns(), nil)
	_, err := tbl.Insert([]any{int64(1), nil}) // name is NULL, pre-existing

	require.NoError(t, err)

	s := NewSession(e, "alice")
	require.NoError(t, s.BeginTransaction())
	newInfo := &catalog.TableInfo{
		Name:    catalog.ObjectName{Name: "users"},
		Columns: []catalog.Column{{Name: "id", Type: record.ColInt64}, {Name: "name", Type: record.ColText}},
	}
	require.NoError(t, s.AlterTableConstraints("users", newInfo))

	err = s.Commit()
	require.Error(t, err)
	var violation *coreerr.ConstraintViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, coreerr.ConstraintNotNull, violation.Kind)
}

// TestSession_AlterTableConstraints_PublishesNewSchema: a successful ALTER
// must leave the new TableInfo visible on the Source after commit.
func TestSession_AlterTableConstraints_PublishesNewSchema(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	src, _ := registerTable(t, e, dir, "users", idTextColumns(), nil)

	s := NewSession(e, "alice")
	require.NoError(t, s.BeginTransaction())
	newCons := []catalog.Constraint{{Name: "uq_id", Kind: catalog.ConstraintUnique, Columns: []string{"id"}}}
	newInfo := &catalog.TableInfo{Name: catalog.ObjectName{Name: "users"}, Columns: idTextColumns(), Constraints: newCons}
	require.NoError(t, s.AlterTableConstraints("users", newInfo))
	require.NoError(t, s.Commit())

	require.Len(t, src.TableInfo().Constraints, 1)
	require.Equal(t, "uq_id", src.TableInfo().Constraints[0].Name)
}

// TestCommit_EventsFired (stage vii): a committed insert must fire exactly
// one RaisedEvent to every subscribed listener, carrying the added row.
func TestCommit_EventsFired(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	src, _ := registerTable(t, e, dir, "users", idTextColumns(), nil)

	received := make(chan RaisedEvent, 4)
	e.Events.Subscribe(func(ev RaisedEvent) { received <- ev })

	tx := e.Begin()
	mt, err := tx.GetMutableTable("users")
	require.NoError(t, err)
	rn, err := mt.Insert([]any{int64(1), "alice"})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))

	ev := <-received
	require.Equal(t, "users", ev.Table)
	require.Equal(t, src.ID, ev.TableID)
	require.Contains(t, ev.Added, rn)
	require.Empty(t, ev.Removed)
}

// TestCommit_NoEventWhenNothingChanged: a read-only transaction (no
// mutable tables touched) must not raise any event.
func TestCommit_NoEventWhenNothingChanged(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	registerTable(t, e, dir, "users", idTextColumns(), nil)

	var fired bool
	e.Events.Subscribe(func(RaisedEvent) { fired = true })

	tx := e.Begin()
	_, _, err := tx.GetTable("users")
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))

	require.False(t, fired)
}

// TestCommit_DroppedTableConflict: a transaction that drops a table must
// fail if some other commit modified that table since this transaction
// began (stage iv).
func TestCommit_DroppedTableConflict(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	registerTable(t, e, dir, "users", idTextColumns(), nil)

	s1 := NewSession(e, "alice")
	require.NoError(t, s1.BeginTransaction())
	require.NoError(t, s1.DropTable("users"))

	tx2 := e.Begin()
	mt2, err := tx2.GetMutableTable("users")
	require.NoError(t, err)
	_, err = mt2.Insert([]any{int64(1), "bob"})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2))

	err = s1.Commit()
	require.Error(t, err)
	var conflict *coreerr.DroppedModifiedConflictError
	require.ErrorAs(t, err, &conflict)
}
