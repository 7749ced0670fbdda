package txncore

import (
	"log/slog"
	"sync/atomic"

	"go.uber.org/multierr"

	"novadb/internal/catalog"
	"novadb/internal/coreerr"
	"novadb/internal/heap"
	"novadb/internal/value"
)

// Commit runs the full commit pipeline against tx: dirty-select check,
// namespace conflict check, row conflict check, dropped-table conflict
// check, deferred constraint checking, event fan-out, publish, and
// cleanup. The stages and publish run under commitMu, one commit at a
// time; cleanup runs after it is released. Cleanup always runs, even when
// an earlier stage fails, so a transaction's pins are released and its
// state always reaches a terminal value.
func (e *Engine) Commit(tx *Transaction) error {
	if err := tx.beginCommitting(); err != nil {
		return err
	}

	e.commitMu.Lock()
	err := e.runCommitStages(tx)

	if err != nil {
		tx.finish(Aborted)
	} else {
		tx.finish(Committed)
		e.publish(tx)
	}
	e.commitMu.Unlock()

	cleanupErr := e.cleanup(tx)
	return multierr.Append(err, cleanupErr)
}

func (e *Engine) runCommitStages(tx *Transaction) error {
	// stage (i): dirty-select check — reject if this transaction observed a
	// table whose committed state has since advanced, when configured to.
	if e.ErrorOnDirtySelect {
		for _, name := range tx.ReadTables() {
			src, ok := e.lookup(name)
			if !ok {
				continue
			}
			if src.LatestCommitID() > tx.BeginCommitID {
				return &coreerr.DirtySelectError{Table: name}
			}
		}
	}

	// stage (ii): namespace conflict — another commit must not have
	// created the same object name since this transaction began.
	for _, name := range tx.CreatedObjects() {
		if _, ok := e.lookup(name); ok {
			return &coreerr.ObjectDuplicatedConflictError{Name: name, Kind: "created"}
		}
	}

	// stage (iii): row conflict, checked per touched table against every
	// registry committed since this transaction's snapshot. Uses mt.Source
	// directly rather than an e.lookup(name) re-resolution: a table this
	// transaction itself created is deliberately not in the global registry
	// yet (publish, stage viii, is what adds it), so looking it up by name
	// here would wrongly read as a conflict for every CREATE TABLE followed
	// by an INSERT in the same transaction.
	mutables := tx.MutableTables()
	for name, mt := range mutables {
		for _, past := range mt.Source.FindChangesSinceCommit(tx.BeginCommitID + 1) {
			if row, clash := mt.Registry.TestCommitClash(past); clash {
				return &coreerr.RowRemoveConflictError{Table: name, Row: row}
			}
		}
	}

	// stage (iv): dropped-table conflict — a table this transaction dropped
	// must not have been modified by a commit since this transaction began.
	for _, name := range tx.DroppedObjects() {
		src, ok := e.lookup(name)
		if !ok {
			continue
		}
		if src.LatestCommitID() > tx.BeginCommitID {
			return &coreerr.DroppedModifiedConflictError{Table: name}
		}
	}

	// stage (v): build the synthetic check-view (added/removed rows
	// materialized from the mutable tables) and evaluate deferred
	// constraints against it.
	checker := NewChecker()
	for name, mt := range mutables {
		info := mt.Source.TableInfo()
		added := materializeAdded(mt)
		if err := checker.CheckAdded(info, mt, added, InitiallyDeferred); err != nil {
			return err
		}
		if err := checker.CheckAddedForeignKeys(info, added, e.parentExists); err != nil {
			return err
		}
		if err := e.checkChildReferences(name, mt.RemovedValues()); err != nil {
			return err
		}
	}

	// stage (vi): for every table whose constraints were altered in this
	// transaction, run full-table constraint validation — the new
	// constraint may be violated by rows this transaction never touched,
	// not just the ones staged in mutables above.
	for tableID, newInfo := range tx.ConstraintAlteredTables() {
		src, ok := e.lookupByID(tableID)
		if !ok {
			continue
		}
		scan := func(fn func(rn int64, row []any) error) error {
			return src.Heap.Scan(func(tid heap.TID, row []any) error {
				return fn(RowNumberFromTID(tid), row)
			})
		}
		if err := checker.CheckTable(newInfo, scan); err != nil {
			return err
		}
	}

	// stage (vii): enqueue a post-commit notification for each table this
	// transaction actually changed. Queued on tx now so cleanup can fire
	// them only after commit genuinely succeeds.
	for name, mt := range mutables {
		added := mt.Registry.AddedRows()
		removed := mt.Registry.RemovedRows()
		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		tx.RaiseEvent(RaisedEvent{
			Table:   name,
			TableID: mt.Source.ID,
			Added:   rowNumbers(added),
			Removed: rowNumbers(removed),
		})
	}

	return nil
}

// rowNumbers collects the keys of a row-number multiset in no particular
// order, for RaisedEvent's Added/Removed lists.
func rowNumbers(m map[int64]int) []int64 {
	out := make([]int64, 0, len(m))
	for rn := range m {
		out = append(out, rn)
	}
	return out
}

// materializeAdded reads the current row bytes for every row-number this
// transaction added or update-added; a miss means the same transaction
// deleted the row again later, and it is silently skipped.
func materializeAdded(mt *MutableTable) map[int64][]any {
	rows := mt.Registry.AddedRows()
	out := make(map[int64][]any, len(rows))
	for rn := range rows {
		if row, err := mt.Get(rn); err == nil {
			out[rn] = row
		}
	}
	return out
}

// parentExists scans cons.RefTable for a row whose RefColumns project to
// key, satisfying CheckAddedForeignKeys' "parent must exist" rule.
func (e *Engine) parentExists(cons catalog.Constraint, key []any) bool {
	src, ok := e.lookup(cons.RefTable)
	if !ok {
		return false
	}
	idx := columnIndexes(src.TableInfo(), cons.RefColumns)
	found := false
	_ = src.Heap.Scan(func(_ heap.TID, row []any) error {
		if !found && rowMatchesKey(row, idx, key) {
			found = true
		}
		return nil
	})
	return found
}

// checkChildReferences enforces "no child row may still reference a
// removed parent row": for every visible table declaring an FK back to
// table, scan it for a row whose FK columns project to a key that was
// just removed from table. removed carries the pre-deletion row bytes the
// MutableTable captured at Delete/Update time.
func (e *Engine) checkChildReferences(table string, removed map[int64][]any) error {
	if len(removed) == 0 {
		return nil
	}
	parent, ok := e.lookup(table)
	if !ok {
		return nil
	}
	parentInfo := parent.TableInfo()

	for _, child := range e.AllVisible() {
		info := child.TableInfo()
		for _, cons := range info.Constraints {
			if cons.Kind != catalog.ConstraintForeignKey || cons.RefTable != parentInfo.Name.String() {
				continue
			}
			childIdx := columnIndexes(info, cons.Columns)
			parentIdx := columnIndexes(parentInfo, cons.RefColumns)

			for rn, oldRow := range removed {
				if oldRow == nil {
					continue
				}
				key := projectKey(oldRow, parentIdx)
				var violation error
				_ = child.Heap.Scan(func(_ heap.TID, row []any) error {
					if violation != nil {
						return nil
					}
					if rowMatchesKey(row, childIdx, key) {
						violation = &coreerr.ConstraintViolation{
							Constraint: cons.Name,
							Kind:       coreerr.ConstraintForeignKey,
							Table:      parentInfo.Name.String(),
							Row:        rn,
						}
					}
					return nil
				})
				if violation != nil {
					return violation
				}
			}
		}
	}
	return nil
}

// rowMatchesKey compares via value.EqualAny rather than Go's own `!=`:
// binary/BLOB columns decode to []byte, which panics under `!=`.
func rowMatchesKey(row []any, idx []int, key []any) bool {
	if len(idx) != len(key) {
		return false
	}
	for i, ci := range idx {
		if ci < 0 || ci >= len(row) || !value.EqualAny(row[ci], key[i]) {
			return false
		}
	}
	return true
}

// cleanup releases every pin this transaction held, regardless of commit
// outcome, and on a successful commit fires any raised events.
func (e *Engine) cleanup(tx *Transaction) error {
	for name, src := range tx.visibleSources() {
		if ok := src.Unpin(); !ok {
			slog.Debug("txncore: unpin underflow", "table", name)
		}
	}
	if tx.State() == Committed {
		e.Events.Fire(tx.Events())
	}
	return nil
}

// publish advances the global commit-id, applies every DDL operation this
// transaction staged (creates, drops, constraint alters — nothing about
// these touched global state before now), attaches each mutated table's
// registry and flushed index to its Source, then flushes the table state
// store so a crash after this point replays the same visible/deleted
// lists. Runs under commitMu so commit-id advancement and table-state
// flush are serialized across concurrently committing transactions.
func (e *Engine) publish(tx *Transaction) {
	newCommitID := atomic.AddUint64(&e.commitID, 1)

	for name, src := range tx.CreatedSources() {
		e.publishCreateTable(src)
		slog.Debug("txncore: create table published", "table", name, "commit_id", newCommitID)
	}
	for name, src := range tx.DroppedSources() {
		if err := e.publishDropTable(name, src); err != nil {
			slog.Error("txncore: drop table publish failed", "table", name, "err", err, "commit_id", newCommitID)
		}
	}
	for tableID, newInfo := range tx.ConstraintAlteredTables() {
		if src, ok := e.lookupByID(tableID); ok {
			src.SetInfo(newInfo)
		}
	}

	for _, mt := range tx.MutableTables() {
		mt.Source.CommitTransactionChange(newCommitID, mt.Registry, mt.Flush())
	}
	if err := e.state.Flush(); err != nil {
		slog.Error("txncore: table state flush failed after commit", "err", err, "commit_id", newCommitID)
	}
	slog.Debug("txncore: commit published", "commit_id", newCommitID)
}

// Rollback discards every mutation tx made and releases its pins. This
// engine's heap mutates row bytes in place rather than buffering until
// commit, so undoing the physical writes is the caller's (statement
// executor's) responsibility via its own undo log; the transactional
// core's rollback is the bookkeeping half — registries are never attached
// to their Source's history, so FindChangesSinceCommit never observes
// them.
func (e *Engine) Rollback(tx *Transaction) error {
	if err := tx.beginRollingBack(); err != nil {
		return err
	}
	for _, mt := range tx.MutableTables() {
		mt.Source.RollbackTransactionChange(mt.Registry)
	}
	tx.finish(Aborted)
	return e.cleanup(tx)
}
