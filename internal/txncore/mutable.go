package txncore

import "novadb/internal/heap"

// MutableTable is a transaction-bound view over one Source: every mutation
// goes through the underlying heap.Table (the existing row-storage engine)
// and is also recorded into Registry so the commit pipeline can merge,
// conflict-check, and replay it later.
type MutableTable struct {
	Source   *Source
	Heap     *heap.Table
	Registry *Registry
	Index    *IndexSet

	// removedValues captures the row bytes a Delete/Update saw just before
	// overwriting or removing them, since the heap mutates in place and the
	// commit pipeline's deferred constraint checks need the pre-removal
	// values a plain row-number cannot recover afterward.
	removedValues map[int64][]any
}

func (m *MutableTable) Insert(values []any) (int64, error) {
	tid, err := m.Heap.Insert(values)
	if err != nil {
		return 0, err
	}
	rn := RowNumberFromTID(tid)
	m.Registry.Add(rn)
	return rn, nil
}

// Update overwrites the row at rn in place. The heap does not relocate
// rows on update, so the "new" row number raised for the event pair is the
// same physical row number as the old one; see Registry.RaiseUpdate.
func (m *MutableTable) Update(rn int64, values []any) error {
	tid := TIDFromRowNumber(rn)
	old, _ := m.Heap.Get(tid)
	if err := m.Heap.Update(tid, values); err != nil {
		return err
	}
	m.captureRemoved(rn, old)
	m.Registry.RaiseUpdate(rn, rn)
	return nil
}

func (m *MutableTable) Delete(rn int64) error {
	tid := TIDFromRowNumber(rn)
	old, _ := m.Heap.Get(tid)
	if err := m.Heap.Delete(tid); err != nil {
		return err
	}
	m.captureRemoved(rn, old)
	m.Registry.Remove(rn)
	return nil
}

func (m *MutableTable) captureRemoved(rn int64, row []any) {
	if m.removedValues == nil {
		m.removedValues = map[int64][]any{}
	}
	m.removedValues[rn] = row
}

// RemovedValues returns the pre-removal row bytes captured by this
// transaction's own Delete/Update calls, keyed by row number.
func (m *MutableTable) RemovedValues() map[int64][]any {
	return m.removedValues
}

func (m *MutableTable) Get(rn int64) ([]any, error) {
	return m.Heap.Get(TIDFromRowNumber(rn))
}

func (m *MutableTable) Scan(fn func(rn int64, row []any) error) error {
	return m.Heap.Scan(func(tid heap.TID, row []any) error {
		return fn(RowNumberFromTID(tid), row)
	})
}

// Flush pushes this table's private index-set mutations into an immutable
// snapshot ready for commit-pipeline merging.
func (m *MutableTable) Flush() *IndexSet {
	return m.Index.Flush()
}
