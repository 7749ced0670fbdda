package txncore

import "fmt"

// IndexSet is a copy-on-write snapshot of every secondary index for one
// table, attached to one transaction. A set that is not owned (one
// returned by Snapshot, or one marked shared by Flush) clones the
// underlying maps privately on its first mutation. An owned set writes in
// place, so a snapshot taken from it sees any later mutation of it.
type IndexSet struct {
	indexes map[string]map[string][]int64 // column -> encoded key -> row numbers
	owned   bool
}

// NewIndexSet returns an empty, privately-owned index set.
func NewIndexSet() *IndexSet {
	return &IndexSet{indexes: map[string]map[string][]int64{}, owned: true}
}

// Snapshot returns a shallow, shared view suitable for handing to a new
// transaction at begin time. The returned set is not owned: its first
// mutation clones before writing.
func (s *IndexSet) Snapshot() *IndexSet {
	return &IndexSet{indexes: s.indexes, owned: false}
}

func (s *IndexSet) ensureOwned() {
	if s.owned {
		return
	}
	clone := make(map[string]map[string][]int64, len(s.indexes))
	for col, byKey := range s.indexes {
		cloneByKey := make(map[string][]int64, len(byKey))
		for k, rows := range byKey {
			cloneByKey[k] = append([]int64(nil), rows...)
		}
		clone[col] = cloneByKey
	}
	s.indexes = clone
	s.owned = true
}

func encodeKey(key any) string { return fmt.Sprintf("%v", key) }

// Insert records that row carries key in column's index.
func (s *IndexSet) Insert(column string, key any, row int64) {
	s.ensureOwned()
	byKey := s.indexes[column]
	if byKey == nil {
		byKey = map[string][]int64{}
		s.indexes[column] = byKey
	}
	k := encodeKey(key)
	byKey[k] = append(byKey[k], row)
}

// Remove deletes row from column's index entry for key, if present.
func (s *IndexSet) Remove(column string, key any, row int64) {
	s.ensureOwned()
	byKey := s.indexes[column]
	if byKey == nil {
		return
	}
	k := encodeKey(key)
	rows := byKey[k]
	for i, r := range rows {
		if r == row {
			byKey[k] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	if len(byKey[k]) == 0 {
		delete(byKey, k)
	}
}

// Lookup returns the row numbers indexed under key in column.
func (s *IndexSet) Lookup(column string, key any) []int64 {
	byKey := s.indexes[column]
	if byKey == nil {
		return nil
	}
	return byKey[encodeKey(key)]
}

// Flush freezes this index set as an immutable baseline other transactions
// can Snapshot from, the way a transaction must flush its private copy
// into the committed snapshot before commit merging.
func (s *IndexSet) Flush() *IndexSet {
	s.owned = false
	return s
}
