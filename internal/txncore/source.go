package txncore

import (
	"log/slog"
	"sort"
	"sync"

	"novadb/internal/catalog"
	"novadb/internal/heap"
	locking "novadb/internal/lock"
)

// RowNumberFromTID and TIDFromRowNumber give every heap tuple identity a
// single dense int64 row number, satisfying spec's row-id contract without
// inventing a second row-numbering scheme on top of the heap's own TIDs.
func RowNumberFromTID(tid heap.TID) int64 {
	return int64(tid.PageID)<<16 | int64(tid.Slot)
}

func TIDFromRowNumber(rn int64) heap.TID {
	return heap.TID{PageID: uint32(rn >> 16), Slot: uint16(rn & 0xFFFF)}
}

// commitEntry pairs a registry with the commit-id it was published under.
type commitEntry struct {
	CommitID uint64
	Registry *Registry
}

// Source is one persistent table's master record: its published schema,
// the heap holding its row bytes, the ordered log of committed change
// registries, and the current committed index snapshot.
type Source struct {
	mu sync.RWMutex

	ID   uint64
	Info *catalog.TableInfo
	Heap *heap.Table

	history []commitEntry
	index   *IndexSet

	pin *locking.RefCount // pinning token; see DESIGN NOTES on registry ownership
}

func NewSource(id uint64, info *catalog.TableInfo, tbl *heap.Table) *Source {
	return &Source{
		ID:    id,
		Info:  info,
		Heap:  tbl,
		index: NewIndexSet(),
		pin:   locking.NewRefCount(),
	}
}

// Pin/Unpin implement the "table-id + pinning token" handle design note:
// a transaction that holds a Source pinned prevents it from being
// physically reclaimed even after it moves to the pending-delete list.
func (s *Source) Pin()       { s.pin.Inc() }
func (s *Source) Unpin() bool { return s.pin.Dec() }
func (s *Source) PinCount() int32 { return s.pin.Get() }

func (s *Source) TableInfo() *catalog.TableInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Info
}

// SetInfo replaces the published schema — commit pipeline stage (viii)'s
// application of a transaction's deferred ALTER TABLE constraint change.
func (s *Source) SetInfo(info *catalog.TableInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Info = info
}

func (s *Source) IndexSnapshot() *IndexSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Snapshot()
}

// GetMutableTable returns a view over this source's heap that records
// every row mutation into registry.
func (s *Source) GetMutableTable(registry *Registry, index *IndexSet) *MutableTable {
	return &MutableTable{Source: s, Heap: s.Heap, Registry: registry, Index: index}
}

// FindChangesSinceCommit returns registries with commit-ids >= commitID,
// in commit order.
func (s *Source) FindChangesSinceCommit(commitID uint64) []*Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := sort.Search(len(s.history), func(i int) bool { return s.history[i].CommitID >= commitID })
	out := make([]*Registry, 0, len(s.history)-idx)
	for _, e := range s.history[idx:] {
		out = append(out, e.Registry)
	}
	return out
}

// LatestCommitID returns the highest commit-id attached to this source, or
// 0 if none has been attached yet.
func (s *Source) LatestCommitID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return 0
	}
	return s.history[len(s.history)-1].CommitID
}

// CommitTransactionChange atomically appends registry under newCommitID
// and adopts index as the new committed snapshot. No separate row-existence
// state is kept: the heap already reflects the row bytes, and this just
// fixes the committed visibility point.
func (s *Source) CommitTransactionChange(newCommitID uint64, registry *Registry, index *IndexSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, commitEntry{CommitID: newCommitID, Registry: registry})
	s.index = index
	slog.Debug("txncore: table source committed", "table", s.Info.Name.String(), "commit_id", newCommitID,
		"added", len(registry.AddedRows()), "removed", len(registry.RemovedRows()))
}

// RollbackTransactionChange discards a never-committed registry. Nothing
// is attached to history, so there is nothing to undo beyond releasing the
// pin the transaction held on this source.
func (s *Source) RollbackTransactionChange(registry *Registry) {
	slog.Debug("txncore: table source rollback", "table", s.Info.Name.String())
}

// TruncateBefore drops history entries older than commitID, once no open
// transaction can observe a commit-id smaller than that.
func (s *Source) TruncateBefore(commitID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := sort.Search(len(s.history), func(i int) bool { return s.history[i].CommitID >= commitID })
	s.history = s.history[idx:]
}
