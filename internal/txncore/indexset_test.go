package txncore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func TestIndexSet_SnapshotIsCopyOnWrite(t *testing.T) {
	base := NewIndexSet()
	base.Insert("id", int64(1), 100)
	base.Insert("id", int64(2), 200)

	snap := base.Snapshot()

	// Before either side mutates again, the two sets must compare equal —
	// the whole point of sharing the underlying maps at Snapshot time.
	if diff := cmp.Diff(base.indexes, snap.indexes, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("snapshot diverged from base before any mutation (-base +snap):\n%s", diff)
	}

	// Mutating the snapshot must not leak back into base: ensureOwned has
	// to clone rather than mutate the shared map in place.
	snap.Insert("id", int64(3), 300)
	require.Nil(t, base.Lookup("id", int64(3)))
	require.Equal(t, []int64{300}, snap.Lookup("id", int64(3)))

	if diff := cmp.Diff(base.Lookup("id", int64(1)), []int64{100}); diff != "" {
		t.Fatalf("base's own entry changed after snapshot mutated (-got +want):\n%s", diff)
	}
}

func TestIndexSet_RemoveDropsEmptyKey(t *testing.T) {
	s := NewIndexSet()
	s.Insert("name", "alice", 1)
	s.Remove("name", "alice", 1)

	require.Nil(t, s.Lookup("name", "alice"))
	if diff := cmp.Diff(s.indexes["name"], map[string][]int64{}, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("removing the last row under a key should drop the key entirely (-got +want):\n%s", diff)
	}
}

func TestIndexSet_FlushMarksShared(t *testing.T) {
	s := NewIndexSet()
	s.Insert("id", int64(1), 1)
	flushed := s.Flush()

	// Flush must return the same set marked not-owned, not a copy, so the
	// next Snapshot() off of it is cheap.
	require.Same(t, s, flushed)
	flushed.Insert("id", int64(2), 2) // forces ensureOwned to clone
	require.NotNil(t, flushed.Lookup("id", int64(2)))
}
