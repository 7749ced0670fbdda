package bufferpool

import (
	"log/slog"

	"github.com/dgraph-io/ristretto/v2"
)

// RowKey identifies one decoded row for the second-level cache: the
// relation it belongs to plus its page/slot tuple id, packed the same way
// heap.TID packs a row identity.
type RowKey struct {
	FSKey  string
	PageID uint32
	Slot   uint16
}

// RowCache is an optional read-through cache of decoded row values,
// sitting in front of GlobalPool for callers that re-read the same hot
// rows across many sequential scans without wanting to pay the page
// lookup and row decode cost every time. It caches values, not pages, so
// it is invalidated explicitly on Update/Delete rather than by page
// eviction.
type RowCache struct {
	c *ristretto.Cache[RowKey, []any]
}

// NewRowCache builds a RowCache sized for roughly maxRows hot rows.
// maxRows <= 0 disables the cache (Store/Invalidate become no-ops, Lookup
// always misses), letting callers wire RowCache unconditionally and flip it off
// through configuration.
func NewRowCache(maxRows int64) *RowCache {
	if maxRows <= 0 {
		return &RowCache{}
	}
	cache, err := ristretto.NewCache(&ristretto.Config[RowKey, []any]{
		NumCounters: maxRows * 10,
		MaxCost:     maxRows,
		BufferItems: 64,
	})
	if err != nil {
		slog.Warn("bufferpool: row cache disabled, construction failed", "err", err)
		return &RowCache{}
	}
	return &RowCache{c: cache}
}

// Lookup returns the cached row for key, if present.
func (r *RowCache) Lookup(key RowKey) ([]any, bool) {
	if r == nil || r.c == nil {
		return nil, false
	}
	return r.c.Get(key)
}

// Store caches row under key with cost 1 (one row slot).
func (r *RowCache) Store(key RowKey, row []any) {
	if r == nil || r.c == nil {
		return
	}
	r.c.Set(key, row, 1)
}

// Invalidate drops key from the cache, used after Update/Delete so a
// stale decoded row is never served again.
func (r *RowCache) Invalidate(key RowKey) {
	if r == nil || r.c == nil {
		return
	}
	r.c.Del(key)
}
