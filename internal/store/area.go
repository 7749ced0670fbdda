// Package store implements the paged store: durable, byte-addressable
// "areas" with stable ids, layered directly on the slotted Page format and
// shared buffer pool that the heap/btree layers already use for row data.
//
// An area is a single slotted-page tuple; payloads too large to fit inline
// spill through the same OverflowManager heap tables use for oversized rows.
// This keeps the store's on-disk format consistent with the rest of the
// engine instead of inventing a second page layout.
package store

import (
	"encoding/binary"
	"strconv"

	"github.com/pkg/errors"

	"novadb/internal/storage"
)

// AreaID identifies a variable-size allocation. It packs the page id and
// in-page slot of the tuple holding the area's (possibly overflowed) bytes.
type AreaID uint64

func NewAreaID(pageID uint32, slot uint16) AreaID {
	return AreaID(uint64(pageID)<<16 | uint64(slot))
}

func (id AreaID) PageID() uint32 { return uint32(id >> 16) }
func (id AreaID) Slot() uint16   { return uint16(id & 0xFFFF) }

func (id AreaID) String() string {
	return "area:" + strconv.FormatUint(uint64(id.PageID()), 10) + "/" + strconv.FormatUint(uint64(id.Slot()), 10)
}

var (
	ErrAreaNotFound = errors.New("store: area not found")
	ErrAreaDeleted  = errors.New("store: area was deleted")
)

const (
	tagInline   byte = 0
	tagOverflow byte = 1
)

// encodeAreaTuple wraps raw bytes in the inline-vs-overflow envelope used for
// every area tuple, spilling through ovf when the payload plus tag byte
// would not fit inline on a slotted page.
func encodeAreaTuple(ovf *storage.OverflowManager, data []byte) ([]byte, error) {
	const maxInline = storage.PageSize - storage.HeaderSize - storage.SlotSize - 1
	if len(data) <= maxInline {
		out := make([]byte, 1+len(data))
		out[0] = tagInline
		copy(out[1:], data)
		return out, nil
	}
	ref, err := ovf.Write(data)
	if err != nil {
		return nil, errors.Wrap(err, "store: spill area to overflow")
	}
	out := make([]byte, 9)
	out[0] = tagOverflow
	binary.LittleEndian.PutUint32(out[1:5], ref.FirstPageID)
	binary.LittleEndian.PutUint32(out[5:9], ref.Length)
	return out, nil
}

func decodeAreaTuple(ovf *storage.OverflowManager, tup []byte) ([]byte, error) {
	if len(tup) == 0 {
		return nil, errors.Wrap(storage.ErrCorruption, "store: empty area tuple")
	}
	switch tup[0] {
	case tagInline:
		return tup[1:], nil
	case tagOverflow:
		if len(tup) != 9 {
			return nil, errors.Wrap(storage.ErrCorruption, "store: malformed overflow area tuple")
		}
		ref := storage.OverflowRef{
			FirstPageID: binary.LittleEndian.Uint32(tup[1:5]),
			Length:      binary.LittleEndian.Uint32(tup[5:9]),
		}
		data, err := ovf.Read(ref)
		if err != nil {
			return nil, errors.Wrap(err, "store: read overflowed area")
		}
		return data, nil
	default:
		return nil, errors.Wrap(storage.ErrCorruption, "store: unknown area tuple tag")
	}
}
