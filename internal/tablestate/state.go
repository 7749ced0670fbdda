// Package tablestate persists the set of visible and pending-delete table
// sources, plus the monotonic table-id counter, on top of the paged store.
package tablestate

import (
	"encoding/binary"
	"log/slog"
	"unicode/utf16"

	"github.com/pkg/errors"
	sorted "github.com/tobshub/go-sortedmap"

	"novadb/internal/coreerr"
	"novadb/internal/store"
)

const (
	magic       uint32 = 0x0BAC8001
	formatVer   uint32 = 0
	headerBytes        = 32
)

// TableState is one entry in the visible or pending-delete list: a table-id
// paired with the source name it was published under.
type TableState struct {
	ID   uint64
	Name string
}

func byName(a, b TableState) bool { return a.Name < b.Name }

// Store is the table state store: header area + two list areas over a
// paged store.Store.
type Store struct {
	ps *store.Store

	headerID uint64 // AreaID
	visID    uint64
	delID    uint64

	nextID uint64

	visible    *sorted.SortedMap[string, TableState]
	deleted    *sorted.SortedMap[string, TableState]
	visDirty   bool
	delDirty   bool
}

// Create allocates two empty list areas and a header, returning the header
// area id needed to Open it again later.
func Create(ps *store.Store) (*Store, store.AreaID, error) {
	ps.Lock()
	defer ps.Unlock()

	visID, err := ps.CreateArea(encodeList(formatVer, nil))
	if err != nil {
		return nil, 0, errors.Wrap(err, "tablestate: create visible list")
	}
	delID, err := ps.CreateArea(encodeList(formatVer, nil))
	if err != nil {
		return nil, 0, errors.Wrap(err, "tablestate: create delete list")
	}

	hdr := make([]byte, headerBytes)
	binary.LittleEndian.PutUint32(hdr[0:4], magic)
	binary.LittleEndian.PutUint32(hdr[4:8], formatVer)
	binary.LittleEndian.PutUint64(hdr[8:16], 0)
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(visID))
	binary.LittleEndian.PutUint64(hdr[24:32], uint64(delID))

	headerID, err := ps.CreateArea(hdr)
	if err != nil {
		return nil, 0, errors.Wrap(err, "tablestate: create header")
	}

	s := &Store{
		ps:       ps,
		headerID: uint64(headerID),
		visID:    uint64(visID),
		delID:    uint64(delID),
		visible:  sorted.New[string, TableState](0, byName),
		deleted:  sorted.New[string, TableState](0, byName),
	}
	return s, headerID, nil
}

// Open validates magic/version on an existing header and loads both lists.
func Open(ps *store.Store, headerID store.AreaID) (*Store, error) {
	raw, err := ps.GetArea(headerID, false)
	if err != nil {
		return nil, errors.Wrap(err, "tablestate: open header")
	}
	if len(raw) != headerBytes {
		return nil, errors.Wrapf(coreerr.ErrCorruption, "tablestate: header size %d", len(raw))
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != magic {
		return nil, errors.Wrap(coreerr.ErrCorruption, "tablestate: bad magic")
	}
	if binary.LittleEndian.Uint32(raw[4:8]) != formatVer {
		return nil, errors.Wrap(coreerr.ErrCorruption, "tablestate: unsupported version")
	}
	nextID := binary.LittleEndian.Uint64(raw[8:16])
	visID := binary.LittleEndian.Uint64(raw[16:24])
	delID := binary.LittleEndian.Uint64(raw[24:32])

	visList, err := readList(ps, store.AreaID(visID))
	if err != nil {
		return nil, errors.Wrap(err, "tablestate: read visible list")
	}
	delList, err := readList(ps, store.AreaID(delID))
	if err != nil {
		return nil, errors.Wrap(err, "tablestate: read delete list")
	}

	s := &Store{
		ps:       ps,
		headerID: uint64(headerID),
		visID:    visID,
		delID:    delID,
		nextID:   nextID,
		visible:  sorted.New[string, TableState](0, byName),
		deleted:  sorted.New[string, TableState](0, byName),
	}
	for _, ts := range visList {
		s.visible.Insert(ts.Name, ts)
	}
	for _, ts := range delList {
		s.deleted.Insert(ts.Name, ts)
	}
	return s, nil
}

// NextTableID increments the counter under the store lock, persists it, and
// flushes, so the bump survives even if nothing else is dirty.
func (s *Store) NextTableID() (uint64, error) {
	s.ps.Lock()
	defer s.ps.Unlock()

	s.nextID++
	id := s.nextID

	raw, err := s.ps.GetArea(store.AreaID(s.headerID), true)
	if err != nil {
		return 0, errors.Wrap(err, "tablestate: next table id")
	}
	binary.LittleEndian.PutUint64(raw[8:16], s.nextID)
	if err := s.ps.UpdateArea(store.AreaID(s.headerID), raw); err != nil {
		return 0, errors.Wrap(err, "tablestate: next table id")
	}
	if err := s.ps.Flush(); err != nil {
		return 0, errors.Wrap(err, "tablestate: next table id")
	}
	slog.Debug("tablestate: table id allocated", "id", id)
	return id, nil
}

func (s *Store) AddVisible(ts TableState) {
	s.visible.Insert(ts.Name, ts)
	s.visDirty = true
}

func (s *Store) AddDelete(ts TableState) {
	s.deleted.Insert(ts.Name, ts)
	s.delDirty = true
}

func (s *Store) RemoveVisible(name string) error {
	if !s.visible.Has(name) {
		return errors.Wrapf(coreerr.ErrNotFound, "tablestate: visible table %q", name)
	}
	s.visible.Delete(name)
	s.visDirty = true
	return nil
}

func (s *Store) RemoveDelete(name string) error {
	if !s.deleted.Has(name) {
		return errors.Wrapf(coreerr.ErrNotFound, "tablestate: deleted table %q", name)
	}
	s.deleted.Delete(name)
	s.delDirty = true
	return nil
}

func (s *Store) GetVisible(name string) (TableState, bool) { return s.visible.Get(name) }

// ListVisible returns all visible table states ordered by name.
func (s *Store) ListVisible() []TableState { return snapshot(s.visible) }

// ListDeleted returns all pending-delete table states ordered by name.
func (s *Store) ListDeleted() []TableState { return snapshot(s.deleted) }

func snapshot(m *sorted.SortedMap[string, TableState]) []TableState {
	ch := m.IterCh()
	defer ch.Close()
	out := make([]TableState, 0, m.Len())
	for rec := range ch.Records() {
		out = append(out, rec.Val)
	}
	return out
}

// Flush rewrites any dirty list to a fresh area, repoints the header under
// the store lock, deletes the stale area, and clears the dirty flags.
func (s *Store) Flush() error {
	if !s.visDirty && !s.delDirty {
		return nil
	}

	s.ps.Lock()
	defer s.ps.Unlock()

	hdrRaw, err := s.ps.GetArea(store.AreaID(s.headerID), true)
	if err != nil {
		return errors.Wrap(err, "tablestate: flush header read")
	}

	if s.visDirty {
		newID, err := s.ps.CreateArea(encodeList(formatVer, snapshot(s.visible)))
		if err != nil {
			return errors.Wrap(err, "tablestate: flush visible list")
		}
		old := s.visID
		s.visID = uint64(newID)
		binary.LittleEndian.PutUint64(hdrRaw[16:24], s.visID)
		if err := s.ps.DeleteArea(store.AreaID(old)); err != nil {
			slog.Warn("tablestate: could not delete stale visible list area", "err", err)
		}
		s.visDirty = false
	}

	if s.delDirty {
		newID, err := s.ps.CreateArea(encodeList(formatVer, snapshot(s.deleted)))
		if err != nil {
			return errors.Wrap(err, "tablestate: flush delete list")
		}
		old := s.delID
		s.delID = uint64(newID)
		binary.LittleEndian.PutUint64(hdrRaw[24:32], s.delID)
		if err := s.ps.DeleteArea(store.AreaID(old)); err != nil {
			slog.Warn("tablestate: could not delete stale delete list area", "err", err)
		}
		s.delDirty = false
	}

	if err := s.ps.UpdateArea(store.AreaID(s.headerID), hdrRaw); err != nil {
		return errors.Wrap(err, "tablestate: flush header write")
	}
	return s.ps.Flush()
}

func encodeList(version uint32, items []TableState) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], version)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(len(items)))
	for _, it := range items {
		var rec [8]byte
		binary.LittleEndian.PutUint64(rec[:], it.ID)
		buf = append(buf, rec[:]...)

		units := utf16.Encode([]rune(it.Name))
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(units)))
		buf = append(buf, lenBuf[:]...)
		for _, u := range units {
			var ub [2]byte
			binary.LittleEndian.PutUint16(ub[:], u)
			buf = append(buf, ub[:]...)
		}
	}
	return buf
}

func decodeList(buf []byte) ([]TableState, error) {
	if len(buf) < 12 {
		return nil, errors.Wrap(coreerr.ErrCorruption, "tablestate: truncated list area")
	}
	count := binary.LittleEndian.Uint64(buf[4:12])
	off := 12
	out := make([]TableState, 0, count)
	for i := uint64(0); i < count; i++ {
		if off+10 > len(buf) {
			return nil, errors.Wrap(coreerr.ErrCorruption, "tablestate: truncated list entry")
		}
		id := binary.LittleEndian.Uint64(buf[off : off+8])
		nUnits := int(binary.LittleEndian.Uint16(buf[off+8 : off+10]))
		off += 10
		if off+2*nUnits > len(buf) {
			return nil, errors.Wrap(coreerr.ErrCorruption, "tablestate: truncated list name")
		}
		units := make([]uint16, nUnits)
		for j := 0; j < nUnits; j++ {
			units[j] = binary.LittleEndian.Uint16(buf[off : off+2])
			off += 2
		}
		out = append(out, TableState{ID: id, Name: string(utf16.Decode(units))})
	}
	return out, nil
}

func readList(ps *store.Store, id store.AreaID) ([]TableState, error) {
	raw, err := ps.GetArea(id, false)
	if err != nil {
		return nil, err
	}
	return decodeList(raw)
}
