package txncore

import (
	"fmt"
	"sync"

	"novadb/internal/catalog"
	"novadb/internal/coreerr"
)

// State is the transaction life-cycle state machine: Open -> Committing ->
// {Committed|Aborted}, or Open -> RollingBack -> Aborted. Once Committing,
// no further mutation is accepted.
type State uint8

const (
	Open State = iota
	Committing
	RollingBack
	Committed
	Aborted
)

// visibleEntry is the table-source + index-set snapshot a transaction
// received at begin (or last update) for one visible table name.
type visibleEntry struct {
	source *Source
	index  *IndexSet
}

// Transaction is the engine's unit of work: a snapshot of visible tables
// at begin, per-touched-table mutable views with their own registries,
// and the bookkeeping the commit pipeline needs (created/dropped object
// names, constraint-altered table-ids, read set, read-only latch).
type Transaction struct {
	mu sync.Mutex

	BeginCommitID uint64
	readOnly      bool
	state         State

	visible map[string]*visibleEntry
	mutable map[string]*MutableTable
	readSet map[string]bool

	// created/dropped carry the Source each DDL call staged, so publish
	// (commit pipeline stage viii) can register/retire them in the engine's
	// global state — nothing is applied globally until then, so a rolled
	// back transaction leaves no trace.
	created           map[string]*Source
	dropped           map[string]*Source
	constraintAltered map[uint64]*catalog.TableInfo

	events []RaisedEvent
}

// RaisedEvent is a post-commit notification queued during the transaction
// and fired only after a successful commit (Commit Pipeline stage vii).
type RaisedEvent struct {
	Table   string
	TableID uint64
	Added   []int64
	Removed []int64
}

func NewTransaction(beginCommitID uint64) *Transaction {
	return &Transaction{
		BeginCommitID:     beginCommitID,
		state:             Open,
		visible:           map[string]*visibleEntry{},
		mutable:           map[string]*MutableTable{},
		readSet:           map[string]bool{},
		created:           map[string]*Source{},
		dropped:           map[string]*Source{},
		constraintAltered: map[uint64]*catalog.TableInfo{},
	}
}

var ErrReadOnly = fmt.Errorf("novadb: transaction is read-only: %w", coreerr.ErrPrivilegeDenied)
var ErrNotOpen = fmt.Errorf("novadb: transaction is not open")

// BindVisible registers a table this transaction can see, with the
// index-set snapshot it received at begin.
func (t *Transaction) BindVisible(name string, source *Source, index *IndexSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visible[name] = &visibleEntry{source: source, index: index}
}

// GetTable returns a read-only view: the table source plus this
// transaction's current index-set snapshot for it.
func (t *Transaction) GetTable(name string) (*Source, *IndexSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ve, ok := t.visible[name]
	if !ok {
		return nil, nil, fmt.Errorf("novadb: table %q not visible: %w", name, coreerr.ErrNotFound)
	}
	t.readSet[name] = true
	return ve.source, ve.index, nil
}

// GetMutableTable registers a registry for name on first call and returns
// the persistent MutableTable view for the remainder of the transaction.
func (t *Transaction) GetMutableTable(name string) (*MutableTable, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.readOnly {
		return nil, ErrReadOnly
	}
	if t.state != Open {
		return nil, ErrNotOpen
	}
	if mt, ok := t.mutable[name]; ok {
		return mt, nil
	}
	ve, ok := t.visible[name]
	if !ok {
		return nil, fmt.Errorf("novadb: table %q not visible: %w", name, coreerr.ErrNotFound)
	}
	registry := NewRegistry(name)
	mt := ve.source.GetMutableTable(registry, ve.index.Snapshot())
	t.mutable[name] = mt
	return mt, nil
}

func (t *Transaction) RemoveVisibleTable(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.visible, name)
	delete(t.mutable, name)
}

func (t *Transaction) UpdateVisibleTable(name string, index *IndexSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ve, ok := t.visible[name]; ok {
		ve.index = index
	}
}

func (t *Transaction) RaiseEvent(ev RaisedEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
}

func (t *Transaction) Events() []RaisedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// SetReadOnly switches the transaction read-only; once set, every
// mutating operation (GetMutableTable, and thus Insert/Update/Delete)
// fails.
func (t *Transaction) SetReadOnly(b bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readOnly = b
}

func (t *Transaction) ReadOnly() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readOnly
}

// MarkCreated stages src as created under name; publish (stage viii)
// registers it in the engine's global state only on a successful commit.
func (t *Transaction) MarkCreated(name string, src *Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.created[name] = src
}

// MarkDropped stages src (name's table-source at the time of the DROP
// statement) as dropped; publish (stage viii) retires it from the
// engine's global state only on a successful commit.
func (t *Transaction) MarkDropped(name string, src *Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped[name] = src
}

// MarkConstraintsAltered records that tableID's published schema should
// become newInfo at publish, and schedules commit pipeline stage (vi)'s
// full-table constraint validation against it.
func (t *Transaction) MarkConstraintsAltered(tableID uint64, newInfo *catalog.TableInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.constraintAltered[tableID] = newInfo
}

func (t *Transaction) CreatedObjects() []string { return sourceKeys(t.created) }
func (t *Transaction) DroppedObjects() []string { return sourceKeys(t.dropped) }
func (t *Transaction) ReadTables() []string     { return keys(t.readSet) }

// CreatedSources/DroppedSources return the Source each staged DDL call
// recorded, for publish to apply.
func (t *Transaction) CreatedSources() map[string]*Source {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*Source, len(t.created))
	for k, v := range t.created {
		out[k] = v
	}
	return out
}

func (t *Transaction) DroppedSources() map[string]*Source {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*Source, len(t.dropped))
	for k, v := range t.dropped {
		out[k] = v
	}
	return out
}

func (t *Transaction) ConstraintAlteredTables() map[uint64]*catalog.TableInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint64]*catalog.TableInfo, len(t.constraintAltered))
	for k, v := range t.constraintAltered {
		out[k] = v
	}
	return out
}

func (t *Transaction) MutableTables() map[string]*MutableTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*MutableTable, len(t.mutable))
	for k, v := range t.mutable {
		out[k] = v
	}
	return out
}

// visibleSources returns the source each visible table name was bound to
// at begin, for pin release during cleanup.
func (t *Transaction) visibleSources() map[string]*Source {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*Source, len(t.visible))
	for name, ve := range t.visible {
		out[name] = ve.source
	}
	return out
}

func (t *Transaction) VisibleTable(name string) (*Source, *IndexSet, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ve, ok := t.visible[name]
	if !ok {
		return nil, nil, false
	}
	return ve.source, ve.index, true
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sourceKeys(m map[string]*Source) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// State returns the current life-cycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// beginCommitting transitions Open -> Committing, failing if the
// transaction is not Open.
func (t *Transaction) beginCommitting() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Open {
		return ErrNotOpen
	}
	t.state = Committing
	return nil
}

func (t *Transaction) finish(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// beginRollingBack transitions Open -> RollingBack.
func (t *Transaction) beginRollingBack() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Open {
		return ErrNotOpen
	}
	t.state = RollingBack
	return nil
}
