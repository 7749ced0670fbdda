package txncore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"novadb/internal/catalog"
	"novadb/internal/coreerr"
	"novadb/internal/heap"
	"novadb/internal/security"
	"novadb/internal/tablestate"
)

// Engine is the database-handle-owned singleton the spec's design notes
// call for: it holds the table-source registry, the table state store,
// the lock manager, the global commit-id counter, and the privilege
// checker, with no ambient package-level state.
type Engine struct {
	commitMu sync.Mutex // serializes the commit pipeline: one commit at a time
	commitID uint64     // advanced only inside the commit mutex

	sourcesMu sync.RWMutex
	sources   map[string]*Source // by table name
	byID      map[uint64]*Source

	state  *tablestate.Store
	Locks  *LockManager
	Events *EventDispatcher
	Priv   security.PrivilegeChecker

	ErrorOnDirtySelect bool
}

// NewEngine wires a fresh (or reopened) table state store into a running
// Engine. workers sizes the deferred-trigger dispatch pool.
func NewEngine(state *tablestate.Store, priv security.PrivilegeChecker, workers int) *Engine {
	if priv == nil {
		priv = security.AllowAllChecker{}
	}
	return &Engine{
		sources: map[string]*Source{},
		byID:    map[uint64]*Source{},
		state:   state,
		Locks:   NewLockManager(),
		Events:  NewEventDispatcher(workers),
		Priv:    priv,
	}
}

// CurrentCommitID returns the last commit-id published, the snapshot
// version a new transaction begins at.
func (e *Engine) CurrentCommitID() uint64 {
	return atomic.LoadUint64(&e.commitID)
}

// RegisterSource adds an already-constructed Source (built from a fresh
// CREATE TABLE or loaded from disk) to the in-memory registry, by name and
// by id. It does not touch the table state store; publishCreateTable adds
// the visible-list entry.
func (e *Engine) RegisterSource(src *Source) {
	e.sourcesMu.Lock()
	defer e.sourcesMu.Unlock()
	e.sources[src.Info.Name.String()] = src
	e.byID[src.ID] = src
}

// CreateTable allocates a fresh table-id, builds a Source around tbl, adds
// it to the visible list, and registers it immediately — the direct-
// mutation path for callers outside any transaction (bootstrap/legacy
// table registration in db_engine.go). Session-driven DDL instead calls
// stageCreateTable and defers publishCreateTable to commit, so a rolled
// back CREATE TABLE leaves no trace in the visible list.
func (e *Engine) CreateTable(info *catalog.TableInfo, tbl *heap.Table) (*Source, error) {
	src, err := e.stageCreateTable(info, tbl)
	if err != nil {
		return nil, err
	}
	e.publishCreateTable(src)
	return src, nil
}

// stageCreateTable allocates a fresh table-id and builds a Source around
// tbl without registering it anywhere globally.
func (e *Engine) stageCreateTable(info *catalog.TableInfo, tbl *heap.Table) (*Source, error) {
	id, err := e.state.NextTableID()
	if err != nil {
		return nil, err
	}
	return NewSource(id, info, tbl), nil
}

// publishCreateTable registers src in the in-memory table registry and the
// table state store's visible list — commit pipeline stage (viii)'s DDL
// application, and CreateTable's own immediate-publish path.
func (e *Engine) publishCreateTable(src *Source) {
	e.RegisterSource(src)
	e.state.AddVisible(tablestate.TableState{ID: src.ID, Name: src.Info.Name.String()})
}

// DropTable moves a table from visible to pending-delete immediately — the
// direct-mutation path for callers outside any transaction. Session-driven
// DDL instead stages the drop on the transaction and applies it only via
// publishDropTable at commit, so a rolled back DROP TABLE leaves the table
// visible throughout.
func (e *Engine) DropTable(name string) error {
	src, ok := e.lookup(name)
	if !ok {
		return fmt.Errorf("novadb: table %q: %w", name, coreerr.ErrNotFound)
	}
	return e.publishDropTable(name, src)
}

// publishDropTable retires src from the in-memory registry — by name and
// by id, so a later CreateTable reusing the id doesn't collide with a
// leaked byID entry — and moves it from the table state store's visible
// list to its pending-delete list. Nothing in the engine reclaims the
// table's storage afterwards; the entry stays on the pending-delete list.
func (e *Engine) publishDropTable(name string, src *Source) error {
	e.sourcesMu.Lock()
	defer e.sourcesMu.Unlock()
	if err := e.state.RemoveVisible(name); err != nil {
		return err
	}
	e.state.AddDelete(tablestate.TableState{ID: src.ID, Name: name})
	delete(e.sources, name)
	delete(e.byID, src.ID)
	return nil
}

func (e *Engine) lookup(name string) (*Source, bool) {
	e.sourcesMu.RLock()
	defer e.sourcesMu.RUnlock()
	src, ok := e.sources[name]
	return src, ok
}

func (e *Engine) lookupByID(id uint64) (*Source, bool) {
	e.sourcesMu.RLock()
	defer e.sourcesMu.RUnlock()
	src, ok := e.byID[id]
	return src, ok
}

// AllVisible returns every currently visible source, a stable snapshot
// for the commit pipeline's namespace/row-conflict scans.
func (e *Engine) AllVisible() []*Source {
	e.sourcesMu.RLock()
	defer e.sourcesMu.RUnlock()
	out := make([]*Source, 0, len(e.sources))
	for _, s := range e.sources {
		out = append(out, s)
	}
	return out
}

// Begin opens a new transaction snapshotting every currently visible
// table at the current commit-id.
func (e *Engine) Begin() *Transaction {
	commitID := e.CurrentCommitID()
	tx := NewTransaction(commitID)
	for name, src := range e.snapshotSources() {
		tx.BindVisible(name, src, src.IndexSnapshot())
		src.Pin()
	}
	return tx
}

func (e *Engine) snapshotSources() map[string]*Source {
	e.sourcesMu.RLock()
	defer e.sourcesMu.RUnlock()
	out := make(map[string]*Source, len(e.sources))
	for k, v := range e.sources {
		out[k] = v
	}
	return out
}
