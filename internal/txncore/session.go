package txncore

import (
	"fmt"
	"sync"

	"novadb/internal/catalog"
	"novadb/internal/coreerr"
	"novadb/internal/heap"
	"novadb/internal/security"
)

// Session binds a single user's transaction lifecycle to the engine: it
// owns the outstanding lock handles a transaction accumulates as it
// touches tables, and is the surface external callers (the statement
// executor, the wire protocol) drive begin/commit/rollback and DDL
// through, rather than reaching into Engine or Transaction directly.
type Session struct {
	mu      sync.Mutex
	engine  *Engine
	User    string
	tx      *Transaction
	handles []*Handle
}

// NewSession opens a session for user against engine. A session holds no
// transaction until BeginTransaction is called.
func NewSession(engine *Engine, user string) *Session {
	return &Session{engine: engine, User: user}
}

var ErrTransactionInProgress = fmt.Errorf("novadb: session already has an open transaction")
var ErrNoTransaction = fmt.Errorf("novadb: session has no open transaction")

// BeginTransaction opens a new transaction at the engine's current
// commit-id. Isolation is fixed at Serializable, enforced by the commit
// pipeline's conflict checks rather than by any locking discipline here.
func (s *Session) BeginTransaction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return ErrTransactionInProgress
	}
	s.tx = s.engine.Begin()
	return nil
}

func (s *Session) requireTx() (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil, ErrNoTransaction
	}
	return s.tx, nil
}

// acquire locks tableID in mode and remembers the handle for release at
// end of transaction. Locks accumulate one request at a time as
// statements touch new tables, in the order they are first touched.
func (s *Session) acquire(tableID uint64, mode LockMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var h *Handle
	if mode == Exclusive {
		h = s.engine.Locks.Lock([]uint64{tableID}, nil)
	} else {
		h = s.engine.Locks.Lock(nil, []uint64{tableID})
	}
	s.handles = append(s.handles, h)
}

// GetTable returns a read-only view of name, acquiring a shared lock.
func (s *Session) GetTable(name string) (*Source, *IndexSet, error) {
	tx, err := s.requireTx()
	if err != nil {
		return nil, nil, err
	}
	src, idx, err := tx.GetTable(name)
	if err != nil {
		return nil, nil, err
	}
	s.acquire(src.ID, Shared)
	return src, idx, nil
}

// GetMutableTable returns name's transaction-bound mutable view,
// acquiring an exclusive lock on first touch.
func (s *Session) GetMutableTable(name string) (*MutableTable, error) {
	tx, err := s.requireTx()
	if err != nil {
		return nil, err
	}
	src, _, ok := tx.VisibleTable(name)
	if !ok {
		return nil, fmt.Errorf("novadb: table %q not visible: %w", name, coreerr.ErrNotFound)
	}
	s.acquire(src.ID, Exclusive)
	return tx.GetMutableTable(name)
}

// CreateTable stages a freshly built heap.Table as a new Source, visible
// only to this transaction until commit. Nothing is registered in the
// engine's global state yet — publish (commit pipeline stage viii) does
// that, so a rolled back CREATE TABLE leaves no trace.
func (s *Session) CreateTable(info *catalog.TableInfo, tbl *heap.Table) (*Source, error) {
	tx, err := s.requireTx()
	if err != nil {
		return nil, err
	}
	if !s.engine.Priv.HasPrivilege(s.User, security.ObjectTable, info.Name.String(), security.PrivilegeCreate) {
		return nil, fmt.Errorf("novadb: create table %q: %w", info.Name.String(), coreerr.ErrPrivilegeDenied)
	}
	src, err := s.engine.stageCreateTable(info, tbl)
	if err != nil {
		return nil, err
	}
	tx.BindVisible(info.Name.String(), src, src.IndexSnapshot())
	tx.MarkCreated(info.Name.String(), src)
	s.acquire(src.ID, Exclusive)
	return src, nil
}

// DropTable stages name as dropped for this transaction — it stops being
// visible to this transaction immediately, but stays in the engine's
// global visible list (and thus visible to any concurrently open
// transaction) until publish (commit pipeline stage viii) actually
// retires it, so a rolled back DROP TABLE leaves no trace.
func (s *Session) DropTable(name string) error {
	tx, err := s.requireTx()
	if err != nil {
		return err
	}
	src, _, ok := tx.VisibleTable(name)
	if !ok {
		return fmt.Errorf("novadb: table %q not visible: %w", name, coreerr.ErrNotFound)
	}
	if !s.engine.Priv.HasPrivilege(s.User, security.ObjectTable, name, security.PrivilegeDrop) {
		return fmt.Errorf("novadb: drop table %q: %w", name, coreerr.ErrPrivilegeDenied)
	}
	s.acquire(src.ID, Exclusive)
	tx.MarkDropped(name, src)
	tx.RemoveVisibleTable(name)
	return nil
}

// AlterTableConstraints stages newInfo as name's post-commit schema and
// schedules commit pipeline stage (vi)'s full-table constraint validation
// against it. Like CreateTable/DropTable, nothing is published to the
// engine's global state until commit.
func (s *Session) AlterTableConstraints(name string, newInfo *catalog.TableInfo) error {
	tx, err := s.requireTx()
	if err != nil {
		return err
	}
	src, _, ok := tx.VisibleTable(name)
	if !ok {
		return fmt.Errorf("novadb: table %q not visible: %w", name, coreerr.ErrNotFound)
	}
	if !s.engine.Priv.HasPrivilege(s.User, security.ObjectTable, name, security.PrivilegeAlter) {
		return fmt.Errorf("novadb: alter table %q: %w", name, coreerr.ErrPrivilegeDenied)
	}
	s.acquire(src.ID, Exclusive)
	mt, err := tx.GetMutableTable(name)
	if err != nil {
		return err
	}
	mt.Registry.MarkConstraintsAltered()
	tx.MarkConstraintsAltered(src.ID, newInfo)
	return nil
}

// Commit runs the commit pipeline against the session's transaction,
// releases every lock handle it accumulated, and clears the session's
// transaction slot regardless of outcome.
func (s *Session) Commit() error {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx == nil {
		return ErrNoTransaction
	}
	err := s.engine.Commit(tx)
	s.releaseLocks()
	return err
}

// Rollback discards the session's transaction and releases its locks.
func (s *Session) Rollback() error {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx == nil {
		return ErrNoTransaction
	}
	err := s.engine.Rollback(tx)
	s.releaseLocks()
	return err
}

func (s *Session) releaseLocks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		h.Release()
	}
	s.handles = nil
	s.tx = nil
}
