// Package novadb is the embeddable relational-engine facade: it owns the
// on-disk table directory layout, the shared buffer pool, and the catalog
// of table/index metadata that the transactional core (internal/txncore)
// and the SQL surface (internal/sql/...) are built on top of.
package novadb

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"novadb/internal"
	"novadb/internal/bufferpool"
	"novadb/internal/heap"
	"novadb/internal/record"
	"novadb/internal/storage"
	"novadb/internal/txncore"
)

var (
	ErrDatabaseClosed  = errors.New("novadb: database is closed")
	ErrNoDatabaseOpen  = errors.New("novadb: no database selected")
	ErrDatabaseExists  = errors.New("novadb: database already exists")
	ErrDatabaseMissing = errors.New("novadb: database does not exist")
	ErrTableExists     = errors.New("novadb: table already exists")
	ErrTableMissing    = errors.New("novadb: table does not exist")
	ErrBadIdent        = errors.New("novadb: invalid identifier")
)

// TableMeta is the on-disk (JSON) descriptor for one table: its schema,
// page-count snapshot, and registered indexes.
type TableMeta struct {
	Name      string         `json:"name"`
	Schema    record.Schema  `json:"schema"`
	PageCount uint32         `json:"page_count"`
	Indexes   []IndexMeta    `json:"indexes"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Database is a single embedded NovaSQL instance rooted at a data directory.
// It may host multiple named logical databases (sub-directories); SelectDatabase
// switches the table-directory root used by table/index operations, the way a
// client driver issues "USE <db>".
type Database struct {
	RootDir string
	SM      *storage.StorageManager
	GP      *bufferpool.GlobalPool
	Config  *internal.NovaSqlConfig

	mu       sync.RWMutex
	current  string // currently selected logical database name, "" = none
	closed   bool
	rowCache *bufferpool.RowCache

	engineMu sync.Mutex // guards engine init; separate from mu to avoid RLock-under-Lock deadlock
	engine   *txncore.Engine
}

// NewDatabase returns a database handle rooted at rootDir without touching
// the filesystem; directories are created lazily by the first operation
// that needs them.
func NewDatabase(rootDir string) *Database {
	sm := storage.NewStorageManager()
	cfg := internal.DefaultConfig()
	return &Database{
		RootDir:  rootDir,
		SM:       sm,
		GP:       bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity),
		Config:   cfg,
		rowCache: bufferpool.NewRowCache(cfg.Storage.RowCacheSize),
	}
}

func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.GP.FlushAll()
}

func (db *Database) ensureOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	return nil
}

func validateIdent(name string) error {
	if name == "" || len(name) > 128 {
		return ErrBadIdent
	}
	for i, r := range name {
		if i == 0 && !(unicode.IsLetter(r) || r == '_') {
			return ErrBadIdent
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return ErrBadIdent
		}
	}
	return nil
}

// ---- logical database (USE <db>) management ----

func (db *Database) databasesDir() string {
	return filepath.Join(db.RootDir, "databases")
}

func (db *Database) databaseDir(name string) string {
	return filepath.Join(db.databasesDir(), name)
}

func (db *Database) CreateDatabase(name string) error {
	if err := db.ensureOpen(); err != nil {
		return err
	}
	if err := validateIdent(name); err != nil {
		return err
	}
	dir := db.databaseDir(name)
	if _, err := os.Stat(dir); err == nil {
		return ErrDatabaseExists
	}
	return os.MkdirAll(dir, 0o755)
}

func (db *Database) DropDatabase(name string) (any, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	if err := validateIdent(name); err != nil {
		return nil, err
	}
	dir := db.databaseDir(name)
	if _, err := os.Stat(dir); err != nil {
		return nil, ErrDatabaseMissing
	}
	db.mu.Lock()
	if db.current == name {
		db.current = ""
	}
	db.mu.Unlock()
	return nil, os.RemoveAll(dir)
}

func (db *Database) SelectDatabase(name string) (any, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	if err := validateIdent(name); err != nil {
		return nil, err
	}
	dir := db.databaseDir(name)
	if _, err := os.Stat(dir); err != nil {
		return nil, ErrDatabaseMissing
	}
	db.mu.Lock()
	db.current = name
	db.mu.Unlock()
	slog.Debug("database selected", "name", name)
	return nil, nil
}

// TableDir returns the directory holding table/index files for the
// currently selected logical database.
func (db *Database) TableDir() string {
	db.mu.RLock()
	cur := db.current
	db.mu.RUnlock()
	if cur == "" {
		return filepath.Join(db.RootDir, "tables")
	}
	return filepath.Join(db.databaseDir(cur), "tables")
}

func (db *Database) fmtIndexBase(table, index string) string {
	return fmt.Sprintf("%s__idx_%s", table, index)
}

func (db *Database) tableMetaPath(name string) string {
	return filepath.Join(db.TableDir(), name+".meta.json")
}

func (db *Database) tableFileSet(name string) storage.LocalFileSet {
	return storage.LocalFileSet{Dir: db.TableDir(), Base: name}
}

func (db *Database) overflowFileSet(name string) storage.LocalFileSet {
	return storage.LocalFileSet{Dir: db.TableDir(), Base: name + "_ovf"}
}

// BufferView exposes a relation-scoped view of the shared buffer pool.
func (db *Database) BufferView(fs storage.FileSet) bufferpool.Manager {
	return db.viewFor(fs)
}

func (db *Database) viewFor(fs storage.FileSet) bufferpool.Manager {
	return db.GP.View(fs)
}

func (db *Database) flushAndDropFileSet(fs storage.FileSet) error {
	if err := db.GP.FlushFileSet(fs); err != nil {
		return err
	}
	return db.GP.DropFileSet(fs)
}

func (db *Database) writeTableMeta(meta *TableMeta) error {
	if err := os.MkdirAll(db.TableDir(), 0o755); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(db.tableMetaPath(meta.Name), data, 0o644)
}

func (db *Database) readTableMeta(name string) (*TableMeta, error) {
	data, err := os.ReadFile(db.tableMetaPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrTableMissing
		}
		return nil, err
	}
	var meta TableMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// CreateTable creates a new table's metadata and on-disk fileset. The
// returned value is the opened *heap.Table handle, boxed as any to satisfy
// the executor seam.
func (db *Database) CreateTable(name string, schema record.Schema) (any, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	if err := validateIdent(name); err != nil {
		return nil, err
	}
	if _, err := db.readTableMeta(name); err == nil {
		return nil, ErrTableExists
	}

	fs := db.tableFileSet(name)
	meta := &TableMeta{Name: name, Schema: schema, CreatedAt: time.Now()}
	if err := db.writeTableMeta(meta); err != nil {
		return nil, err
	}

	ovf := storage.NewOverflowManager(db.SM, db.overflowFileSet(name))
	tbl := heap.NewTable(name, schema, db.SM, fs, db.viewFor(fs), ovf, 0).WithRowCache(db.rowCache)
	return tbl, nil
}

func (db *Database) OpenTable(name string) (*heap.Table, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	if err := validateIdent(name); err != nil {
		return nil, err
	}
	meta, err := db.readTableMeta(name)
	if err != nil {
		return nil, err
	}

	fs := db.tableFileSet(name)
	pageCount, err := db.SM.CountPages(fs)
	if err != nil {
		return nil, err
	}
	meta.PageCount = pageCount
	if err := db.writeTableMeta(meta); err != nil {
		slog.Warn("open table: best-effort meta sync failed", "table", name, "err", err)
	}

	ovf := storage.NewOverflowManager(db.SM, db.overflowFileSet(name))
	return heap.NewTable(name, meta.Schema, db.SM, fs, db.viewFor(fs), ovf, pageCount).WithRowCache(db.rowCache), nil
}

func (db *Database) DropTable(name string) error {
	if err := db.ensureOpen(); err != nil {
		return err
	}
	if err := validateIdent(name); err != nil {
		return err
	}
	if _, err := db.readTableMeta(name); err != nil {
		return err
	}
	fs := db.tableFileSet(name)
	if err := db.flushAndDropFileSet(fs); err != nil {
		return err
	}
	return os.Remove(db.tableMetaPath(name))
}

func (db *Database) ListTables() ([]*TableMeta, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(db.TableDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*TableMeta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta.json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".meta.json")
		meta, err := db.readTableMeta(name)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// SyncTableMetaPageCount refreshes the persisted page-count snapshot for tbl.
func (db *Database) SyncTableMetaPageCount(tbl *heap.Table) error {
	meta, err := db.readTableMeta(tbl.Name)
	if err != nil {
		return err
	}
	meta.PageCount = tbl.PageCount
	return db.writeTableMeta(meta)
}
