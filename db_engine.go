package novadb

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"novadb/internal"
	"novadb/internal/catalog"
	"novadb/internal/record"
	"novadb/internal/security"
	"novadb/internal/storage"
	"novadb/internal/store"
	"novadb/internal/tablestate"
	"novadb/internal/txncore"
)

func (db *Database) tablestateFileSet() storage.LocalFileSet {
	return storage.LocalFileSet{Dir: db.TableDir(), Base: "_tablestate"}
}

func (db *Database) tablestateOverflowFileSet() storage.LocalFileSet {
	return storage.LocalFileSet{Dir: db.TableDir(), Base: "_tablestate_ovf"}
}

func (db *Database) tablestateHeaderPath() string {
	return filepath.Join(db.TableDir(), "_tablestate.header")
}

// openOrCreateTableState opens the table state store rooted at this
// database's table directory, creating it (and its header pointer
// sidecar) the first time a session is ever opened against this
// directory.
func (db *Database) openOrCreateTableState() (*tablestate.Store, error) {
	if err := os.MkdirAll(db.TableDir(), 0o755); err != nil {
		return nil, err
	}

	fs := db.tablestateFileSet()
	ovf := storage.NewOverflowManager(db.SM, db.tablestateOverflowFileSet())
	ps, err := store.Open(db.SM, fs, db.viewFor(fs), ovf)
	if err != nil {
		return nil, err
	}

	if raw, err := os.ReadFile(db.tablestateHeaderPath()); err == nil && len(raw) == 8 {
		headerID := store.AreaID(binary.LittleEndian.Uint64(raw))
		return tablestate.Open(ps, headerID)
	}

	ts, headerID, err := tablestate.Create(ps)
	if err != nil {
		return nil, err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(headerID))
	if err := os.WriteFile(db.tablestateHeaderPath(), buf[:], 0o644); err != nil {
		return nil, err
	}
	return ts, nil
}

func schemaToTableInfo(name string, schema record.Schema) *catalog.TableInfo {
	cols := make([]catalog.Column, len(schema.Cols))
	for i, c := range schema.Cols {
		cols[i] = catalog.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	}
	return &catalog.TableInfo{Name: catalog.ObjectName{Name: name}, Columns: cols}
}

// Engine lazily builds and returns the transactional core engine for this
// database, registering every table already present in the table
// directory as a Source. Built separately from mu so it never RLocks
// under mu's write lock (ListTables below only briefly RLocks via
// ensureOpen).
func (db *Database) Engine() (*txncore.Engine, error) {
	db.engineMu.Lock()
	defer db.engineMu.Unlock()
	if db.engine != nil {
		return db.engine, nil
	}

	ts, err := db.openOrCreateTableState()
	if err != nil {
		return nil, err
	}
	eng := txncore.NewEngine(ts, security.AllowAllChecker{}, 4)
	if db.Config != nil {
		eng.ErrorOnDirtySelect = db.Config.Txn.ErrorOnDirtySelect
	}

	metas, err := db.ListTables()
	if err != nil {
		return nil, err
	}
	visible := ts.ListVisible()
	byName := make(map[string]tablestate.TableState, len(visible))
	for _, v := range visible {
		byName[v.Name] = v
	}

	for _, meta := range metas {
		tbl, err := db.OpenTable(meta.Name)
		if err != nil {
			return nil, err
		}
		info := schemaToTableInfo(meta.Name, meta.Schema)
		if ts_, ok := byName[meta.Name]; ok {
			eng.RegisterSource(txncore.NewSource(ts_.ID, info, tbl))
			continue
		}
		if _, err := eng.CreateTable(info, tbl); err != nil {
			return nil, err
		}
	}
	if err := ts.Flush(); err != nil {
		return nil, err
	}

	db.engine = eng
	return eng, nil
}

// NewSession opens a transactional-core session bound to user against
// this database's engine, building the engine on first use.
func (db *Database) NewSession(user string) (*txncore.Session, error) {
	eng, err := db.Engine()
	if err != nil {
		return nil, err
	}
	return txncore.NewSession(eng, user), nil
}
