package planner

import (
	"fmt"
	"strings"

	"novadb"
	"novadb/internal/record"
	"novadb/internal/sql/parser"
)

// BuildPlan builds a physical plan from an AST Statement. db may be nil for
// statement kinds that need no catalog lookup (CREATE/DROP TABLE, INSERT,
// database-level DDL); it is required to resolve WHERE predicates and index
// candidates for SELECT/UPDATE/DELETE.
func BuildPlan(stmt parser.Statement, db *novadb.Database) (Plan, error) {
	switch s := stmt.(type) {
	case *parser.CreateDatabaseStmt:
		return &CreateDatabasePlan{Name: s.Name}, nil
	case *parser.DropDatabaseStmt:
		return &DropDatabasePlan{Name: s.Name}, nil
	case *parser.UseDatabaseStmt:
		return &UseDatabasePlan{Name: s.Name}, nil

	case *parser.CreateTableStmt:
		return buildCreateTablePlan(s)
	case *parser.DropTableStmt:
		return &DropTablePlan{TableName: s.TableName}, nil

	case *parser.InsertStmt:
		return buildInsertPlan(s)
	case *parser.SelectStmt:
		return buildSelectPlan(s, db)
	case *parser.UpdateStmt:
		return buildUpdatePlan(s, db)
	case *parser.DeleteStmt:
		return buildDeletePlan(s, db)

	default:
		return nil, fmt.Errorf("planner: unsupported statement type %T", stmt)
	}
}

func buildCreateTablePlan(s *parser.CreateTableStmt) (Plan, error) {
	var cols []record.Column
	for _, c := range s.Columns {
		colType, err := mapSQLType(c.Type)
		if err != nil {
			return nil, err
		}
		cols = append(cols, record.Column{
			Name:     c.Name,
			Type:     colType,
			Nullable: true, // default
		})
	}
	return &CreateTablePlan{
		TableName: s.TableName,
		Schema:    record.Schema{Cols: cols},
	}, nil
}

func buildInsertPlan(s *parser.InsertStmt) (Plan, error) {
	return &InsertPlan{
		TableName: s.TableName,
		Values:    s.Values,
	}, nil
}

func buildSelectPlan(s *parser.SelectStmt, db *novadb.Database) (Plan, error) {
	bound, err := bindOptionalWhere(s.TableName, s.Where, db)
	if err != nil {
		return nil, err
	}
	if bound != nil {
		if im, key, ok := findBTreeCandidate(s.TableName, bound, db); ok {
			return &IndexLookupPlan{
				TableName:     s.TableName,
				IndexFileBase: im.FileBase,
				Key:           key,
				Where:         bound,
			}, nil
		}
	}
	return &SeqScanPlan{TableName: s.TableName, Where: bound}, nil
}

func buildUpdatePlan(s *parser.UpdateStmt, db *novadb.Database) (Plan, error) {
	schema, err := tableSchema(s.TableName, db)
	if err != nil {
		return nil, err
	}

	assigns := make([]Assignment, 0, len(s.Assignments))
	for _, a := range s.Assignments {
		lit, ok := a.Value.(*parser.LiteralExpr)
		if !ok {
			return nil, fmt.Errorf("planner: only literal expressions supported in UPDATE SET")
		}
		v, err := coerceLiteralToColumn(schema, a.Column, lit.Value)
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, Assignment{Column: a.Column, Value: v})
	}

	bound, err := bindWhereEqOrNil(schema, s.Where)
	if err != nil {
		return nil, err
	}
	return &UpdatePlan{TableName: s.TableName, Assigns: assigns, Where: bound}, nil
}

func buildDeletePlan(s *parser.DeleteStmt, db *novadb.Database) (Plan, error) {
	bound, err := bindOptionalWhere(s.TableName, s.Where, db)
	if err != nil {
		return nil, err
	}
	return &DeletePlan{TableName: s.TableName, Where: bound}, nil
}

func tableSchema(tableName string, db *novadb.Database) (record.Schema, error) {
	if db == nil {
		return record.Schema{}, fmt.Errorf("planner: database required to resolve table %q", tableName)
	}
	tbl, err := db.OpenTable(tableName)
	if err != nil {
		return record.Schema{}, err
	}
	return tbl.Schema, nil
}

func bindOptionalWhere(tableName string, w *parser.WhereEq, db *novadb.Database) (*WhereEq, error) {
	if w == nil {
		return nil, nil
	}
	schema, err := tableSchema(tableName, db)
	if err != nil {
		return nil, err
	}
	return bindWhereEq(schema, w)
}

func bindWhereEqOrNil(schema record.Schema, w *parser.WhereEq) (*WhereEq, error) {
	if w == nil {
		return nil, nil
	}
	return bindWhereEq(schema, w)
}

// bindWhereEq resolves a raw parsed predicate's literal against the column's
// declared type, producing a plan-level WhereEq the executor can compare
// directly without re-parsing.
func bindWhereEq(schema record.Schema, w *parser.WhereEq) (*WhereEq, error) {
	lit, ok := w.Value.(*parser.LiteralExpr)
	if !ok {
		return nil, fmt.Errorf("planner: only literal expressions supported in WHERE")
	}
	v, err := coerceLiteralToColumn(schema, w.Column, lit.Value)
	if err != nil {
		return nil, err
	}
	return &WhereEq{Column: w.Column, Value: v}, nil
}

func coerceLiteralToColumn(schema record.Schema, colName string, v any) (any, error) {
	var col *record.Column
	for i := range schema.Cols {
		if schema.Cols[i].Name == colName {
			col = &schema.Cols[i]
			break
		}
	}
	if col == nil {
		return nil, fmt.Errorf("planner: unknown column %q", colName)
	}

	if v == nil {
		if !col.Nullable {
			return nil, fmt.Errorf("planner: column %q is NOT NULL", colName)
		}
		return nil, nil
	}

	switch col.Type {
	case record.ColInt64:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		default:
			return nil, fmt.Errorf("planner: column %q expects INT64, got %T", colName, v)
		}
	case record.ColText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("planner: column %q expects TEXT, got %T", colName, v)
		}
		return s, nil
	case record.ColBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("planner: column %q expects BOOL, got %T", colName, v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("planner: unsupported column type for %q", colName)
	}
}

// findBTreeCandidate reports whether a btree index exists on bound.Column
// with an int64 key, so the executor can do a point lookup instead of a
// full scan.
func findBTreeCandidate(tableName string, bound *WhereEq, db *novadb.Database) (novadb.IndexMeta, int64, bool) {
	if db == nil {
		return novadb.IndexMeta{}, 0, false
	}
	key, ok := bound.Value.(int64)
	if !ok {
		return novadb.IndexMeta{}, 0, false
	}
	idxs, err := db.ListIndexes(tableName)
	if err != nil {
		return novadb.IndexMeta{}, 0, false
	}
	for _, im := range idxs {
		if im.Kind == novadb.IndexKindBTree && im.KeyColumn == bound.Column {
			return im, key, true
		}
	}
	return novadb.IndexMeta{}, 0, false
}

func mapSQLType(t string) (record.ColumnType, error) {
	switch strings.ToUpper(t) {
	case "INT", "INTEGER":
		return record.ColInt64, nil
	case "TEXT":
		return record.ColText, nil
	case "BOOL", "BOOLEAN":
		return record.ColBool, nil
	default:
		return 0, fmt.Errorf("unsupported column type: %s", t)
	}
}
