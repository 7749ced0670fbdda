package planner

import (
	"novadb/internal/record"
	"novadb/internal/sql/parser"
)

// Plan is the interface for executable plans.
type Plan interface {
	planNode()
}

// ----- Plan nodes -----

type CreateDatabasePlan struct {
	Name string
}

func (*CreateDatabasePlan) planNode() {}

type DropDatabasePlan struct {
	Name string
}

func (*DropDatabasePlan) planNode() {}

type UseDatabasePlan struct {
	Name string
}

func (*UseDatabasePlan) planNode() {}

type CreateTablePlan struct {
	TableName string
	Schema    record.Schema
}

func (*CreateTablePlan) planNode() {}

type DropTablePlan struct {
	TableName string
}

func (*DropTablePlan) planNode() {}

type InsertPlan struct {
	TableName string
	Values    []parser.Expr // evaluated at execution
}

func (*InsertPlan) planNode() {}

// WhereEq is a bound (schema-coerced) equality predicate, distinct from
// parser.WhereEq which still carries a raw literal Expr.
type WhereEq struct {
	Column string
	Value  any
}

type SeqScanPlan struct {
	TableName string
	Where     *WhereEq
}

func (*SeqScanPlan) planNode() {}

// IndexLookupPlan services a WHERE equality predicate via a btree index
// instead of a full sequential scan.
type IndexLookupPlan struct {
	TableName     string
	IndexFileBase string
	Key           int64
	Where         *WhereEq
}

func (*IndexLookupPlan) planNode() {}

type Assignment struct {
	Column string
	Value  any
}

type UpdatePlan struct {
	TableName string
	Assigns   []Assignment
	Where     *WhereEq
}

func (*UpdatePlan) planNode() {}

type DeletePlan struct {
	TableName string
	Where     *WhereEq
}

func (*DeletePlan) planNode() {}
