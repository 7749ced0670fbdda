// Package catalog holds the schema-level object model the transactional
// core publishes and checks constraints against: object names, table
// info, and the constraint declarations the constraint checker evaluates.
package catalog

import "novadb/internal/record"

// ObjectName is a qualified identifier. Equality respects CaseSensitive:
// when false, names compare after ASCII lowercase-folding, matching a
// database configured for case-insensitive identifiers.
type ObjectName struct {
	Schema        string
	Name          string
	CaseSensitive bool
}

func (n ObjectName) key() (string, string) {
	if n.CaseSensitive {
		return n.Schema, n.Name
	}
	return foldASCII(n.Schema), foldASCII(n.Name)
}

func (n ObjectName) Equal(o ObjectName) bool {
	ns, nn := n.key()
	os, on := o.key()
	return ns == os && nn == on
}

func (n ObjectName) String() string {
	if n.Schema == "" {
		return n.Name
	}
	return n.Schema + "." + n.Name
}

func foldASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Column describes one table column: its SQL-level type, nullability,
// optional default expression (opaque to the core; the planner evaluates
// it), and whether it is an identity (auto-increment) column.
type Column struct {
	Name       string
	Type       record.ColumnType
	Nullable   bool
	Default    string // opaque default expression text, empty if none
	HasDefault bool
	Identity   bool
}

// ConstraintKind mirrors coreerr.ConstraintKind for catalog-side
// declarations; kept distinct so catalog does not need to import coreerr
// just to describe a constraint.
type ConstraintKind uint8

const (
	ConstraintNotNull ConstraintKind = iota
	ConstraintCheck
	ConstraintUnique
	ConstraintPrimaryKey
	ConstraintForeignKey
)

// Constraint is a named constraint attached to a table.
type Constraint struct {
	Name string
	Kind ConstraintKind

	// Columns participating in UNIQUE/PRIMARY KEY/FOREIGN KEY.
	Columns []string

	// CheckExpr is the opaque CHECK predicate text (planner's concern to
	// evaluate); empty unless Kind == ConstraintCheck.
	CheckExpr string

	// Deferrable marks the constraint as eligible for deferred checking at
	// commit rather than immediately after each statement.
	Deferrable bool

	// Foreign-key specifics.
	RefTable   string
	RefColumns []string
}

// TableInfo is the immutable published shape of one table. An ALTER
// produces a new *TableInfo rather than mutating this one.
type TableInfo struct {
	Name        ObjectName
	Columns     []Column
	Constraints []Constraint
}

func (t *TableInfo) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Sequence is a simple monotonic counter object, DDL-visible like a table.
type Sequence struct {
	Name    ObjectName
	Current int64
	Step    int64
}

func NewSequence(name ObjectName, start, step int64) *Sequence {
	return &Sequence{Name: name, Current: start - step, Step: step}
}

func (s *Sequence) NextValue() int64 {
	s.Current += s.Step
	return s.Current
}

func (s *Sequence) CurrentValue() int64 { return s.Current }

func (s *Sequence) Restart(start int64) { s.Current = start - s.Step }

// View is a named, stored query-plan object. Plan is left as `any` here
// (a planner.Plan in practice) so catalog does not depend on the planner
// package; it is resolved at read time by re-invoking the plan, not
// materialized.
type View struct {
	Name ObjectName
	Plan any
}

// TriggerEvent enumerates the row events a trigger may be registered for.
type TriggerEvent uint8

const (
	TriggerOnInsert TriggerEvent = iota
	TriggerOnUpdate
	TriggerOnDelete
)

// Trigger registers a (table, event, plan) tuple for dispatch-only firing;
// the SQL body is opaque to the core.
type Trigger struct {
	Name  ObjectName
	Table ObjectName
	Event TriggerEvent
	Plan  any
}
