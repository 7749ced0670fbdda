// Package coreerr holds the sentinel error codes the transactional core
// exposes across its package boundaries (commit pipeline, table state
// store, constraint checker, session), matching the wire error codes the
// client driver needs to distinguish retryable commit conflicts from fatal
// storage errors.
package coreerr

import "errors"

var (
	ErrDirtySelect             = errors.New("novadb: dirty select")
	ErrNamespaceConflict       = errors.New("novadb: namespace conflict")
	ErrRowConflict             = errors.New("novadb: row conflict")
	ErrDroppedModifiedConflict = errors.New("novadb: dropped-modified conflict")
	ErrConstraintViolation     = errors.New("novadb: constraint violation")
	ErrNotFound                = errors.New("novadb: not found")
	ErrPrivilegeDenied         = errors.New("novadb: privilege denied")
	ErrStoreIO                 = errors.New("novadb: store i/o error")
	ErrCorruption              = errors.New("novadb: corruption")
)

// DirtySelectError names the table a dirty-select check rejected.
type DirtySelectError struct{ Table string }

func (e *DirtySelectError) Error() string { return "dirty select on table " + e.Table }
func (e *DirtySelectError) Unwrap() error  { return ErrDirtySelect }

// ObjectDuplicatedConflictError names the object and kind a DDL namespace
// conflict was raised for ("created" or "dropped").
type ObjectDuplicatedConflictError struct {
	Name string
	Kind string
}

func (e *ObjectDuplicatedConflictError) Error() string {
	return "object " + e.Name + " already " + e.Kind + " by a concurrent commit"
}
func (e *ObjectDuplicatedConflictError) Unwrap() error { return ErrNamespaceConflict }

// RowRemoveConflictError names the table and row-number two transactions
// both touched with at least one non-Add event.
type RowRemoveConflictError struct {
	Table string
	Row   int64
}

func (e *RowRemoveConflictError) Error() string {
	return "row conflict on table " + e.Table
}
func (e *RowRemoveConflictError) Unwrap() error { return ErrRowConflict }

// NonCommittedConflictError is raised when a transaction touches a table
// that a past commit has already dropped.
type NonCommittedConflictError struct{ Table string }

func (e *NonCommittedConflictError) Error() string {
	return "table " + e.Table + " no longer exists"
}
func (e *NonCommittedConflictError) Unwrap() error { return ErrRowConflict }

// DroppedModifiedConflictError is raised when a transaction drops a table
// that some concurrent commit also modified since this transaction began.
type DroppedModifiedConflictError struct{ Table string }

func (e *DroppedModifiedConflictError) Error() string {
	return "table " + e.Table + " was modified concurrently with its drop"
}
func (e *DroppedModifiedConflictError) Unwrap() error { return ErrDroppedModifiedConflict }

// ConstraintKind enumerates the constraint kinds the checker evaluates.
type ConstraintKind uint8

const (
	ConstraintNotNull ConstraintKind = iota
	ConstraintCheck
	ConstraintUnique
	ConstraintPrimaryKey
	ConstraintForeignKey
)

func (k ConstraintKind) String() string {
	switch k {
	case ConstraintNotNull:
		return "NOT NULL"
	case ConstraintCheck:
		return "CHECK"
	case ConstraintUnique:
		return "UNIQUE"
	case ConstraintPrimaryKey:
		return "PRIMARY KEY"
	case ConstraintForeignKey:
		return "FOREIGN KEY"
	default:
		return "UNKNOWN"
	}
}

// ConstraintViolation carries the constraint name, kind, and offending row.
type ConstraintViolation struct {
	Constraint string
	Kind       ConstraintKind
	Table      string
	Row        int64
}

func (e *ConstraintViolation) Error() string {
	return e.Kind.String() + " constraint " + e.Constraint + " violated on " + e.Table
}
func (e *ConstraintViolation) Unwrap() error { return ErrConstraintViolation }
