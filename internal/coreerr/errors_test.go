package coreerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstraintViolation_Unwraps(t *testing.T) {
	err := &ConstraintViolation{Constraint: "pk_users", Kind: ConstraintPrimaryKey, Table: "users", Row: 3}
	assert.ErrorIs(t, err, ErrConstraintViolation)
	assert.Contains(t, err.Error(), "pk_users")
	assert.Contains(t, err.Error(), "PRIMARY KEY")
}

func TestRowRemoveConflictError_Unwraps(t *testing.T) {
	err := &RowRemoveConflictError{Table: "orders", Row: 5}
	assert.ErrorIs(t, err, ErrRowConflict)
}

func TestObjectDuplicatedConflictError_Unwraps(t *testing.T) {
	err := &ObjectDuplicatedConflictError{Name: "orders", Kind: "created"}
	assert.ErrorIs(t, err, ErrNamespaceConflict)
	assert.Contains(t, err.Error(), "created")
}

func TestDroppedModifiedConflictError_Unwraps(t *testing.T) {
	err := &DroppedModifiedConflictError{Table: "orders"}
	assert.ErrorIs(t, err, ErrDroppedModifiedConflict)
}

func TestDirtySelectError_Unwraps(t *testing.T) {
	err := &DirtySelectError{Table: "orders"}
	assert.ErrorIs(t, err, ErrDirtySelect)
}

func TestConstraintKind_String(t *testing.T) {
	assert.Equal(t, "CHECK", ConstraintCheck.String())
	assert.Equal(t, "FOREIGN KEY", ConstraintForeignKey.String())
}

func TestErrors_AreDistinctSentinels(t *testing.T) {
	assert.False(t, errors.Is(ErrRowConflict, ErrConstraintViolation))
}
