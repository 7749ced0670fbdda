package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowAllChecker_GrantsEverything(t *testing.T) {
	c := AllowAllChecker{}
	assert.True(t, c.HasPrivilege("alice", ObjectTable, "users", PrivilegeCreate))
	assert.True(t, c.HasPrivilege("alice", ObjectView, "v", PrivilegeAlter))
}

func TestDenyAllChecker_DeniesEverything(t *testing.T) {
	c := DenyAllChecker{}
	assert.False(t, c.HasPrivilege("alice", ObjectTable, "users", PrivilegeSelect))
}

// PrivilegeChecker must be satisfiable by a caller-supplied closure-backed
// type, the embedding contract spec.md's SECURITY box describes.
type funcChecker func(user string, objType ObjectType, objName string, priv Privilege) bool

func (f funcChecker) HasPrivilege(user string, objType ObjectType, objName string, priv Privilege) bool {
	return f(user, objType, objName, priv)
}

func TestPrivilegeChecker_CustomImplementation(t *testing.T) {
	var c PrivilegeChecker = funcChecker(func(user string, _ ObjectType, objName string, priv Privilege) bool {
		return user == "admin" && objName == "secrets" && priv == PrivilegeDrop
	})
	assert.True(t, c.HasPrivilege("admin", ObjectTable, "secrets", PrivilegeDrop))
	assert.False(t, c.HasPrivilege("bob", ObjectTable, "secrets", PrivilegeDrop))
}
