package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUniqueRoles(t *testing.T) {
	assert.Equal(t, []string{RolePlayer, "scout"}, UniqueRoles([]string{RolePlayer, RolePlayer, "scout"}))
	assert.Equal(t, []string{RolePlayer, "scout"}, UniqueRoles([]string{"scout", RolePlayer, "scout"}))
	assert.Empty(t, UniqueRoles(nil))

	p := Player{Roles: UniqueRoles([]string{"medic", RolePlayer, "medic"})}
	assert.Equal(t, "medic", p.WantedRole())
}
