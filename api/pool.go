// File: api/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scratch buffer contract for the receive path.

package api

// Role selects which scratch buffer a receive uses.
type Role int

const (
	RoleBinary Role = iota
	RoleText
)

func (r Role) String() string {
	if r == RoleText {
		return "text"
	}
	return "binary"
}

// ScratchPool hands out the shared, reused receive buffer of a role.
// Contents are valid only until the next receive with the same role.
type ScratchPool interface {
	// Buffer returns the scratch buffer for role at full capacity.
	Buffer(r Role) []byte

	// Capacity returns the fixed size of the role buffer.
	Capacity(r Role) int
}
