// Package roles defines the user role bitmask and the checks used by
// access-control guards. A role value may carry any combination of the
// defined bits; checks are always made against the role stored in the
// database, never against a claim baked into a token.
package roles

// Role is a bitmask of permission tiers.
type Role int32

const (
	Admin Role = 0b01
	User  Role = 0b10
)

// All is the union of every defined role bit.
const All = Admin | User

// Has reports whether r carries every bit of needle.
func (r Role) Has(needle Role) bool {
	return r&needle == needle
}

// Valid reports whether r is zero, exactly one defined bit, or the union
// of all defined bits. Anything else is a garbage assignment.
func (r Role) Valid() bool {
	switch r {
	case 0, Admin, User, All:
		return true
	}

	return false
}
