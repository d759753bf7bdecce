package core

import (
	"fmt"
	"strings"
)

// Role identifies one worker process on the bus. The set of roles is closed;
// identifiers arriving from untrusted input (bus messages, await calls) must go
// through ParseRole and are rejected if they are not in the set.
type Role string

const (
	RoleCEO      Role = "ceo"
	RoleCTO      Role = "cto"
	RoleCOO      Role = "coo"
	RoleEngineer Role = "engineer"
	RoleMarketer Role = "marketer"
	RoleSupport  Role = "support"

	// RoleAll is the broadcast pseudo-role. It is a valid recipient for
	// durable rows but never a sender, so ParseRole does not accept it.
	RoleAll Role = "all"
)

var knownRoles = map[Role]struct{}{
	RoleCEO:      {},
	RoleCTO:      {},
	RoleCOO:      {},
	RoleEngineer: {},
	RoleMarketer: {},
	RoleSupport:  {},
}

// leadershipRoles additionally receive messages on the shared leadership topic.
var leadershipRoles = map[Role]struct{}{
	RoleCEO: {},
	RoleCTO: {},
	RoleCOO: {},
}

// RoleError indicates a role identifier outside the known set.
type RoleError struct {
	Value string
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("unknown role: %q", e.Value)
}

// ParseRole validates an untrusted role identifier against the closed set. It
// never creates new role values, so malformed input cannot grow any state keyed
// by role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownRoles[r]; !ok {
		return "", &RoleError{Value: s}
	}

	return r, nil
}

// Roles returns all known roles. The returned slice is a copy.
func Roles() []Role {
	rs := make([]Role, 0, len(knownRoles))
	for r := range knownRoles {
		rs = append(rs, r)
	}

	return rs
}

// IsLeadership reports whether the role is part of the leadership subset.
func IsLeadership(r Role) bool {
	_, ok := leadershipRoles[r]
	return ok
}
