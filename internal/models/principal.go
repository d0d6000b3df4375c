package models

import "sort"

type Role string

const (
	RoleUser       Role = "user"
	RoleGroupAdmin Role = "group-admin"
	RoleSuperAdmin Role = "super-admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleGroupAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Principal is the authenticated identity bound to one connection. It is
// derived from the user store at handshake and never changes afterwards.
type Principal struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
	Roles    []Role `json:"roles"`
}

func NewPrincipal(userId, username string, roles ...Role) Principal {
	seen := make(map[Role]bool, len(roles))
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		if !r.Valid() || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	if len(out) == 0 {
		out = append(out, RoleUser)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return Principal{UserId: userId, Username: username, Roles: out}
}

func (p Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (p Principal) IsSuperAdmin() bool {
	return p.HasRole(RoleSuperAdmin)
}
