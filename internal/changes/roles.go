package changes

// Well-known roles. Role strings are otherwise opaque capability labels.
const (
	RoleEveryone      = "everyone"
	RoleAuthenticated = "authenticated"
	RoleSysadmin      = "r:sysadmin"
)

// RoleSet is the set of roles a user holds in one discussion. Used only
// for message-level read filtering; never cached beyond a session.
type RoleSet map[string]struct{}

// NewRoleSet builds a RoleSet from the given roles.
func NewRoleSet(roles ...string) RoleSet {
	rs := make(RoleSet, len(roles))
	for _, r := range roles {
		rs[r] = struct{}{}
	}
	return rs
}

// Add inserts a role.
func (rs RoleSet) Add(role string) {
	rs[role] = struct{}{}
}

// Has reports whether the set contains role.
func (rs RoleSet) Has(role string) bool {
	_, ok := rs[role]
	return ok
}

// Intersects reports whether any of the given audience labels is held.
func (rs RoleSet) Intersects(audience []string) bool {
	for _, a := range audience {
		if rs.Has(a) {
			return true
		}
	}
	return false
}
