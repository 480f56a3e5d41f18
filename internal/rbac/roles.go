package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleAdmin controls every call of its tenant.
	RoleAdmin = "admin"
	// RoleUser controls only the calls it owns, via /users/me routes.
	RoleUser = "user"
	// RoleSuperAdmin bypasses role checks; tenant isolation still applies.
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
