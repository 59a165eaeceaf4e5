package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleClient = "client"
	RoleExpert = "expert"
	RoleAdmin  = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
