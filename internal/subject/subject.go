package subject

// Role of the authenticated principal. Only End users run continuous
// tracking; responder and admin roles consume alerts instead.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
	RolePolice     Role = "police"
	RoleHospital   Role = "hospital"
)

// Context is the caller identity as supplied by the authentication
// collaborator. This package never mutates it.
type Context struct {
	Role          Role
	Authenticated bool
}

// Supplier yields the current subject context on demand. Injected into
// the tracker and gate instead of ambient global state.
type Supplier func() Context
