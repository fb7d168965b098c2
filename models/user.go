package models

// Role is the platform role of an authenticated user.
type Role string

const (
	RoleFarmer Role = "farmer"
	RoleExpert Role = "expert"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleExpert, RoleAdmin:
		return true
	}
	return false
}

// Identity is what the Authentication Provider resolves a credential to.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// Caller identifies who issued a gateway operation: the user, the
// connection it arrived on and the request reference to echo in replies.
type Caller struct {
	Identity
	ConnID string
	Ref    string
}
