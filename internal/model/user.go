package model

import "time"

// Role names carried in the access token's "role" claim and stored in
// users.role.  CLIENT owns dossiers; AGENT and ADMIN are staff.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleAgent  Role = "AGENT"
	RoleAdmin  Role = "ADMIN"
)

// ParseRole normalizes s into a known role.  ok is false for anything else.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleClient, RoleAgent, RoleAdmin:
		return r, true
	}
	return "", false
}

// IsStaff reports whether the role belongs to back-office personnel.
func (r Role) IsStaff() bool { return r == RoleAgent || r == RoleAdmin }

// Principal is the authenticated caller of a request, as established by the
// JWT middleware.  The workflow engine trusts it for ownership checks.
type Principal struct {
	UserID uint64
	Role   Role
}

// User is an account.  Clients sign themselves up; staff accounts are
// created from the command line.  Inactive users cannot log in or refresh.
type User struct {
	ID           uint64    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
