package model

import "time"

// Roles stored in users.role and carried in the access token's role claim.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool { return r == RoleUser || r == RoleAdmin }

// User represents a row of the `users` table.  PasswordHash never leaves
// the server; handlers render UserPublic instead.
type User struct {
	ID           uint64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Public strips credentials.
func (u User) Public() UserPublic {
	return UserPublic{ID: u.ID, Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt}
}

// UserPublic is the JSON shape of a user in admin listings and auth responses.
type UserPublic struct {
	ID        uint64    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Caller is the authenticated principal behind a request.
type Caller struct {
	UserID   uint64
	Username string
	Role     string
}

// IsAdmin reports whether the caller holds the admin role.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }
