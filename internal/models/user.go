package models

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// Valid reports whether r is one of the two known roles.
func (r UserRole) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is the persisted identity record. The password hash is deliberately
// absent; it only exists inside the repository layer.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      UserRole
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicUser is the client-facing projection of a User.
type PublicUser struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      UserRole   `json:"role"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Public projects u without the creation timestamp, the shape returned by
// register, login and profile updates.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}

// PublicWithCreated projects u including createdAt, the shape returned by /me
// and the admin user listing.
func (u User) PublicWithCreated() PublicUser {
	p := u.Public()
	created := u.CreatedAt
	p.CreatedAt = &created
	return p
}

func (p PublicUser) IsAdmin() bool {
	return p.Role == RoleAdmin
}
