package auth

import (
	"time"

	"github.com/beacon-dash/beacon/internal/authz"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	Name         string
	Role         authz.Role
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Me is returned to the dashboard so it can render according to the
// caller's server-side permissions.
type Me struct {
	ID          int64              `json:"id"`
	Email       string             `json:"email"`
	Name        string             `json:"name"`
	Role        authz.Role         `json:"role"`
	Level       int                `json:"level"`
	Permissions []authz.Permission `json:"permissions"`
	Manageable  []authz.Role       `json:"manageable_roles"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}
