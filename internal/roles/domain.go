package roles

import (
	"fmt"

	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/platform/httpx"
)

var (
	// ErrForbidden indicates the actor may not make the assignment or edit.
	ErrForbidden = fmt.Errorf("role change %w", httpx.ErrForbidden)
	// ErrUnknownRole indicates the requested role is not in the catalog.
	ErrUnknownRole = fmt.Errorf("unknown role: %w", httpx.ErrValidation)
	// ErrSelfAssignment is returned when an actor targets their own account.
	ErrSelfAssignment = fmt.Errorf("cannot change own role: %w", httpx.ErrForbidden)
	// ErrUserNotFound indicates the target user does not exist.
	ErrUserNotFound = fmt.Errorf("user %w", httpx.ErrNotFound)
)

// Role is a catalog role as shown in management screens.
type Role struct {
	Name        authz.Role         `json:"name"`
	DisplayName string             `json:"display_name"`
	Level       int                `json:"level"`
	Description string             `json:"description,omitempty"`
	Inherits    []authz.Role       `json:"inherits"`
	Permissions []authz.Permission `json:"permissions"`
	Manageable  bool               `json:"manageable"`
}

// Assignment is the payload of a role assignment.
type Assignment struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Role   string `json:"role" validate:"required"`
}

// AssignmentResult reports an applied assignment.
type AssignmentResult struct {
	UserID   int64      `json:"user_id"`
	Previous authz.Role `json:"previous"`
	Role     authz.Role `json:"role"`
}
