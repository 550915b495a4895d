// Package notify delivers dashboard notifications over websockets and keeps
// an inbox per user.
package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/platform/httpx"
)

var (
	// ErrNotFound indicates the notification does not exist for the user.
	ErrNotFound = fmt.Errorf("notification %w", httpx.ErrNotFound)
	// ErrNoRecipients indicates a send without any target.
	ErrNoRecipients = fmt.Errorf("no recipients: %w", httpx.ErrValidation)
	// ErrUnknownRole indicates a target role missing from the catalog.
	ErrUnknownRole = fmt.Errorf("unknown role: %w", httpx.ErrValidation)
	// ErrDuplicateRequest indicates the idempotency key was already used.
	ErrDuplicateRequest = fmt.Errorf("notification request %w", httpx.ErrDuplicate)
)

// Level grades a notification for display.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelAlert   Level = "alert"
)

// Notification is one inbox entry.
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    int64      `json:"user_id"`
	SenderID  int64      `json:"sender_id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Level     Level      `json:"level"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// Message is the payload pushed to connected clients.
type Message struct {
	ID        uuid.UUID `json:"id"`
	SenderID  int64     `json:"sender_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Level     Level     `json:"level"`
	CreatedAt time.Time `json:"created_at"`
}

// Envelope routes a message. All wins over Users and Roles.
type Envelope struct {
	All     bool         `json:"all,omitempty"`
	Users   []int64      `json:"users,omitempty"`
	Roles   []authz.Role `json:"roles,omitempty"`
	Message Message      `json:"message"`
}

// SendInput is the payload of POST /notifications.
type SendInput struct {
	Title string   `json:"title" validate:"required,max=200"`
	Body  string   `json:"body" validate:"max=4000"`
	Level Level    `json:"level" validate:"omitempty,oneof=info warning alert"`
	Users []int64  `json:"users" validate:"omitempty,max=1000,dive,gt=0"`
	Roles []string `json:"roles" validate:"omitempty,max=32,dive,required"`
	All   bool     `json:"all"`
}
