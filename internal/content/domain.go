package content

import (
	"fmt"
	"time"

	"github.com/beacon-dash/beacon/internal/platform/httpx"
	"github.com/beacon-dash/beacon/internal/shared"
)

var (
	// ErrNotFound indicates the content item does not exist.
	ErrNotFound = fmt.Errorf("content %w", httpx.ErrNotFound)
	// ErrForbidden indicates the actor may not change the item.
	ErrForbidden = fmt.Errorf("content change %w", httpx.ErrForbidden)
	// ErrInvalidStatus indicates an unsupported status filter.
	ErrInvalidStatus = fmt.Errorf("invalid status: %w", httpx.ErrValidation)
)

// Status of a content item.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Item is a piece of dashboard content.
type Item struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Status      Status     `json:"status"`
	AuthorID    int64      `json:"author_id"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CreateInput is the payload for new content.
type CreateInput struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body" validate:"max=65536"`
}

// UpdateInput carries optional edits.
type UpdateInput struct {
	Title *string `json:"title" validate:"omitempty,min=1,max=200"`
	Body  *string `json:"body" validate:"omitempty,max=65536"`
}

// ListFilter narrows listings.
type ListFilter struct {
	Status   Status
	AuthorID int64
}

// ListResult is one page of content.
type ListResult struct {
	Items      []Item            `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// ParseStatus validates a status query value; empty means any.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case "":
		return "", nil
	case StatusDraft, StatusPublished:
		return Status(raw), nil
	default:
		return "", ErrInvalidStatus
	}
}
