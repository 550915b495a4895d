package content

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/beacon-dash/beacon/internal/audit"
	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/shared"
)

// RepositoryPort defines data access methods for content.
type RepositoryPort interface {
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]Item, int, error)
	Get(ctx context.Context, id int64) (Item, error)
	Create(ctx context.Context, authorID int64, title, body string) (Item, error)
	Update(ctx context.Context, id int64, title, body *string) (Item, error)
	Publish(ctx context.Context, id int64) (Item, error)
	Delete(ctx context.Context, id int64) error
}

// AuditRecorder records content changes.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service handles content business logic.
type Service struct {
	repo   RepositoryPort
	holder *authz.Holder
	audit  AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, holder *authz.Holder, recorder AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, holder: holder, audit: recorder, logger: logger}
}

// List returns one page of content.
func (s *Service) List(ctx context.Context, filter ListFilter, page, perPage int) (ListResult, error) {
	page, perPage = shared.NormalizePage(page, perPage)
	items, total, err := s.repo.List(ctx, filter, perPage, (page-1)*perPage)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Pagination: shared.NewPagination(page, perPage, total)}, nil
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a draft authored by actor.
func (s *Service) Create(ctx context.Context, actor rbac.Principal, in CreateInput, ip string) (Item, error) {
	item, err := s.repo.Create(ctx, actor.UserID, strings.TrimSpace(in.Title), in.Body)
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, actor, "content.create", item.ID, ip, map[string]any{"title": item.Title})
	return item, nil
}

// Update edits an item. Authors may edit their own content without
// content.update.
func (s *Service) Update(ctx context.Context, actor rbac.Principal, id int64, in UpdateInput, ip string) (Item, error) {
	if err := s.authorize(ctx, actor, id, shared.PermContentUpdate); err != nil {
		return Item{}, err
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		in.Title = &title
	}
	item, err := s.repo.Update(ctx, id, in.Title, in.Body)
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, actor, "content.update", id, ip, nil)
	return item, nil
}

// Publish makes an item visible. It always requires content.publish.
func (s *Service) Publish(ctx context.Context, actor rbac.Principal, id int64, ip string) (Item, error) {
	if !s.holder.Engine().HasPermission(actor.Role, shared.PermContentPublish) {
		return Item{}, ErrForbidden
	}
	item, err := s.repo.Publish(ctx, id)
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, actor, "content.publish", id, ip, nil)
	return item, nil
}

// Delete removes an item. Authors may delete their own content without
// content.delete.
func (s *Service) Delete(ctx context.Context, actor rbac.Principal, id int64, ip string) error {
	if err := s.authorize(ctx, actor, id, shared.PermContentDelete); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "content.delete", id, ip, nil)
	return nil
}

func (s *Service) authorize(ctx context.Context, actor rbac.Principal, id int64, perm authz.Permission) error {
	engine := s.holder.Engine()
	if engine.HasPermission(actor.Role, perm) {
		return nil
	}
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !engine.OwnsResource(actor.UserID, item.AuthorID) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor rbac.Principal, action string, id int64, ip string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "content",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		IP:       ip,
	})
	if err != nil {
		s.logger.Error("audit content change", slog.String("action", action), slog.Any("error", err))
	}
}
