package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beacon-dash/beacon/internal/audit"
	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/shared"
)

const idempotencyModule = "notifications"

// Store persists inboxes.
type Store interface {
	Recipients(ctx context.Context, all bool, users []int64, roles []authz.Role) ([]int64, error)
	Insert(ctx context.Context, msg Message, recipients []int64) error
	List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID int64, id uuid.UUID, at time.Time) error
}

// IdempotencyStore guards against duplicate sends.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AuditRecorder records sends.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service stores notifications and pushes them to connected clients.
type Service struct {
	store       Store
	publisher   Publisher
	idempotency IdempotencyStore
	audit       AuditRecorder
	catalog     func() *authz.Engine
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs a Service. catalog supplies the engine used to check
// role names in targets.
func NewService(store Store, publisher Publisher, idempotency IdempotencyStore, recorder AuditRecorder, catalog func() *authz.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		publisher:   publisher,
		idempotency: idempotency,
		audit:       recorder,
		catalog:     catalog,
		logger:      logger,
		now:         time.Now,
	}
}

// SendResult reports a completed send.
type SendResult struct {
	ID         uuid.UUID `json:"id"`
	Recipients int       `json:"recipients"`
}

// Send stores a notification for every recipient and publishes it. A non-empty
// key makes the request idempotent.
func (s *Service) Send(ctx context.Context, actor rbac.Principal, in SendInput, key, ip string) (SendResult, error) {
	roles, err := s.parseRoles(in.Roles)
	if err != nil {
		return SendResult{}, err
	}
	if !in.All && len(in.Users) == 0 && len(roles) == 0 {
		return SendResult{}, ErrNoRecipients
	}
	key = strings.TrimSpace(key)
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return SendResult{}, ErrDuplicateRequest
			}
			return SendResult{}, err
		}
	}
	result, err := s.send(ctx, actor, in, roles, ip)
	if err != nil && key != "" && s.idempotency != nil {
		if derr := s.idempotency.Delete(ctx, key, idempotencyModule); derr != nil {
			s.logger.Warn("release idempotency key", slog.Any("error", derr))
		}
	}
	return result, err
}

func (s *Service) send(ctx context.Context, actor rbac.Principal, in SendInput, roles []authz.Role, ip string) (SendResult, error) {
	recipients, err := s.store.Recipients(ctx, in.All, in.Users, roles)
	if err != nil {
		return SendResult{}, err
	}
	if len(recipients) == 0 {
		return SendResult{}, ErrNoRecipients
	}
	level := in.Level
	if level == "" {
		level = LevelInfo
	}
	msg := Message{
		ID:        uuid.New(),
		SenderID:  actor.UserID,
		Title:     strings.TrimSpace(in.Title),
		Body:      in.Body,
		Level:     level,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Insert(ctx, msg, recipients); err != nil {
		return SendResult{}, err
	}
	env := Envelope{All: in.All, Users: recipients, Message: msg}
	if in.All {
		env.Users = nil
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		// Stored rows still reach the inbox; only the live push is lost.
		s.logger.Warn("publish notification", slog.Any("error", err))
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, audit.Entry{
			ActorID:  actor.UserID,
			Action:   "notification.send",
			Entity:   "notification",
			EntityID: msg.ID.String(),
			Meta:     map[string]any{"recipients": len(recipients), "all": in.All, "roles": roles},
			IP:       ip,
		}); err != nil {
			s.logger.Error("audit notification", slog.Any("error", err))
		}
	}
	return SendResult{ID: msg.ID, Recipients: len(recipients)}, nil
}

// Inbox returns the newest notifications of actor.
func (s *Service) Inbox(ctx context.Context, actor rbac.Principal, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.List(ctx, actor.UserID, unreadOnly, limit)
}

// MarkRead flags one of actor's notifications as read.
func (s *Service) MarkRead(ctx context.Context, actor rbac.Principal, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return ErrNotFound
	}
	return s.store.MarkRead(ctx, actor.UserID, id, s.now().UTC())
}

// Notify sends a system message with no sender, bypassing idempotency. Jobs
// use it to alert operators. No roles means every active user.
func (s *Service) Notify(ctx context.Context, roles []authz.Role, title, body string, level Level) error {
	raw := make([]string, 0, len(roles))
	for _, r := range roles {
		raw = append(raw, string(r))
	}
	roles, err := s.parseRoles(raw)
	if err != nil {
		return err
	}
	in := SendInput{All: len(roles) == 0, Title: title, Body: body, Level: level}
	_, err = s.send(ctx, rbac.Principal{}, in, roles, "")
	if errors.Is(err, ErrNoRecipients) {
		return nil
	}
	return err
}

func (s *Service) parseRoles(raw []string) ([]authz.Role, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var engine *authz.Engine
	if s.catalog != nil {
		engine = s.catalog()
	}
	out := make([]authz.Role, 0, len(raw))
	for _, r := range raw {
		role := authz.Role(strings.TrimSpace(r))
		if engine == nil || !engine.Catalog().Has(role) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
		out = append(out, role)
	}
	return out, nil
}
