package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Repository is the persistence contract of the timeline.
type Repository interface {
	AuditTimelineWindow(ctx context.Context, arg TimelineWindowParams) ([]TimelineRecord, error)
	AuditTimelineAll(ctx context.Context, arg TimelineAllParams) ([]TimelineRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service coordinates audit timeline queries and retention.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds a timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Timeline loads one page of audit entries.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	params := TimelineWindowParams{
		FromAt:     toPgTime(filters.From),
		ToAt:       toPgTime(filters.To),
		Actor:      optionalText(filters.Actor),
		Entity:     optionalText(filters.Entity),
		Action:     optionalText(filters.Action),
		OffsetRows: int32(offset),
		LimitRows:  int32(pageSize + 1),
	}
	rows, err := s.repo.AuditTimelineWindow(ctx, params)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	resultRows := make([]TimelineRow, 0, len(rows))
	for _, row := range rows {
		resultRows = append(resultRows, mapTimelineRow(row))
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: resultRows, Paging: paging}, nil
}

// Export loads the whole filtered timeline without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	params := TimelineAllParams{
		FromAt: toPgTime(filters.From),
		ToAt:   toPgTime(filters.To),
		Actor:  optionalText(filters.Actor),
		Entity: optionalText(filters.Entity),
		Action: optionalText(filters.Action),
	}
	rows, err := s.repo.AuditTimelineAll(ctx, params)
	if err != nil {
		return nil, err
	}
	result := make([]TimelineRow, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapTimelineRow(row))
	}
	return result, nil
}

// Purge deletes entries older than retention.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("audit: repository not configured")
	}
	if retention <= 0 {
		return 0, fmt.Errorf("audit: retention must be positive")
	}
	return s.repo.DeleteBefore(ctx, s.now().UTC().Add(-retention))
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func mapTimelineRow(rec TimelineRecord) TimelineRow {
	var ts time.Time
	if rec.At.Valid {
		ts = rec.At.Time
	}
	var email string
	if rec.ActorEmail.Valid {
		email = rec.ActorEmail.String
	}
	return TimelineRow{
		ID:         rec.ID,
		At:         ts,
		ActorID:    rec.ActorID,
		ActorEmail: email,
		Action:     rec.Action,
		Entity:     rec.Entity,
		EntityID:   rec.EntityID,
		IP:         rec.IP,
		Meta:       decodeMeta(rec.Meta),
	}
}
