package content

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `id, title, body, status, author_id, published_at, created_at, updated_at`

// List returns one page of content, newest first, and the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]Item, int, error) {
	status := pgtype.Text{String: string(filter.Status), Valid: filter.Status != ""}
	author := pgtype.Int8{Int64: filter.AuthorID, Valid: filter.AuthorID > 0}

	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM content
		WHERE ($1::text IS NULL OR status = $1) AND ($2::bigint IS NULL OR author_id = $2)`, status, author).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM content
		WHERE ($1::text IS NULL OR status = $1) AND ($2::bigint IS NULL OR author_id = $2)
		ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`, status, author, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := make([]Item, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// Get loads one item.
func (r *Repository) Get(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM content WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return item, err
}

// Create inserts a draft.
func (r *Repository) Create(ctx context.Context, authorID int64, title, body string) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `INSERT INTO content (title, body, author_id)
		VALUES ($1, $2, $3) RETURNING `+itemColumns, title, body, authorID))
}

// Update applies non-nil fields.
func (r *Repository) Update(ctx context.Context, id int64, title, body *string) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `UPDATE content SET
		title = COALESCE($2, title), body = COALESCE($3, body), updated_at = NOW()
		WHERE id = $1 RETURNING `+itemColumns, id, title, body))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return item, err
}

// Publish marks an item published. Publishing twice keeps the first timestamp.
func (r *Repository) Publish(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `UPDATE content SET
		status = 'published', published_at = COALESCE(published_at, NOW()), updated_at = NOW()
		WHERE id = $1 RETURNING `+itemColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return item, err
}

// Delete removes an item.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM content WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored items.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM content`).Scan(&n)
	return n, err
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	var status string
	var published pgtype.Timestamptz
	if err := row.Scan(&item.ID, &item.Title, &item.Body, &status, &item.AuthorID, &published, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Item{}, err
	}
	item.Status = Status(status)
	if published.Valid {
		t := published.Time
		item.PublishedAt = &t
	}
	return item, nil
}
