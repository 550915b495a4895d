package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/platform/db"
)

// Repository stores the catalog and reads principals from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ CatalogStore   = (*Repository)(nil)
	_ PrincipalStore = (*Repository)(nil)
)

// PrincipalByID loads the user's identity and current role.
func (r *Repository) PrincipalByID(ctx context.Context, userID int64) (Principal, error) {
	var p Principal
	var role string
	err := r.pool.QueryRow(ctx, `SELECT id, email, name, role, is_active FROM users WHERE id = $1`, userID).
		Scan(&p.UserID, &p.Email, &p.Name, &role, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrNotFound
		}
		return Principal{}, err
	}
	p.Role = authz.Role(role)
	return p, nil
}

// LoadCatalog reads the stored catalog.
func (r *Repository) LoadCatalog(ctx context.Context) (authz.CatalogSpec, error) {
	spec := authz.CatalogSpec{
		Ranks:        make(map[authz.Role]int),
		Permissions:  make(map[authz.Role][]authz.Permission),
		Inherits:     make(map[authz.Role][]authz.Role),
		Descriptions: make(map[authz.Role]string),
	}

	var mode, top, admin string
	err := r.pool.QueryRow(ctx, `SELECT inheritance, top_role, admin_role FROM catalog_meta WHERE id`).Scan(&mode, &top, &admin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.CatalogSpec{}, ErrNotFound
		}
		return authz.CatalogSpec{}, err
	}
	spec.Inheritance = authz.InheritanceMode(mode)
	spec.TopRole = authz.Role(top)
	spec.AdminRole = authz.Role(admin)

	rows, err := r.pool.Query(ctx, `SELECT name, rank, description FROM roles ORDER BY rank`)
	if err != nil {
		return authz.CatalogSpec{}, err
	}
	for rows.Next() {
		var name, desc string
		var rank int
		if err := rows.Scan(&name, &rank, &desc); err != nil {
			rows.Close()
			return authz.CatalogSpec{}, err
		}
		spec.Ranks[authz.Role(name)] = rank
		if desc != "" {
			spec.Descriptions[authz.Role(name)] = desc
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return authz.CatalogSpec{}, err
	}

	rows, err = r.pool.Query(ctx, `SELECT role, permission FROM role_permissions ORDER BY role, permission`)
	if err != nil {
		return authz.CatalogSpec{}, err
	}
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			rows.Close()
			return authz.CatalogSpec{}, err
		}
		spec.Permissions[authz.Role(role)] = append(spec.Permissions[authz.Role(role)], authz.Permission(perm))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return authz.CatalogSpec{}, err
	}

	rows, err = r.pool.Query(ctx, `SELECT role, parent FROM role_inheritance ORDER BY role, parent`)
	if err != nil {
		return authz.CatalogSpec{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var role, parent string
		if err := rows.Scan(&role, &parent); err != nil {
			return authz.CatalogSpec{}, err
		}
		spec.Inherits[authz.Role(role)] = append(spec.Inherits[authz.Role(role)], authz.Role(parent))
	}
	return spec, rows.Err()
}

// SaveCatalog replaces the whole stored catalog in one transaction. Users
// keep their role names; roles still referenced by users cannot be dropped.
func (r *Repository) SaveCatalog(ctx context.Context, spec authz.CatalogSpec) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		mode := spec.Inheritance
		if mode == "" {
			mode = authz.InheritanceDirect
		}
		if _, err := tx.Exec(ctx, `INSERT INTO catalog_meta (id, inheritance, top_role, admin_role, updated_at)
			VALUES (TRUE, $1, $2, $3, NOW())
			ON CONFLICT (id) DO UPDATE SET inheritance = EXCLUDED.inheritance, top_role = EXCLUDED.top_role,
				admin_role = EXCLUDED.admin_role, updated_at = NOW()`,
			string(mode), string(spec.TopRole), string(spec.AdminRole)); err != nil {
			return fmt.Errorf("upsert catalog meta: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_inheritance`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions`); err != nil {
			return err
		}

		names := make([]string, 0, len(spec.Ranks))
		batch := &pgx.Batch{}
		for role, rank := range spec.Ranks {
			names = append(names, string(role))
			batch.Queue(`INSERT INTO roles (name, rank, description) VALUES ($1, $2, $3)
				ON CONFLICT (name) DO UPDATE SET rank = EXCLUDED.rank, description = EXCLUDED.description`,
				string(role), rank, spec.Descriptions[role])
		}
		// roles_rank_key is deferred, so ranks may be permuted within the tx.
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert roles: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM roles WHERE name <> ALL($1)`, names); err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrRoleInUse
			}
			return err
		}

		batch = &pgx.Batch{}
		for role, perms := range spec.Permissions {
			for _, p := range perms {
				batch.Queue(`INSERT INTO role_permissions (role, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING`, string(role), string(p))
			}
		}
		for role, parents := range spec.Inherits {
			for _, parent := range parents {
				batch.Queue(`INSERT INTO role_inheritance (role, parent) VALUES ($1, $2) ON CONFLICT DO NOTHING`, string(role), string(parent))
			}
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// ReplaceRolePermissions swaps the direct permissions of a single role.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, role authz.Role, perms []authz.Permission) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE name = $1`, string(role))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUnknownRole
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role = $1`, string(role)); err != nil {
			return err
		}
		for _, p := range perms {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role, permission) VALUES ($1, $2)`, string(role), string(p)); err != nil {
				return err
			}
		}
		return nil
	})
}
