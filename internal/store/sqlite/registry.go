package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"indstream/internal/indicator"
	"indstream/internal/model"
)

// CreateVariant inserts a new variant after validating kind and params.
// The generated id is returned.
func (s *Store) CreateVariant(ctx context.Context, name, kind, params, scope, createdBy string) (string, error) {
	k, err := indicator.ParseKind(kind)
	if err != nil {
		return "", err
	}
	if _, err := indicator.ParseParams(k, params); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO indicator_variants (id, name, kind, params, scope, created_by, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, id, name, kind, params, scope, createdBy, now.UnixNano(), now.UnixNano())
	if err != nil {
		return "", fmt.Errorf("sqlite create variant: %w", err)
	}
	return id, nil
}

// SoftDeleteVariant marks a variant deleted; the row stays for audit and
// the engine retires its accumulators on the next registry sync.
func (s *Store) SoftDeleteVariant(ctx context.Context, id string) error {
	now := time.Now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE indicator_variants SET is_deleted = 1, deleted_at = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("sqlite soft delete variant: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("variant %s not found or already deleted", id)
	}
	return nil
}

// ActiveVariants returns all non-deleted variants. Duplicate (name, scope)
// rows are returned as stored; the engine collapses them defensively.
func (s *Store) ActiveVariants(ctx context.Context) ([]model.Variant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, params, scope, created_by, is_deleted, created_at, updated_at, deleted_at
		FROM indicator_variants WHERE is_deleted = 0
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite read variants: %w", err)
	}
	defer rows.Close()
	return scanVariants(rows)
}

func scanVariants(rows *sql.Rows) ([]model.Variant, error) {
	var out []model.Variant
	for rows.Next() {
		var v model.Variant
		var created, updated int64
		var deleted sql.NullInt64
		var isDeleted int
		if err := rows.Scan(&v.ID, &v.Name, &v.Kind, &v.Params, &v.Scope,
			&v.CreatedBy, &isDeleted, &created, &updated, &deleted); err != nil {
			return nil, err
		}
		v.IsDeleted = isDeleted != 0
		v.CreatedAt = time.Unix(0, created).UTC()
		v.UpdatedAt = time.Unix(0, updated).UTC()
		if deleted.Valid {
			t := time.Unix(0, deleted.Int64).UTC()
			v.DeletedAt = &t
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SeedVariants inserts the given variants if the registry is empty —
// first-boot convenience so a fresh deployment computes something before
// anyone creates variants through the API.
func (s *Store) SeedVariants(ctx context.Context, specs []model.Variant) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indicator_variants`).Scan(&n); err != nil {
		return fmt.Errorf("sqlite count variants: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, v := range specs {
		if _, err := s.CreateVariant(ctx, v.Name, v.Kind, v.Params, v.Scope, v.CreatedBy); err != nil {
			return err
		}
	}
	s.log.Info("seeded variant registry", "variants", len(specs))
	return nil
}
