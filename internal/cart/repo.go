// Package cart provides the repository interface and PostgreSQL
// implementation for per-user cart rows.
package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Snapshot(ctx context.Context, userID string) ([]SnapshotRow, error)
	Upsert(ctx context.Context, userID, productID, variantID string, quantity int) error
	Clear(ctx context.Context, userID string) error
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

// Snapshot joins cart rows with product name/price and variant modifier so
// the checkout path reads the cart exactly once.
func (r *PGRepo) Snapshot(ctx context.Context, userID string) ([]SnapshotRow, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
    SELECT c.product_id, COALESCE(c.variant_id::text,''), p.name,
           p.price::text, COALESCE(v.price_modifier::text,''), c.quantity
    FROM cart c
    JOIN products p ON p.id = c.product_id
    LEFT JOIN product_variants v ON v.id = c.variant_id
    WHERE c.user_id = $1
    ORDER BY c.created_at
  `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var s SnapshotRow
		if err := rows.Scan(&s.ProductID, &s.VariantID, &s.ProductName, &s.BasePrice, &s.VariantModifier, &s.Quantity); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PGRepo) Upsert(ctx context.Context, userID, productID, variantID string, quantity int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// The arbiter relies on the NULLS NOT DISTINCT unique constraint so the
	// no-variant row conflicts too. Re-adding increments, matching the store.
	_, err := r.db.Exec(ctx, `
    INSERT INTO cart (id, user_id, product_id, variant_id, quantity, created_at, updated_at)
    VALUES ($1,$2,$3,NULLIF($4,''),$5,NOW(),NOW())
    ON CONFLICT (user_id, product_id, variant_id)
    DO UPDATE SET quantity = cart.quantity + EXCLUDED.quantity, updated_at = NOW()
  `, uuid.NewString(), userID, productID, variantID, quantity)
	return err
}

func (r *PGRepo) Clear(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, `DELETE FROM cart WHERE user_id = $1`, userID)
	return err
}
