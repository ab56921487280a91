package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// ListSnapshots returns snapshots of stores in city with from <= observed_on < to,
// in a stable order.
func (r *SnapshotRepository) ListSnapshots(ctx context.Context, city string, from, to time.Time) ([]domain.PriceSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT s.product_id, s.store_id, s.observed_on, s.price
FROM price_snapshots s
JOIN stores st ON st.id = s.store_id
WHERE st.city = $1 AND s.observed_on >= $2 AND s.observed_on < $3
ORDER BY s.observed_on, s.store_id, s.product_id
`, city, from, to)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PriceSnapshot, 0)
	for rows.Next() {
		var s domain.PriceSnapshot
		if err := rows.Scan(&s.ProductID, &s.StoreID, &s.Date, &s.Price); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.Date = s.Date.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// SaveStores upserts stores in one transaction.
func (r *SnapshotRepository) SaveStores(ctx context.Context, stores []domain.Store) error {
	return inTx(ctx, r.db, "save stores", func(tx *sql.Tx) error {
		for _, st := range stores {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO stores (id, name, city) VALUES ($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, city = EXCLUDED.city
`, st.ID, st.Name, st.City); err != nil {
				return fmt.Errorf("upsert store %s: %w", st.ID, err)
			}
		}
		return nil
	})
}

// SaveSnapshots upserts snapshots in one transaction; the last price of a day wins.
func (r *SnapshotRepository) SaveSnapshots(ctx context.Context, snapshots []domain.PriceSnapshot) error {
	return inTx(ctx, r.db, "save snapshots", func(tx *sql.Tx) error {
		for _, s := range snapshots {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO price_snapshots (product_id, store_id, observed_on, price) VALUES ($1,$2,$3,$4)
ON CONFLICT (product_id, store_id, observed_on) DO UPDATE SET price = EXCLUDED.price
`, s.ProductID, s.StoreID, s.DayKey(), s.Price); err != nil {
				return fmt.Errorf("upsert snapshot %s/%s/%s: %w", s.ProductID, s.StoreID, s.DayKey(), err)
			}
		}
		return nil
	})
}

func inTx(ctx context.Context, db *sql.DB, operation string, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", operation, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit tx: %w", operation, err)
	}
	return nil
}
