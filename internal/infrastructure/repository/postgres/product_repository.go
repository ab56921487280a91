package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, category_id, reference_price
FROM products
ORDER BY id
`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Product, 0)
	for rows.Next() {
		var (
			p   domain.Product
			ref sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.CategoryID, &ref); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if ref.Valid {
			value := ref.Float64
			p.ReferencePrice = &value
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

func (r *ProductRepository) SaveProducts(ctx context.Context, products []domain.Product) error {
	return inTx(ctx, r.db, "save products", func(tx *sql.Tx) error {
		for _, p := range products {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO products (id, name, category_id, reference_price) VALUES ($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	category_id = EXCLUDED.category_id,
	reference_price = EXCLUDED.reference_price
`, p.ID, p.Name, p.CategoryID, p.ReferencePrice); err != nil {
				return fmt.Errorf("upsert product %s: %w", p.ID, err)
			}
		}
		return nil
	})
}
