package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

// IndexRepository keeps the latest result per city and period. The full result is
// stored as JSON next to the columns used for lookups.
type IndexRepository struct {
	db *sql.DB
}

func NewIndexRepository(db *sql.DB) *IndexRepository {
	return &IndexRepository{db: db}
}

func (r *IndexRepository) SaveIndexResult(ctx context.Context, result *domain.IndexResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal index result: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO index_results (id, city, period, index_value, quality_score, payload, computed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (city, period) DO UPDATE SET
	id = EXCLUDED.id,
	index_value = EXCLUDED.index_value,
	quality_score = EXCLUDED.quality_score,
	payload = EXCLUDED.payload,
	computed_at = EXCLUDED.computed_at
`, result.ID, result.City, result.Period, result.IndexValue, result.QualityScore, payload, result.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert index result: %w", err)
	}
	return nil
}

func (r *IndexRepository) GetIndexResult(ctx context.Context, city, period string) (*domain.IndexResult, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT payload
FROM index_results
WHERE city = $1 AND period = $2
`, city, period)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get index result", fmt.Errorf("city=%s period=%s", city, period))
		}
		return nil, fmt.Errorf("scan index result: %w", err)
	}

	var result domain.IndexResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshal index result: %w", err)
	}
	return &result, nil
}
