package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

type ImportRepository struct {
	db *sql.DB
}

func NewImportRepository(db *sql.DB) *ImportRepository {
	return &ImportRepository{db: db}
}

func (r *ImportRepository) SaveImport(ctx context.Context, result *domain.ImportResult) error {
	consensusJSON, err := json.Marshal(result.Consensus)
	if err != nil {
		return fmt.Errorf("marshal consensus: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO flyer_imports (id, filename, mime_type, storage_path, pass_count, consensus, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, result.ID, result.Filename, result.MimeType, result.StoragePath, result.PassCount, consensusJSON, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert flyer import: %w", err)
	}
	return nil
}

func (r *ImportRepository) GetImport(ctx context.Context, id string) (*domain.ImportResult, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, filename, mime_type, storage_path, pass_count, consensus, created_at
FROM flyer_imports
WHERE id = $1
`, id)

	result, err := scanImport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get flyer import", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan flyer import: %w", err)
	}
	return &result, nil
}

func scanImport(row rowScanner) (domain.ImportResult, error) {
	var (
		result        domain.ImportResult
		consensusJSON []byte
	)
	err := row.Scan(
		&result.ID,
		&result.Filename,
		&result.MimeType,
		&result.StoragePath,
		&result.PassCount,
		&consensusJSON,
		&result.CreatedAt,
	)
	if err != nil {
		return domain.ImportResult{}, err
	}
	if err := json.Unmarshal(consensusJSON, &result.Consensus); err != nil {
		return domain.ImportResult{}, fmt.Errorf("unmarshal consensus: %w", err)
	}
	return result, nil
}
