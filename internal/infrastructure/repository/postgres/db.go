package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockID int64 = 2026031501

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS stores (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	city TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stores_city ON stores(city);

CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	category_id TEXT NOT NULL,
	reference_price DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS price_snapshots (
	product_id TEXT NOT NULL REFERENCES products(id),
	store_id TEXT NOT NULL REFERENCES stores(id),
	observed_on DATE NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (product_id, store_id, observed_on)
);

CREATE INDEX IF NOT EXISTS idx_price_snapshots_observed_on ON price_snapshots(observed_on);

CREATE TABLE IF NOT EXISTS index_results (
	id TEXT PRIMARY KEY,
	city TEXT NOT NULL,
	period TEXT NOT NULL,
	index_value DOUBLE PRECISION NOT NULL,
	quality_score INTEGER NOT NULL,
	payload JSONB NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL,
	UNIQUE (city, period)
);

CREATE TABLE IF NOT EXISTS flyer_imports (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	pass_count INTEGER NOT NULL,
	consensus JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_flyer_imports_created_at ON flyer_imports(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
