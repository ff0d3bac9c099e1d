package database

import (
	"context"
	"fmt"
)

// migrations is the ordered, append-only schema history. Each entry is
// applied at most once; the current position is tracked in
// schema_version.
var migrations = []string{
	// 1: initial schema
	`CREATE TABLE IF NOT EXISTS deal_profit (
		deal_id BIGINT PRIMARY KEY,
		bot_id BIGINT NOT NULL,
		last_profit_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_readable_sl_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_readable_tp_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// 2
	`CREATE TABLE IF NOT EXISTS deal_safety (
		deal_id BIGINT PRIMARY KEY,
		bot_id BIGINT NOT NULL,
		last_profit_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
		add_funds_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
		next_so_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
		filled_so_count INTEGER NOT NULL DEFAULT 0,
		shift_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// 3: at most one pending order per deal, enforced by the primary key
	`CREATE TABLE IF NOT EXISTS pending_orders (
		deal_id BIGINT PRIMARY KEY,
		bot_id BIGINT NOT NULL,
		order_id TEXT NOT NULL,
		cancel_at_percentage DOUBLE PRECISION NOT NULL,
		number_of_so INTEGER NOT NULL,
		next_so_percentage DOUBLE PRECISION NOT NULL,
		shift_percentage DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// 4
	`CREATE TABLE IF NOT EXISTS bot_schedule (
		bot_id BIGINT PRIMARY KEY,
		next_processing_at TIMESTAMPTZ NOT NULL
	)`,

	// 5
	`CREATE INDEX IF NOT EXISTS idx_deal_profit_bot ON deal_profit (bot_id)`,

	// 6
	`CREATE INDEX IF NOT EXISTS idx_deal_safety_bot ON deal_safety (bot_id)`,

	// 7
	`CREATE INDEX IF NOT EXISTS idx_pending_orders_bot ON pending_orders (bot_id)`,
}

// Migrate applies outstanding migrations. It is safe to call on every
// startup.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	err = db.Pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		if _, err := db.Pool.Exec(ctx, migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := db.Pool.Exec(ctx,
			`INSERT INTO schema_version (version) VALUES ($1)`, version); err != nil {
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		db.logger.Info().Int("version", version).Msg("applied migration")
	}

	return nil
}
