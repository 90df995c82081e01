package workload

import (
	"context"
	"fmt"
)

// EnsureSchema creates the tables used by the database stages and seeds the
// config table so the join query has rows to work on.
func (w *Workload) EnsureSchema(ctx context.Context) error {
	if w.db == nil {
		return nil
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS loadprobe_config (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS loadprobe_log (
			id BIGSERIAL PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL,
			action VARCHAR(40) NOT NULL,
			info TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, query := range queries {
		if _, err := w.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	var count int
	if err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM loadprobe_config`).Scan(&count); err != nil {
		return fmt.Errorf("count config rows: %w", err)
	}
	if count >= seedRows {
		return nil
	}

	_, err := w.db.ExecContext(ctx, `
		INSERT INTO loadprobe_config (name, value)
		SELECT 'seed_' || g, md5(g::text) FROM generate_series(1, $1) AS g
		ON CONFLICT (name) DO NOTHING`, seedRows)
	if err != nil {
		return fmt.Errorf("seed config rows: %w", err)
	}
	w.logger.Info("workload tables seeded")
	return nil
}
