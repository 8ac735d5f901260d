package repo

import (
	"context"
	"fmt"
	"time"

	"tweet-digest/internal/infra/metrics"
)

type migration struct {
	version     int
	description string
	sql         string
}

// migrations применяются по порядку. Новые добавляются в конец.
var migrations = []migration{
	{
		version:     1,
		description: "initial schema",
		sql: `
CREATE TABLE IF NOT EXISTS digests (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT 'Daily AI Digest',
    account_handles TEXT[] NOT NULL DEFAULT '{}',
    schedule_hour INT NOT NULL DEFAULT 9 CHECK (schedule_hour BETWEEN 0 AND 23),
    window_hours INT NOT NULL DEFAULT 24 CHECK (window_hours >= 1),
    recipient_email TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS digests_due_idx ON digests (schedule_hour) WHERE is_active;

CREATE TABLE IF NOT EXISTS mail_accounts (
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    access_token TEXT,
    refresh_token TEXT,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, provider)
);

CREATE TABLE IF NOT EXISTS account_cache (
    handle TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    display_name TEXT,
    cached_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS digest_logs (
    id TEXT PRIMARY KEY,
    digest_id TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('processing', 'success', 'failed')),
    total_scanned INT NOT NULL DEFAULT 0,
    total_selected INT NOT NULL DEFAULT 0,
    error_message TEXT,
    digest_content JSONB,
    executed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS digest_logs_digest_idx ON digest_logs (digest_id, executed_at DESC);

CREATE TABLE IF NOT EXISTS digest_job_statuses (
    job_id TEXT PRIMARY KEY,
    attempts INT NOT NULL DEFAULT 0,
    delivered_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS business_metrics (
    id BIGSERIAL PRIMARY KEY,
    event TEXT NOT NULL,
    digest_id TEXT,
    user_id TEXT,
    metadata JSONB,
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`,
	},
}

// Migrate применяет недостающие миграции схемы в транзакции.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INT PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	metrics.ObserveNetworkRequest("postgres", "schema_migrations_init", "schema_migrations", start, err)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`, m.version, m.description); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
