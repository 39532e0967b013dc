package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creation is an explicit step invoked by the bootstrap path, never a
// constructor side effect.

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                   BIGSERIAL PRIMARY KEY,
		handle               TEXT NOT NULL UNIQUE,
		nickname             TEXT NOT NULL DEFAULT '',
		tier                 TEXT NOT NULL DEFAULT 'medium',
		status               TEXT NOT NULL DEFAULT 'pending',
		consecutive_failures INT NOT NULL DEFAULT 0,
		avg_posts_per_day    DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_fetched_at      TIMESTAMPTZ,
		next_fetch_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_due
		ON accounts (tier, next_fetch_at)`,

	`CREATE TABLE IF NOT EXISTS posts (
		id           BIGSERIAL PRIMARY KEY,
		account_id   BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		post_url     TEXT NOT NULL UNIQUE,
		title        TEXT NOT NULL DEFAULT '',
		content      TEXT NOT NULL DEFAULT '',
		kind         TEXT NOT NULL DEFAULT 'original',
		media_urls   JSONB NOT NULL DEFAULT '[]',
		published_at TIMESTAMPTZ NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_account_published
		ON posts (account_id, published_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_published
		ON posts (published_at DESC)`,

	`CREATE TABLE IF NOT EXISTS enrichments (
		post_id             BIGINT PRIMARY KEY REFERENCES posts(id) ON DELETE CASCADE,
		status              TEXT NOT NULL DEFAULT 'pending',
		summary             TEXT NOT NULL DEFAULT '',
		tag                 TEXT NOT NULL DEFAULT '',
		content_type        TEXT NOT NULL DEFAULT '',
		entities            JSONB NOT NULL DEFAULT '[]',
		deep_interpretation TEXT NOT NULL DEFAULT '',
		image_description   TEXT NOT NULL DEFAULT '',
		model_name          TEXT NOT NULL DEFAULT '',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_enrichments_status
		ON enrichments (status)`,

	`CREATE TABLE IF NOT EXISTS profiles (
		account_id   BIGINT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
		document     JSONB NOT NULL,
		generated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS reports (
		id           BIGSERIAL PRIMARY KEY,
		kind         TEXT NOT NULL,
		title        TEXT NOT NULL,
		body         TEXT NOT NULL,
		model_name   TEXT NOT NULL DEFAULT '',
		window_start TIMESTAMPTZ,
		window_end   TIMESTAMPTZ,
		account_id   BIGINT REFERENCES accounts(id) ON DELETE CASCADE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_kind_created
		ON reports (kind, created_at DESC)`,
}

var dropStatements = []string{
	`DROP TABLE IF EXISTS reports CASCADE`,
	`DROP TABLE IF EXISTS profiles CASCADE`,
	`DROP TABLE IF EXISTS enrichments CASCADE`,
	`DROP TABLE IF EXISTS posts CASCADE`,
	`DROP TABLE IF EXISTS accounts CASCADE`,
}

// InitializeSchema creates all tables and indexes if they do not exist.
func InitializeSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// RecreateSchema drops every table and rebuilds the schema from scratch.
func RecreateSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range dropStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("drop statement failed: %w", err)
		}
	}
	return InitializeSchema(ctx, db)
}
