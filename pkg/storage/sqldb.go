package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Schema statements are written to the dialect subset shared by postgres and
// sqlite3: $N placeholders, ON CONFLICT upserts, no serial columns.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS visit_events (
		event_name  TEXT NOT NULL,
		slug        TEXT NOT NULL DEFAULT '',
		session_id  TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMP NOT NULL,
		payload     TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_events_occurred ON visit_events (occurred_at)`,
	`CREATE TABLE IF NOT EXISTS visit_rollups (
		bucket_start    TIMESTAMP NOT NULL,
		event_name      TEXT NOT NULL,
		slug            TEXT NOT NULL DEFAULT '',
		visit_count     BIGINT NOT NULL DEFAULT 0,
		unique_sessions BIGINT NOT NULL DEFAULT 0,
		last_seen_at    TIMESTAMP NOT NULL,
		PRIMARY KEY (bucket_start, event_name, slug)
	)`,
	`CREATE TABLE IF NOT EXISTS rollup_sessions (
		bucket_start TIMESTAMP NOT NULL,
		event_name   TEXT NOT NULL,
		slug         TEXT NOT NULL DEFAULT '',
		session_id   TEXT NOT NULL,
		PRIMARY KEY (bucket_start, event_name, slug, session_id)
	)`,
	`CREATE TABLE IF NOT EXISTS heatmap_rollups (
		date_key  TEXT NOT NULL,
		slug      TEXT NOT NULL,
		bucket    TEXT NOT NULL,
		cell      INTEGER NOT NULL,
		section   TEXT NOT NULL,
		type      TEXT NOT NULL,
		count     BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (date_key, slug, bucket, cell, section, type)
	)`,
}

// OpenDatabase opens the relational tier and ensures the schema exists.
// The driver must be registered by the importing binary.
func OpenDatabase(cfg Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return db, nil
}
