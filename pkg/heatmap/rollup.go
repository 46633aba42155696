package heatmap

import (
	"context"
	"database/sql"
	"fmt"
)

// RollupRow is one durable daily accumulator row.
type RollupRow struct {
	DateKey string
	Slug    string
	Key     FieldKey
	Count   int64
}

// RollupSink persists heatmap rollup rows. Failures are tolerated by the
// recording path.
type RollupSink interface {
	AddRollups(ctx context.Context, rows []RollupRow) error
}

// sqlRollupSink upserts additively into heatmap_rollups.
type sqlRollupSink struct {
	db *sql.DB
}

// NewSQLRollupSink creates the relational rollup sink.
func NewSQLRollupSink(db *sql.DB) RollupSink {
	return &sqlRollupSink{db: db}
}

const upsertRollupQuery = `
	INSERT INTO heatmap_rollups (date_key, slug, bucket, cell, section, type, count)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (date_key, slug, bucket, cell, section, type)
	DO UPDATE SET count = heatmap_rollups.count + excluded.count`

func (s *sqlRollupSink) AddRollups(ctx context.Context, rows []RollupRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning heatmap rollup tx: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, upsertRollupQuery,
			row.DateKey, row.Slug, row.Key.Bucket, row.Key.Cell, row.Key.Section, row.Key.Type, row.Count,
		); err != nil {
			return fmt.Errorf("upserting heatmap rollup: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing heatmap rollup tx: %w", err)
	}
	return nil
}
