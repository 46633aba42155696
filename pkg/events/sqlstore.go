package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RollupStore is the relational side of the pipeline: raw rows, 10-minute
// aggregates, and the session membership used for unique deltas when no
// queue tier is available.
type RollupStore interface {
	InsertRawEvents(ctx context.Context, records []EventRecord) error
	// AddSessions records session membership for a window and returns how
	// many sessions were new.
	AddSessions(ctx context.Context, bucket time.Time, eventName, slug string, sessions []string) (int64, error)
	// UpsertRollup merges deltas into the window's aggregate row.
	UpsertRollup(ctx context.Context, r Rollup) error
	QueryRollups(ctx context.Context, q SummaryQuery) ([]Rollup, error)
	DistinctSlugs(ctx context.Context) ([]string, error)
	// PruneSessions drops session membership rows for windows that closed
	// before the cutoff. Aggregate counts are unaffected.
	PruneSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// sqlStore implements RollupStore on the shared postgres/sqlite3 dialect.
type sqlStore struct {
	db *sql.DB
}

// NewSQLStore creates the relational rollup store.
func NewSQLStore(db *sql.DB) RollupStore {
	return &sqlStore{db: db}
}

func (s *sqlStore) InsertRawEvents(ctx context.Context, records []EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning raw event tx: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO visit_events (event_name, slug, session_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)`
	for _, rec := range records {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("encoding event payload: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert,
			rec.EventName, rec.Slug, rec.SessionID, rec.OccurredAt.UTC(), string(payload),
		); err != nil {
			return fmt.Errorf("inserting raw event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing raw event tx: %w", err)
	}
	return nil
}

func (s *sqlStore) AddSessions(ctx context.Context, bucket time.Time, eventName, slug string, sessions []string) (int64, error) {
	if len(sessions) == 0 {
		return 0, nil
	}

	const insert = `
		INSERT INTO rollup_sessions (bucket_start, event_name, slug, session_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bucket_start, event_name, slug, session_id) DO NOTHING`

	var delta int64
	for _, session := range sessions {
		res, err := s.db.ExecContext(ctx, insert, bucket.UTC(), eventName, slug, session)
		if err != nil {
			return delta, fmt.Errorf("recording rollup session: %w", err)
		}
		added, err := res.RowsAffected()
		if err != nil {
			return delta, fmt.Errorf("reading rollup session result: %w", err)
		}
		delta += added
	}
	return delta, nil
}

func (s *sqlStore) UpsertRollup(ctx context.Context, r Rollup) error {
	const upsert = `
		INSERT INTO visit_rollups (bucket_start, event_name, slug, visit_count, unique_sessions, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bucket_start, event_name, slug)
		DO UPDATE SET
			visit_count = visit_rollups.visit_count + excluded.visit_count,
			unique_sessions = visit_rollups.unique_sessions + excluded.unique_sessions,
			last_seen_at = CASE
				WHEN excluded.last_seen_at > visit_rollups.last_seen_at THEN excluded.last_seen_at
				ELSE visit_rollups.last_seen_at
			END`

	if _, err := s.db.ExecContext(ctx, upsert,
		r.BucketStart.UTC(), r.EventName, r.Slug, r.VisitCount, r.UniqueSessions, r.LastSeenAt.UTC(),
	); err != nil {
		return fmt.Errorf("upserting rollup: %w", err)
	}
	return nil
}

func (s *sqlStore) QueryRollups(ctx context.Context, q SummaryQuery) ([]Rollup, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if !q.Start.IsZero() {
		where = append(where, "bucket_start >= "+arg(q.Start.UTC()))
	}
	if !q.End.IsZero() {
		where = append(where, "bucket_start <= "+arg(q.End.UTC()))
	}
	if len(q.EventNames) > 0 {
		placeholders := make([]string, len(q.EventNames))
		for i, name := range q.EventNames {
			placeholders[i] = arg(name)
		}
		where = append(where, "event_name IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(q.Slugs) > 0 {
		placeholders := make([]string, len(q.Slugs))
		for i, slug := range q.Slugs {
			placeholders[i] = arg(slug)
		}
		where = append(where, "slug IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := "SELECT bucket_start, event_name, slug, visit_count, unique_sessions, last_seen_at FROM visit_rollups"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY bucket_start"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rollups: %w", err)
	}
	defer rows.Close()

	var out []Rollup
	for rows.Next() {
		var r Rollup
		if err := rows.Scan(&r.BucketStart, &r.EventName, &r.Slug, &r.VisitCount, &r.UniqueSessions, &r.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scanning rollup row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rollup rows: %w", err)
	}
	return out, nil
}

func (s *sqlStore) PruneSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM rollup_sessions WHERE bucket_start < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning rollup sessions: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading prune result: %w", err)
	}
	return pruned, nil
}

func (s *sqlStore) DistinctSlugs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT slug FROM visit_rollups WHERE slug <> '' ORDER BY slug")
	if err != nil {
		return nil, fmt.Errorf("querying distinct slugs: %w", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scanning slug row: %w", err)
		}
		slugs = append(slugs, slug)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating slug rows: %w", err)
	}
	return slugs, nil
}
