package events

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStore_InsertRawEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	occurred := time.Date(2026, 3, 10, 12, 1, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO visit_events").
		WithArgs("page_visit", "hello", "s1", occurred, `{"depth":3}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewSQLStore(db)
	err = store.InsertRawEvents(context.Background(), []EventRecord{{
		EventName:  "page_visit",
		Slug:       "hello",
		SessionID:  "s1",
		OccurredAt: occurred,
		Payload:    map[string]interface{}{"depth": 3},
	}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_AddSessionsCountsNewRowsOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	bucket := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO rollup_sessions").
		WithArgs(bucket, "page_visit", "hello", "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO rollup_sessions").
		WithArgs(bucket, "page_visit", "hello", "s2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewSQLStore(db)
	delta, err := store.AddSessions(context.Background(), bucket, "page_visit", "hello", []string{"s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), delta)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpsertRollup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	bucket := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lastSeen := bucket.Add(8 * time.Minute)
	mock.ExpectExec("INSERT INTO visit_rollups").
		WithArgs(bucket, "page_visit", "hello", int64(3), int64(2), lastSeen).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewSQLStore(db)
	err = store.UpsertRollup(context.Background(), Rollup{
		BucketStart:    bucket,
		EventName:      "page_visit",
		Slug:           "hello",
		VisitCount:     3,
		UniqueSessions: 2,
		LastSeenAt:     lastSeen,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_QueryRollupsFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	bucket := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	columns := []string{"bucket_start", "event_name", "slug", "visit_count", "unique_sessions", "last_seen_at"}
	mock.ExpectQuery("SELECT bucket_start, event_name, slug, visit_count, unique_sessions, last_seen_at FROM visit_rollups").
		WithArgs(bucket, "page_visit").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(bucket, "page_visit", "hello", 3, 1, bucket))

	store := NewSQLStore(db)
	rollups, err := store.QueryRollups(context.Background(), SummaryQuery{
		Start:      bucket,
		EventNames: []string{"page_visit"},
	})
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, int64(3), rollups[0].VisitCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PruneSessions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM rollup_sessions").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	store := NewSQLStore(db)
	pruned, err := store.PruneSessions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pruned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DistinctSlugs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT DISTINCT slug FROM visit_rollups").
		WillReturnRows(sqlmock.NewRows([]string{"slug"}).AddRow("alpha").AddRow("beta"))

	store := NewSQLStore(db)
	slugs, err := store.DistinctSlugs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, slugs)
	require.NoError(t, mock.ExpectationsWereMet())
}
