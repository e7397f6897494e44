package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyql/internal/queryir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	mode, err := s.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)

	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Record(ctx, Entry{Source: queryir.PromQL, Target: queryir.InfluxQL, Query: "up"})
	require.NoError(t, err)

	recs, err := s.Recent(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestOpen_MigratesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE translations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		query_hash TEXT NOT NULL,
		query TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Record(context.Background(), Entry{Target: queryir.Flux, Query: "up", Duration: 3 * time.Millisecond})
	require.NoError(t, err)
	got, ok, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3*time.Millisecond, got.Duration)
}

func TestRecord_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, err := s.Record(ctx, Entry{
		Source:     queryir.PromQL,
		Target:     queryir.InfluxQL,
		Query:      `rate(x[5m])`,
		Output:     `SELECT derivative(mean("value"), 1s) FROM "x"`,
		Confidence: 0.9,
		Duration:   1500 * time.Microsecond,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Seq)
	assert.Equal(t, epoch, rec.CreatedAt)
	assert.Equal(t, HashQuery(`rate(x[5m])`), rec.QueryHash)
	assert.False(t, rec.Failed())

	id, err := ksuid.Parse(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, epoch, id.Time().UTC())

	got, ok, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestRecord_Failure(t *testing.T) {
	s := createTestStore(t)

	rec, err := s.Record(context.Background(), Entry{
		Source: queryir.PromQL,
		Target: queryir.Graphite,
		Query:  "sum(",
		Output: "ignored",
		Err:    errors.New("promql parse error"),
	})
	require.NoError(t, err)
	assert.True(t, rec.Failed())
	assert.Empty(t, rec.Output)
	assert.Equal(t, "promql parse error", rec.Error)
}

func TestRecord_RequiresTarget(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Record(context.Background(), Entry{Query: "up"})
	assert.Error(t, err)
}

func TestGet_Missing(t *testing.T) {
	s := createTestStore(t)
	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	entries := []Entry{
		{Source: queryir.PromQL, Target: queryir.InfluxQL, Query: "a"},
		{Source: queryir.PromQL, Target: queryir.Flux, Query: "b"},
		{Source: queryir.InfluxQL, Target: queryir.PromQL, Query: "c", Err: errors.New("boom")},
		{Source: queryir.PromQL, Target: queryir.InfluxQL, Query: "d"},
	}
	for _, e := range entries {
		_, err := s.Record(ctx, e)
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"d", "c", "b", "a"}},
		{"limit", Filter{Limit: 2}, []string{"d", "c"}},
		{"by source", Filter{Source: queryir.PromQL}, []string{"d", "b", "a"}},
		{"by pair", Filter{Source: queryir.PromQL, Target: queryir.InfluxQL}, []string{"d", "a"}},
		{"failed only", Filter{FailedOnly: true}, []string{"c"}},
		{"no match", Filter{Target: queryir.Graphite}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := s.Recent(ctx, tt.filter)
			require.NoError(t, err)
			got := []string{}
			for _, r := range recs {
				got = append(got, r.Query)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStats(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)
	assert.Empty(t, empty.Pairs)

	entries := []Entry{
		{Source: queryir.PromQL, Target: queryir.InfluxQL, Query: "a", Duration: 100 * time.Microsecond},
		{Source: queryir.PromQL, Target: queryir.InfluxQL, Query: "a", Duration: 300 * time.Microsecond},
		{Source: queryir.PromQL, Target: queryir.InfluxQL, Query: "b", Err: errors.New("x")},
		{Source: queryir.Flux, Target: queryir.SQL, Query: "c"},
	}
	for _, e := range entries {
		_, err := s.Record(ctx, e)
		require.NoError(t, err)
	}

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 3, st.DistinctQuery)
	require.Len(t, st.Pairs, 2)
	assert.Equal(t, PairStats{Source: queryir.PromQL, Target: queryir.InfluxQL, Total: 3, Failed: 1, AvgMicros: 133}, st.Pairs[0])
	assert.Equal(t, PairStats{Source: queryir.Flux, Target: queryir.SQL, Total: 1, Failed: 0, AvgMicros: 0}, st.Pairs[1])
}
