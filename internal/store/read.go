package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/roach88/polyql/internal/queryir"
)

// Filter narrows Recent. Zero fields match everything.
type Filter struct {
	Source     queryir.Dialect
	Target     queryir.Dialect
	FailedOnly bool
	Limit      int
}

// DefaultLimit is the number of records Recent returns when the filter has
// no limit.
const DefaultLimit = 20

const recordColumns = `seq, id, created_at, source, target, query_hash, query, output, confidence, error, duration_us`

// Recent returns the newest records matching f, newest first.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Recent(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(f.Source))
	}
	if f.Target != "" {
		where = append(where, "target = ?")
		args = append(args, string(f.Target))
	}
	if f.FailedOnly {
		where = append(where, "error != ''")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := "SELECT " + recordColumns + " FROM translations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate history")
	}
	return records, nil
}

// Get returns the record with the given ID, or ok=false if there is none.
func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM translations WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// PairStats summarizes the translations between one source and target.
type PairStats struct {
	Source    queryir.Dialect `json:"source"`
	Target    queryir.Dialect `json:"target"`
	Total     int             `json:"total"`
	Failed    int             `json:"failed"`
	AvgMicros int64           `json:"avg_duration_us"`
}

// Stats summarizes the whole history.
type Stats struct {
	Total         int         `json:"total"`
	Failed        int         `json:"failed"`
	DistinctQuery int         `json:"distinct_queries"`
	Pairs         []PairStats `json:"pairs"`
}

// Stats returns totals plus per-pair counts, busiest pair first.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(error != ''), 0), COUNT(DISTINCT query_hash)
		FROM translations
	`).Scan(&st.Total, &st.Failed, &st.DistinctQuery)
	if err != nil {
		return Stats{}, errors.Wrap(err, "query history totals")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, target, COUNT(*), SUM(error != ''), CAST(AVG(duration_us) AS INTEGER)
		FROM translations
		GROUP BY source, target
		ORDER BY COUNT(*) DESC, source ASC, target ASC
	`)
	if err != nil {
		return Stats{}, errors.Wrap(err, "query history pairs")
	}
	defer rows.Close()

	st.Pairs = []PairStats{}
	for rows.Next() {
		var (
			p              PairStats
			source, target string
		)
		if err := rows.Scan(&source, &target, &p.Total, &p.Failed, &p.AvgMicros); err != nil {
			return Stats{}, errors.Wrap(err, "scan history pair")
		}
		p.Source, p.Target = queryir.Dialect(source), queryir.Dialect(target)
		st.Pairs = append(st.Pairs, p)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, errors.Wrap(err, "iterate history pairs")
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec                   Record
		createdMs, durationUs int64
		source, target        string
	)
	err := row.Scan(
		&rec.Seq,
		&rec.ID,
		&createdMs,
		&source,
		&target,
		&rec.QueryHash,
		&rec.Query,
		&rec.Output,
		&rec.Confidence,
		&rec.Error,
		&durationUs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, err
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "scan history record")
	}
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.Source, rec.Target = queryir.Dialect(source), queryir.Dialect(target)
	rec.Duration = time.Duration(durationUs) * time.Microsecond
	return rec, nil
}
