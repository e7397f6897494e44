package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"

	"github.com/roach88/polyql/internal/queryir"
)

// Entry is one translation attempt to record.
type Entry struct {
	Source     queryir.Dialect
	Target     queryir.Dialect
	Query      string
	Output     string
	Confidence float64
	Err        error
	Duration   time.Duration
}

// Record is a stored translation.
type Record struct {
	Seq        int64           `json:"seq"`
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	Source     queryir.Dialect `json:"source"`
	Target     queryir.Dialect `json:"target"`
	QueryHash  string          `json:"query_hash"`
	Query      string          `json:"query"`
	Output     string          `json:"output,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// Failed reports whether the translation failed.
func (r Record) Failed() bool { return r.Error != "" }

// HashQuery returns the hex SHA-256 of a query's text.
func HashQuery(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Record appends e to the history and returns the stored record.
func (s *Store) Record(ctx context.Context, e Entry) (Record, error) {
	if e.Target == "" {
		return Record{}, errors.New("record translation: target is required")
	}
	now := s.now()
	id, err := ksuid.NewRandomWithTime(now)
	if err != nil {
		return Record{}, errors.Wrap(err, "record translation: generate id")
	}
	rec := Record{
		ID:         id.String(),
		CreatedAt:  now.UTC().Truncate(time.Millisecond),
		Source:     e.Source,
		Target:     e.Target,
		QueryHash:  HashQuery(e.Query),
		Query:      e.Query,
		Output:     e.Output,
		Confidence: e.Confidence,
		Duration:   e.Duration.Truncate(time.Microsecond),
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
		rec.Output = ""
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO translations
		(id, created_at, source, target, query_hash, query, output, confidence, error, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.CreatedAt.UnixMilli(),
		string(rec.Source),
		string(rec.Target),
		rec.QueryHash,
		rec.Query,
		rec.Output,
		rec.Confidence,
		rec.Error,
		rec.Duration.Microseconds(),
	)
	if err != nil {
		return Record{}, errors.Wrap(err, "record translation")
	}
	if rec.Seq, err = res.LastInsertId(); err != nil {
		return Record{}, errors.Wrap(err, "record translation: read seq")
	}
	return rec, nil
}
