package attrs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/resilience"
)

const schema = `
CREATE TABLE IF NOT EXISTS field_attributes (
	segment           TEXT NOT NULL,
	field             TEXT NOT NULL,
	single_tags       TEXT[] NOT NULL DEFAULT '{}',
	multi_tags        TEXT[] NOT NULL DEFAULT '{}',
	set_tags          TEXT[] NOT NULL DEFAULT '{}',
	intersecting_tags TEXT[] NOT NULL DEFAULT '{}',
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (segment, field)
)`

const upsert = `
INSERT INTO field_attributes (segment, field, single_tags, multi_tags, set_tags, intersecting_tags)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (segment, field) DO UPDATE SET
	single_tags = EXCLUDED.single_tags,
	multi_tags = EXCLUDED.multi_tags,
	set_tags = EXCLUDED.set_tags,
	intersecting_tags = EXCLUDED.intersecting_tags,
	updated_at = NOW()`

// TxRunner runs fn inside a transaction. *postgres.Client implements it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// PostgresSink upserts field attributes into the field_attributes table.
// All fields of a segment are written in one transaction, retried with
// backoff on failure.
type PostgresSink struct {
	db     TxRunner
	retry  resilience.RetryConfig
	logger *slog.Logger
}

func NewPostgresSink(db TxRunner, retry resilience.RetryConfig) *PostgresSink {
	return &PostgresSink{
		db:     db,
		retry:  retry,
		logger: slog.Default().With("component", "attrs-postgres"),
	}
}

// EnsureSchema creates the field_attributes table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("creating field_attributes table: %w", err)
		}
		return nil
	})
}

func (s *PostgresSink) Publish(ctx context.Context, fields []FieldAttributes) error {
	if len(fields) == 0 {
		return nil
	}
	err := resilience.Retry(ctx, "publish-field-attributes", s.retry, func() error {
		return permanent(s.db.InTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, upsert)
			if err != nil {
				return fmt.Errorf("preparing upsert: %w", err)
			}
			defer stmt.Close()
			for _, f := range fields {
				if _, err := stmt.ExecContext(ctx, f.Segment, f.Field,
					pq.Array(nonNil(f.SingleTags)),
					pq.Array(nonNil(f.MultiTags)),
					pq.Array(nonNil(f.SetTags)),
					pq.Array(nonNil(f.IntersectingTags)),
				); err != nil {
					return fmt.Errorf("upserting attributes of %s/%s: %w", f.Segment, f.Field, err)
				}
			}
			return nil
		}))
	})
	if err != nil {
		return err
	}
	s.logger.Debug("field attributes published", "segment", fields[0].Segment, "fields", len(fields))
	return nil
}

// Forget deletes every field of segment.
func (s *PostgresSink) Forget(ctx context.Context, segment string) error {
	err := resilience.Retry(ctx, "forget-field-attributes", s.retry, func() error {
		return permanent(s.db.InTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM field_attributes WHERE segment = $1`, segment)
			return err
		}))
	})
	if err != nil {
		return fmt.Errorf("forgetting attributes of %s: %w", segment, err)
	}
	return nil
}

// Get reads back the attributes of one field.
func (s *PostgresSink) Get(ctx context.Context, segment, field string) (FieldAttributes, error) {
	f := FieldAttributes{Segment: segment, Field: field}
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`SELECT single_tags, multi_tags, set_tags, intersecting_tags FROM field_attributes WHERE segment = $1 AND field = $2`,
			segment, field,
		).Scan(
			pq.Array(&f.SingleTags),
			pq.Array(&f.MultiTags),
			pq.Array(&f.SetTags),
			pq.Array(&f.IntersectingTags),
		)
	})
	if err != nil {
		return FieldAttributes{}, fmt.Errorf("reading attributes of %s/%s: %w", segment, field, err)
	}
	return f, nil
}

// permanent stops retries on errors a retry cannot fix: bad data,
// constraint violations, and schema or privilege errors.
func permanent(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return resilience.Permanent(err)
		}
	}
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
