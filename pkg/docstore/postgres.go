package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore keeps documents in the documents table (see
// pkg/database/migrations) with the data held as JSONB.
type PostgresStore struct {
	pool   *pgxpool.Pool
	feed   ChangeFeed
	logger *zap.Logger
}

// NewPostgresStore creates a Postgres-backed store. A nil feed uses a LocalFeed,
// which only reaches subscribers in this process.
func NewPostgresStore(pool *pgxpool.Pool, feed ChangeFeed, logger *zap.Logger) *PostgresStore {
	if feed == nil {
		feed = NewLocalFeed()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, feed: feed, logger: logger}
}

// Get returns the document at path.
func (s *PostgresStore) Get(ctx context.Context, path string) (*Document, error) {
	if _, _, err := SplitPath(path); err != nil {
		return nil, err
	}
	const q = `SELECT path, doc_id, data, updated_at FROM documents WHERE path = $1`
	d, err := scanDocument(s.pool.QueryRow(ctx, q, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return d, nil
}

// Set replaces the document at path.
func (s *PostgresStore) Set(ctx context.Context, path string, fields Fields) error {
	const q = `INSERT INTO documents (path, collection, doc_id, data)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`
	return s.upsert(ctx, q, path, fields)
}

// SetMerge overwrites only the given top-level fields.
func (s *PostgresStore) SetMerge(ctx context.Context, path string, fields Fields) error {
	const q = `INSERT INTO documents (path, collection, doc_id, data)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = NOW()`
	return s.upsert(ctx, q, path, fields)
}

// Add creates a document with a generated id.
func (s *PostgresStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	if err := validCollection(collection); err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := s.Set(ctx, Join(collection, id), fields); err != nil {
		return "", err
	}
	return id, nil
}

// Increment adds delta to field in a single upsert statement, so concurrent
// callers never observe the same base value.
func (s *PostgresStore) Increment(ctx context.Context, path, field string, delta int64, merge Fields) (int64, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return 0, err
	}
	extra, err := json.Marshal(normalize(merge))
	if err != nil {
		return 0, fmt.Errorf("marshal fields: %w", err)
	}
	const q = `INSERT INTO documents (path, collection, doc_id, data)
		VALUES ($1, $2, $3, $4::jsonb || jsonb_build_object($5::text, $6::bigint))
		ON CONFLICT (path) DO UPDATE SET
			data = documents.data || $4::jsonb
				|| jsonb_build_object($5::text, COALESCE((documents.data->>$5::text)::numeric, 0)::bigint + $6::bigint),
			updated_at = NOW()
		RETURNING (data->>$5::text)::bigint`
	var total int64
	if err := s.pool.QueryRow(ctx, q, path, collection, id, extra, field, delta).Scan(&total); err != nil {
		return 0, fmt.Errorf("increment %s.%s: %w", path, field, err)
	}
	s.publish(ctx, collection)
	return total, nil
}

// Delete removes the document at path.
func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	collection, _, err := SplitPath(path)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	s.publish(ctx, collection)
	return nil
}

// Query runs q against the collection index. Filters use JSONB containment.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validCollection(q.Collection); err != nil {
		return nil, err
	}
	filter := make(Fields, len(q.Filters))
	for _, f := range q.Filters {
		filter[f.Field] = normalizeValue(f.Value)
	}
	raw, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT path, doc_id, data, updated_at FROM documents WHERE collection = $1 AND data @> $2::jsonb`)
	args := []any{q.Collection, raw}
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		sb.WriteString(fmt.Sprintf(" ORDER BY data->($%d::text)", len(args)))
		if q.Descending {
			sb.WriteString(" DESC")
		}
		sb.WriteString(", path")
	} else {
		sb.WriteString(" ORDER BY path")
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()
	var list []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		list = append(list, *d)
	}
	return list, rows.Err()
}

// Subscribe pushes snapshots of q whenever the change feed reports a write.
func (s *PostgresStore) Subscribe(ctx context.Context, q Query) (<-chan Snapshot, func(), error) {
	return subscribe(ctx, s.feed, q, s.Query)
}

func (s *PostgresStore) upsert(ctx context.Context, q, path string, fields Fields) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	data, err := json.Marshal(normalize(fields))
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	if _, err := s.pool.Exec(ctx, q, path, collection, id, data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	s.publish(ctx, collection)
	return nil
}

// publish never fails the write; subscribers only miss a refresh.
func (s *PostgresStore) publish(ctx context.Context, collection string) {
	if err := s.feed.Publish(ctx, collection); err != nil {
		s.logger.Warn("docstore change publish failed", zap.String("collection", collection), zap.Error(err))
	}
}

func scanDocument(row pgx.Row) (*Document, error) {
	var (
		d   Document
		raw []byte
	)
	if err := row.Scan(&d.Path, &d.ID, &raw, &d.UpdatedAt); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&d.Data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.Path, err)
	}
	if d.Data == nil {
		d.Data = Fields{}
	}
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}
