package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"RevAI/internal/domain"
	"RevAI/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultChunkSize = 500

	pqForeignKeyViolation = "23503"
)

// PostgresRepository is the store gateway for sessions, files, articles and AI settings.
type PostgresRepository struct {
	db        *sql.DB
	sb        sq.StatementBuilderType
	chunkSize int
}

var _ ports.Store = (*PostgresRepository)(nil)

// Option customizes a PostgresRepository.
type Option func(*PostgresRepository)

// WithChunkSize bounds the number of article rows per INSERT statement.
func WithChunkSize(n int) Option {
	return func(r *PostgresRepository) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB, opts ...Option) *PostgresRepository {
	r := &PostgresRepository{
		db:        db,
		sb:        sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open connects to Postgres through lib/pq and verifies the connection.
func Open(ctx context.Context, url string, maxOpenConns int) (*sql.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: database url is empty", domain.ErrNotConfigured)
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates missing tables and indexes.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func execAffecting(ctx context.Context, db *sql.DB, what, query string, args ...any) (int64, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", what, err)
	}
	return n, nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, domain.ErrNotFound)
}
