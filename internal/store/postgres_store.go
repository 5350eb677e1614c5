package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
)

// pgForeignKeyViolation is raised when an entry targets a missing table
const pgForeignKeyViolation = "23503"

const postgresSchema = `
CREATE SEQUENCE IF NOT EXISTS metadata_version_seq;

CREATE TABLE IF NOT EXISTS metadata_tables (
	table_name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS metadata_entries (
	table_name  TEXT   NOT NULL REFERENCES metadata_tables(table_name) ON DELETE CASCADE,
	entry_key   TEXT   NOT NULL,
	entry_value BYTEA  NOT NULL,
	version     BIGINT NOT NULL,
	PRIMARY KEY (table_name, entry_key)
);
`

// PostgresStore implements Store for PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL store and ensures its schema
func NewPostgresStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)
	return OpenPostgresStore(context.Background(), connString, logger)
}

// OpenPostgresStore connects using a libpq style connection string or URL
func OpenPostgresStore(ctx context.Context, connString string, logger *zap.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// CreateTable registers the table
func (s *PostgresStore) CreateTable(ctx context.Context, table string) error {
	query := `INSERT INTO metadata_tables (table_name) VALUES ($1) ON CONFLICT DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, table); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// DeleteTable removes the table; entries are removed by cascade
func (s *PostgresStore) DeleteTable(ctx context.Context, table string) error {
	query := `DELETE FROM metadata_tables WHERE table_name = $1`

	if _, err := s.pool.Exec(ctx, query, table); err != nil {
		return fmt.Errorf("failed to delete table: %w", err)
	}
	return nil
}

// CreateIfAbsent inserts the entry unless the key exists
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, table, key string, value []byte) (Version, error) {
	query := `
		INSERT INTO metadata_entries (table_name, entry_key, entry_value, version)
		VALUES ($1, $2, $3, nextval('metadata_version_seq'))
		ON CONFLICT (table_name, entry_key) DO NOTHING
		RETURNING version
	`

	var v int64
	err := s.pool.QueryRow(ctx, query, table, key, value).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, metaerrors.AlreadyExists(table, key)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return 0, metaerrors.TableNotFound(table)
		}
		return 0, fmt.Errorf("failed to create entry: %w", err)
	}
	return Version(v), nil
}

// Get returns the entry value and version
func (s *PostgresStore) Get(ctx context.Context, table, key string) ([]byte, Version, error) {
	query := `
		SELECT entry_value, version
		FROM metadata_entries
		WHERE table_name = $1 AND entry_key = $2
	`

	var (
		value []byte
		v     int64
	)
	err := s.pool.QueryRow(ctx, query, table, key).Scan(&value, &v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, metaerrors.NotFound(table, key)
		}
		return nil, 0, fmt.Errorf("failed to get entry: %w", err)
	}
	return value, Version(v), nil
}

// Update replaces the entry if its version equals expected
func (s *PostgresStore) Update(ctx context.Context, table, key string, value []byte, expected Version) (Version, error) {
	query := `
		UPDATE metadata_entries
		SET entry_value = $3, version = nextval('metadata_version_seq')
		WHERE table_name = $1 AND entry_key = $2 AND version = $4
		RETURNING version
	`

	var v int64
	err := s.pool.QueryRow(ctx, query, table, key, value, int64(expected)).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, s.mismatch(ctx, table, key, expected)
		}
		return 0, fmt.Errorf("failed to update entry: %w", err)
	}
	return Version(v), nil
}

// Delete removes the entry if its version equals expected, or unconditionally with AnyVersion
func (s *PostgresStore) Delete(ctx context.Context, table, key string, expected Version) error {
	query := `
		DELETE FROM metadata_entries
		WHERE table_name = $1 AND entry_key = $2 AND ($3 = -1 OR version = $3)
	`

	result, err := s.pool.Exec(ctx, query, table, key, int64(expected))
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return s.mismatch(ctx, table, key, expected)
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// mismatch explains a conditional statement that matched no row
func (s *PostgresStore) mismatch(ctx context.Context, table, key string, expected Version) error {
	var actual int64
	err := s.pool.QueryRow(ctx,
		`SELECT version FROM metadata_entries WHERE table_name = $1 AND entry_key = $2`,
		table, key,
	).Scan(&actual)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return metaerrors.NotFound(table, key)
		}
		return fmt.Errorf("failed to read entry version: %w", err)
	}
	return metaerrors.ConcurrentModification(table, key, int64(expected), actual)
}
