package store

import "github.com/jackc/pgx/v5/pgxpool"

// PostgresPool exposes the store's pool to the external conformance tests
func PostgresPool(s *PostgresStore) *pgxpool.Pool { return s.pool }
