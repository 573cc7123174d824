package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the connection pool with the queries used by the handlers and
// the attendance workflow. Every mutation is a single-row write; cross-row
// coordination happens through the version column on subscriptions.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Ping checks database connectivity, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
