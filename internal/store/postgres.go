package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists usage balances in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			client_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			usage_total_ms BIGINT NOT NULL DEFAULT 0,
			last_started_at TIMESTAMPTZ,
			last_ended_at TIMESTAMPTZ,
			last_seconds BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) ResolveUser(ctx context.Context, clientID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (client_id, display_name)
		 VALUES ($1, $2)
		 ON CONFLICT (client_id) DO NOTHING`,
		clientID,
		guestName(clientID),
	)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	return nil
}

func (s *PostgresStore) Usage(ctx context.Context, clientID string) (Usage, error) {
	var (
		usage     Usage
		startedAt *time.Time
		endedAt   *time.Time
		seconds   *int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT usage_total_ms, last_started_at, last_ended_at, last_seconds
		 FROM users WHERE client_id=$1`,
		clientID,
	).Scan(&usage.TotalMs, &startedAt, &endedAt, &seconds)
	if err != nil {
		return Usage{}, fmt.Errorf("query usage: %w", err)
	}
	if startedAt != nil && endedAt != nil && seconds != nil {
		usage.LastSession = &SessionRecord{
			StartedAt: *startedAt,
			EndedAt:   *endedAt,
			Seconds:   *seconds,
		}
	}
	return usage, nil
}

func (s *PostgresStore) AddUsage(ctx context.Context, clientID string, session SessionRecord) (Usage, error) {
	// Single upsert keeps the increment atomic under concurrent
	// settlements for the same client.
	var total int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (client_id, display_name, usage_total_ms, last_started_at, last_ended_at, last_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (client_id) DO UPDATE SET
			usage_total_ms = users.usage_total_ms + EXCLUDED.usage_total_ms,
			last_started_at = EXCLUDED.last_started_at,
			last_ended_at = EXCLUDED.last_ended_at,
			last_seconds = EXCLUDED.last_seconds
		 RETURNING usage_total_ms`,
		clientID,
		guestName(clientID),
		session.Seconds*1000,
		session.StartedAt,
		session.EndedAt,
		session.Seconds,
	).Scan(&total)
	if err != nil {
		return Usage{}, fmt.Errorf("add usage: %w", err)
	}
	rec := session
	return Usage{TotalMs: total, LastSession: &rec}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
