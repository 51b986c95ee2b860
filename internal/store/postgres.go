package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session summaries in PostgreSQL.
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
		`CREATE TABLE IF NOT EXISTS avatar_session_summaries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			turns INT NOT NULL DEFAULT 0,
			engagement DOUBLE PRECISION NOT NULL DEFAULT 0,
			event_count INT NOT NULL DEFAULT 0,
			diagnostics INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_avatar_summaries_user_created ON avatar_session_summaries (user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveSummary(ctx context.Context, record SummaryRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO avatar_session_summaries
		 (id, session_id, user_id, status, reason, started_at, ended_at, duration_ms, turns, engagement, event_count, diagnostics, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.ID,
		record.SessionID,
		record.UserID,
		record.Status,
		record.Reason,
		record.StartedAt,
		record.EndedAt,
		record.DurationMS,
		record.Turns,
		record.Engagement,
		record.EventCount,
		record.Diagnostics,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentSummaries(ctx context.Context, userID string, limit int) ([]SummaryRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, status, reason, started_at, ended_at, duration_ms, turns, engagement, event_count, diagnostics, created_at
		 FROM avatar_session_summaries WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent summaries: %w", err)
	}
	defer rows.Close()

	items := make([]SummaryRecord, 0, limit)
	for rows.Next() {
		var r SummaryRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.Status, &r.Reason, &r.StartedAt, &r.EndedAt, &r.DurationMS, &r.Turns, &r.Engagement, &r.EventCount, &r.Diagnostics, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
