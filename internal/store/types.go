package store

import (
	"context"
	"time"
)

// SummaryRecord is the persisted form of a session summary built at
// teardown. The full lifecycle log is discarded with the session; only the
// aggregate fields survive here.
type SummaryRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	DurationMS  int64     `json:"duration_ms"`
	Turns       int       `json:"turns"`
	Engagement  float64   `json:"engagement"`
	EventCount  int       `json:"event_count"`
	Diagnostics int       `json:"diagnostics"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves session summaries.
type Store interface {
	SaveSummary(ctx context.Context, record SummaryRecord) error
	RecentSummaries(ctx context.Context, userID string, limit int) ([]SummaryRecord, error)
	Close() error
}
