package database

import (
	"database/sql"
	"fmt"
	"time"
)

// rateLimitStateID is the fixed id of the singleton row
const rateLimitStateID = "global"

// RateLimitState is the shared request-budget counter row
type RateLimitState struct {
	Requests15Min int
	RequestsDaily int
	WindowResetAt int64
	DayResetAt    int64
	UpdatedAt     int64
}

// GetRateLimitState reads the singleton counter row. A missing row means the
// schema was never initialized and is a fatal configuration error.
func (db *DB) GetRateLimitState() (*RateLimitState, error) {
	var s RateLimitState
	err := db.conn.QueryRow(`
		SELECT requests_15min, requests_daily, window_reset_at, day_reset_at, updated_at
		FROM rate_limit_state WHERE id = ?
	`, rateLimitStateID).Scan(
		&s.Requests15Min, &s.RequestsDaily, &s.WindowResetAt, &s.DayResetAt, &s.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rate_limit_state row not provisioned: run schema init")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit state: %w", err)
	}
	return &s, nil
}

// UpdateRateLimitState writes counters and window reset timestamps back
func (db *DB) UpdateRateLimitState(s *RateLimitState) error {
	_, err := db.conn.Exec(`
		UPDATE rate_limit_state
		SET requests_15min = ?, requests_daily = ?, window_reset_at = ?, day_reset_at = ?, updated_at = ?
		WHERE id = ?
	`, s.Requests15Min, s.RequestsDaily, s.WindowResetAt, s.DayResetAt, time.Now().Unix(), rateLimitStateID)

	if err != nil {
		return fmt.Errorf("failed to update rate limit state: %w", err)
	}
	return nil
}

// ConsumeRateLimit increments both window counters by n in one statement
func (db *DB) ConsumeRateLimit(n int) error {
	_, err := db.conn.Exec(`
		UPDATE rate_limit_state
		SET requests_15min = requests_15min + ?, requests_daily = requests_daily + ?, updated_at = ?
		WHERE id = ?
	`, n, n, time.Now().Unix(), rateLimitStateID)

	if err != nil {
		return fmt.Errorf("failed to consume rate limit: %w", err)
	}
	return nil
}
