// Package ratelimit tracks the shared Strava request budget in a durable
// counter row so concurrent entry points across processes draw from one quota.
package ratelimit

import (
	"fmt"
	"time"

	"runlog-strava-sync/internal/database"
	"runlog-strava-sync/internal/metrics"
)

// Strava read limits, shared app-wide. The batch budget is deliberately
// below the hard 15-minute limit so webhook-triggered imports, which cannot
// be deferred, always have headroom.
const (
	Limit15Min       = 100
	LimitDaily       = 1000
	BatchBudget15Min = 80
)

// Limiter is the durable two-window request budget
type Limiter struct {
	db *database.DB
}

// Status reports current budget availability
type Status struct {
	Available15Min int
	AvailableDaily int
	Requests15Min  int
	RequestsDaily  int
}

// New creates a limiter backed by the rate_limit_state singleton row
func New(db *database.DB) *Limiter {
	return &Limiter{db: db}
}

// state reads the counter row, independently resetting each window whose
// reset timestamp has elapsed. This makes the limiter self-healing without
// a background sweep.
func (l *Limiter) state() (*database.RateLimitState, error) {
	s, err := l.db.GetRateLimitState()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	needsUpdate := false

	if s.WindowResetAt <= now.Unix() {
		s.Requests15Min = 0
		s.WindowResetAt = now.Add(15 * time.Minute).Unix()
		needsUpdate = true
	}

	if s.DayResetAt <= now.Unix() {
		s.RequestsDaily = 0
		// Next 00:00 UTC
		tomorrow := now.UTC().AddDate(0, 0, 1)
		s.DayResetAt = time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, time.UTC).Unix()
		needsUpdate = true
	}

	if needsUpdate {
		if err := l.db.UpdateRateLimitState(s); err != nil {
			return nil, fmt.Errorf("failed to reset rate limit windows: %w", err)
		}
	}

	metrics.RateLimitUsage.WithLabelValues(metrics.Window15Min).Set(float64(s.Requests15Min))
	metrics.RateLimitUsage.WithLabelValues(metrics.WindowDaily).Set(float64(s.RequestsDaily))

	return s, nil
}

// CanProceed reports whether n more requests fit the batch budget. Used by
// scheduled and poll-driven work; callers must re-check before every unit of
// work inside a loop because the budget is shared across concurrent triggers.
func (l *Limiter) CanProceed(n int) (bool, error) {
	s, err := l.state()
	if err != nil {
		return false, err
	}

	if s.Requests15Min+n > BatchBudget15Min {
		metrics.RateLimitRefusalsTotal.WithLabelValues(metrics.Window15Min).Inc()
		return false, nil
	}
	if s.RequestsDaily+n > LimitDaily {
		metrics.RateLimitRefusalsTotal.WithLabelValues(metrics.WindowDaily).Inc()
		return false, nil
	}

	return true, nil
}

// AllowWebhook reports whether n more requests fit the hard provider limit.
// Webhook imports draw from the headroom the batch budget reserves.
func (l *Limiter) AllowWebhook(n int) (bool, error) {
	s, err := l.state()
	if err != nil {
		return false, err
	}

	if s.Requests15Min+n > Limit15Min {
		metrics.RateLimitRefusalsTotal.WithLabelValues(metrics.Window15Min).Inc()
		return false, nil
	}
	if s.RequestsDaily+n > LimitDaily {
		metrics.RateLimitRefusalsTotal.WithLabelValues(metrics.WindowDaily).Inc()
		return false, nil
	}

	return true, nil
}

// Consume records n completed provider calls against both windows.
// Called only after a successful provider call.
func (l *Limiter) Consume(n int) error {
	// Re-read first so a consume landing after a window boundary starts
	// from zeroed counters rather than resurrecting the old window.
	if _, err := l.state(); err != nil {
		return err
	}
	return l.db.ConsumeRateLimit(n)
}

// Status returns current availability for both windows
func (l *Limiter) Status() (*Status, error) {
	s, err := l.state()
	if err != nil {
		return nil, err
	}

	return &Status{
		Available15Min: max(0, Limit15Min-s.Requests15Min),
		AvailableDaily: max(0, LimitDaily-s.RequestsDaily),
		Requests15Min:  s.Requests15Min,
		RequestsDaily:  s.RequestsDaily,
	}, nil
}
