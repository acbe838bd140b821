package ratelimit

import (
	"testing"
	"time"

	"runlog-strava-sync/internal/database"
)

func setupLimiter(t *testing.T) (*Limiter, *database.DB) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Init(); err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}

	return New(db), db
}

// seed writes counters with both windows far from reset
func seed(t *testing.T, db *database.DB, used15min, usedDaily int) {
	t.Helper()
	now := time.Now().Unix()
	err := db.UpdateRateLimitState(&database.RateLimitState{
		Requests15Min: used15min,
		RequestsDaily: usedDaily,
		WindowResetAt: now + 900,
		DayResetAt:    now + 86400,
	})
	if err != nil {
		t.Fatalf("Failed to seed rate limit state: %v", err)
	}
}

func TestCanProceedBatchBudget(t *testing.T) {
	limiter, db := setupLimiter(t)

	seed(t, db, BatchBudget15Min-1, 0)

	ok, err := limiter.CanProceed(1)
	if err != nil {
		t.Fatalf("CanProceed failed: %v", err)
	}
	if !ok {
		t.Error("Expected 1 request to fit under the batch budget")
	}

	ok, err = limiter.CanProceed(2)
	if err != nil {
		t.Fatalf("CanProceed failed: %v", err)
	}
	if ok {
		t.Error("Expected 2 requests to exceed the batch budget")
	}
}

func TestWebhookHeadroomAboveBatchBudget(t *testing.T) {
	limiter, db := setupLimiter(t)

	// Batch budget exhausted, hard limit not
	seed(t, db, BatchBudget15Min, 0)

	ok, err := limiter.CanProceed(1)
	if err != nil {
		t.Fatalf("CanProceed failed: %v", err)
	}
	if ok {
		t.Error("Expected batch work to be refused at the budget")
	}

	ok, err = limiter.AllowWebhook(2)
	if err != nil {
		t.Fatalf("AllowWebhook failed: %v", err)
	}
	if !ok {
		t.Error("Expected webhook work to use the reserved headroom")
	}

	// The hard limit still binds webhooks
	seed(t, db, Limit15Min-1, 0)
	ok, err = limiter.AllowWebhook(2)
	if err != nil {
		t.Fatalf("AllowWebhook failed: %v", err)
	}
	if ok {
		t.Error("Expected webhook work refused at the hard limit")
	}
}

func TestDailyLimitBindsBothPaths(t *testing.T) {
	limiter, db := setupLimiter(t)

	seed(t, db, 0, LimitDaily)

	ok, err := limiter.CanProceed(1)
	if err != nil {
		t.Fatalf("CanProceed failed: %v", err)
	}
	if ok {
		t.Error("Expected batch work refused at the daily limit")
	}

	ok, err = limiter.AllowWebhook(1)
	if err != nil {
		t.Fatalf("AllowWebhook failed: %v", err)
	}
	if ok {
		t.Error("Expected webhook work refused at the daily limit")
	}
}

func TestWindowSelfReset(t *testing.T) {
	limiter, db := setupLimiter(t)

	// 15-minute window elapsed, daily window still running
	now := time.Now().Unix()
	err := db.UpdateRateLimitState(&database.RateLimitState{
		Requests15Min: Limit15Min,
		RequestsDaily: 500,
		WindowResetAt: now - 1,
		DayResetAt:    now + 86400,
	})
	if err != nil {
		t.Fatalf("Failed to seed state: %v", err)
	}

	ok, err := limiter.CanProceed(1)
	if err != nil {
		t.Fatalf("CanProceed failed: %v", err)
	}
	if !ok {
		t.Error("Expected elapsed window to reset the 15-minute counter")
	}

	s, err := db.GetRateLimitState()
	if err != nil {
		t.Fatalf("Failed to get state: %v", err)
	}
	if s.Requests15Min != 0 {
		t.Errorf("Expected 15-minute counter reset and persisted, got %d", s.Requests15Min)
	}
	if s.RequestsDaily != 500 {
		t.Errorf("Expected daily counter untouched, got %d", s.RequestsDaily)
	}
	if s.WindowResetAt <= now {
		t.Error("Expected a future window reset timestamp")
	}
}

func TestDailyWindowResetsAtUTCMidnight(t *testing.T) {
	limiter, db := setupLimiter(t)

	now := time.Now().Unix()
	err := db.UpdateRateLimitState(&database.RateLimitState{
		Requests15Min: 10,
		RequestsDaily: LimitDaily,
		WindowResetAt: now + 900,
		DayResetAt:    now - 1,
	})
	if err != nil {
		t.Fatalf("Failed to seed state: %v", err)
	}

	ok, err := limiter.CanProceed(1)
	if err != nil {
		t.Fatalf("CanProceed failed: %v", err)
	}
	if !ok {
		t.Error("Expected elapsed day to reset the daily counter")
	}

	s, err := db.GetRateLimitState()
	if err != nil {
		t.Fatalf("Failed to get state: %v", err)
	}
	if s.RequestsDaily != 0 {
		t.Errorf("Expected daily counter reset, got %d", s.RequestsDaily)
	}
	if s.Requests15Min != 10 {
		t.Errorf("Expected 15-minute counter untouched, got %d", s.Requests15Min)
	}

	reset := time.Unix(s.DayResetAt, 0).UTC()
	if reset.Hour() != 0 || reset.Minute() != 0 || reset.Second() != 0 {
		t.Errorf("Expected next reset at 00:00 UTC, got %v", reset)
	}
	if !reset.After(time.Now().UTC()) {
		t.Errorf("Expected a future daily reset, got %v", reset)
	}
}

func TestConsumeIncrementsBothWindows(t *testing.T) {
	limiter, db := setupLimiter(t)

	seed(t, db, 5, 50)

	if err := limiter.Consume(2); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	s, err := db.GetRateLimitState()
	if err != nil {
		t.Fatalf("Failed to get state: %v", err)
	}
	if s.Requests15Min != 7 {
		t.Errorf("Expected 15-minute counter 7, got %d", s.Requests15Min)
	}
	if s.RequestsDaily != 52 {
		t.Errorf("Expected daily counter 52, got %d", s.RequestsDaily)
	}
}

func TestConsumeAfterWindowBoundary(t *testing.T) {
	limiter, db := setupLimiter(t)

	// Window elapsed between the check and the consume; the consume must
	// land on a zeroed counter, not resurrect the old one
	now := time.Now().Unix()
	err := db.UpdateRateLimitState(&database.RateLimitState{
		Requests15Min: 99,
		RequestsDaily: 500,
		WindowResetAt: now - 1,
		DayResetAt:    now + 86400,
	})
	if err != nil {
		t.Fatalf("Failed to seed state: %v", err)
	}

	if err := limiter.Consume(1); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	s, err := db.GetRateLimitState()
	if err != nil {
		t.Fatalf("Failed to get state: %v", err)
	}
	if s.Requests15Min != 1 {
		t.Errorf("Expected counter 1 after boundary reset, got %d", s.Requests15Min)
	}
}

func TestStatus(t *testing.T) {
	limiter, db := setupLimiter(t)

	seed(t, db, 30, 200)

	status, err := limiter.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Available15Min != Limit15Min-30 {
		t.Errorf("Expected %d available, got %d", Limit15Min-30, status.Available15Min)
	}
	if status.AvailableDaily != LimitDaily-200 {
		t.Errorf("Expected %d available daily, got %d", LimitDaily-200, status.AvailableDaily)
	}
	if status.Requests15Min != 30 || status.RequestsDaily != 200 {
		t.Errorf("Expected raw counters echoed, got %+v", status)
	}
}
