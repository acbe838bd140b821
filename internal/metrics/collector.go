package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB interface for queue depth queries
type DB interface {
	GetJobQueueLength() (int, error)
	GetPendingJobQueueLength() (int, error)
	GetProcessingJobQueueLength() (int, error)
}

// StartQueueDepthCollector starts a background goroutine that periodically
// collects import queue depth metrics from the database
func StartQueueDepthCollector(ctx context.Context, db DB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectQueueDepths(db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Queue depth collector stopping")
			return
		case <-ticker.C:
			collectQueueDepths(db, logger)
		}
	}
}

func collectQueueDepths(db DB, logger *slog.Logger) {
	if total, err := db.GetJobQueueLength(); err != nil {
		logger.Error("Failed to get job queue length", "error", err)
	} else {
		QueueDepthTotal.Set(float64(total))
	}

	if pending, err := db.GetPendingJobQueueLength(); err != nil {
		logger.Error("Failed to get pending job queue length", "error", err)
	} else {
		QueueDepthPending.Set(float64(pending))
	}

	if processing, err := db.GetProcessingJobQueueLength(); err != nil {
		logger.Error("Failed to get processing job queue length", "error", err)
	} else {
		QueueDepthProcessing.Set(float64(processing))
	}
}
