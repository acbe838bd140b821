package database

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"runlog-strava-sync/internal/metrics"
)

// Job statuses. Terminal states are done, error and cancelled.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusDone       = "done"
	JobStatusError      = "error"
	JobStatusCancelled  = "cancelled"
)

// ImportJob represents one queued external activity pending import
type ImportJob struct {
	ID           int64
	UserID       string
	ActivityID   int64
	Status       string
	Attempts     int
	ErrorMessage *string
	CreatedAt    int64
	ProcessedAt  *int64
}

// JobCounts aggregates a user's jobs per status
type JobCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Error      int `json:"error"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// EnqueueImportJobs inserts pending jobs for the given activity ids with
// duplicate-ignore semantics on (user_id, activity_id). Returns the number
// of rows actually inserted.
func (db *DB) EnqueueImportJobs(userID string, activityIDs []int64) (int, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpEnqueueJobs))
	defer timer.ObserveDuration()

	now := time.Now().Unix()
	queued := 0

	for _, activityID := range activityIDs {
		result, err := db.conn.Exec(`
			INSERT OR IGNORE INTO import_jobs (user_id, activity_id, status, created_at)
			VALUES (?, ?, 'pending', ?)
		`, userID, activityID, now)
		if err != nil {
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpEnqueueJobs).Inc()
			return queued, fmt.Errorf("failed to enqueue job for activity %d: %w", activityID, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return queued, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows > 0 {
			queued++
			metrics.JobsEnqueuedTotal.Inc()
		}
	}

	return queued, nil
}

// ListPendingJobs returns up to limit of the user's oldest pending jobs
func (db *DB) ListPendingJobs(userID string, limit int) ([]*ImportJob, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListPendingJobs))
	defer timer.ObserveDuration()

	rows, err := db.conn.Query(`
		SELECT id, user_id, activity_id, status, attempts, error_message, created_at, processed_at
		FROM import_jobs
		WHERE user_id = ? AND status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListPendingJobs).Inc()
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ImportJob
	for rows.Next() {
		var j ImportJob
		err := rows.Scan(&j.ID, &j.UserID, &j.ActivityID, &j.Status, &j.Attempts,
			&j.ErrorMessage, &j.CreatedAt, &j.ProcessedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, &j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// QueuedActivityIDs returns the activity ids of a user's jobs in
// pending or processing state
func (db *DB) QueuedActivityIDs(userID string) (map[int64]bool, error) {
	rows, err := db.conn.Query(`
		SELECT activity_id FROM import_jobs
		WHERE user_id = ? AND status IN ('pending', 'processing')
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued activity ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan activity id: %w", err)
		}
		ids[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity ids: %w", err)
	}

	return ids, nil
}

// MarkJobProcessing transitions a pending job to processing. The transition
// happens before the import call so a crash mid-import is visible.
func (db *DB) MarkJobProcessing(id int64) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpTransitionJob))
	defer timer.ObserveDuration()

	result, err := db.conn.Exec(`
		UPDATE import_jobs SET status = 'processing'
		WHERE id = ? AND status = 'pending'
	`, id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpTransitionJob).Inc()
		return fmt.Errorf("failed to mark job processing: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job %d not pending", id)
	}

	return nil
}

// MarkJobDone transitions a processing job to its terminal done state
func (db *DB) MarkJobDone(id int64) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpTransitionJob))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`
		UPDATE import_jobs SET status = 'done', processed_at = ?
		WHERE id = ?
	`, time.Now().Unix(), id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpTransitionJob).Inc()
		return fmt.Errorf("failed to mark job done: %w", err)
	}

	return nil
}

// ReleaseJob records a failed attempt. The job goes back to pending for
// another poll, or to its terminal error state once attempts reach maxAttempts.
// Returns true if the job remains retryable.
func (db *DB) ReleaseJob(id int64, attempts int, errMsg string, maxAttempts int) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpTransitionJob))
	defer timer.ObserveDuration()

	newAttempts := attempts + 1
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}

	if newAttempts >= maxAttempts {
		_, err := db.conn.Exec(`
			UPDATE import_jobs
			SET status = 'error', attempts = ?, error_message = ?, processed_at = ?
			WHERE id = ?
		`, newAttempts, errMsg, time.Now().Unix(), id)
		if err != nil {
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpTransitionJob).Inc()
			return false, fmt.Errorf("failed to fail job: %w", err)
		}
		return false, nil
	}

	_, err := db.conn.Exec(`
		UPDATE import_jobs
		SET status = 'pending', attempts = ?, error_message = ?, processed_at = NULL
		WHERE id = ?
	`, newAttempts, errMsg, id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpTransitionJob).Inc()
		return false, fmt.Errorf("failed to release job: %w", err)
	}

	return true, nil
}

// FailJob transitions a job directly to its terminal error state,
// bypassing retries. Used when no valid token is available.
func (db *DB) FailJob(id int64, errMsg string) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpTransitionJob))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`
		UPDATE import_jobs
		SET status = 'error', error_message = ?, processed_at = ?
		WHERE id = ?
	`, errMsg, time.Now().Unix(), id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpTransitionJob).Inc()
		return fmt.Errorf("failed to fail job: %w", err)
	}

	return nil
}

// CancelPendingJobs flips all of a user's pending jobs to cancelled in one
// statement. Jobs already processing are left to finish.
func (db *DB) CancelPendingJobs(userID string) (int64, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpCancelJobs))
	defer timer.ObserveDuration()

	result, err := db.conn.Exec(`
		UPDATE import_jobs SET status = 'cancelled', processed_at = ?
		WHERE user_id = ? AND status = 'pending'
	`, time.Now().Unix(), userID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCancelJobs).Inc()
		return 0, fmt.Errorf("failed to cancel pending jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// CountJobsByStatus aggregates a user's jobs per status
func (db *DB) CountJobsByStatus(userID string) (*JobCounts, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpCountJobs))
	defer timer.ObserveDuration()

	rows, err := db.conn.Query(`
		SELECT status, COUNT(*) FROM import_jobs
		WHERE user_id = ?
		GROUP BY status
	`, userID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCountJobs).Inc()
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := &JobCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}

		switch status {
		case JobStatusPending:
			counts.Pending = n
		case JobStatusProcessing:
			counts.Processing = n
		case JobStatusDone:
			counts.Done = n
		case JobStatusError:
			counts.Error = n
		case JobStatusCancelled:
			counts.Cancelled = n
		}
		counts.Total += n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job counts: %w", err)
	}

	return counts, nil
}

// GetJobQueueLength returns the number of import jobs across all users
func (db *DB) GetJobQueueLength() (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM import_jobs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get job queue length: %w", err)
	}
	return count, nil
}

// GetPendingJobQueueLength returns the number of pending jobs across all users
func (db *DB) GetPendingJobQueueLength() (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM import_jobs WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending job queue length: %w", err)
	}
	return count, nil
}

// GetProcessingJobQueueLength returns the number of jobs currently marked processing
func (db *DB) GetProcessingJobQueueLength() (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM import_jobs WHERE status = 'processing'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get processing job queue length: %w", err)
	}
	return count, nil
}
