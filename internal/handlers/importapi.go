package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"runlog-strava-sync/internal/database"
	"runlog-strava-sync/internal/importer"
	"runlog-strava-sync/internal/metrics"
	"runlog-strava-sync/internal/ratelimit"
	"runlog-strava-sync/internal/strava"
)

const (
	// maxImportPerUser caps how many new jobs one import trigger enqueues
	maxImportPerUser = 20

	// processPerPoll bounds the jobs drained per status poll so one request
	// stays well inside its deadline
	processPerPoll = 2

	// maxAttempts before a job lands in its terminal error state
	maxAttempts = 3

	// importCost is the provider calls one job consumes (detail plus streams)
	importCost = 2

	// backfillBatch caps stream fetches per backfill request
	backfillBatch = 30

	// requestDeadline bounds handler work; loops stop early rather than
	// risk the caller timing out
	requestDeadline = 55 * time.Second

	listPageSize = 200
)

// ImportHandler handles the activity import API: trigger, poll, cancel
// and backfill
type ImportHandler struct {
	db       *database.DB
	client   *strava.Client
	tokens   *importer.TokenManager
	importer *importer.Importer
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
}

// NewImportHandler creates a new import API handler
func NewImportHandler(db *database.DB, client *strava.Client, tokens *importer.TokenManager, imp *importer.Importer, limiter *ratelimit.Limiter) *ImportHandler {
	return &ImportHandler{
		db:       db,
		client:   client,
		tokens:   tokens,
		importer: imp,
		limiter:  limiter,
		logger:   slog.Default().With("component", "import_api"),
	}
}

type userRequest struct {
	UserID string `json:"user_id"`
}

func decodeUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return "", false
	}
	return req.UserID, true
}

// resolveUserToken loads the user's connection and a valid access token,
// writing the appropriate error response when either is unavailable.
func (h *ImportHandler) resolveUserToken(w http.ResponseWriter, r *http.Request, userID string) (string, bool) {
	conn, err := h.db.GetConnection(userID)
	if err != nil {
		h.logger.Error("failed to load connection", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return "", false
	}
	if conn == nil {
		writeError(w, http.StatusNotFound, "no_connection")
		return "", false
	}

	token, err := h.tokens.ResolveToken(r.Context(), conn)
	if err != nil {
		if errors.Is(err, importer.ErrReauthRequired) {
			writeError(w, http.StatusUnauthorized, "token_expired")
			return "", false
		}
		h.logger.Error("failed to resolve token", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return "", false
	}

	return token, true
}

// importResponse reports what an import trigger did with the activity list
type importResponse struct {
	TotalActivities  int `json:"total_activities"`
	AlreadyImported  int `json:"already_imported"`
	AlreadyQueued    int `json:"already_queued"`
	TotalQueued      int `json:"total_queued"`
	SkippedOverLimit int `json:"skipped_over_limit"`
}

// HandleImport lists the athlete's recent running activities and enqueues
// import jobs for the ones not yet imported or queued. The actual imports
// happen during status polls.
func (h *ImportHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	userID, ok := decodeUserID(w, r)
	if !ok {
		return
	}

	token, ok := h.resolveUserToken(w, r, userID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestDeadline)
	defer cancel()

	var running []strava.Activity
	for page := 1; ; page++ {
		canList, err := h.limiter.CanProceed(1)
		if err != nil {
			h.logger.Error("rate limit check failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !canList {
			h.logger.Warn("rate limit budget exhausted while listing", "user_id", userID, "page", page)
			break
		}

		activities, err := h.client.ListActivities(ctx, token, page, listPageSize)
		if err != nil {
			h.logger.Error("failed to list activities", "user_id", userID, "page", page, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list activities")
			return
		}
		if err := h.limiter.Consume(1); err != nil {
			h.logger.Error("failed to consume rate limit", "error", err)
		}

		for i := range activities {
			if importer.IsRunning(&activities[i]) {
				running = append(running, activities[i])
			}
		}

		if len(activities) < listPageSize || ctx.Err() != nil {
			break
		}
	}

	imported, err := h.db.ListImportedSourceIDs(userID, importer.SourceStrava)
	if err != nil {
		h.logger.Error("failed to list imported ids", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	queued, err := h.db.QueuedActivityIDs(userID)
	if err != nil {
		h.logger.Error("failed to list queued ids", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := importResponse{
		TotalActivities: len(running),
		AlreadyImported: len(imported),
		AlreadyQueued:   len(queued),
	}

	var newIDs []int64
	for i := range running {
		id := running[i].ID
		if imported[strconv.FormatInt(id, 10)] || queued[id] {
			continue
		}
		newIDs = append(newIDs, id)
	}

	if len(newIDs) > maxImportPerUser {
		resp.SkippedOverLimit = len(newIDs) - maxImportPerUser
		newIDs = newIDs[:maxImportPerUser]
	}

	n, err := h.db.EnqueueImportJobs(userID, newIDs)
	if err != nil {
		h.logger.Error("failed to enqueue jobs", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp.TotalQueued = n

	h.logger.Info("import triggered",
		"user_id", userID,
		"total_activities", resp.TotalActivities,
		"queued", n,
		"skipped_over_limit", resp.SkippedOverLimit)

	writeJSON(w, http.StatusOK, resp)
}

// HandleStatus drains a bounded batch of the user's pending jobs, then
// reports queue counts. The UI polls this endpoint, so over repeated polls
// the whole queue drains without any background worker.
func (h *ImportHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	jobs, err := h.db.ListPendingJobs(userID, processPerPoll)
	if err != nil {
		h.logger.Error("failed to list pending jobs", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if len(jobs) > 0 {
		h.processJobs(r.Context(), userID, jobs)
	}

	counts, err := h.db.CountJobsByStatus(userID)
	if err != nil {
		h.logger.Error("failed to count jobs", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, counts)
}

// processJobs runs a drained batch. A job failure never fails the poll;
// it is recorded on the job and surfaced through the counts.
func (h *ImportHandler) processJobs(reqCtx context.Context, userID string, jobs []*database.ImportJob) {
	ctx, cancel := context.WithTimeout(reqCtx, requestDeadline)
	defer cancel()

	// Resolve the token once for the batch
	var token string
	conn, err := h.db.GetConnection(userID)
	if err != nil {
		h.logger.Error("failed to load connection", "user_id", userID, "error", err)
	} else if conn != nil {
		token, err = h.tokens.ResolveToken(ctx, conn)
		if err != nil {
			h.logger.Warn("no valid token for job batch", "user_id", userID, "error", err)
			token = ""
		}
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}

		// Without a token the job can never succeed; fail it outright
		// so the queue does not spin on retries.
		if token == "" {
			if err := h.db.FailJob(job.ID, "no valid access token"); err != nil {
				h.logger.Error("failed to fail job", "job_id", job.ID, "error", err)
			}
			metrics.JobsProcessedTotal.WithLabelValues(metrics.ResultError).Inc()
			continue
		}

		canProceed, err := h.limiter.CanProceed(importCost)
		if err != nil {
			h.logger.Error("rate limit check failed", "error", err)
			break
		}
		if !canProceed {
			h.logger.Info("rate limit budget exhausted, leaving jobs pending", "user_id", userID)
			break
		}

		if err := h.db.MarkJobProcessing(job.ID); err != nil {
			// Raced with a concurrent poll or a cancel; skip
			h.logger.Info("job no longer pending, skipping", "job_id", job.ID)
			continue
		}

		result := h.importer.ImportActivity(ctx, token, job.ActivityID, userID)
		if err := h.limiter.Consume(importCost); err != nil {
			h.logger.Error("failed to consume rate limit", "error", err)
		}

		switch result {
		case importer.ResultImported, importer.ResultExists, importer.ResultSkipped:
			if err := h.db.MarkJobDone(job.ID); err != nil {
				h.logger.Error("failed to mark job done", "job_id", job.ID, "error", err)
			}
			metrics.JobsProcessedTotal.WithLabelValues(string(result)).Inc()

		default:
			retryable, err := h.db.ReleaseJob(job.ID, job.Attempts, "import failed", maxAttempts)
			if err != nil {
				h.logger.Error("failed to release job", "job_id", job.ID, "error", err)
			}
			if retryable {
				metrics.JobsProcessedTotal.WithLabelValues("retried").Inc()
			} else {
				metrics.JobsProcessedTotal.WithLabelValues(metrics.ResultError).Inc()
			}
		}
	}
}

// HandleCancel flips all of the user's pending jobs to cancelled. Jobs
// already processing finish their current import.
func (h *ImportHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := decodeUserID(w, r)
	if !ok {
		return
	}

	n, err := h.db.CancelPendingJobs(userID)
	if err != nil {
		h.logger.Error("failed to cancel jobs", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info("pending jobs cancelled", "user_id", userID, "cancelled", n)
	writeJSON(w, http.StatusOK, map[string]int64{"cancelled": n})
}

// backfillResponse reports one backfill sweep over records missing streams
type backfillResponse struct {
	Total      int `json:"total"`
	Backfilled int `json:"backfilled"`
	Remaining  int `json:"remaining"`
	Errors     int `json:"errors"`
}

// HandleBackfill fetches telemetry streams for imported records that do not
// have one yet, a bounded batch per call. Activities with no streams (manual
// or treadmill entries) are counted as processed but not backfilled.
func (h *ImportHandler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	userID, ok := decodeUserID(w, r)
	if !ok {
		return
	}

	token, ok := h.resolveUserToken(w, r, userID)
	if !ok {
		return
	}

	refs, err := h.db.ListRecordsMissingStreams(userID, importer.SourceStrava)
	if err != nil {
		h.logger.Error("failed to list records missing streams", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestDeadline)
	defer cancel()

	batch := refs
	if len(batch) > backfillBatch {
		batch = batch[:backfillBatch]
	}

	resp := backfillResponse{Total: len(refs)}
	processed := 0

	for _, ref := range batch {
		if ctx.Err() != nil {
			break
		}

		canProceed, err := h.limiter.CanProceed(1)
		if err != nil {
			h.logger.Error("rate limit check failed", "error", err)
			break
		}
		if !canProceed {
			h.logger.Info("rate limit budget exhausted, stopping backfill", "user_id", userID)
			break
		}

		activityID, err := strconv.ParseInt(ref.SourceID, 10, 64)
		if err != nil {
			h.logger.Error("record has non-numeric source id", "record_id", ref.ID, "source_id", ref.SourceID)
			resp.Errors++
			processed++
			continue
		}

		stored, err := h.importer.ImportStream(ctx, token, ref.ID, activityID)
		if cerr := h.limiter.Consume(1); cerr != nil {
			h.logger.Error("failed to consume rate limit", "error", cerr)
		}
		processed++

		if err != nil {
			h.logger.Error("stream backfill failed", "record_id", ref.ID, "error", err)
			resp.Errors++
			continue
		}
		if stored {
			resp.Backfilled++
			metrics.StreamsBackfilledTotal.Inc()
		}
	}

	resp.Remaining = resp.Total - processed

	h.logger.Info("backfill finished",
		"user_id", userID,
		"total", resp.Total,
		"backfilled", resp.Backfilled,
		"remaining", resp.Remaining,
		"errors", resp.Errors)

	writeJSON(w, http.StatusOK, resp)
}
