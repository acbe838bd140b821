package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"runlog-strava-sync/internal/config"
	"runlog-strava-sync/internal/database"
	"runlog-strava-sync/internal/importer"
	"runlog-strava-sync/internal/metrics"
	"runlog-strava-sync/internal/ratelimit"
)

const (
	// webhookCost is the number of provider calls one webhook import makes
	// (activity detail plus streams)
	webhookCost = 2

	// webhookProcessTimeout bounds the synchronous work per delivery. Strava
	// redelivers if no 2xx arrives within roughly 20 seconds, so this must
	// stay below that with room for the response to make it back.
	webhookProcessTimeout = 15 * time.Second
)

// eventPayload is the push notification body Strava sends
type eventPayload struct {
	ObjectType     string            `json:"object_type"`
	ObjectID       int64             `json:"object_id"`
	AspectType     string            `json:"aspect_type"`
	OwnerID        int64             `json:"owner_id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventTime      int64             `json:"event_time"`
	Updates        map[string]string `json:"updates"`
}

// WebhookHandler handles Strava webhook verification and event delivery
type WebhookHandler struct {
	db       *database.DB
	tokens   *importer.TokenManager
	importer *importer.Importer
	limiter  *ratelimit.Limiter
	cfg      *config.Config
	logger   *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(db *database.DB, tokens *importer.TokenManager, imp *importer.Importer, limiter *ratelimit.Limiter, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{
		db:       db,
		tokens:   tokens,
		importer: imp,
		limiter:  limiter,
		cfg:      cfg,
		logger:   slog.Default().With("component", "webhook"),
	}
}

// HandleVerification answers the subscription validation GET. Strava sends a
// challenge that must be echoed back verbatim under the hub.challenge key.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || token != h.cfg.StravaVerifyToken {
		h.logger.Warn("webhook verification rejected", "mode", mode)
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	h.logger.Info("webhook verification succeeded")
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

// HandleEvent receives a push notification. Strava retries deliveries that do
// not get a timely 2xx, so every outcome acknowledges with 200, even an
// unparseable body; failures are logged on the event row instead of surfaced.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	deliveryID := uuid.NewString()
	logger := h.logger.With("delivery_id", deliveryID)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		logger.Warn("failed to read webhook body", "error", err)
		metrics.WebhookEventsDroppedTotal.WithLabelValues("bad_payload").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Warn("undecodable webhook payload", "error", err)
		metrics.WebhookEventsDroppedTotal.WithLabelValues("bad_payload").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	metrics.WebhookEventsReceivedTotal.WithLabelValues(payload.ObjectType, payload.AspectType).Inc()
	logger.Info("webhook event received",
		"object_type", payload.ObjectType,
		"aspect_type", payload.AspectType,
		"object_id", payload.ObjectID,
		"owner_id", payload.OwnerID)

	event := &database.WebhookEvent{
		ObjectType:     payload.ObjectType,
		ObjectID:       payload.ObjectID,
		AspectType:     payload.AspectType,
		OwnerID:        payload.OwnerID,
		SubscriptionID: payload.SubscriptionID,
		EventTime:      payload.EventTime,
		RawJSON:        string(body),
	}
	if len(payload.Updates) > 0 {
		if updatesJSON, err := json.Marshal(payload.Updates); err == nil {
			s := string(updatesJSON)
			event.Updates = &s
		}
	}

	if err := h.db.CreateWebhookEvent(event); err != nil {
		logger.Error("failed to log webhook event", "error", err)
	} else if event.ID == 0 {
		// Redelivery of an event we already logged. Processing is
		// idempotent, but there is no point repeating it.
		metrics.WebhookEventsDroppedTotal.WithLabelValues("duplicate").Inc()
		logger.Info("duplicate webhook delivery ignored", "object_id", payload.ObjectID)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookProcessTimeout)
	defer cancel()

	procErr := h.process(ctx, logger, &payload)

	if event.ID != 0 {
		var errMsg *string
		if procErr != nil {
			s := procErr.Error()
			errMsg = &s
		}
		if err := h.db.MarkWebhookEventProcessed(event.ID, errMsg); err != nil {
			logger.Error("failed to mark webhook event processed", "error", err)
		}
	}
	if procErr != nil {
		logger.Error("webhook processing failed", "object_id", payload.ObjectID, "error", procErr)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// process applies one event's side effects. Only activity events act; other
// object types (athlete deauthorization and the like) are logged and dropped.
func (h *WebhookHandler) process(ctx context.Context, logger *slog.Logger, payload *eventPayload) error {
	if payload.ObjectType != "activity" {
		metrics.WebhookEventsDroppedTotal.WithLabelValues("object_type").Inc()
		return nil
	}

	conn, err := h.db.GetConnectionByAthleteID(payload.OwnerID)
	if err != nil {
		return err
	}
	if conn == nil {
		// Event for an athlete no local user owns. Common after a user
		// disconnects while the subscription stays up.
		metrics.WebhookEventsDroppedTotal.WithLabelValues("no_connection").Inc()
		logger.Info("no connection for athlete, dropping event", "athlete_id", payload.OwnerID)
		return nil
	}

	sourceID := strconv.FormatInt(payload.ObjectID, 10)

	switch payload.AspectType {
	case "create":
		return h.processCreate(ctx, logger, conn, payload.ObjectID)

	case "update":
		title, ok := payload.Updates["title"]
		if !ok || title == "" {
			metrics.WebhookEventsDroppedTotal.WithLabelValues("no_title_update").Inc()
			return nil
		}
		return h.db.UpdateRecordNotes(conn.UserID, importer.SourceStrava, sourceID, title)

	case "delete":
		return h.db.DeleteRecordBySource(conn.UserID, importer.SourceStrava, sourceID)
	}

	metrics.WebhookEventsDroppedTotal.WithLabelValues("aspect_type").Inc()
	return nil
}

func (h *WebhookHandler) processCreate(ctx context.Context, logger *slog.Logger, conn *database.Connection, activityID int64) error {
	token, err := h.tokens.ResolveToken(ctx, conn)
	if err != nil {
		if errors.Is(err, importer.ErrReauthRequired) {
			metrics.WebhookEventsDroppedTotal.WithLabelValues("reauth_required").Inc()
			logger.Warn("token rejected, user must re-authorize", "user_id", conn.UserID)
			return nil
		}
		return err
	}

	// Webhook imports draw from the headroom above the batch budget; if even
	// the hard limit would be exceeded, drop and let a manual sync pick the
	// activity up later.
	ok, err := h.limiter.AllowWebhook(webhookCost)
	if err != nil {
		return err
	}
	if !ok {
		metrics.WebhookEventsDroppedTotal.WithLabelValues("rate_limited").Inc()
		logger.Warn("rate limit exhausted, dropping create event", "activity_id", activityID)
		return nil
	}

	result := h.importer.ImportActivity(ctx, token, activityID, conn.UserID)
	if err := h.limiter.Consume(webhookCost); err != nil {
		logger.Error("failed to consume rate limit", "error", err)
	}

	logger.Info("webhook import finished",
		"user_id", conn.UserID,
		"activity_id", activityID,
		"result", string(result))
	return nil
}
