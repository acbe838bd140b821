package database

import (
	"database/sql"
	"fmt"
	"time"
)

// WebhookEvent is one logged provider push notification
type WebhookEvent struct {
	ObjectType     string
	ObjectID       int64
	AspectType     string
	OwnerID        int64
	SubscriptionID int64
	EventTime      int64
	Updates        *string // JSON object
	RawJSON        string
	Processed      bool
	ProcessedAt    *int64
	Error          *string
	CreatedAt      int64
	ID             int64
}

// CreateWebhookEvent logs a received webhook event. Duplicate deliveries of
// the same (event_time, object_id, aspect_type) are ignored; the returned
// event has ID 0 in that case.
func (db *DB) CreateWebhookEvent(e *WebhookEvent) error {
	now := time.Now().Unix()
	e.CreatedAt = now

	result, err := db.conn.Exec(`
		INSERT OR IGNORE INTO webhook_events (
			object_type, object_id, aspect_type, owner_id, subscription_id,
			event_time, updates, raw_json, processed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ObjectType, e.ObjectID, e.AspectType, e.OwnerID, e.SubscriptionID,
		e.EventTime, e.Updates, e.RawJSON, e.Processed, now)

	if err != nil {
		return fmt.Errorf("failed to create webhook event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		e.ID = 0 // Duplicate delivery
		return nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get webhook event id: %w", err)
	}
	e.ID = id

	return nil
}

// GetWebhookEvent retrieves a logged webhook event by id
func (db *DB) GetWebhookEvent(id int64) (*WebhookEvent, error) {
	var e WebhookEvent
	err := db.conn.QueryRow(`
		SELECT id, object_type, object_id, aspect_type, owner_id, subscription_id,
		       event_time, updates, raw_json, processed, processed_at, error, created_at
		FROM webhook_events WHERE id = ?
	`, id).Scan(
		&e.ID, &e.ObjectType, &e.ObjectID, &e.AspectType, &e.OwnerID, &e.SubscriptionID,
		&e.EventTime, &e.Updates, &e.RawJSON, &e.Processed, &e.ProcessedAt, &e.Error, &e.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return &e, nil
}

// MarkWebhookEventProcessed records the outcome of handling an event.
// A non-nil errMsg captures a swallowed processing failure.
func (db *DB) MarkWebhookEventProcessed(id int64, errMsg *string) error {
	_, err := db.conn.Exec(`
		UPDATE webhook_events
		SET processed = 1, processed_at = ?, error = ?
		WHERE id = ?
	`, time.Now().Unix(), errMsg, id)

	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}
