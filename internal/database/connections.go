package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Connection represents a user's Strava authorization
type Connection struct {
	UserID          string
	StravaAthleteID int64
	AccessToken     string
	RefreshToken    string
	ExpiresAt       int64
	Scope           string
	CreatedAt       int64
	UpdatedAt       int64
}

// UpsertConnection creates or replaces the connection for a user.
// At most one connection exists per user.
func (db *DB) UpsertConnection(c *Connection) error {
	now := time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO strava_connections (
			user_id, strava_athlete_id, access_token, refresh_token,
			expires_at, scope, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			strava_athlete_id = excluded.strava_athlete_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scope = excluded.scope,
			updated_at = excluded.updated_at
	`, c.UserID, c.StravaAthleteID, c.AccessToken, c.RefreshToken,
		c.ExpiresAt, c.Scope, now, now)

	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

// GetConnection retrieves the connection for a user, or nil if none exists
func (db *DB) GetConnection(userID string) (*Connection, error) {
	return db.scanConnection(db.conn.QueryRow(`
		SELECT user_id, strava_athlete_id, access_token, refresh_token,
		       expires_at, scope, created_at, updated_at
		FROM strava_connections WHERE user_id = ?
	`, userID))
}

// GetConnectionByAthleteID retrieves the connection owning a Strava athlete id,
// or nil if none exists. Used by the webhook processor to map owner -> user.
func (db *DB) GetConnectionByAthleteID(athleteID int64) (*Connection, error) {
	return db.scanConnection(db.conn.QueryRow(`
		SELECT user_id, strava_athlete_id, access_token, refresh_token,
		       expires_at, scope, created_at, updated_at
		FROM strava_connections WHERE strava_athlete_id = ?
	`, athleteID))
}

func (db *DB) scanConnection(row *sql.Row) (*Connection, error) {
	var c Connection
	err := row.Scan(
		&c.UserID, &c.StravaAthleteID, &c.AccessToken, &c.RefreshToken,
		&c.ExpiresAt, &c.Scope, &c.CreatedAt, &c.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &c, nil
}

// UpdateConnectionTokens persists refreshed OAuth tokens for a user
func (db *DB) UpdateConnectionTokens(userID, accessToken, refreshToken string, expiresAt int64) error {
	result, err := db.conn.Exec(`
		UPDATE strava_connections
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE user_id = ?
	`, accessToken, refreshToken, expiresAt, time.Now().Unix(), userID)

	if err != nil {
		return fmt.Errorf("failed to update connection tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("connection not found")
	}

	return nil
}

// DeleteConnection removes the connection for a user. Called when the refresh
// token is rejected by Strava and the user must re-authorize.
func (db *DB) DeleteConnection(userID string) error {
	_, err := db.conn.Exec(`DELETE FROM strava_connections WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}
