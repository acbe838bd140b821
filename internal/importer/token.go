package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"runlog-strava-sync/internal/database"
	"runlog-strava-sync/internal/metrics"
	"runlog-strava-sync/internal/strava"
)

// ErrReauthRequired means the stored refresh token was rejected by Strava
// and the connection has been deleted. Callers must treat this as terminal
// for the current operation, not as a retryable error.
var ErrReauthRequired = errors.New("strava re-authorization required")

// TokenManager resolves usable access tokens from stored connections,
// transparently refreshing expired ones
type TokenManager struct {
	db     *database.DB
	client *strava.Client
	logger *slog.Logger
}

// NewTokenManager creates a token manager
func NewTokenManager(db *database.DB, client *strava.Client) *TokenManager {
	return &TokenManager{
		db:     db,
		client: client,
		logger: slog.Default(),
	}
}

// ResolveToken returns a usable access token for the connection. An unexpired
// stored token is returned unchanged with no provider call. An expired token
// triggers exactly one refresh; on success the rotated tokens are persisted.
// If Strava rejects the refresh token the connection is deleted and
// ErrReauthRequired is returned. Transient refresh failures leave the
// connection intact and surface as plain errors.
func (m *TokenManager) ResolveToken(ctx context.Context, conn *database.Connection) (string, error) {
	if conn.ExpiresAt > time.Now().Unix() {
		return conn.AccessToken, nil
	}

	refreshed, err := m.client.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		if strava.IsTokenRejected(err) {
			m.logger.Warn("Refresh token rejected, deleting connection", "user_id", conn.UserID, "error", err)
			metrics.TokenRefreshTotal.WithLabelValues("rejected").Inc()

			if delErr := m.db.DeleteConnection(conn.UserID); delErr != nil {
				return "", fmt.Errorf("failed to delete connection after rejected refresh: %w", delErr)
			}
			return "", ErrReauthRequired
		}

		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	if err := m.db.UpdateConnectionTokens(conn.UserID, refreshed.AccessToken, refreshed.RefreshToken, refreshed.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	m.logger.Info("Refreshed access token", "user_id", conn.UserID, "expires_at", refreshed.ExpiresAt)
	metrics.TokenRefreshTotal.WithLabelValues("refreshed").Inc()

	return refreshed.AccessToken, nil
}
