package handlers

import (
	"log/slog"
	"net/http"

	"runlog-strava-sync/internal/config"
	"runlog-strava-sync/internal/database"
	"runlog-strava-sync/internal/strava"
)

// OAuthHandler handles the Strava authorization flow
type OAuthHandler struct {
	db     *database.DB
	client *strava.Client
	cfg    *config.Config
	logger *slog.Logger
}

// NewOAuthHandler creates a new OAuth handler
func NewOAuthHandler(db *database.DB, client *strava.Client, cfg *config.Config) *OAuthHandler {
	return &OAuthHandler{
		db:     db,
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "oauth"),
	}
}

func (h *OAuthHandler) redirectURI() string {
	return h.cfg.SiteURL + "/strava/callback"
}

// HandleAuthorize redirects the user to the Strava consent screen. The user
// id rides in the OAuth state parameter and comes back on the callback.
func (h *OAuthHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	authURL := h.client.AuthorizeURL(h.redirectURI(), userID)
	h.logger.Info("redirecting to strava authorize", "user_id", userID)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback completes the authorization flow. All outcomes redirect back
// to the dashboard; failures carry a machine-readable reason in the query so
// the UI can explain what happened.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	dashboard := h.cfg.SiteURL + "/dashboard"

	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		// User denied the consent screen
		h.logger.Info("authorization denied", "error", errParam)
		http.Redirect(w, r, dashboard+"?error=access_denied", http.StatusFound)
		return
	}

	code := q.Get("code")
	userID := q.Get("state")
	if code == "" || userID == "" {
		h.logger.Warn("callback missing parameters", "has_code", code != "", "has_state", userID != "")
		http.Redirect(w, r, dashboard+"?error=missing_params", http.StatusFound)
		return
	}

	token, err := h.client.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.Error("code exchange failed", "user_id", userID, "error", err)
		http.Redirect(w, r, dashboard+"?error=exchange_failed", http.StatusFound)
		return
	}

	err = h.db.UpsertConnection(&database.Connection{
		UserID:          userID,
		StravaAthleteID: token.Athlete.ID,
		AccessToken:     token.AccessToken,
		RefreshToken:    token.RefreshToken,
		ExpiresAt:       token.ExpiresAt,
		Scope:           strava.Scope,
	})
	if err != nil {
		h.logger.Error("failed to store connection", "user_id", userID, "error", err)
		http.Redirect(w, r, dashboard+"?error=db_error", http.StatusFound)
		return
	}

	h.logger.Info("strava connected", "user_id", userID, "athlete_id", token.Athlete.ID)
	http.Redirect(w, r, dashboard+"?connected=true", http.StatusFound)
}
