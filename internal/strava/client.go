package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"runlog-strava-sync/internal/metrics"
)

const (
	defaultBaseURL  = "https://www.strava.com/api/v3"
	defaultTokenURL = "https://www.strava.com/oauth/token"
	defaultAuthURL  = "https://www.strava.com/oauth/authorize"

	// Scope requested on authorize; read access to all activities
	// including private ones
	Scope = "activity:read_all"
)

// Client is a stateless Strava API client. It holds app credentials but no
// athlete state; access tokens are passed per call.
type Client struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	logger       *slog.Logger

	baseURL  string
	tokenURL string
	authURL  string
}

// HTTPError represents a non-success response from the Strava API
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("strava API error (status %d): %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a Strava 404
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a Strava 401
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized
}

// IsTooManyRequests reports whether err is a Strava 429
func IsTooManyRequests(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests
}

// IsTokenRejected reports whether err means the provider rejected the grant
// itself, which is irrecoverable without user re-authorization. Transport
// failures and provider 5xx do not qualify.
func IsTokenRejected(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	switch httpErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// NewClient creates a new Strava API client
func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       slog.Default(),
		baseURL:      defaultBaseURL,
		tokenURL:     defaultTokenURL,
		authURL:      defaultAuthURL,
	}
}

// SetBaseURL overrides the API base URL (for tests)
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// SetTokenURL overrides the token endpoint URL (for tests)
func (c *Client) SetTokenURL(u string) { c.tokenURL = u }

// AuthorizeURL builds the Strava authorization URL. state is round-tripped
// through the callback and carries the user id.
func (c *Client) AuthorizeURL(redirectURI, state string) string {
	params := url.Values{
		"client_id":       {c.clientID},
		"response_type":   {"code"},
		"redirect_uri":    {redirectURI},
		"scope":           {Scope},
		"approval_prompt": {"auto"},
		"state":           {state},
	}
	return c.authURL + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for access and refresh tokens
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	return c.tokenRequest(ctx, metrics.OpExchangeCode, map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"code":          code,
		"grant_type":    "authorization_code",
	})
}

// RefreshToken refreshes an access token using a refresh token. A rejection
// by the provider surfaces as *HTTPError so callers can distinguish an
// invalidated grant from a transient failure.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.tokenRequest(ctx, metrics.OpRefreshToken, map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	})
}

func (c *Client) tokenRequest(ctx context.Context, operation string, data map[string]string) (*TokenResponse, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("token request failed", "operation", operation, "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("%s failed: %w", operation, err)
	}
	defer resp.Body.Close()

	statusStr := strconv.Itoa(resp.StatusCode)
	metrics.StravaAPIRequestsTotal.WithLabelValues(operation, statusStr).Inc()
	metrics.StravaAPIRequestDuration.WithLabelValues(operation, statusStr).Observe(duration.Seconds())

	c.logger.Info("strava_token_request", "operation", operation, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &tokenResp, nil
}

// ListActivities fetches one page of the athlete's activity list
func (c *Client) ListActivities(ctx context.Context, accessToken string, page, perPage int) ([]Activity, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 200 // Strava max
	}

	params := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}

	var activities []Activity
	if err := c.doGet(ctx, metrics.OpListActivities, "/athlete/activities?"+params.Encode(), accessToken, &activities); err != nil {
		return nil, fmt.Errorf("failed to list activities (page %d): %w", page, err)
	}

	return activities, nil
}

// GetActivity fetches detailed activity data for a specific activity
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (*DetailedActivity, error) {
	var detail DetailedActivity
	path := fmt.Sprintf("/activities/%d", activityID)
	if err := c.doGet(ctx, metrics.OpGetActivity, path, accessToken, &detail); err != nil {
		return nil, fmt.Errorf("failed to get activity %d: %w", activityID, err)
	}

	return &detail, nil
}

// streamChannels are the telemetry channels requested for every activity
const streamChannels = "time,distance,heartrate,altitude,velocity_smooth,cadence,grade_smooth,latlng"

// GetActivityStreams fetches raw telemetry for an activity. Returns nil
// without error when the activity has no streams (manual or treadmill
// entries commonly do not).
func (c *Client) GetActivityStreams(ctx context.Context, accessToken string, activityID int64) (*StreamSet, error) {
	params := url.Values{
		"keys":        {streamChannels},
		"key_by_type": {"true"},
	}
	path := fmt.Sprintf("/activities/%d/streams?%s", activityID, params.Encode())

	// key_by_type=true keys each channel by its type name
	var raw map[string]struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.doGet(ctx, metrics.OpGetStreams, path, accessToken, &raw); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get streams for activity %d: %w", activityID, err)
	}

	set := &StreamSet{}
	for key, channel := range raw {
		var target any
		switch key {
		case "time":
			target = &set.Time
		case "distance":
			target = &set.Distance
		case "heartrate":
			target = &set.Heartrate
		case "altitude":
			target = &set.Altitude
		case "velocity_smooth":
			target = &set.VelocitySmooth
		case "cadence":
			target = &set.Cadence
		case "grade_smooth":
			target = &set.GradeSmooth
		case "latlng":
			target = &set.LatLng
		default:
			continue
		}
		if err := json.Unmarshal(channel.Data, target); err != nil {
			return nil, fmt.Errorf("failed to decode %s stream: %w", key, err)
		}
	}

	if set.IsEmpty() {
		return nil, nil
	}

	return set, nil
}

// doGet performs an authenticated GET against the API and decodes the
// JSON response into out
func (c *Client) doGet(ctx context.Context, operation, path, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("request failed", "operation", operation, "path", path, "error", err)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	statusStr := strconv.Itoa(resp.StatusCode)
	metrics.StravaAPIRequestsTotal.WithLabelValues(operation, statusStr).Inc()
	metrics.StravaAPIRequestDuration.WithLabelValues(operation, statusStr).Observe(duration.Seconds())

	c.logger.Info("strava_api_request", "operation", operation, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
