package importer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"runlog-strava-sync/internal/database"
	"runlog-strava-sync/internal/strava"
)

func setupTokenTest(t *testing.T) (*TokenManager, *database.DB, *strava.Client) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Init(); err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}

	client := strava.NewClient("12345", "secret")
	return NewTokenManager(db, client), db, client
}

func storeConnection(t *testing.T, db *database.DB, expiresAt int64) *database.Connection {
	t.Helper()
	conn := &database.Connection{
		UserID:          "user-1",
		StravaAthleteID: 12345,
		AccessToken:     "stored_access",
		RefreshToken:    "stored_refresh",
		ExpiresAt:       expiresAt,
		Scope:           "activity:read_all",
	}
	if err := db.UpsertConnection(conn); err != nil {
		t.Fatalf("Failed to upsert connection: %v", err)
	}
	return conn
}

func TestResolveTokenUnexpired(t *testing.T) {
	tm, db, client := setupTokenTest(t)

	// Any provider call is a failure
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Unexpected provider call for unexpired token")
	}))
	defer server.Close()
	client.SetTokenURL(server.URL)

	conn := storeConnection(t, db, time.Now().Add(time.Hour).Unix())

	token, err := tm.ResolveToken(context.Background(), conn)
	if err != nil {
		t.Fatalf("ResolveToken failed: %v", err)
	}
	if token != "stored_access" {
		t.Errorf("Expected stored token, got %s", token)
	}
}

func TestResolveTokenRefreshesExpired(t *testing.T) {
	tm, db, client := setupTokenTest(t)

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "stored_refresh" {
			t.Errorf("Expected stored refresh token, got %s", body["refresh_token"])
		}
		if body["grant_type"] != "refresh_token" {
			t.Errorf("Expected grant_type refresh_token, got %s", body["grant_type"])
		}
		json.NewEncoder(w).Encode(strava.TokenResponse{
			AccessToken:  "rotated_access",
			RefreshToken: "rotated_refresh",
			ExpiresAt:    time.Now().Add(6 * time.Hour).Unix(),
		})
	}))
	defer server.Close()
	client.SetTokenURL(server.URL)

	conn := storeConnection(t, db, time.Now().Add(-time.Minute).Unix())

	token, err := tm.ResolveToken(context.Background(), conn)
	if err != nil {
		t.Fatalf("ResolveToken failed: %v", err)
	}
	if token != "rotated_access" {
		t.Errorf("Expected rotated token, got %s", token)
	}
	if calls != 1 {
		t.Errorf("Expected exactly one refresh call, got %d", calls)
	}

	// Rotated tokens are durable
	stored, err := db.GetConnection("user-1")
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}
	if stored.AccessToken != "rotated_access" || stored.RefreshToken != "rotated_refresh" {
		t.Errorf("Expected rotated tokens persisted, got %s/%s", stored.AccessToken, stored.RefreshToken)
	}
}

func TestResolveTokenRejectedDeletesConnection(t *testing.T) {
	tm, db, client := setupTokenTest(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Bad Request"}`))
	}))
	defer server.Close()
	client.SetTokenURL(server.URL)

	conn := storeConnection(t, db, time.Now().Add(-time.Minute).Unix())

	_, err := tm.ResolveToken(context.Background(), conn)
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("Expected ErrReauthRequired, got %v", err)
	}

	stored, err := db.GetConnection("user-1")
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}
	if stored != nil {
		t.Error("Expected connection deleted after rejected refresh")
	}
}

func TestResolveTokenTransientFailureKeepsConnection(t *testing.T) {
	tm, db, client := setupTokenTest(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	client.SetTokenURL(server.URL)

	conn := storeConnection(t, db, time.Now().Add(-time.Minute).Unix())

	_, err := tm.ResolveToken(context.Background(), conn)
	if err == nil {
		t.Fatal("Expected error from transient refresh failure")
	}
	if errors.Is(err, ErrReauthRequired) {
		t.Error("Expected a plain error, not ErrReauthRequired")
	}

	stored, err := db.GetConnection("user-1")
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}
	if stored == nil {
		t.Error("Expected connection kept after transient failure")
	}
}
