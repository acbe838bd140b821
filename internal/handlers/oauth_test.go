package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newOAuthHandler(e *env) *OAuthHandler {
	return NewOAuthHandler(e.db, e.client, e.cfg)
}

func TestHandleAuthorizeRedirects(t *testing.T) {
	e := setupEnv(t, &fakeStrava{})
	h := newOAuthHandler(e)

	req := httptest.NewRequest(http.MethodGet, "/strava/authorize?user_id=user-1", nil)
	rec := httptest.NewRecorder()
	h.HandleAuthorize(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d", rec.Code)
	}

	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Failed to parse redirect: %v", err)
	}
	q := location.Query()
	if q.Get("state") != "user-1" {
		t.Errorf("Expected state user-1, got %s", q.Get("state"))
	}
	if q.Get("redirect_uri") != "https://runlog.example.com/strava/callback" {
		t.Errorf("Unexpected redirect_uri: %s", q.Get("redirect_uri"))
	}
}

func TestHandleAuthorizeMissingUserID(t *testing.T) {
	e := setupEnv(t, &fakeStrava{})
	h := newOAuthHandler(e)

	req := httptest.NewRequest(http.MethodGet, "/strava/authorize", nil)
	rec := httptest.NewRecorder()
	h.HandleAuthorize(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestHandleCallbackStoresConnection(t *testing.T) {
	e := setupEnv(t, &fakeStrava{})
	h := newOAuthHandler(e)

	req := httptest.NewRequest(http.MethodGet, "/strava/callback?code=auth_code&state=user-1", nil)
	rec := httptest.NewRecorder()
	h.HandleCallback(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d", rec.Code)
	}
	location := rec.Header().Get("Location")
	if !strings.Contains(location, "connected=true") {
		t.Errorf("Expected success redirect, got %s", location)
	}

	conn, err := e.db.GetConnection("user-1")
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}
	if conn == nil {
		t.Fatal("Expected connection stored")
	}
	if conn.AccessToken != "refreshed_access" {
		t.Errorf("Expected exchanged token stored, got %s", conn.AccessToken)
	}
}

func TestHandleCallbackDenied(t *testing.T) {
	e := setupEnv(t, &fakeStrava{})
	h := newOAuthHandler(e)

	req := httptest.NewRequest(http.MethodGet, "/strava/callback?error=access_denied", nil)
	rec := httptest.NewRecorder()
	h.HandleCallback(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Location"), "error=access_denied") {
		t.Errorf("Expected denial redirect, got %s", rec.Header().Get("Location"))
	}
	if e.fake.tokenHits != 0 {
		t.Errorf("Expected no exchange after denial, got %d", e.fake.tokenHits)
	}
}

func TestHandleCallbackMissingParams(t *testing.T) {
	e := setupEnv(t, &fakeStrava{})
	h := newOAuthHandler(e)

	req := httptest.NewRequest(http.MethodGet, "/strava/callback?code=auth_code", nil)
	rec := httptest.NewRecorder()
	h.HandleCallback(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Location"), "error=missing_params") {
		t.Errorf("Expected missing_params redirect, got %s", rec.Header().Get("Location"))
	}
}

func TestHandleCallbackExchangeFailure(t *testing.T) {
	e := setupEnv(t, &fakeStrava{tokenStatus: http.StatusBadRequest})
	h := newOAuthHandler(e)

	req := httptest.NewRequest(http.MethodGet, "/strava/callback?code=bad_code&state=user-1", nil)
	rec := httptest.NewRecorder()
	h.HandleCallback(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Location"), "error=exchange_failed") {
		t.Errorf("Expected exchange_failed redirect, got %s", rec.Header().Get("Location"))
	}

	conn, _ := e.db.GetConnection("user-1")
	if conn != nil {
		t.Error("Expected no connection stored after failed exchange")
	}
}
