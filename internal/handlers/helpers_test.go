package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"runlog-strava-sync/internal/config"
	"runlog-strava-sync/internal/database"
	"runlog-strava-sync/internal/importer"
	"runlog-strava-sync/internal/ratelimit"
	"runlog-strava-sync/internal/strava"
)

// fakeStrava emulates the subset of the Strava API the handlers touch
type fakeStrava struct {
	activities map[int64]*strava.DetailedActivity
	streams    map[int64]*strava.StreamSet
	listPages  [][]strava.Activity

	// tokenStatus, when non-zero, is returned by the token endpoint
	// instead of a successful refresh
	tokenStatus int

	detailHits int
	streamHits int
	listHits   int
	tokenHits  int
}

func (f *fakeStrava) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth/token":
			f.tokenHits++
			if f.tokenStatus != 0 {
				w.WriteHeader(f.tokenStatus)
				w.Write([]byte(`{"message":"Bad Request"}`))
				return
			}
			json.NewEncoder(w).Encode(strava.TokenResponse{
				AccessToken:  "refreshed_access",
				RefreshToken: "refreshed_refresh",
				ExpiresAt:    time.Now().Add(6 * time.Hour).Unix(),
			})

		case strings.HasPrefix(r.URL.Path, "/athlete/activities"):
			f.listHits++
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			if page >= 1 && page <= len(f.listPages) {
				json.NewEncoder(w).Encode(f.listPages[page-1])
				return
			}
			json.NewEncoder(w).Encode([]strava.Activity{})

		case strings.HasSuffix(r.URL.Path, "/streams"):
			f.streamHits++
			var id int64
			fmt.Sscanf(r.URL.Path, "/activities/%d/streams", &id)
			set, ok := f.streams[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]map[string]any{
				"time": {"data": set.Time},
			})

		case strings.HasPrefix(r.URL.Path, "/activities/"):
			f.detailHits++
			var id int64
			fmt.Sscanf(r.URL.Path, "/activities/%d", &id)
			detail, ok := f.activities[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"message":"Record Not Found"}`))
				return
			}
			json.NewEncoder(w).Encode(detail)

		default:
			t.Errorf("Unexpected fake API path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// env bundles the wired service graph for handler tests
type env struct {
	db       *database.DB
	client   *strava.Client
	tokens   *importer.TokenManager
	importer *importer.Importer
	limiter  *ratelimit.Limiter
	cfg      *config.Config
	fake     *fakeStrava
}

func setupEnv(t *testing.T, fake *fakeStrava) *env {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Init(); err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}

	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	client := strava.NewClient("12345", "secret")
	client.SetBaseURL(server.URL)
	client.SetTokenURL(server.URL + "/oauth/token")

	cfg := &config.Config{
		StravaClientID:     "12345",
		StravaClientSecret: "secret",
		StravaVerifyToken:  "verify-me",
		SiteURL:            "https://runlog.example.com",
	}

	return &env{
		db:       db,
		client:   client,
		tokens:   importer.NewTokenManager(db, client),
		importer: importer.New(db, client),
		limiter:  ratelimit.New(db),
		cfg:      cfg,
		fake:     fake,
	}
}

func (e *env) connectUser(t *testing.T, userID string, athleteID int64) {
	t.Helper()
	err := e.db.UpsertConnection(&database.Connection{
		UserID:          userID,
		StravaAthleteID: athleteID,
		AccessToken:     "token",
		RefreshToken:    "refresh",
		ExpiresAt:       time.Now().Add(time.Hour).Unix(),
		Scope:           "activity:read_all",
	})
	if err != nil {
		t.Fatalf("Failed to upsert connection: %v", err)
	}
}

func runDetail(id int64, name string) *strava.DetailedActivity {
	return &strava.DetailedActivity{
		Activity: strava.Activity{
			ID:             id,
			Name:           name,
			Distance:       5000,
			MovingTime:     1500,
			ElapsedTime:    1550,
			Type:           "Run",
			SportType:      "Run",
			StartDateLocal: "2026-04-12T06:30:00Z",
			AverageSpeed:   3.33,
		},
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}
