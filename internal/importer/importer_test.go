package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"runlog-strava-sync/internal/database"
	"runlog-strava-sync/internal/strava"
)

// fakeStrava is a minimal in-memory activity API
type fakeStrava struct {
	activities map[int64]*strava.DetailedActivity
	streams    map[int64]*strava.StreamSet
	detailHits int
	streamHits int
}

func (f *fakeStrava) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id int64
		if strings.HasSuffix(r.URL.Path, "/streams") {
			fmt.Sscanf(r.URL.Path, "/activities/%d/streams", &id)
			f.streamHits++

			set, ok := f.streams[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			raw := map[string]map[string]any{}
			if len(set.Time) > 0 {
				raw["time"] = map[string]any{"data": set.Time}
			}
			if len(set.Distance) > 0 {
				raw["distance"] = map[string]any{"data": set.Distance}
			}
			if len(set.Cadence) > 0 {
				raw["cadence"] = map[string]any{"data": set.Cadence}
			}
			json.NewEncoder(w).Encode(raw)
			return
		}

		fmt.Sscanf(r.URL.Path, "/activities/%d", &id)
		f.detailHits++

		detail, ok := f.activities[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Record Not Found"}`))
			return
		}
		json.NewEncoder(w).Encode(detail)
	})
}

func runDetail(id int64) *strava.DetailedActivity {
	return &strava.DetailedActivity{
		Activity: strava.Activity{
			ID:             id,
			Name:           "Morning Run",
			Distance:       5000,
			MovingTime:     1500,
			ElapsedTime:    1550,
			Type:           "Run",
			SportType:      "Run",
			StartDateLocal: "2026-04-12T06:30:00Z",
			AverageSpeed:   3.33,
		},
		SplitsMetric: []strava.Split{
			{Split: 1, Distance: 1000, ElapsedTime: 300, MovingTime: 300, AverageSpeed: 3.33},
			{Split: 2, Distance: 1000, ElapsedTime: 300, MovingTime: 300, AverageSpeed: 3.33},
			// Zero-length trailing segment Strava emits on some activities
			{Split: 3, Distance: 12, ElapsedTime: 4, MovingTime: 4, AverageSpeed: 3.0},
		},
	}
}

func setupImporterTest(t *testing.T, fake *fakeStrava) (*Importer, *database.DB) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Init(); err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}

	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client := strava.NewClient("12345", "secret")
	client.SetBaseURL(server.URL)

	return New(db, client), db
}

func TestImportActivity(t *testing.T) {
	fake := &fakeStrava{
		activities: map[int64]*strava.DetailedActivity{100: runDetail(100)},
		streams: map[int64]*strava.StreamSet{
			100: {Time: []int{0, 10, 20}, Distance: []float64{0, 33, 66}, Cadence: []int{80, 82, 84}},
		},
	}
	imp, db := setupImporterTest(t, fake)

	result := imp.ImportActivity(context.Background(), "token", 100, "user-1")
	if result != ResultImported {
		t.Fatalf("Expected imported, got %s", result)
	}

	exists, err := db.RecordExistsBySource("user-1", SourceStrava, "100")
	if err != nil {
		t.Fatalf("Failed existence check: %v", err)
	}
	if !exists {
		t.Fatal("Expected record stored")
	}

	// The zero-length trailing split is dropped
	refs, err := db.ListRecordsMissingStreams("user-1", SourceStrava)
	if err != nil {
		t.Fatalf("Failed to list missing streams: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("Expected stream stored inline, got %d candidates", len(refs))
	}

	var recordID int64
	if err := db.Conn().QueryRow(`SELECT id FROM running_records WHERE source_id = '100'`).Scan(&recordID); err != nil {
		t.Fatalf("Failed to find record: %v", err)
	}
	splits, err := db.CountSplits(recordID)
	if err != nil {
		t.Fatalf("Failed to count splits: %v", err)
	}
	if splits != 2 {
		t.Errorf("Expected 2 real splits, got %d", splits)
	}
}

func TestImportActivityIdempotent(t *testing.T) {
	fake := &fakeStrava{
		activities: map[int64]*strava.DetailedActivity{100: runDetail(100)},
	}
	imp, _ := setupImporterTest(t, fake)

	if result := imp.ImportActivity(context.Background(), "token", 100, "user-1"); result != ResultImported {
		t.Fatalf("Expected imported on first attempt, got %s", result)
	}

	// Second import short-circuits before any provider call
	hitsBefore := fake.detailHits
	if result := imp.ImportActivity(context.Background(), "token", 100, "user-1"); result != ResultExists {
		t.Fatalf("Expected exists on second attempt, got %s", result)
	}
	if fake.detailHits != hitsBefore {
		t.Errorf("Expected no provider call for existing record, got %d extra", fake.detailHits-hitsBefore)
	}
}

func TestImportActivitySkipsNonRunning(t *testing.T) {
	ride := runDetail(100)
	ride.Type = "Ride"
	ride.SportType = "Ride"
	fake := &fakeStrava{
		activities: map[int64]*strava.DetailedActivity{100: ride},
	}
	imp, db := setupImporterTest(t, fake)

	if result := imp.ImportActivity(context.Background(), "token", 100, "user-1"); result != ResultSkipped {
		t.Fatalf("Expected skipped, got %s", result)
	}

	exists, _ := db.RecordExistsBySource("user-1", SourceStrava, "100")
	if exists {
		t.Error("Expected no record for skipped activity")
	}
}

func TestImportActivityFetchError(t *testing.T) {
	fake := &fakeStrava{activities: map[int64]*strava.DetailedActivity{}}
	imp, _ := setupImporterTest(t, fake)

	if result := imp.ImportActivity(context.Background(), "token", 999, "user-1"); result != ResultError {
		t.Fatalf("Expected error result for 404 detail, got %s", result)
	}
}

func TestImportActivityKeepsRecordOnStreamFailure(t *testing.T) {
	// No streams entry: the fake answers 404, which GetActivityStreams
	// absorbs as "no streams"
	fake := &fakeStrava{
		activities: map[int64]*strava.DetailedActivity{100: runDetail(100)},
	}
	imp, db := setupImporterTest(t, fake)

	if result := imp.ImportActivity(context.Background(), "token", 100, "user-1"); result != ResultImported {
		t.Fatalf("Expected imported despite missing streams, got %s", result)
	}

	// Record stays a backfill candidate
	refs, err := db.ListRecordsMissingStreams("user-1", SourceStrava)
	if err != nil {
		t.Fatalf("Failed to list missing streams: %v", err)
	}
	if len(refs) != 1 {
		t.Errorf("Expected 1 backfill candidate, got %d", len(refs))
	}
}

func TestImportStream(t *testing.T) {
	fake := &fakeStrava{
		activities: map[int64]*strava.DetailedActivity{100: runDetail(100)},
		streams:    map[int64]*strava.StreamSet{},
	}
	imp, db := setupImporterTest(t, fake)

	if result := imp.ImportActivity(context.Background(), "token", 100, "user-1"); result != ResultImported {
		t.Fatalf("Expected imported, got %s", result)
	}

	refs, _ := db.ListRecordsMissingStreams("user-1", SourceStrava)
	if len(refs) != 1 {
		t.Fatalf("Expected 1 backfill candidate, got %d", len(refs))
	}

	// Still no streams upstream
	stored, err := imp.ImportStream(context.Background(), "token", refs[0].ID, 100)
	if err != nil {
		t.Fatalf("ImportStream failed: %v", err)
	}
	if stored {
		t.Error("Expected stored false for streamless activity")
	}

	// Streams appear later (device sync finished)
	fake.streams[100] = &strava.StreamSet{Time: []int{0, 10}, Cadence: []int{80, 82}}

	stored, err = imp.ImportStream(context.Background(), "token", refs[0].ID, 100)
	if err != nil {
		t.Fatalf("ImportStream failed: %v", err)
	}
	if !stored {
		t.Fatal("Expected stream stored")
	}

	refs, _ = db.ListRecordsMissingStreams("user-1", SourceStrava)
	if len(refs) != 0 {
		t.Errorf("Expected no backfill candidates left, got %d", len(refs))
	}

	// Stored JSON carries the doubled cadence
	var streamJSON string
	if err := db.Conn().QueryRow(`SELECT stream_json FROM activity_streams`).Scan(&streamJSON); err != nil {
		t.Fatalf("Failed to read stream: %v", err)
	}
	var set strava.StreamSet
	if err := json.Unmarshal([]byte(streamJSON), &set); err != nil {
		t.Fatalf("Failed to decode stored stream: %v", err)
	}
	if len(set.Cadence) != 2 || set.Cadence[0] != 160 {
		t.Errorf("Expected doubled cadence stored, got %v", set.Cadence)
	}
}
