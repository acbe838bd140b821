package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDuplicateRecord indicates an insert lost the race on the
// (user_id, source, source_id) idempotency key
var ErrDuplicateRecord = errors.New("record already exists for source id")

// Record is a durable imported (or manually entered) running record
type Record struct {
	ID            int64
	UserID        string
	Date          string
	ExerciseType  string
	DistanceKm    float64
	Duration      string
	ElapsedTime   *string
	PaceKmh       *float64
	PaceMinKm     *string
	Cadence       *int
	AvgHeartRate  *int
	MaxHeartRate  *int
	Calories      *float64
	ElevationGain *float64
	SufferScore   *float64
	MaxSpeed      *float64
	Notes         *string
	Tags          *string // JSON array
	MapPolyline   *string
	Source        string
	SourceID      *string
	CreatedAt     int64
}

// Split is a per-distance-unit child of a record
type Split struct {
	RecordID      int64
	SplitNum      int
	DistanceM     float64
	ElapsedTime   int
	MovingTime    int
	AvgSpeed      float64
	AvgHeartrate  *float64
	ElevationDiff *float64
	PaceZone      *int
}

// BestEffort is a named personal-best segment child of a record
type BestEffort struct {
	RecordID    int64
	Name        string
	Distance    float64
	ElapsedTime int
	MovingTime  int
	PRRank      *int
}

// InsertRecord inserts a record and returns its id.
// Returns ErrDuplicateRecord if the idempotency key is already taken.
func (db *DB) InsertRecord(r *Record) (int64, error) {
	now := time.Now().Unix()

	result, err := db.conn.Exec(`
		INSERT INTO running_records (
			user_id, date, exercise_type, distance_km, duration, elapsed_time,
			pace_kmh, pace_minkm, cadence, avg_heart_rate, max_heart_rate,
			calories, elevation_gain, suffer_score, max_speed, notes, tags,
			map_polyline, source, source_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.UserID, r.Date, r.ExerciseType, r.DistanceKm, r.Duration, r.ElapsedTime,
		r.PaceKmh, r.PaceMinKm, r.Cadence, r.AvgHeartRate, r.MaxHeartRate,
		r.Calories, r.ElevationGain, r.SufferScore, r.MaxSpeed, r.Notes, r.Tags,
		r.MapPolyline, r.Source, r.SourceID, now)

	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicateRecord
		}
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get record id: %w", err)
	}

	r.ID = id
	r.CreatedAt = now
	return id, nil
}

// RecordExistsBySource reports whether a record exists for the idempotency key
func (db *DB) RecordExistsBySource(userID, source, sourceID string) (bool, error) {
	var id int64
	err := db.conn.QueryRow(`
		SELECT id FROM running_records
		WHERE user_id = ? AND source = ? AND source_id = ?
	`, userID, source, sourceID).Scan(&id)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return true, nil
}

// ListImportedSourceIDs returns all Strava source ids already imported for a user
func (db *DB) ListImportedSourceIDs(userID, source string) (map[string]bool, error) {
	rows, err := db.conn.Query(`
		SELECT source_id FROM running_records
		WHERE user_id = ? AND source = ? AND source_id IS NOT NULL
	`, userID, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list imported source ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan source id: %w", err)
		}
		ids[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source ids: %w", err)
	}

	return ids, nil
}

// UpdateRecordNotes updates the free-text note of a record identified by its
// idempotency key. Used by webhook title updates. A missing record is a no-op.
func (db *DB) UpdateRecordNotes(userID, source, sourceID, notes string) error {
	_, err := db.conn.Exec(`
		UPDATE running_records SET notes = ?
		WHERE user_id = ? AND source = ? AND source_id = ?
	`, notes, userID, source, sourceID)

	if err != nil {
		return fmt.Errorf("failed to update record notes: %w", err)
	}
	return nil
}

// DeleteRecordBySource removes a record by its idempotency key.
// Splits, best efforts and streams cascade.
func (db *DB) DeleteRecordBySource(userID, source, sourceID string) error {
	_, err := db.conn.Exec(`
		DELETE FROM running_records
		WHERE user_id = ? AND source = ? AND source_id = ?
	`, userID, source, sourceID)

	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// InsertSplits inserts all splits for a record
func (db *DB) InsertSplits(splits []Split) error {
	for _, s := range splits {
		_, err := db.conn.Exec(`
			INSERT INTO activity_splits (
				record_id, split_num, distance_m, elapsed_time, moving_time,
				avg_speed, avg_heartrate, elevation_diff, pace_zone
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.RecordID, s.SplitNum, s.DistanceM, s.ElapsedTime, s.MovingTime,
			s.AvgSpeed, s.AvgHeartrate, s.ElevationDiff, s.PaceZone)

		if err != nil {
			return fmt.Errorf("failed to insert split %d: %w", s.SplitNum, err)
		}
	}
	return nil
}

// InsertBestEfforts inserts all best efforts for a record
func (db *DB) InsertBestEfforts(efforts []BestEffort) error {
	for _, b := range efforts {
		_, err := db.conn.Exec(`
			INSERT INTO activity_best_efforts (
				record_id, name, distance, elapsed_time, moving_time, pr_rank
			) VALUES (?, ?, ?, ?, ?, ?)
		`, b.RecordID, b.Name, b.Distance, b.ElapsedTime, b.MovingTime, b.PRRank)

		if err != nil {
			return fmt.Errorf("failed to insert best effort %q: %w", b.Name, err)
		}
	}
	return nil
}

// InsertStream stores the downsampled telemetry blob for a record
func (db *DB) InsertStream(recordID int64, streamJSON string, dataPoints int) error {
	_, err := db.conn.Exec(`
		INSERT INTO activity_streams (record_id, stream_json, data_points, created_at)
		VALUES (?, ?, ?, ?)
	`, recordID, streamJSON, dataPoints, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to insert stream: %w", err)
	}
	return nil
}

// RecordRef pairs a record id with its external source id
type RecordRef struct {
	ID       int64
	SourceID string
}

// ListRecordsMissingStreams returns imported records without a telemetry
// stream child, oldest first. Used by the backfill sweep.
func (db *DB) ListRecordsMissingStreams(userID, source string) ([]RecordRef, error) {
	rows, err := db.conn.Query(`
		SELECT r.id, r.source_id
		FROM running_records r
		LEFT JOIN activity_streams s ON s.record_id = r.id
		WHERE r.user_id = ? AND r.source = ? AND r.source_id IS NOT NULL
		  AND s.id IS NULL
		ORDER BY r.id ASC
	`, userID, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list records missing streams: %w", err)
	}
	defer rows.Close()

	var refs []RecordRef
	for rows.Next() {
		var ref RecordRef
		if err := rows.Scan(&ref.ID, &ref.SourceID); err != nil {
			return nil, fmt.Errorf("failed to scan record ref: %w", err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record refs: %w", err)
	}

	return refs, nil
}

// CountSplits returns the number of splits attached to a record
func (db *DB) CountSplits(recordID int64) (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM activity_splits WHERE record_id = ?`, recordID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count splits: %w", err)
	}
	return count, nil
}
