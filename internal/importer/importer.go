// Package importer holds the activity import routine shared by the bulk
// import poller, the webhook processor and the backfill sweep.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"runlog-strava-sync/internal/database"
	"runlog-strava-sync/internal/metrics"
	"runlog-strava-sync/internal/strava"
)

// Result classifies one import attempt
type Result string

const (
	ResultImported Result = "imported"
	ResultExists   Result = "exists"
	ResultSkipped  Result = "skipped"
	ResultError    Result = "error"
)

// Splits shorter than this are zero-length trailing segments, not real splits
const minSplitDistanceM = 50.0

// Importer imports single Strava activities into running records
type Importer struct {
	db     *database.DB
	client *strava.Client
	logger *slog.Logger
}

// New creates an importer
func New(db *database.DB, client *strava.Client) *Importer {
	return &Importer{
		db:     db,
		client: client,
		logger: slog.Default(),
	}
}

// ImportActivity fetches one activity and persists it with its children.
// Safe against concurrent triggers for the same activity id: the
// (user, source, source_id) uniqueness key makes the loser of an insert race
// observe ResultExists. Telemetry streams are enrichment; their failure never
// rolls back the record.
func (im *Importer) ImportActivity(ctx context.Context, accessToken string, activityID int64, userID string) Result {
	timer := prometheus.NewTimer(metrics.ImportDuration)
	defer timer.ObserveDuration()

	result := im.importActivity(ctx, accessToken, activityID, userID)
	metrics.ActivitiesImportedTotal.WithLabelValues(string(result)).Inc()
	return result
}

func (im *Importer) importActivity(ctx context.Context, accessToken string, activityID int64, userID string) Result {
	sourceID := fmt.Sprintf("%d", activityID)

	// Primary defense against duplicate webhook delivery and overlapping
	// triggers: no provider call when the record already exists
	exists, err := im.db.RecordExistsBySource(userID, SourceStrava, sourceID)
	if err != nil {
		im.logger.Error("Failed idempotency check", "activity_id", activityID, "error", err)
		return ResultError
	}
	if exists {
		return ResultExists
	}

	detail, err := im.client.GetActivity(ctx, accessToken, activityID)
	if err != nil {
		im.logger.Error("Failed to fetch activity detail", "activity_id", activityID, "error", err)
		return ResultError
	}

	if !IsRunning(&detail.Activity) {
		im.logger.Debug("Skipping non-running activity", "activity_id", activityID, "sport_type", detail.SportType)
		return ResultSkipped
	}

	record := RecordFromActivity(detail, userID)
	recordID, err := im.db.InsertRecord(record)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateRecord) {
			// Lost the race against a concurrent importer
			return ResultExists
		}
		im.logger.Error("Failed to insert record", "activity_id", activityID, "error", err)
		return ResultError
	}

	if err := im.insertSplits(recordID, detail.SplitsMetric); err != nil {
		im.logger.Error("Failed to insert splits", "activity_id", activityID, "error", err)
	}

	if err := im.insertBestEfforts(recordID, detail.BestEfforts); err != nil {
		im.logger.Error("Failed to insert best efforts", "activity_id", activityID, "error", err)
	}

	// Streams are best-effort; manual and treadmill activities often have none
	if _, err := im.ImportStream(ctx, accessToken, recordID, activityID); err != nil {
		im.logger.Warn("Stream fetch failed, record kept without telemetry",
			"activity_id", activityID, "record_id", recordID, "error", err)
	}

	im.logger.Info("Imported activity", "activity_id", activityID, "record_id", recordID, "user_id", userID)
	return ResultImported
}

// ImportStream fetches, normalizes and stores telemetry for one record.
// Returns false without error when the activity has no streams. Used both
// inline during import and by the backfill sweep.
func (im *Importer) ImportStream(ctx context.Context, accessToken string, recordID, activityID int64) (bool, error) {
	raw, err := im.client.GetActivityStreams(ctx, accessToken, activityID)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}

	normalized := NormalizeStreams(raw, MaxStreamPoints)
	streamJSON, err := json.Marshal(normalized)
	if err != nil {
		return false, fmt.Errorf("failed to marshal stream: %w", err)
	}

	if err := im.db.InsertStream(recordID, string(streamJSON), DataPoints(normalized)); err != nil {
		return false, err
	}

	return true, nil
}

func (im *Importer) insertSplits(recordID int64, raw []strava.Split) error {
	var splits []database.Split
	for _, s := range raw {
		if s.Distance <= minSplitDistanceM {
			continue
		}
		splits = append(splits, database.Split{
			RecordID:      recordID,
			SplitNum:      s.Split,
			DistanceM:     s.Distance,
			ElapsedTime:   s.ElapsedTime,
			MovingTime:    s.MovingTime,
			AvgSpeed:      s.AverageSpeed,
			AvgHeartrate:  s.AverageHeartrate,
			ElevationDiff: s.ElevationDifference,
			PaceZone:      s.PaceZone,
		})
	}

	if len(splits) == 0 {
		return nil
	}
	return im.db.InsertSplits(splits)
}

func (im *Importer) insertBestEfforts(recordID int64, raw []strava.BestEffort) error {
	var efforts []database.BestEffort
	for _, b := range raw {
		efforts = append(efforts, database.BestEffort{
			RecordID:    recordID,
			Name:        b.Name,
			Distance:    b.Distance,
			ElapsedTime: b.ElapsedTime,
			MovingTime:  b.MovingTime,
			PRRank:      b.PRRank,
		})
	}

	if len(efforts) == 0 {
		return nil
	}
	return im.db.InsertBestEfforts(efforts)
}
