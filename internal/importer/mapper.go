package importer

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"runlog-strava-sync/internal/database"
	"runlog-strava-sync/internal/strava"
)

// SourceStrava is the source tag on imported records
const SourceStrava = "strava"

// IsRunning reports whether the activity is a running discipline.
// Everything else is skipped, not errored: Strava notifies for all types.
func IsRunning(a *strava.Activity) bool {
	return a.Type == "Run" || a.SportType == "Run" || a.SportType == "TrailRun"
}

// RecordFromActivity maps a Strava detailed activity into a record.
// The mapping is deterministic; see the individual rules below.
func RecordFromActivity(a *strava.DetailedActivity, userID string) *database.Record {
	exerciseType := "road"
	if a.Trainer {
		exerciseType = "treadmill"
	} else if a.SportType == "TrailRun" {
		exerciseType = "trail"
	}

	paceKmh := round1(a.AverageSpeed * 3.6)

	var paceMinKm *string
	if a.AverageSpeed > 0 {
		s := formatPace(1000 / a.AverageSpeed)
		paceMinKm = &s
	}

	duration := formatDuration(a.MovingTime)
	elapsed := formatDuration(a.ElapsedTime)

	var tags []string
	if a.WorkoutType != nil {
		switch *a.WorkoutType {
		case 1:
			tags = append(tags, "race")
		case 2:
			tags = append(tags, "long-run")
		case 3:
			tags = append(tags, "interval")
		}
	}
	tagsJSON, _ := json.Marshal(tags)
	tagsStr := string(tagsJSON)

	// Strava reports single-leg cadence; double to steps per minute
	var cadence *int
	if a.AverageCadence != nil {
		c := int(math.Round(*a.AverageCadence * 2))
		cadence = &c
	}

	notes := a.Name
	if a.Description != nil && *a.Description != "" {
		notes = *a.Description
	}

	var polyline *string
	if a.Map.Polyline != "" {
		polyline = &a.Map.Polyline
	} else if a.Map.SummaryPolyline != "" {
		polyline = &a.Map.SummaryPolyline
	}

	maxSpeed := round2(a.MaxSpeed * 3.6)
	sourceID := fmt.Sprintf("%d", a.ID)

	r := &database.Record{
		UserID:       userID,
		Date:         strings.SplitN(a.StartDateLocal, "T", 2)[0],
		ExerciseType: exerciseType,
		DistanceKm:   round3(a.Distance / 1000),
		Duration:     duration,
		ElapsedTime:  &elapsed,
		PaceKmh:      &paceKmh,
		PaceMinKm:    paceMinKm,
		Cadence:      cadence,
		Notes:        &notes,
		Tags:         &tagsStr,
		MapPolyline:  polyline,
		MaxSpeed:     &maxSpeed,
		Source:       SourceStrava,
		SourceID:     &sourceID,
	}

	if a.AverageHeartrate != nil {
		hr := int(math.Round(*a.AverageHeartrate))
		r.AvgHeartRate = &hr
	}
	if a.MaxHeartrate != nil {
		hr := int(math.Round(*a.MaxHeartrate))
		r.MaxHeartRate = &hr
	}
	if a.Calories > 0 {
		cal := a.Calories
		r.Calories = &cal
	}
	if a.TotalElevationGain > 0 {
		gain := a.TotalElevationGain
		r.ElevationGain = &gain
	}
	if a.SufferScore != nil {
		r.SufferScore = a.SufferScore
	}

	return r
}

// formatPace renders seconds-per-km as M'SS" (e.g. 5'00")
func formatPace(secPerKm float64) string {
	mins := int(secPerKm) / 60
	secs := int(math.Round(math.Mod(secPerKm, 60)))
	if secs == 60 {
		mins++
		secs = 0
	}
	return fmt.Sprintf("%d'%02d\"", mins, secs)
}

// formatDuration renders seconds as HH:MM:SS
func formatDuration(totalSeconds int) string {
	hours := totalSeconds / 3600
	mins := (totalSeconds % 3600) / 60
	secs := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, mins, secs)
}

// round1 rounds to 1 decimal place
func round1(v float64) float64 { return math.Round(v*10) / 10 }

// round2 rounds to 2 decimal places
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// round3 rounds to 3 decimal places (kilometers to millimeters)
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
