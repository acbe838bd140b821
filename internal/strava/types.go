package strava

// TokenResponse is the response from a token exchange or refresh
type TokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    int64   `json:"expires_at"`
	ExpiresIn    int     `json:"expires_in"`
	Athlete      Athlete `json:"athlete"`
}

// Athlete identifies the Strava account attached to a token exchange
type Athlete struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// Activity is a summary activity from the list endpoint
type Activity struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	Distance           float64  `json:"distance"`    // meters
	MovingTime         int      `json:"moving_time"` // seconds
	ElapsedTime        int      `json:"elapsed_time"`
	TotalElevationGain float64  `json:"total_elevation_gain"`
	Type               string   `json:"type"`
	SportType          string   `json:"sport_type"`
	StartDate          string   `json:"start_date"`
	StartDateLocal     string   `json:"start_date_local"`
	Trainer            bool     `json:"trainer"`
	AverageSpeed       float64  `json:"average_speed"` // m/s
	MaxSpeed           float64  `json:"max_speed"`     // m/s
	AverageHeartrate   *float64 `json:"average_heartrate"`
	MaxHeartrate       *float64 `json:"max_heartrate"`
	AverageCadence     *float64 `json:"average_cadence"` // single-leg rpm
	SufferScore        *float64 `json:"suffer_score"`
	WorkoutType        *int     `json:"workout_type"`
	Map                Map      `json:"map"`
}

// Map carries encoded route polylines
type Map struct {
	Polyline        string `json:"polyline"`
	SummaryPolyline string `json:"summary_polyline"`
}

// Split is one metric split of a detailed activity
type Split struct {
	Split               int      `json:"split"`
	Distance            float64  `json:"distance"`
	ElapsedTime         int      `json:"elapsed_time"`
	MovingTime          int      `json:"moving_time"`
	AverageSpeed        float64  `json:"average_speed"`
	AverageHeartrate    *float64 `json:"average_heartrate"`
	ElevationDifference *float64 `json:"elevation_difference"`
	PaceZone            *int     `json:"pace_zone"`
}

// BestEffort is a named personal-best segment of a detailed activity
type BestEffort struct {
	Name        string  `json:"name"`
	Distance    float64 `json:"distance"`
	ElapsedTime int     `json:"elapsed_time"`
	MovingTime  int     `json:"moving_time"`
	PRRank      *int    `json:"pr_rank"`
}

// DetailedActivity is the full activity detail response
type DetailedActivity struct {
	Activity
	Description  *string      `json:"description"`
	Calories     float64      `json:"calories"`
	SplitsMetric []Split      `json:"splits_metric"`
	BestEfforts  []BestEffort `json:"best_efforts"`
}

// StreamSet holds the raw telemetry channels of one activity, keyed by
// channel name. Strava returns lat/lng as two-element pairs.
type StreamSet struct {
	Time           []int       `json:"time,omitempty"`
	Distance       []float64   `json:"distance,omitempty"`
	Heartrate      []int       `json:"heartrate,omitempty"`
	Altitude       []float64   `json:"altitude,omitempty"`
	VelocitySmooth []float64   `json:"velocity_smooth,omitempty"`
	Cadence        []int       `json:"cadence,omitempty"`
	GradeSmooth    []float64   `json:"grade_smooth,omitempty"`
	LatLng         [][]float64 `json:"latlng,omitempty"`
}

// IsEmpty reports whether no channel has any samples
func (s *StreamSet) IsEmpty() bool {
	return s == nil || (len(s.Time) == 0 && len(s.Distance) == 0 && len(s.Heartrate) == 0 &&
		len(s.Altitude) == 0 && len(s.VelocitySmooth) == 0 && len(s.Cadence) == 0 &&
		len(s.GradeSmooth) == 0 && len(s.LatLng) == 0)
}
