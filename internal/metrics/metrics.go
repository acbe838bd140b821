package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// HTTP endpoints
	EndpointAuthorize    = "authorize"
	EndpointCallback     = "oauth_callback"
	EndpointWebhook      = "webhook"
	EndpointImport       = "import"
	EndpointImportStatus = "import_status"
	EndpointImportCancel = "import_cancel"
	EndpointBackfill     = "backfill"
	EndpointHealth       = "health"

	// Strava API operations
	OpExchangeCode   = "exchange_code"
	OpRefreshToken   = "refresh_token"
	OpGetActivity    = "get_activity"
	OpGetStreams     = "get_streams"
	OpListActivities = "list_activities"

	// Import results
	ResultImported = "imported"
	ResultExists   = "exists"
	ResultSkipped  = "skipped"
	ResultError    = "error"

	// Database operations
	DBOpEnqueueJobs     = "enqueue_jobs"
	DBOpListPendingJobs = "list_pending_jobs"
	DBOpTransitionJob   = "transition_job"
	DBOpCancelJobs      = "cancel_jobs"
	DBOpCountJobs       = "count_jobs"

	// Rate limit windows
	Window15Min = "15min"
	WindowDaily = "daily"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Import Queue Metrics
var (
	JobsEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "import_jobs_enqueued_total",
			Help: "Total number of import jobs enqueued",
		},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_jobs_processed_total",
			Help: "Total number of import jobs resolved by the poller",
		},
		[]string{"result"},
	)

	QueueDepthTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "import_queue_depth_total",
			Help: "Total number of import jobs in all states",
		},
	)

	QueueDepthPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "import_queue_depth_pending",
			Help: "Number of import jobs waiting for a poll",
		},
	)

	QueueDepthProcessing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "import_queue_depth_processing",
			Help: "Number of import jobs currently being processed",
		},
	)
)

// Import Metrics
var (
	ActivitiesImportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activities_imported_total",
			Help: "Total number of activity imports by result",
		},
		[]string{"result"},
	)

	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "activity_import_duration_seconds",
			Help:    "Time spent importing one activity",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	StreamsBackfilledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streams_backfilled_total",
			Help: "Total number of telemetry streams added by backfill",
		},
	)
)

// Webhook Metrics
var (
	WebhookEventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "Total number of webhook events received",
		},
		[]string{"object_type", "aspect_type"},
	)

	WebhookEventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_dropped_total",
			Help: "Total number of webhook events dropped without side effects",
		},
		[]string{"reason"},
	)
)

// Strava API Metrics
var (
	StravaAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strava_api_requests_total",
			Help: "Total number of Strava API requests",
		},
		[]string{"operation", "status_code"},
	)

	StravaAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strava_api_request_duration_seconds",
			Help:    "Strava API request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "status_code"},
	)
)

// Rate Limit Metrics
var (
	RateLimitUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rate_limit_usage",
			Help: "Requests consumed in the current window",
		},
		[]string{"window"},
	)

	RateLimitRefusalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_refusals_total",
			Help: "Total number of budget checks that refused work",
		},
		[]string{"window"},
	)
)

// Database Metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)
)

// Token Metrics
var (
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refresh_total",
			Help: "Total number of token refresh attempts by outcome",
		},
		[]string{"outcome"},
	)
)
