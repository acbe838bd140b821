package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Connections table: one Strava authorization per user
CREATE TABLE IF NOT EXISTS strava_connections (
    user_id TEXT PRIMARY KEY,
    strava_athlete_id INTEGER NOT NULL,

    -- OAuth tokens
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    scope TEXT NOT NULL,

    -- Metadata
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Import jobs table: queued activity imports drained by the status poller
CREATE TABLE IF NOT EXISTS import_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    activity_id INTEGER NOT NULL,

    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'processing', 'done', 'error', 'cancelled')),
    attempts INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,

    created_at INTEGER NOT NULL,
    processed_at INTEGER,

    UNIQUE (user_id, activity_id)
);

-- Running records table: the durable imported result
CREATE TABLE IF NOT EXISTS running_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,

    date TEXT NOT NULL,
    exercise_type TEXT NOT NULL,
    distance_km REAL NOT NULL,
    duration TEXT NOT NULL,
    elapsed_time TEXT,
    pace_kmh REAL,
    pace_minkm TEXT,
    cadence INTEGER,
    avg_heart_rate INTEGER,
    max_heart_rate INTEGER,
    calories REAL,
    elevation_gain REAL,
    suffer_score REAL,
    max_speed REAL,
    notes TEXT,
    tags TEXT,  -- JSON array
    map_polyline TEXT,

    -- Idempotency key: (user_id, source, source_id) unique when source_id set
    source TEXT NOT NULL DEFAULT 'manual',
    source_id TEXT,

    created_at INTEGER NOT NULL
);

-- Splits table: per-kilometer children of a running record
CREATE TABLE IF NOT EXISTS activity_splits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    record_id INTEGER NOT NULL,
    split_num INTEGER NOT NULL,
    distance_m REAL NOT NULL,
    elapsed_time INTEGER NOT NULL,
    moving_time INTEGER NOT NULL,
    avg_speed REAL NOT NULL,
    avg_heartrate REAL,
    elevation_diff REAL,
    pace_zone INTEGER,

    FOREIGN KEY (record_id) REFERENCES running_records(id) ON DELETE CASCADE
);

-- Best efforts table: named personal-best segments of a running record
CREATE TABLE IF NOT EXISTS activity_best_efforts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    record_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    distance REAL NOT NULL,
    elapsed_time INTEGER NOT NULL,
    moving_time INTEGER NOT NULL,
    pr_rank INTEGER,

    FOREIGN KEY (record_id) REFERENCES running_records(id) ON DELETE CASCADE
);

-- Streams table: downsampled telemetry blob, at most one per record
CREATE TABLE IF NOT EXISTS activity_streams (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    record_id INTEGER NOT NULL UNIQUE,
    stream_json TEXT NOT NULL,
    data_points INTEGER NOT NULL,
    created_at INTEGER NOT NULL,

    FOREIGN KEY (record_id) REFERENCES running_records(id) ON DELETE CASCADE
);

-- Rate limit state: process-wide singleton row shared by all callers
CREATE TABLE IF NOT EXISTS rate_limit_state (
    id TEXT PRIMARY KEY,
    requests_15min INTEGER NOT NULL DEFAULT 0,
    requests_daily INTEGER NOT NULL DEFAULT 0,
    window_reset_at INTEGER NOT NULL,
    day_reset_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Webhook events table: raw log of all webhook events received
CREATE TABLE IF NOT EXISTS webhook_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,

    object_type TEXT NOT NULL,
    object_id INTEGER NOT NULL,
    aspect_type TEXT NOT NULL,
    owner_id INTEGER NOT NULL,
    subscription_id INTEGER NOT NULL,
    event_time INTEGER NOT NULL,

    updates TEXT,  -- JSON object
    raw_json TEXT NOT NULL,

    processed BOOLEAN NOT NULL DEFAULT 0,
    processed_at INTEGER,
    error TEXT,

    created_at INTEGER NOT NULL
);

-- Indexes for strava_connections
CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_athlete ON strava_connections(strava_athlete_id);

-- Indexes for import_jobs
CREATE INDEX IF NOT EXISTS idx_jobs_user_status ON import_jobs(user_id, status);
CREATE INDEX IF NOT EXISTS idx_jobs_pending ON import_jobs(user_id, created_at) WHERE status = 'pending';

-- Indexes for running_records
CREATE INDEX IF NOT EXISTS idx_records_user ON running_records(user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_source ON running_records(user_id, source, source_id)
    WHERE source_id IS NOT NULL;

-- Indexes for children
CREATE INDEX IF NOT EXISTS idx_splits_record ON activity_splits(record_id);
CREATE INDEX IF NOT EXISTS idx_best_efforts_record ON activity_best_efforts(record_id);

-- Indexes for webhook_events
CREATE INDEX IF NOT EXISTS idx_webhook_events_processed ON webhook_events(processed);
CREATE INDEX IF NOT EXISTS idx_webhook_events_object ON webhook_events(object_type, object_id);
CREATE INDEX IF NOT EXISTS idx_webhook_events_owner ON webhook_events(owner_id);

-- Duplicate deliveries of the same event collapse into one log row
CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_unique ON webhook_events(event_time, object_id, aspect_type);

-- Provision the rate limit singleton; window timestamps start in the past so
-- the first read resets both windows
INSERT OR IGNORE INTO rate_limit_state (id, requests_15min, requests_daily, window_reset_at, day_reset_at, updated_at)
VALUES ('global', 0, 0, 0, 0, 0);
`
