package database

// schemaStatements are applied in order by Store.Init. Every statement must be
// idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sites (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'UNKNOWN',
		timezone TEXT NOT NULL DEFAULT 'UTC',
		meta TEXT NOT NULL DEFAULT '{}',
		ingest_key TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS huts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		meta TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	// hut_id is nulled rather than cascaded so a site keeps its occupancy
	// history after a hut is deleted.
	`CREATE TABLE IF NOT EXISTS hut_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hut_id INTEGER REFERENCES huts(id) ON DELETE SET NULL,
		site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
		starts_at DATETIME NOT NULL,
		ends_at DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_hut_assignments_open_hut
		ON hut_assignments(hut_id) WHERE ends_at IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_hut_assignments_open_site
		ON hut_assignments(site_id) WHERE ends_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_hut_assignments_hut ON hut_assignments(hut_id, starts_at)`,
	`CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
		external_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT,
		meta TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(site_id, external_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_site_kind ON devices(site_id, kind)`,
	`CREATE TABLE IF NOT EXISTS device_status (
		device_id INTEGER PRIMARY KEY REFERENCES devices(id) ON DELETE CASCADE,
		ts DATETIME NOT NULL,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		ts DATETIME NOT NULL,
		payload TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_device_ts ON metrics(device_id, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_ts ON metrics(ts)`,
	`CREATE TABLE IF NOT EXISTS metrics_hourly (
		device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		bucket DATETIME NOT NULL,
		samples INTEGER NOT NULL,
		stats TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (device_id, bucket)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_hourly_bucket ON metrics_hourly(bucket)`,
	`CREATE TABLE IF NOT EXISTS rollup_pending (
		bucket DATETIME PRIMARY KEY
	)`,
}
