package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS devices (
	device_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	model_id TEXT NOT NULL,
	ip TEXT NOT NULL,
	port INTEGER NOT NULL DEFAULT 80,
	poll_interval_ms INTEGER NOT NULL DEFAULT 5000,
	speaker_name TEXT NOT NULL DEFAULT '',
	speaker_model TEXT NOT NULL DEFAULT '',
	firmware_version TEXT NOT NULL DEFAULT '',
	serial_number TEXT NOT NULL DEFAULT '',
	subwoofer_gain INTEGER NOT NULL DEFAULT 0,
	last_connected_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS availability_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id TEXT NOT NULL,
	state TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	occurred_at TEXT NOT NULL,
	FOREIGN KEY (device_id) REFERENCES devices(device_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_availability_events_device
	ON availability_events(device_id, occurred_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	outcome TEXT NOT NULL DEFAULT 'ok',
	detail TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_created
	ON audit_log(created_at);
`
