package sqlite

// schemaDDL creates the six tables of the persisted state layout (spec §6).
// Every statement is idempotent (IF NOT EXISTS) so Open can run it
// against an already-initialized database on every startup.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS models (
	name              TEXT NOT NULL,
	project_id        TEXT NOT NULL DEFAULT '',
	provider          TEXT NOT NULL,
	price_json        TEXT NOT NULL,
	limits_json       TEXT NOT NULL,
	capabilities_json TEXT NOT NULL,
	is_deleted        INTEGER NOT NULL DEFAULT 0,
	release_date      TEXT,
	PRIMARY KEY (name, project_id)
);

CREATE TABLE IF NOT EXISTS spans (
	trace_id        TEXT NOT NULL,
	span_id         TEXT NOT NULL,
	parent_span_id  TEXT,
	operation_name  TEXT NOT NULL,
	start_time_us   INTEGER NOT NULL,
	finish_time_us  INTEGER NOT NULL,
	attributes_json TEXT NOT NULL,
	thread_id       TEXT,
	run_id          TEXT,
	project_id      TEXT,
	PRIMARY KEY (trace_id, span_id)
);
CREATE INDEX IF NOT EXISTS idx_spans_project ON spans(project_id, start_time_us);

CREATE TABLE IF NOT EXISTS metrics (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	metric_name     TEXT NOT NULL,
	metric_type     TEXT NOT NULL,
	value           REAL NOT NULL,
	timestamp_us    INTEGER NOT NULL,
	attributes_json TEXT NOT NULL,
	project_id      TEXT,
	thread_id       TEXT,
	run_id          TEXT,
	trace_id        TEXT,
	span_id         TEXT,
	UNIQUE (metric_name, trace_id, span_id, timestamp_us)
);
CREATE INDEX IF NOT EXISTS idx_metrics_project ON metrics(project_id, timestamp_us);

CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	model_name TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	project_id TEXT NOT NULL,
	is_public  INTEGER NOT NULL DEFAULT 0,
	title      TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id               TEXT PRIMARY KEY,
	thread_id        TEXT NOT NULL,
	role             TEXT NOT NULL,
	content_type     TEXT NOT NULL,
	content          TEXT,
	content_array_json TEXT,
	tool_calls_json  TEXT,
	tool_call_id     TEXT,
	user_id          TEXT NOT NULL DEFAULT '',
	project_id       TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);

CREATE TABLE IF NOT EXISTS providers (
	name               TEXT NOT NULL,
	project_id         TEXT NOT NULL DEFAULT '',
	credentials_cipher BLOB NOT NULL,
	PRIMARY KEY (name, project_id)
);
`
