package store

// schema is the full relational layout of the AAA core: six tables plus
// the secondary indexes that keep subscriber lookups, the session match
// path, and the retention sweep off full scans.
const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id            INTEGER PRIMARY KEY,
	subscriber_id TEXT NOT NULL,
	attribute     TEXT NOT NULL,
	op            TEXT NOT NULL DEFAULT ':=',
	value         TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	UNIQUE (subscriber_id, attribute)
);
CREATE INDEX IF NOT EXISTS idx_credentials_subscriber
	ON credentials(subscriber_id);

CREATE TABLE IF NOT EXISTS reply_attributes (
	id            INTEGER PRIMARY KEY,
	subscriber_id TEXT NOT NULL,
	attribute     TEXT NOT NULL,
	op            TEXT NOT NULL DEFAULT '=',
	value         TEXT NOT NULL,
	UNIQUE (subscriber_id, attribute)
);
CREATE INDEX IF NOT EXISTS idx_reply_attributes_subscriber
	ON reply_attributes(subscriber_id);

CREATE TABLE IF NOT EXISTS group_attributes (
	id         INTEGER PRIMARY KEY,
	group_name TEXT NOT NULL,
	attribute  TEXT NOT NULL,
	op         TEXT NOT NULL DEFAULT '=',
	value      TEXT NOT NULL,
	UNIQUE (group_name, attribute)
);

CREATE TABLE IF NOT EXISTS group_memberships (
	id            INTEGER PRIMARY KEY,
	subscriber_id TEXT NOT NULL,
	group_name    TEXT NOT NULL,
	priority      INTEGER NOT NULL DEFAULT 1,
	UNIQUE (subscriber_id, group_name)
);
CREATE INDEX IF NOT EXISTS idx_group_memberships_subscriber
	ON group_memberships(subscriber_id);

CREATE TABLE IF NOT EXISTS nas_clients (
	id          TEXT PRIMARY KEY,
	nas_address TEXT NOT NULL UNIQUE,
	short_name  TEXT NOT NULL,
	type        TEXT NOT NULL DEFAULT 'other',
	secret      TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	ports       INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounting_sessions (
	id                 INTEGER PRIMARY KEY,
	session_id         TEXT NOT NULL,
	unique_id          TEXT NOT NULL UNIQUE,
	subscriber_id      TEXT NOT NULL,
	nas_address        TEXT NOT NULL,
	nas_port_id        TEXT NOT NULL DEFAULT '',
	port_type          TEXT NOT NULL DEFAULT '',
	start_time         INTEGER NOT NULL,
	update_time        INTEGER NOT NULL,
	stop_time          INTEGER,
	session_seconds    INTEGER NOT NULL DEFAULT 0,
	input_octets       INTEGER NOT NULL DEFAULT 0,
	output_octets      INTEGER NOT NULL DEFAULT 0,
	terminate_cause    TEXT NOT NULL DEFAULT '',
	auth_method        TEXT NOT NULL DEFAULT '',
	framed_protocol    TEXT NOT NULL DEFAULT '',
	framed_ip          TEXT NOT NULL DEFAULT '',
	calling_station_id TEXT NOT NULL DEFAULT '',
	called_station_id  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_subscriber
	ON accounting_sessions(subscriber_id);
CREATE INDEX IF NOT EXISTS idx_sessions_nas
	ON accounting_sessions(nas_address);
CREATE INDEX IF NOT EXISTS idx_sessions_match
	ON accounting_sessions(session_id, subscriber_id);
CREATE INDEX IF NOT EXISTS idx_sessions_stop_time
	ON accounting_sessions(stop_time);
`
