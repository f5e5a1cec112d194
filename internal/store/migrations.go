package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS masked_emails (
	id              TEXT PRIMARY KEY,
	email           TEXT NOT NULL UNIQUE,
	state           TEXT NOT NULL DEFAULT 'enabled'
		CHECK(state IN ('pending', 'enabled', 'disabled', 'deleted')),
	for_domain      TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL DEFAULT '',
	created_by      TEXT NOT NULL DEFAULT '',
	created_at      DATETIME,
	last_message_at DATETIME,
	fetched_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_masked_emails_state ON masked_emails(state);

CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	action     TEXT NOT NULL,
	email      TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
ALTER TABLE masked_emails ADD COLUMN created_at_raw TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS idx_masked_emails_email_nocase
	ON masked_emails(email COLLATE NOCASE);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
