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

CREATE TABLE IF NOT EXISTS notifications (
	member_id   INTEGER NOT NULL,
	id          INTEGER NOT NULL,
	position    INTEGER NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT 'ETC',
	read        INTEGER NOT NULL DEFAULT 0,
	related_id  INTEGER,
	created_at  DATETIME NOT NULL,
	PRIMARY KEY (member_id, id)
);

CREATE TABLE IF NOT EXISTS inbox_state (
	member_id    INTEGER PRIMARY KEY,
	unread_count INTEGER NOT NULL DEFAULT 0,
	saved_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_notifications_member_position
	ON notifications(member_id, position);

CREATE INDEX IF NOT EXISTS idx_notifications_member_read
	ON notifications(member_id, read);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
