package sqlstore

import (
	"database/sql"
	"log/slog"

	"github.com/pkg/errors"
)

type migration struct {
	version     string
	description string
	sql         string
}

// migrations are applied in order and recorded in schema_migrations.
var migrations = []migration{
	{
		version:     "001",
		description: "users and channels",
		sql: `
			CREATE TABLE users (
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL,
				roles TEXT NOT NULL DEFAULT '[]'
			);
			CREATE TABLE channels (
				id TEXT PRIMARY KEY,
				group_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL DEFAULT ''
			);
			CREATE TABLE channel_members (
				channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL,
				PRIMARY KEY (channel_id, user_id)
			);
			CREATE TABLE channel_bans (
				channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL,
				PRIMARY KEY (channel_id, user_id)
			);
			CREATE TABLE channel_admins (
				channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL,
				PRIMARY KEY (channel_id, user_id)
			);
		`,
	},
	{
		version:     "002",
		description: "messages and reactions",
		sql: `
			CREATE TABLE messages (
				id TEXT PRIMARY KEY,
				channel_id TEXT NOT NULL,
				sender_id TEXT NOT NULL,
				sender_username TEXT NOT NULL,
				type TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				file_url TEXT NOT NULL DEFAULT '',
				file_name TEXT NOT NULL DEFAULT '',
				file_size INTEGER NOT NULL DEFAULT 0,
				mime_type TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				is_edited INTEGER NOT NULL DEFAULT 0,
				edited_at DATETIME
			);
			CREATE INDEX idx_messages_channel ON messages(channel_id);
			CREATE TABLE reactions (
				message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL,
				emoji TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (message_id, user_id, emoji)
			);
		`,
	},
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return errors.Wrap(err, "create migration table")
	}

	applied := make(map[string]bool)
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return errors.Wrap(err, "query applied migrations")
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return errors.Wrap(err, "scan migration version")
		}
		applied[v] = true
	}
	_ = rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "begin migration %s", m.version)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "apply migration %s", m.version)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "record migration %s", m.version)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit migration %s", m.version)
		}
		slog.Info("[STORE] Applied migration", "version", m.version, "description", m.description)
	}
	return nil
}
