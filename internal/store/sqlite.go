package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/roomcrew/roomnoti/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveInbox replaces the member's cached inbox in one transaction. Items
// keep their order through the position column.
func (s *SQLiteStore) SaveInbox(
	ctx context.Context,
	memberID int64,
	items []model.Notification,
	unread int,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications WHERE member_id = ?", memberID); err != nil {
		return fmt.Errorf("clearing cached notifications: %w", err)
	}

	const query = `
		INSERT OR REPLACE INTO notifications (
			member_id, id, position,
			title, content, category, read,
			related_id, created_at
		) VALUES (
			?, ?, ?,
			?, ?, ?, ?,
			?, ?
		)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for i, n := range items {
		_, err = stmt.ExecContext(ctx,
			memberID, n.ID, i,
			n.Title, n.Content, string(n.Category), boolToInt(n.Read),
			nullableID(n.RelatedID), n.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("caching notification %d: %w", n.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO inbox_state (member_id, unread_count, saved_at)
		VALUES (?, ?, ?)`,
		memberID, unread, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving inbox state: %w", err)
	}

	return tx.Commit()
}

// LoadInbox returns the cached inbox for a member, newest first.
func (s *SQLiteStore) LoadInbox(ctx context.Context, memberID int64) (*Inbox, error) {
	var state struct {
		Unread  int       `db:"unread_count"`
		SavedAt time.Time `db:"saved_at"`
	}
	err := s.db.GetContext(ctx, &state,
		"SELECT unread_count, saved_at FROM inbox_state WHERE member_id = ?", memberID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoInbox
	}
	if err != nil {
		return nil, fmt.Errorf("reading inbox state: %w", err)
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, title, content, category, read, related_id, created_at
		FROM notifications
		WHERE member_id = ?
		ORDER BY position ASC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cached notifications: %w", err)
	}
	defer rows.Close()

	inbox := &Inbox{
		MemberID: memberID,
		Unread:   state.Unread,
		SavedAt:  state.SavedAt,
	}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		inbox.Items = append(inbox.Items, n)
	}

	return inbox, rows.Err()
}

// ClearMember removes every cached row for a member.
func (s *SQLiteStore) ClearMember(ctx context.Context, memberID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications WHERE member_id = ?", memberID); err != nil {
		return fmt.Errorf("clearing cached notifications: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM inbox_state WHERE member_id = ?", memberID); err != nil {
		return fmt.Errorf("clearing inbox state: %w", err)
	}

	return tx.Commit()
}

// scanNotification scans a notification row from a sqlx.Rows result set.
func scanNotification(rows *sqlx.Rows) (model.Notification, error) {
	var (
		n         model.Notification
		category  string
		read      int
		relatedID sql.NullInt64
		createdAt time.Time
	)

	err := rows.Scan(
		&n.ID, &n.Title, &n.Content, &category, &read, &relatedID, &createdAt,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("scanning notification row: %w", err)
	}

	n.Category = model.ParseCategory(category)
	n.Read = read != 0
	if relatedID.Valid {
		id := relatedID.Int64
		n.RelatedID = &id
	}
	if !createdAt.IsZero() {
		n.CreatedAt = createdAt.Local()
	}

	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
