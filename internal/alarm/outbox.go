package alarm

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Outbox is a Notifier persisted in SQLite. Notifications wait in the table
// until Due hands them out.
type Outbox struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultOutboxPath returns ~/.local/share/prayer-alarms/outbox.db.
func DefaultOutboxPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "prayer-alarms", "outbox.db"), nil
}

// OpenOutbox opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenOutbox(ctx context.Context, path string) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	o := &Outbox{db: db, now: time.Now}
	if err := o.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			tag TEXT NOT NULL,
			prayer TEXT NOT NULL,
			play_azan INTEGER NOT NULL DEFAULT 0,
			trigger_ms INTEGER NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_trigger ON notifications(trigger_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_tag ON notifications(tag, prayer);`,
		`CREATE TABLE IF NOT EXISTS completed_prayers (
			date TEXT NOT NULL,
			prayer TEXT NOT NULL,
			PRIMARY KEY (date, prayer)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := o.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (o *Outbox) Close() error {
	if o.db == nil {
		return nil
	}
	return o.db.Close()
}

// Schedule stores n under a new id and returns it.
func (o *Outbox) Schedule(ctx context.Context, n Notification) (string, error) {
	id := uuid.NewString()
	_, err := o.db.ExecContext(ctx,
		`INSERT INTO notifications (id, title, body, tag, prayer, play_azan, trigger_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, n.Title, n.Body, n.Payload.Tag, n.Payload.Prayer, n.Payload.PlayAzan, n.Trigger.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

// Cancel deletes id. Canceling an unknown id is not an error.
func (o *Outbox) Cancel(ctx context.Context, id string) error {
	if _, err := o.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

// List returns every pending notification ordered by trigger time.
func (o *Outbox) List(ctx context.Context) ([]Notification, error) {
	rows, err := o.db.QueryContext(ctx,
		`SELECT id, title, body, tag, prayer, play_azan, trigger_ms
		 FROM notifications ORDER BY trigger_ms, prayer`)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// Due removes and returns every notification whose trigger is at or before
// now.
func (o *Outbox) Due(ctx context.Context, now time.Time) ([]Notification, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cutoff := now.UnixMilli()
	rows, err := tx.QueryContext(ctx,
		`SELECT id, title, body, tag, prayer, play_azan, trigger_ms
		 FROM notifications WHERE trigger_ms <= ? ORDER BY trigger_ms, prayer`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select due notifications: %w", err)
	}
	due, err := scanNotifications(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE trigger_ms <= ?`, cutoff); err != nil {
		return nil, fmt.Errorf("delete due notifications: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return due, nil
}

// MarkCompleted records prayer as completed on date (YYYY-MM-DD). Records
// for earlier dates are dropped.
func (o *Outbox) MarkCompleted(ctx context.Context, date, prayer string) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO completed_prayers (date, prayer) VALUES (?, ?)`, date, prayer); err != nil {
		return fmt.Errorf("insert completed prayer: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM completed_prayers WHERE date < ?`, date); err != nil {
		return fmt.Errorf("delete old completed prayers: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Completed returns the prayers marked completed on date.
func (o *Outbox) Completed(ctx context.Context, date string) ([]string, error) {
	rows, err := o.db.QueryContext(ctx,
		`SELECT prayer FROM completed_prayers WHERE date = ? ORDER BY prayer`, date)
	if err != nil {
		return nil, fmt.Errorf("list completed prayers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan completed prayer: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed prayers: %w", err)
	}
	return out, nil
}

func scanNotifications(rows *sql.Rows) ([]Notification, error) {
	var out []Notification
	for rows.Next() {
		var (
			n         Notification
			triggerMs int64
		)
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.Payload.Tag, &n.Payload.Prayer, &n.Payload.PlayAzan, &triggerMs); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Trigger = time.UnixMilli(triggerMs)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}
