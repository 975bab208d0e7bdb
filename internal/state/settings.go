package state

import (
	"context"
	"fmt"
	"strconv"

	"github.com/starford/cqsync/internal/models"
)

const (
	keyToken           = "token"
	keySyncOnStartup   = "sync_on_startup"
	keyIntervalMinutes = "interval_minutes"
	keyDirectory       = "directory"
	keyWatermark       = "watermark"
	keyTemplate        = "template"
)

func settingsToRows(s models.Settings) map[string]string {
	return map[string]string{
		keyToken:           s.Token,
		keySyncOnStartup:   strconv.FormatBool(s.SyncOnStartup),
		keyIntervalMinutes: strconv.Itoa(s.IntervalMinutes),
		keyDirectory:       s.Directory,
		keyWatermark:       s.Watermark,
		keyTemplate:        s.Template,
	}
}

// SeedSettings stores s for every key that has no value yet. Keys already
// present are left alone, so edits made at runtime survive restarts.
func (db *DB) SeedSettings(ctx context.Context, s models.Settings) error {
	return db.writeSettings(ctx, settingsToRows(s), `INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`)
}

// SaveSettings replaces every user-editable setting with the values in s.
// The watermark is only written by SetWatermark, so a settings edit never
// races a run that is advancing it.
func (db *DB) SaveSettings(ctx context.Context, s models.Settings) error {
	rows := settingsToRows(s)
	delete(rows, keyWatermark)
	return db.writeSettings(ctx, rows, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
}

func (db *DB) writeSettings(ctx context.Context, rows map[string]string, query string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("state: prepare settings write: %w", err)
	}
	defer stmt.Close()
	for k, v := range rows {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("state: write setting %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// SetWatermark persists the watermark alone.
func (db *DB) SetWatermark(ctx context.Context, watermark string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, keyWatermark, watermark)
	if err != nil {
		return fmt.Errorf("state: set watermark: %w", err)
	}
	return nil
}

// LoadSettings reads the current settings. Missing keys take zero values.
func (db *DB) LoadSettings(ctx context.Context) (models.Settings, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return models.Settings{}, fmt.Errorf("state: load settings: %w", err)
	}
	defer rows.Close()

	var s models.Settings
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return models.Settings{}, fmt.Errorf("state: scan setting: %w", err)
		}
		switch k {
		case keyToken:
			s.Token = v
		case keySyncOnStartup:
			s.SyncOnStartup, _ = strconv.ParseBool(v)
		case keyIntervalMinutes:
			s.IntervalMinutes, _ = strconv.Atoi(v)
		case keyDirectory:
			s.Directory = v
		case keyWatermark:
			s.Watermark = v
		case keyTemplate:
			s.Template = v
		}
	}
	return s, rows.Err()
}

// SetTemplate persists the template text alone.
func (db *DB) SetTemplate(ctx context.Context, text string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, keyTemplate, text)
	if err != nil {
		return fmt.Errorf("state: set template: %w", err)
	}
	return nil
}
