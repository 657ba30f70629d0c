package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Maaku050/Sentrilock/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:sentrilock.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			action TEXT NOT NULL,
			room_id TEXT NOT NULL,
			user_id TEXT,
			user_name TEXT,
			source TEXT,
			raw TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_ts ON entries(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_room ON entries(room_id)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			type TEXT NOT NULL,
			room_id TEXT NOT NULL,
			attempt_count INTEGER NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			notified INTEGER NOT NULL DEFAULT 0,
			attempts_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_ts ON incidents(ts)`,
		`CREATE TABLE IF NOT EXISTS persons (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			grants_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			token TEXT PRIMARY KEY,
			operator TEXT,
			platform TEXT,
			enabled INTEGER NOT NULL,
			registered_at TEXT NOT NULL,
			last_seen_at TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveEntry(ctx context.Context, entry model.LogEntry) error {
	if s.db == nil {
		return nil
	}
	// Sources can redeliver; the ID makes the insert idempotent.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries (id, ts, action, room_id, user_id, user_name, source, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		fmtTime(entry.Timestamp),
		string(entry.Action),
		entry.RoomID,
		entry.UserID,
		entry.UserName,
		entry.Source,
		entry.Raw,
	)
	return err
}

func (s *sqliteStore) SaveIncident(ctx context.Context, inc model.SecurityIncident) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO incidents (id, ts, type, room_id, attempt_count, severity, status, notified, attempts_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID,
		fmtTime(inc.DetectedAt),
		inc.Type,
		inc.RoomID,
		inc.AttemptCount,
		inc.Severity,
		inc.Status,
		boolToInt(inc.Notified),
		encodeJSON(inc.Attempts),
	)
	return err
}

func (s *sqliteStore) SetIncidentStatus(ctx context.Context, id string, status string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE incidents SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *sqliteStore) SetIncidentNotified(ctx context.Context, id string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE incidents SET notified = 1 WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) SavePerson(ctx context.Context, p model.Person) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO persons (id, name, grants_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID,
		p.Name,
		encodeJSON(p.Grants),
		fmtTime(p.CreatedAt),
		fmtTime(p.UpdatedAt),
	)
	return err
}

func (s *sqliteStore) DeletePerson(ctx context.Context, id string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM persons WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListPersons(ctx context.Context) ([]model.Person, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, grants_json, created_at, updated_at FROM persons ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Person
	for rows.Next() {
		var p model.Person
		var grants, created, updated string
		if err := rows.Scan(&p.ID, &p.Name, &grants, &created, &updated); err != nil {
			return nil, err
		}
		p.Grants = decodeGrants(grants)
		p.CreatedAt = parseTime(created)
		p.UpdatedAt = parseTime(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveDevice(ctx context.Context, d model.Device) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO devices (token, operator, platform, enabled, registered_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.Token,
		d.Operator,
		d.Platform,
		boolToInt(d.NotificationsEnabled),
		fmtTime(d.RegisteredAt),
		fmtTime(d.LastSeenAt),
	)
	return err
}

func (s *sqliteStore) DeleteDevice(ctx context.Context, token string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE token = ?`, token)
	return err
}

func (s *sqliteStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT token, operator, platform, enabled, registered_at, last_seen_at FROM devices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Device
	for rows.Next() {
		var d model.Device
		var enabled int
		var registered, lastSeen string
		if err := rows.Scan(&d.Token, &d.Operator, &d.Platform, &enabled, &registered, &lastSeen); err != nil {
			return nil, err
		}
		d.NotificationsEnabled = enabled != 0
		d.RegisteredAt = parseTime(registered)
		d.LastSeenAt = parseTime(lastSeen)
		out = append(out, d)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}
