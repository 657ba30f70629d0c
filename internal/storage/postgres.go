package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Maaku050/Sentrilock/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/sentrilock?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
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
			ts TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			room_id TEXT NOT NULL,
			attempt_count INTEGER NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			notified BOOLEAN NOT NULL DEFAULT FALSE,
			attempts_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_ts ON incidents(ts)`,
		`CREATE TABLE IF NOT EXISTS persons (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			grants_json JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			token TEXT PRIMARY KEY,
			operator TEXT,
			platform TEXT,
			enabled BOOLEAN NOT NULL,
			registered_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveEntry(ctx context.Context, entry model.LogEntry) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, ts, action, room_id, user_id, user_name, source, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		entry.ID,
		entry.Timestamp.UTC(),
		string(entry.Action),
		entry.RoomID,
		entry.UserID,
		entry.UserName,
		entry.Source,
		entry.Raw,
	)
	return err
}

func (s *postgresStore) SaveIncident(ctx context.Context, inc model.SecurityIncident) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, ts, type, room_id, attempt_count, severity, status, notified, attempts_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, notified = EXCLUDED.notified`,
		inc.ID,
		inc.DetectedAt.UTC(),
		inc.Type,
		inc.RoomID,
		inc.AttemptCount,
		inc.Severity,
		inc.Status,
		inc.Notified,
		encodeJSON(inc.Attempts),
	)
	return err
}

func (s *postgresStore) SetIncidentStatus(ctx context.Context, id string, status string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE incidents SET status = $1 WHERE id = $2`, status, id)
	return err
}

func (s *postgresStore) SetIncidentNotified(ctx context.Context, id string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE incidents SET notified = TRUE WHERE id = $1`, id)
	return err
}

func (s *postgresStore) SavePerson(ctx context.Context, p model.Person) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO persons (id, name, grants_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, grants_json = EXCLUDED.grants_json, updated_at = EXCLUDED.updated_at`,
		p.ID,
		p.Name,
		encodeJSON(p.Grants),
		p.CreatedAt.UTC(),
		p.UpdatedAt.UTC(),
	)
	return err
}

func (s *postgresStore) DeletePerson(ctx context.Context, id string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM persons WHERE id = $1`, id)
	return err
}

func (s *postgresStore) ListPersons(ctx context.Context) ([]model.Person, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, grants_json::text, created_at, updated_at FROM persons ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Person
	for rows.Next() {
		var p model.Person
		var grants string
		if err := rows.Scan(&p.ID, &p.Name, &grants, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Grants = decodeGrants(grants)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *postgresStore) SaveDevice(ctx context.Context, d model.Device) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (token, operator, platform, enabled, registered_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token) DO UPDATE SET operator = EXCLUDED.operator, platform = EXCLUDED.platform, enabled = EXCLUDED.enabled, last_seen_at = EXCLUDED.last_seen_at`,
		d.Token,
		d.Operator,
		d.Platform,
		d.NotificationsEnabled,
		d.RegisteredAt.UTC(),
		d.LastSeenAt.UTC(),
	)
	return err
}

func (s *postgresStore) DeleteDevice(ctx context.Context, token string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE token = $1`, token)
	return err
}

func (s *postgresStore) ListDevices(ctx context.Context) ([]model.Device, error) {
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
		var lastSeen sql.NullTime
		if err := rows.Scan(&d.Token, &d.Operator, &d.Platform, &d.NotificationsEnabled, &d.RegisteredAt, &lastSeen); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			d.LastSeenAt = lastSeen.Time
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
