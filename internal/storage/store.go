package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/model"
)

// Store mirrors the in-memory state into SQL so entries, incidents, persons
// and devices survive a restart. Write errors are reported but the daemon
// keeps running on its in-memory stores.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	SaveEntry(ctx context.Context, entry model.LogEntry) error

	SaveIncident(ctx context.Context, inc model.SecurityIncident) error
	SetIncidentStatus(ctx context.Context, id string, status string) error
	SetIncidentNotified(ctx context.Context, id string) error

	SavePerson(ctx context.Context, p model.Person) error
	DeletePerson(ctx context.Context, id string) error
	ListPersons(ctx context.Context) ([]model.Person, error)

	SaveDevice(ctx context.Context, d model.Device) error
	DeleteDevice(ctx context.Context, token string) error
	ListDevices(ctx context.Context) ([]model.Device, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeGrants(data string) []model.RoomGrant {
	if data == "" {
		return nil
	}
	var grants []model.RoomGrant
	if err := json.Unmarshal([]byte(data), &grants); err != nil {
		return nil
	}
	return grants
}
