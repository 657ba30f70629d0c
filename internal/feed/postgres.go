package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/model"
	"github.com/Maaku050/Sentrilock/internal/normalize"
)

// StartPostgres follows a Postgres-backed document store. It listens on a
// NOTIFY channel and requeries the newest documents after every wakeup, so the
// tail always reflects a complete recent window rather than an incremental
// diff. The notification payload is ignored on purpose; it is only a bell.
func StartPostgres(ctx context.Context, cfg *config.Manager, tail *Tail, logger *slog.Logger) {
	current := cfg.Get().Feed.Postgres
	if !current.Enabled {
		if logger != nil {
			logger.Info("postgres feed disabled")
		}
		return
	}
	if !safeIdent(current.Channel) || !safeIdent(current.Table) {
		if logger != nil {
			logger.Error("postgres feed misconfigured", "channel", current.Channel, "table", current.Table)
		}
		tail.ReportError(fmt.Errorf("postgres: unsafe channel or table identifier"))
		return
	}
	if logger != nil {
		logger.Info("postgres feed enabled", "channel", current.Channel, "table", current.Table)
	}
	go func() {
		for {
			err := runPostgres(ctx, cfg, tail, logger)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if logger != nil {
					logger.Warn("postgres feed error, reconnecting", "err", err)
				}
				tail.ReportError(fmt.Errorf("postgres: %w", err))
			}
			if !BackoffSleep(ctx, 2*time.Second) {
				return
			}
		}
	}()
}

func runPostgres(ctx context.Context, cfg *config.Manager, tail *Tail, logger *slog.Logger) error {
	current := cfg.Get().Feed.Postgres
	pool, err := pgxpool.New(ctx, current.DSN)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+current.Channel); err != nil {
		return fmt.Errorf("listen %s: %w", current.Channel, err)
	}

	if err := requeryTail(ctx, pool, cfg, tail, logger); err != nil {
		return err
	}
	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait notification: %w", err)
		}
		if err := requeryTail(ctx, pool, cfg, tail, logger); err != nil {
			return err
		}
	}
}

func requeryTail(ctx context.Context, pool *pgxpool.Pool, cfg *config.Manager, tail *Tail, logger *slog.Logger) error {
	conf := cfg.Get()
	limit := conf.Detection.WindowSize
	query := fmt.Sprintf("SELECT payload::text FROM %s ORDER BY ts DESC LIMIT %d", conf.Feed.Postgres.Table, limit)
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query tail: %w", err)
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan tail row: %w", err)
		}
		fields, err := normalize.ParseEntryJSON([]byte(payload))
		if err != nil {
			if logger != nil {
				logger.Warn("postgres document decode error", "err", err)
			}
			continue
		}
		fields.Source = "postgres"
		entry, err := normalize.Normalize(*fields, conf)
		if err != nil {
			if logger != nil {
				logger.Warn("postgres normalize error", "err", err)
			}
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("tail rows: %w", err)
	}
	tail.Replace(entries)
	return nil
}

func safeIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch == '_':
		case ch >= '0' && ch <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
