package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/normalize"
)

// StartKafka consumes access log documents from a Kafka topic, one JSON
// document per message, and pushes them into the tail.
func StartKafka(ctx context.Context, cfg *config.Manager, tail *Tail, logger *slog.Logger) {
	current := cfg.Get().Feed.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka feed disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka feed enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				tail.ReportError(fmt.Errorf("kafka: %w", err))
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			fields, err := normalize.ParseEntryJSON(m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka document decode error", "err", err)
				}
				continue
			}
			fields.Source = "kafka"
			entry, err := normalize.Normalize(*fields, cfg.Get())
			if err != nil {
				if logger != nil {
					logger.Warn("kafka normalize error", "err", err)
				}
				continue
			}
			tail.Push(entry)
		}
	}()
}
