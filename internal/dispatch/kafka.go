package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/model"
)

// KafkaSink publishes confirmed incidents to an alerts topic so downstream
// consumers (SIEM pipelines, pagers) pick them up. Messages are keyed by
// room so one room's alerts stay ordered on a single partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(cfg config.KafkaSinkConfig) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, inc model.SecurityIncident) error {
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("encoding incident: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(inc.RoomID),
		Value: data,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing incident to kafka: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
