package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/model"
)

// NATSSink broadcasts incidents on a per-room subject so dashboards and
// site controllers can subscribe to just the rooms they care about.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSSink(cfg config.NATSSinkConfig) (*NATSSink, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("sentrilock"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "sentrilock.alerts"
	}
	return &NATSSink{conn: conn, prefix: prefix}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Publish(_ context.Context, inc model.SecurityIncident) error {
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("encoding incident: %w", err)
	}
	subject := s.prefix + "." + subjectToken(inc.RoomID)
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing incident to %s: %w", subject, err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

// subjectToken makes a room ID safe to use as a NATS subject token. Dots
// would split the subject and whitespace is illegal, so both collapse to
// underscores.
func subjectToken(roomID string) string {
	if roomID == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '\n', '*', '>':
			return '_'
		}
		return r
	}, roomID)
}
