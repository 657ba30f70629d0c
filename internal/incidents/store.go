package incidents

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Maaku050/Sentrilock/internal/model"
)

// New builds the durable incident record for a detection. Severity depends on
// how tightly packed the run was: denials within a minute look like someone
// working the door, a slower trickle is suspicious but less urgent.
func New(res *model.DetectionResult) model.SecurityIncident {
	attempts := make([]model.LogEntry, len(res.Attempts))
	copy(attempts, res.Attempts)
	return model.SecurityIncident{
		ID:           uuid.NewString(),
		Type:         model.IncidentTypeConsecutiveDenials,
		RoomID:       res.RoomID,
		AttemptCount: len(attempts),
		Attempts:     attempts,
		DetectedAt:   res.DetectedAt,
		Status:       model.IncidentStatusOpen,
		Severity:     severityFor(attempts),
	}
}

func severityFor(attempts []model.LogEntry) string {
	if len(attempts) < 2 {
		return model.SeverityHigh
	}
	span := attempts[len(attempts)-1].Timestamp.Sub(attempts[0].Timestamp)
	if span >= 0 && span <= time.Minute {
		return model.SeverityCritical
	}
	return model.SeverityHigh
}

// Store keeps recent incidents in memory, newest last. Lookups scan by ID;
// the store is small by configuration.
type Store struct {
	mu    sync.RWMutex
	buf   []model.SecurityIncident
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{limit: limit}
}

func (s *Store) Add(inc model.SecurityIncident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, inc)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = inc
}

// List returns incidents newest first, optionally filtered by status.
func (s *Store) List(limit int, status string) []model.SecurityIncident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SecurityIncident, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		inc := s.buf[i]
		if status != "" && inc.Status != status {
			continue
		}
		out = append(out, inc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *Store) Get(id string) (model.SecurityIncident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].ID == id {
			return s.buf[i], true
		}
	}
	return model.SecurityIncident{}, false
}

// Close marks an incident reviewed. Closing an already closed incident is a
// no-op that still reports success.
func (s *Store) Close(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID == id {
			s.buf[i].Status = model.IncidentStatusClosed
			return true
		}
	}
	return false
}

// MarkNotified records that at least one operator device received the alert.
func (s *Store) MarkNotified(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID == id {
			s.buf[i].Notified = true
			return true
		}
	}
	return false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
