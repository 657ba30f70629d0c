package logstore

import (
	"sync"
	"time"

	"github.com/Maaku050/Sentrilock/internal/model"
)

// Store keeps the most recent access log entries in memory for the admin
// surface. Oldest entries fall off once the limit is reached; the durable
// record lives in the document store, not here.
type Store struct {
	mu    sync.RWMutex
	buf   []model.LogEntry
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(entry model.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, entry)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = entry
}

// Filter selects entries for listing. Zero values match everything.
type Filter struct {
	RoomID string
	Action model.Action
	UserID string
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

func (f Filter) matches(e model.LogEntry) bool {
	if f.RoomID != "" && e.RoomID != f.RoomID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// List returns matching entries newest first, plus the total match count
// before limit and offset were applied.
func (s *Store) List(f Filter) ([]model.LogEntry, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	out := make([]model.LogEntry, 0)
	skipped := 0
	for i := len(s.buf) - 1; i >= 0; i-- {
		e := s.buf[i]
		if !f.matches(e) {
			continue
		}
		total++
		if skipped < f.Offset {
			skipped++
			continue
		}
		if f.Limit > 0 && len(out) >= f.Limit {
			continue
		}
		out = append(out, e)
	}
	return out, total
}

func (s *Store) Since(ts time.Time) []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LogEntry, 0)
	for _, e := range s.buf {
		if !e.Timestamp.Before(ts) {
			out = append(out, e)
		}
	}
	return out
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
