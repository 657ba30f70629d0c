package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Maaku050/Sentrilock/internal/model"
)

// Snapshot is an immutable copy of the tail window at one point in time.
// Entries are ordered newest first.
type Snapshot struct {
	Entries []model.LogEntry
	Seq     uint64
}

// Tail maintains the most recent access log entries across all feed sources.
// Every change publishes a fresh Snapshot on a conflating channel: a pending
// undelivered snapshot is replaced by the newer one, so a slow consumer always
// receives a complete, current window and never a stale or partial one.
type Tail struct {
	mu      sync.Mutex
	size    int
	entries []model.LogEntry
	seq     uint64
	snaps   chan Snapshot
	errs    chan error
	onEntry func(model.LogEntry)
	logger  *slog.Logger
}

func NewTail(size int, errBuffer int, logger *slog.Logger) *Tail {
	if size < 1 {
		size = 1
	}
	if errBuffer < 1 {
		errBuffer = 16
	}
	return &Tail{
		size:   size,
		snaps:  make(chan Snapshot, 1),
		errs:   make(chan error, errBuffer),
		logger: logger,
	}
}

// Snapshots returns the conflating delivery channel. At most one snapshot is
// pending at a time; it is always the newest.
func (t *Tail) Snapshots() <-chan Snapshot {
	return t.snaps
}

// Errors returns the feed error channel. Sources report connection level
// failures here; malformed documents are skipped, not reported.
func (t *Tail) Errors() <-chan error {
	return t.errs
}

// SetOnEntry registers a callback invoked once for every entry that newly
// enters the window. Set it before sources start.
func (t *Tail) SetOnEntry(fn func(model.LogEntry)) {
	t.mu.Lock()
	t.onEntry = fn
	t.mu.Unlock()
}

// Push inserts one entry into the window, keeping the newest entries by
// timestamp. An entry whose ID is already present leaves the window unchanged
// but still publishes a snapshot, so redelivery from a source is a liveness
// signal rather than data. Returns true when the entry was new.
func (t *Tail) Push(e model.LogEntry) bool {
	t.mu.Lock()
	if t.hasIDLocked(e.ID) {
		t.emitLocked()
		t.mu.Unlock()
		return false
	}
	t.insertLocked(e)
	t.emitLocked()
	cb := t.onEntry
	t.mu.Unlock()
	if cb != nil {
		cb(e)
	}
	return true
}

// Replace swaps the whole window, used by sources that requery the store on
// change notifications. Entries not present before are handed to the OnEntry
// callback oldest first. A snapshot is published even when nothing changed.
func (t *Tail) Replace(entries []model.LogEntry) {
	sorted := make([]model.LogEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	t.mu.Lock()
	if len(sorted) > t.size {
		sorted = sorted[:t.size]
	}
	prev := make(map[string]struct{}, len(t.entries))
	for _, e := range t.entries {
		prev[e.ID] = struct{}{}
	}
	var fresh []model.LogEntry
	for i := len(sorted) - 1; i >= 0; i-- {
		if _, ok := prev[sorted[i].ID]; !ok {
			fresh = append(fresh, sorted[i])
		}
	}
	t.entries = sorted
	t.emitLocked()
	cb := t.onEntry
	t.mu.Unlock()

	if cb != nil {
		for _, e := range fresh {
			cb(e)
		}
	}
}

// Resize changes the window size, for config reloads. Shrinking drops the
// oldest entries and publishes the trimmed window.
func (t *Tail) Resize(size int) {
	if size < 1 {
		size = 1
	}
	t.mu.Lock()
	if size == t.size {
		t.mu.Unlock()
		return
	}
	t.size = size
	if len(t.entries) > size {
		t.entries = append([]model.LogEntry{}, t.entries[:size]...)
	}
	t.emitLocked()
	t.mu.Unlock()
}

// Current returns a copy of the window without touching the snapshot channel.
func (t *Tail) Current() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := make([]model.LogEntry, len(t.entries))
	copy(entries, t.entries)
	return Snapshot{Entries: entries, Seq: t.seq}
}

// ReportError delivers a source failure without blocking the source. When the
// buffer is full the error is dropped; the consumer is already aware the feed
// is unhealthy.
func (t *Tail) ReportError(err error) {
	if err == nil {
		return
	}
	select {
	case t.errs <- err:
	default:
		if t.logger != nil {
			t.logger.Warn("feed error buffer full, dropping", "err", err)
		}
	}
}

func (t *Tail) hasIDLocked(id string) bool {
	for _, e := range t.entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (t *Tail) insertLocked(e model.LogEntry) {
	pos := len(t.entries)
	for i, cur := range t.entries {
		if !cur.Timestamp.After(e.Timestamp) {
			pos = i
			break
		}
	}
	t.entries = append(t.entries, model.LogEntry{})
	copy(t.entries[pos+1:], t.entries[pos:])
	t.entries[pos] = e
	if len(t.entries) > t.size {
		t.entries = t.entries[:t.size]
	}
}

func (t *Tail) emitLocked() {
	t.seq++
	entries := make([]model.LogEntry, len(t.entries))
	copy(entries, t.entries)
	snap := Snapshot{Entries: entries, Seq: t.seq}
	for {
		select {
		case t.snaps <- snap:
			return
		default:
		}
		select {
		case <-t.snaps:
		default:
		}
	}
}

// BackoffSleep waits d before a source retries, honoring cancellation.
func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
