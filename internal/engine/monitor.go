package engine

import (
	"sync"
	"time"

	"github.com/Maaku050/Sentrilock/internal/model"
)

// Monitor is the presentation state the admin surface reads: the most recent
// unacknowledged detection and whether the live feed is healthy. It has its
// own lock so API reads never contend with the evaluation loop for long.
type Monitor struct {
	mu            sync.RWMutex
	lastDetection *model.DetectionResult
	monitoring    bool
	changedAt     time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// Record stores a fresh detection as the current one. A newer detection
// replaces an unacknowledged older one.
func (m *Monitor) Record(res *model.DetectionResult) {
	if res == nil {
		return
	}
	m.mu.Lock()
	m.lastDetection = res
	m.changedAt = time.Now().UTC()
	m.mu.Unlock()
}

// LastDetection returns a copy of the current unacknowledged detection, or
// nil when there is none.
func (m *Monitor) LastDetection() *model.DetectionResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyDetection(m.lastDetection)
}

// Acknowledge clears the current detection. It reports whether there was one
// to clear. The detector's key history is untouched, so acknowledging does
// not allow the same run to alert again.
func (m *Monitor) Acknowledge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastDetection == nil {
		return false
	}
	m.lastDetection = nil
	m.changedAt = time.Now().UTC()
	return true
}

func (m *Monitor) SetMonitoring(v bool) {
	m.mu.Lock()
	if m.monitoring != v {
		m.monitoring = v
		m.changedAt = time.Now().UTC()
	}
	m.mu.Unlock()
}

func (m *Monitor) IsMonitoring() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.monitoring
}

// Status returns both fields under one lock so readers never see a detection
// paired with the wrong feed state.
func (m *Monitor) Status() (*model.DetectionResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyDetection(m.lastDetection), m.monitoring
}

func (m *Monitor) Reset() {
	m.mu.Lock()
	m.lastDetection = nil
	m.monitoring = false
	m.changedAt = time.Now().UTC()
	m.mu.Unlock()
}

func copyDetection(res *model.DetectionResult) *model.DetectionResult {
	if res == nil {
		return nil
	}
	out := *res
	out.Attempts = make([]model.LogEntry, len(res.Attempts))
	copy(out.Attempts, res.Attempts)
	return &out
}
