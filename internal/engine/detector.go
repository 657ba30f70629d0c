package engine

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Maaku050/Sentrilock/internal/model"
)

// State describes what the detector currently sees in the window.
type State string

const (
	// StateIdle means the newest entry is not a denial.
	StateIdle State = "idle"
	// StateArmed means a denial run is building but has not filled the window.
	StateArmed State = "armed"
	// StateAlerting means the whole window is denials.
	StateAlerting State = "alerting"
)

// Detector decides whether a window of recent entries is a run of consecutive
// unauthorized attempts. It is pure state plus a bounded key history; the
// engine serializes all calls, so it carries no locking of its own.
type Detector struct {
	windowSize  int
	historySize int
	history     *lru.Cache[string, struct{}]
	state       State
	now         func() time.Time
}

func NewDetector(windowSize, historySize int) *Detector {
	if windowSize < 2 {
		windowSize = 2
	}
	if historySize < 1 {
		historySize = 1
	}
	history, _ := lru.New[string, struct{}](historySize)
	return &Detector{
		windowSize:  windowSize,
		historySize: historySize,
		history:     history,
		state:       StateIdle,
		now:         time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (d *Detector) SetClock(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

func (d *Detector) State() State {
	return d.state
}

func (d *Detector) WindowSize() int {
	return d.windowSize
}

// Evaluate inspects one window, newest entry first, and returns a detection
// when the windowSize newest entries are all unauthorized attempts and that
// exact run has not been reported before. A previously reported run keeps the
// detector in StateAlerting but produces nothing, so redelivered windows are
// harmless.
func (d *Detector) Evaluate(entries []model.LogEntry) *model.DetectionResult {
	streak := 0
	for _, e := range entries {
		if !e.Action.IsDenial() {
			break
		}
		streak++
	}

	if streak == 0 {
		d.state = StateIdle
		return nil
	}
	if len(entries) < d.windowSize || streak < d.windowSize {
		d.state = StateArmed
		return nil
	}

	run := entries[:d.windowSize]
	key := RunKey(run)
	d.state = StateAlerting
	if _, seen := d.history.Get(key); seen {
		return nil
	}
	d.history.Add(key, struct{}{})

	attempts := make([]model.LogEntry, len(run))
	for i, e := range run {
		attempts[len(run)-1-i] = e
	}
	return &model.DetectionResult{
		Attempts:   attempts,
		RoomID:     run[0].RoomID,
		DetectedAt: d.now().UTC(),
		Key:        key,
	}
}

// Resize applies new window and history sizes from a config reload. The key
// history survives so a reload does not re-fire known runs.
func (d *Detector) Resize(windowSize, historySize int) {
	if windowSize >= 2 {
		d.windowSize = windowSize
	}
	if historySize >= 1 && historySize != d.historySize {
		d.historySize = historySize
		d.history.Resize(historySize)
	}
}

// Reset clears the state machine and the key history.
func (d *Detector) Reset() {
	d.state = StateIdle
	d.history.Purge()
}

// RunKey identifies a run by its entry IDs in chronological order. The same
// key doubles as the notification coalescing tag downstream.
func RunKey(entries []model.LogEntry) string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[len(entries)-1-i] = e.ID
	}
	return strings.Join(ids, "|")
}
