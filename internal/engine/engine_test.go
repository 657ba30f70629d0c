package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/feed"
	"github.com/Maaku050/Sentrilock/internal/model"
)

var testBase = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func denial(id string, room string, offset time.Duration) model.LogEntry {
	return model.LogEntry{
		ID:        id,
		Action:    model.ActionUnauthorizedAttempt,
		RoomID:    room,
		UserID:    "u-" + id,
		Timestamp: testBase.Add(offset),
	}
}

func granted(id string, room string, offset time.Duration) model.LogEntry {
	return model.LogEntry{
		ID:        id,
		Action:    model.ActionAuthorizedEntry,
		RoomID:    room,
		UserID:    "u-" + id,
		Timestamp: testBase.Add(offset),
	}
}

// window builds a snapshot window from chronological entries, newest first.
func window(chronological ...model.LogEntry) []model.LogEntry {
	out := make([]model.LogEntry, len(chronological))
	for i, e := range chronological {
		out[len(chronological)-1-i] = e
	}
	return out
}

func TestDetectorFiresOnFullDenialWindow(t *testing.T) {
	d := NewDetector(3, 10)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d.SetClock(func() time.Time { return fixed })

	res := d.Evaluate(window(
		denial("a", "room-a", 0),
		denial("b", "room-a", time.Second),
		denial("c", "room-b", 2*time.Second),
	))
	if res == nil {
		t.Fatal("expected detection for full denial window")
	}
	if d.State() != StateAlerting {
		t.Fatalf("state = %q, want alerting", d.State())
	}
	if res.RoomID != "room-b" {
		t.Fatalf("room = %q, want newest entry's room-b", res.RoomID)
	}
	if len(res.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(res.Attempts))
	}
	if res.Attempts[0].ID != "a" || res.Attempts[2].ID != "c" {
		t.Fatalf("attempts should be chronological, got %s..%s", res.Attempts[0].ID, res.Attempts[2].ID)
	}
	if res.Key != "a|b|c" {
		t.Fatalf("key = %q, want a|b|c", res.Key)
	}
	if !res.DetectedAt.Equal(fixed) {
		t.Fatalf("detectedAt = %v, want injected clock %v", res.DetectedAt, fixed)
	}
}

func TestDetectorStateMachine(t *testing.T) {
	d := NewDetector(3, 10)

	if d.State() != StateIdle {
		t.Fatalf("initial state = %q, want idle", d.State())
	}
	if res := d.Evaluate(window(granted("g1", "room-a", 0))); res != nil {
		t.Fatal("grant should not detect")
	}
	if d.State() != StateIdle {
		t.Fatalf("state after grant = %q, want idle", d.State())
	}

	if res := d.Evaluate(window(granted("g1", "room-a", 0), denial("a", "room-a", time.Second))); res != nil {
		t.Fatal("single denial should not detect")
	}
	if d.State() != StateArmed {
		t.Fatalf("state after one denial = %q, want armed", d.State())
	}

	res := d.Evaluate(window(
		denial("a", "room-a", time.Second),
		denial("b", "room-a", 2*time.Second),
		denial("c", "room-a", 3*time.Second),
	))
	if res == nil {
		t.Fatal("expected detection")
	}
	if d.State() != StateAlerting {
		t.Fatalf("state = %q, want alerting", d.State())
	}

	if res := d.Evaluate(window(
		denial("b", "room-a", 2*time.Second),
		denial("c", "room-a", 3*time.Second),
		granted("g2", "room-a", 4*time.Second),
	)); res != nil {
		t.Fatal("grant should end the run")
	}
	if d.State() != StateIdle {
		t.Fatalf("state after grant = %q, want idle", d.State())
	}
}

func TestDetectorGrantBreaksRun(t *testing.T) {
	d := NewDetector(3, 10)

	// Two denials, a grant, then two more denials: never a full window.
	windows := [][]model.LogEntry{
		window(denial("a", "room-a", 0)),
		window(denial("a", "room-a", 0), denial("b", "room-a", time.Second)),
		window(denial("a", "room-a", 0), denial("b", "room-a", time.Second), granted("c", "room-a", 2*time.Second)),
		window(denial("b", "room-a", time.Second), granted("c", "room-a", 2*time.Second), denial("d", "room-a", 3*time.Second)),
		window(granted("c", "room-a", 2*time.Second), denial("d", "room-a", 3*time.Second), denial("e", "room-a", 4*time.Second)),
	}
	for i, w := range windows {
		if res := d.Evaluate(w); res != nil {
			t.Fatalf("window %d should not detect", i)
		}
	}
	if d.State() != StateArmed {
		t.Fatalf("state = %q, want armed with run building", d.State())
	}

	res := d.Evaluate(window(
		denial("d", "room-a", 3*time.Second),
		denial("e", "room-a", 4*time.Second),
		denial("f", "room-a", 5*time.Second),
	))
	if res == nil {
		t.Fatal("expected detection once denials refill the window")
	}
	if res.Key != "d|e|f" {
		t.Fatalf("key = %q, want d|e|f", res.Key)
	}
}

func TestDetectorRedeliveredWindowFiresOnce(t *testing.T) {
	d := NewDetector(3, 10)
	w := window(
		denial("a", "room-a", 0),
		denial("b", "room-a", time.Second),
		denial("c", "room-a", 2*time.Second),
	)
	if res := d.Evaluate(w); res == nil {
		t.Fatal("expected first detection")
	}
	for i := 0; i < 5; i++ {
		if res := d.Evaluate(w); res != nil {
			t.Fatalf("redelivery %d should not re-fire", i)
		}
	}
	if d.State() != StateAlerting {
		t.Fatalf("state = %q, want alerting while the run persists", d.State())
	}
}

func TestDetectorSlidingRunsFireDistinctly(t *testing.T) {
	d := NewDetector(3, 10)
	var keys []string
	entries := []model.LogEntry{
		denial("a", "room-a", 0),
		denial("b", "room-a", 1*time.Second),
		denial("c", "room-a", 2*time.Second),
		denial("d", "room-a", 3*time.Second),
		denial("e", "room-a", 4*time.Second),
	}
	for i := range entries {
		lo := 0
		if i >= 3 {
			lo = i - 2
		}
		if res := d.Evaluate(window(entries[lo : i+1]...)); res != nil {
			keys = append(keys, res.Key)
		}
	}
	want := []string{"a|b|c", "b|c|d", "c|d|e"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestDetectorHistoryBounded(t *testing.T) {
	d := NewDetector(3, 10)
	for i := 0; i < 15; i++ {
		w := window(
			denial(fmt.Sprintf("r%d-a", i), "room-a", time.Duration(3*i)*time.Second),
			denial(fmt.Sprintf("r%d-b", i), "room-a", time.Duration(3*i+1)*time.Second),
			denial(fmt.Sprintf("r%d-c", i), "room-a", time.Duration(3*i+2)*time.Second),
		)
		if res := d.Evaluate(w); res == nil {
			t.Fatalf("run %d should detect", i)
		}
	}
	if got := d.history.Len(); got > 10 {
		t.Fatalf("history holds %d keys, want at most 10", got)
	}
}

func TestDetectorEvictedKeyCanFireAgain(t *testing.T) {
	d := NewDetector(3, 2)
	first := window(
		denial("a", "room-a", 0),
		denial("b", "room-a", time.Second),
		denial("c", "room-a", 2*time.Second),
	)
	if res := d.Evaluate(first); res == nil {
		t.Fatal("expected first detection")
	}
	for i := 1; i <= 2; i++ {
		w := window(
			denial(fmt.Sprintf("x%d", i), "room-a", time.Duration(10*i)*time.Second),
			denial(fmt.Sprintf("y%d", i), "room-a", time.Duration(10*i+1)*time.Second),
			denial(fmt.Sprintf("z%d", i), "room-a", time.Duration(10*i+2)*time.Second),
		)
		if res := d.Evaluate(w); res == nil {
			t.Fatalf("filler run %d should detect", i)
		}
	}
	if res := d.Evaluate(first); res == nil {
		t.Fatal("evicted key should be allowed to fire again")
	}
}

func TestDetectorShortWindowStaysArmed(t *testing.T) {
	d := NewDetector(3, 10)
	res := d.Evaluate(window(
		denial("a", "room-a", 0),
		denial("b", "room-a", time.Second),
	))
	if res != nil {
		t.Fatal("two denials should not fill a window of three")
	}
	if d.State() != StateArmed {
		t.Fatalf("state = %q, want armed", d.State())
	}
}

func TestDetectorResize(t *testing.T) {
	d := NewDetector(3, 10)
	w := window(
		denial("a", "room-a", 0),
		denial("b", "room-a", time.Second),
	)
	if res := d.Evaluate(w); res != nil {
		t.Fatal("window of 3 should not fire on two denials")
	}
	d.Resize(2, 10)
	if res := d.Evaluate(w); res == nil {
		t.Fatal("window of 2 should fire on two denials")
	}
}

func TestMonitorAcknowledge(t *testing.T) {
	m := NewMonitor()
	if m.Acknowledge() {
		t.Fatal("acknowledge with no detection should report false")
	}
	m.Record(&model.DetectionResult{RoomID: "room-a", Key: "a|b|c"})
	last, _ := m.Status()
	if last == nil || last.RoomID != "room-a" {
		t.Fatalf("status detection = %+v", last)
	}
	if !m.Acknowledge() {
		t.Fatal("acknowledge should clear the detection")
	}
	if m.LastDetection() != nil {
		t.Fatal("detection should be gone after acknowledge")
	}
	if m.Acknowledge() {
		t.Fatal("second acknowledge should be a no-op")
	}
}

func TestMonitorCopiesDetections(t *testing.T) {
	m := NewMonitor()
	res := &model.DetectionResult{
		RoomID:   "room-a",
		Key:      "a|b",
		Attempts: []model.LogEntry{{ID: "a"}, {ID: "b"}},
	}
	m.Record(res)
	got := m.LastDetection()
	got.Attempts[0].ID = "mutated"
	again := m.LastDetection()
	if again.Attempts[0].ID != "a" {
		t.Fatal("callers must not be able to mutate the stored detection")
	}
}

type captureDispatcher struct {
	mu      sync.Mutex
	results []*model.DetectionResult
}

func (c *captureDispatcher) Dispatch(_ context.Context, res *model.DetectionResult) {
	c.mu.Lock()
	c.results = append(c.results, res)
	c.mu.Unlock()
}

func (c *captureDispatcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Detection.WindowSize = 3
	cfg.Detection.HistorySize = 10
	return cfg
}

func TestEngineDetectsAndDispatches(t *testing.T) {
	disp := &captureDispatcher{}
	monitor := NewMonitor()
	eng := NewEngine(testConfig(), nil, nil, monitor, disp)

	snap := feed.Snapshot{Entries: window(
		denial("a", "room-a", 0),
		denial("b", "room-a", time.Second),
		denial("c", "room-a", 2*time.Second),
	)}
	res := eng.ProcessSnapshot(context.Background(), snap)
	if res == nil {
		t.Fatal("expected detection")
	}
	if disp.count() != 1 {
		t.Fatalf("dispatched %d, want 1", disp.count())
	}
	last, monitoring := monitor.Status()
	if last == nil || last.Key != "a|b|c" {
		t.Fatalf("monitor detection = %+v", last)
	}
	if !monitoring {
		t.Fatal("snapshot delivery should mark monitoring healthy")
	}
	if eng.State() != StateAlerting {
		t.Fatalf("engine state = %q, want alerting", eng.State())
	}
}

func TestEngineFeedErrorDegradesAndRecovers(t *testing.T) {
	monitor := NewMonitor()
	eng := NewEngine(testConfig(), nil, nil, monitor, &captureDispatcher{})

	eng.ProcessSnapshot(context.Background(), feed.Snapshot{})
	if !monitor.IsMonitoring() {
		t.Fatal("expected monitoring healthy after snapshot")
	}
	eng.handleFeedError(errors.New("connection lost"))
	if monitor.IsMonitoring() {
		t.Fatal("expected monitoring degraded after feed error")
	}
	eng.ProcessSnapshot(context.Background(), feed.Snapshot{})
	if !monitor.IsMonitoring() {
		t.Fatal("expected monitoring to recover on next snapshot")
	}
}

func TestEngineAcknowledgedRunStaysQuiet(t *testing.T) {
	disp := &captureDispatcher{}
	monitor := NewMonitor()
	eng := NewEngine(testConfig(), nil, nil, monitor, disp)

	snap := feed.Snapshot{Entries: window(
		denial("a", "room-a", 0),
		denial("b", "room-a", time.Second),
		denial("c", "room-a", 2*time.Second),
	)}
	if eng.ProcessSnapshot(context.Background(), snap) == nil {
		t.Fatal("expected detection")
	}
	if !monitor.Acknowledge() {
		t.Fatal("acknowledge should succeed")
	}
	if eng.ProcessSnapshot(context.Background(), snap) != nil {
		t.Fatal("acknowledged run must not re-alert on redelivery")
	}
	if monitor.LastDetection() != nil {
		t.Fatal("acknowledged detection should stay cleared")
	}
	if disp.count() != 1 {
		t.Fatalf("dispatched %d, want 1", disp.count())
	}
}

func TestEngineNewRunAfterAcknowledge(t *testing.T) {
	disp := &captureDispatcher{}
	monitor := NewMonitor()
	eng := NewEngine(testConfig(), nil, nil, monitor, disp)

	first := feed.Snapshot{Entries: window(
		denial("a", "room-a", 0),
		denial("b", "room-a", time.Second),
		denial("c", "room-a", 2*time.Second),
	)}
	if eng.ProcessSnapshot(context.Background(), first) == nil {
		t.Fatal("expected first detection")
	}
	monitor.Acknowledge()

	second := feed.Snapshot{Entries: window(
		denial("d", "room-b", 10*time.Second),
		denial("e", "room-b", 11*time.Second),
		denial("f", "room-b", 12*time.Second),
	)}
	res := eng.ProcessSnapshot(context.Background(), second)
	if res == nil {
		t.Fatal("expected a new detection for a distinct run")
	}
	if res.Key != "d|e|f" {
		t.Fatalf("key = %q, want d|e|f", res.Key)
	}
	last, _ := monitor.Status()
	if last == nil || last.RoomID != "room-b" {
		t.Fatalf("monitor should hold the new detection, got %+v", last)
	}
	if disp.count() != 2 {
		t.Fatalf("dispatched %d, want 2", disp.count())
	}
}

func TestEngineUpdateConfigResizesDetector(t *testing.T) {
	monitor := NewMonitor()
	eng := NewEngine(testConfig(), nil, nil, monitor, &captureDispatcher{})

	short := feed.Snapshot{Entries: window(
		denial("a", "room-a", 0),
		denial("b", "room-a", time.Second),
	)}
	if eng.ProcessSnapshot(context.Background(), short) != nil {
		t.Fatal("two denials should not fire with window_size=3")
	}

	cfg := testConfig()
	cfg.Detection.WindowSize = 2
	eng.UpdateConfig(cfg)
	if eng.ProcessSnapshot(context.Background(), short) == nil {
		t.Fatal("two denials should fire after shrinking the window")
	}
}

func TestEngineResetClearsState(t *testing.T) {
	monitor := NewMonitor()
	eng := NewEngine(testConfig(), nil, nil, monitor, &captureDispatcher{})

	snap := feed.Snapshot{Entries: window(
		denial("a", "room-a", 0),
		denial("b", "room-a", time.Second),
		denial("c", "room-a", 2*time.Second),
	)}
	if eng.ProcessSnapshot(context.Background(), snap) == nil {
		t.Fatal("expected detection")
	}
	eng.Reset()
	if eng.State() != StateIdle {
		t.Fatalf("state after reset = %q, want idle", eng.State())
	}
	if monitor.LastDetection() != nil {
		t.Fatal("reset should clear the detection")
	}
	// History was purged, so the same run may fire again.
	if eng.ProcessSnapshot(context.Background(), snap) == nil {
		t.Fatal("cleared history should allow the run to fire again")
	}
}
