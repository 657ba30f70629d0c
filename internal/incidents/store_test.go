package incidents

import (
	"fmt"
	"testing"
	"time"

	"github.com/Maaku050/Sentrilock/internal/model"
)

func detection(key string, span time.Duration) *model.DetectionResult {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &model.DetectionResult{
		Attempts: []model.LogEntry{
			{ID: key + "-a", RoomID: "room-a", Action: model.ActionUnauthorizedAttempt, Timestamp: base},
			{ID: key + "-b", RoomID: "room-a", Action: model.ActionUnauthorizedAttempt, Timestamp: base.Add(span / 2)},
			{ID: key + "-c", RoomID: "room-a", Action: model.ActionUnauthorizedAttempt, Timestamp: base.Add(span)},
		},
		RoomID:     "room-a",
		DetectedAt: base.Add(span),
		Key:        key,
	}
}

func TestNewIncidentFromDetection(t *testing.T) {
	res := detection("run1", 10*time.Second)
	inc := New(res)
	if inc.ID == "" {
		t.Fatal("expected generated id")
	}
	if inc.Type != model.IncidentTypeConsecutiveDenials {
		t.Fatalf("type = %q", inc.Type)
	}
	if inc.RoomID != "room-a" || inc.AttemptCount != 3 {
		t.Fatalf("room = %q count = %d", inc.RoomID, inc.AttemptCount)
	}
	if inc.Status != model.IncidentStatusOpen {
		t.Fatalf("status = %q, want open", inc.Status)
	}
	if inc.Severity != model.SeverityCritical {
		t.Fatalf("severity = %q, want critical for a 10s burst", inc.Severity)
	}
	if inc.Notified {
		t.Fatal("new incident should not be marked notified")
	}
}

func TestSeveritySlowRunIsHigh(t *testing.T) {
	inc := New(detection("slow", 10*time.Minute))
	if inc.Severity != model.SeverityHigh {
		t.Fatalf("severity = %q, want high for a slow run", inc.Severity)
	}
}

func TestStoreLifecycle(t *testing.T) {
	s := NewStore(10)
	inc := New(detection("run1", time.Second))
	s.Add(inc)

	got, ok := s.Get(inc.ID)
	if !ok || got.ID != inc.ID {
		t.Fatalf("get = %+v ok = %v", got, ok)
	}
	if !s.MarkNotified(inc.ID) {
		t.Fatal("mark notified should find the incident")
	}
	if got, _ := s.Get(inc.ID); !got.Notified {
		t.Fatal("notified flag should persist")
	}
	if !s.Close(inc.ID) {
		t.Fatal("close should find the incident")
	}
	if got, _ := s.Get(inc.ID); got.Status != model.IncidentStatusClosed {
		t.Fatalf("status = %q, want closed", got.Status)
	}
	if s.Close("missing") {
		t.Fatal("closing an unknown id should report false")
	}
}

func TestStoreListNewestFirstWithStatusFilter(t *testing.T) {
	s := NewStore(10)
	var ids []string
	for i := 0; i < 4; i++ {
		inc := New(detection(fmt.Sprintf("run%d", i), time.Second))
		s.Add(inc)
		ids = append(ids, inc.ID)
	}
	s.Close(ids[1])

	all := s.List(0, "")
	if len(all) != 4 || all[0].ID != ids[3] {
		t.Fatalf("list = %d entries, first %s", len(all), all[0].ID)
	}
	open := s.List(0, model.IncidentStatusOpen)
	if len(open) != 3 {
		t.Fatalf("open = %d, want 3", len(open))
	}
	closed := s.List(0, model.IncidentStatusClosed)
	if len(closed) != 1 || closed[0].ID != ids[1] {
		t.Fatalf("closed = %v", closed)
	}
	limited := s.List(2, "")
	if len(limited) != 2 {
		t.Fatalf("limited = %d, want 2", len(limited))
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(2)
	first := New(detection("run0", time.Second))
	s.Add(first)
	s.Add(New(detection("run1", time.Second)))
	s.Add(New(detection("run2", time.Second)))
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	if _, ok := s.Get(first.ID); ok {
		t.Fatal("oldest incident should be evicted")
	}
}
