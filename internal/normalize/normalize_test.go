package normalize

import (
	"testing"
	"time"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/model"
)

func TestParseEntryJSONDocument(t *testing.T) {
	doc := `{"id":"e-100","action":"unauthorized_attempt","roomId":"room-a","userId":"u-9","user":{"name":"Riley Stone"},"timestamp":"2024-03-01T10:00:00Z"}`
	fields, err := ParseEntryJSON([]byte(doc))
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if fields.ID != "e-100" {
		t.Fatalf("id = %q", fields.ID)
	}
	if fields.Action != "unauthorized_attempt" {
		t.Fatalf("action = %q", fields.Action)
	}
	if fields.RoomID != "room-a" {
		t.Fatalf("room = %q", fields.RoomID)
	}
	if fields.UserID != "u-9" {
		t.Fatalf("user id = %q", fields.UserID)
	}
	if fields.UserName != "Riley Stone" {
		t.Fatalf("user name = %q", fields.UserName)
	}
	if fields.Timestamp != "2024-03-01T10:00:00Z" {
		t.Fatalf("timestamp = %q", fields.Timestamp)
	}
	if fields.Raw == "" {
		t.Fatal("raw should keep the original document")
	}
}

func TestParseEntryMapAliases(t *testing.T) {
	fields := ParseEntryMap(map[string]interface{}{
		"_id":     "doc-1",
		"event":   "denied",
		"door_id": "west-2",
		"uid":     "u-1",
		"ts":      "1709290800",
	})
	if fields.ID != "doc-1" {
		t.Fatalf("id = %q", fields.ID)
	}
	if fields.Action != "denied" {
		t.Fatalf("action = %q", fields.Action)
	}
	if fields.RoomID != "west-2" {
		t.Fatalf("room = %q", fields.RoomID)
	}
	if fields.UserID != "u-1" {
		t.Fatalf("user id = %q", fields.UserID)
	}
	if fields.Timestamp != "1709290800" {
		t.Fatalf("timestamp = %q", fields.Timestamp)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	entry, err := Normalize(EntryFields{Action: "granted"}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("expected generated id")
	}
	if entry.Action != model.ActionAuthorizedEntry {
		t.Fatalf("action = %q", entry.Action)
	}
	if entry.RoomID != "unknown" {
		t.Fatalf("room = %q, want default", entry.RoomID)
	}
	if entry.Timestamp.IsZero() {
		t.Fatal("expected timestamp default")
	}
	if entry.Source != "feed" {
		t.Fatalf("source = %q", entry.Source)
	}
}

func TestNormalizeRejectsMissingAction(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := Normalize(EntryFields{RoomID: "room-a"}, cfg); err == nil {
		t.Fatal("expected error for missing action")
	}
}

func TestNormalizeParsesTimestampUTC(t *testing.T) {
	cfg := config.DefaultConfig()
	entry, err := Normalize(EntryFields{Action: "denied", Timestamp: "2024-03-01T10:00:00+02:00"}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	if !entry.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", entry.Timestamp, want)
	}
}

func TestParseActionAliases(t *testing.T) {
	cases := map[string]model.Action{
		"denied":               model.ActionUnauthorizedAttempt,
		"Unauthorized":         model.ActionUnauthorizedAttempt,
		"access_denied":        model.ActionUnauthorizedAttempt,
		"granted":              model.ActionAuthorizedEntry,
		"authorized_entry":     model.ActionAuthorizedEntry,
		"exit":                 model.ActionUserLeaving,
		"user_leaving":         model.ActionUserLeaving,
		"remote_unlock":        model.ActionAdminControl,
		"unauthorized_attempt": model.ActionUnauthorizedAttempt,
	}
	for in, want := range cases {
		if got := ParseAction(in); got != want {
			t.Fatalf("ParseAction(%q) = %q, want %q", in, got, want)
		}
	}
	if got := ParseAction("Badge Review"); got != model.Action("badge_review") {
		t.Fatalf("unknown action should pass through lowercased, got %q", got)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	loc := time.UTC
	if _, err := ParseTimestamp("2024-03-01T10:00:00Z", loc); err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	ts, err := ParseTimestamp("1709290800", loc)
	if err != nil {
		t.Fatalf("unix seconds: %v", err)
	}
	if ts.Year() != 2024 {
		t.Fatalf("unix seconds year = %d", ts.Year())
	}
	ms, err := ParseTimestamp("1709290800000", loc)
	if err != nil {
		t.Fatalf("unix millis: %v", err)
	}
	if !ms.Equal(ts) {
		t.Fatalf("millis %v != seconds %v", ms, ts)
	}
	if _, err := ParseTimestamp("not-a-time", loc); err == nil {
		t.Fatal("expected error for garbage timestamp")
	}
}
