package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/model"
)

// EntryFields holds the raw string fields pulled out of one access log
// document before normalization.
type EntryFields struct {
	ID        string
	Action    string
	RoomID    string
	UserID    string
	UserName  string
	Timestamp string
	Source    string
	Extras    map[string]string
	Raw       string
}

// ParseEntryJSON decodes a single JSON access log document into EntryFields.
func ParseEntryJSON(data []byte) (*EntryFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	fields := ParseEntryMap(obj)
	fields.Raw = string(data)
	return fields, nil
}

// ParseEntryMap flattens a decoded document into EntryFields. Nested objects
// such as {"user": {"name": ...}} are flattened one level with an underscore,
// so user.name becomes the extras key "user_name".
func ParseEntryMap(obj map[string]interface{}) *EntryFields {
	fields := &EntryFields{Extras: map[string]string{}}
	for key, val := range obj {
		lower := strings.ToLower(key)
		if nested, ok := val.(map[string]interface{}); ok {
			for nk, nv := range nested {
				fields.Extras[lower+"_"+strings.ToLower(nk)] = fmt.Sprint(nv)
			}
			continue
		}
		fields.Extras[lower] = fmt.Sprint(val)
	}
	fields.ID = firstNonEmpty(fields.Extras, "id", "_id", "entry_id", "entryid", "doc_id", "docid")
	fields.Action = firstNonEmpty(fields.Extras, "action", "event", "type", "kind")
	fields.RoomID = firstNonEmpty(fields.Extras, "roomid", "room_id", "room", "door", "door_id", "doorid")
	fields.UserID = firstNonEmpty(fields.Extras, "userid", "user_id", "uid", "person_id", "personid")
	fields.UserName = firstNonEmpty(fields.Extras, "username", "user_name")
	fields.Timestamp = firstNonEmpty(fields.Extras, "timestamp", "time", "ts", "created_at", "createdat")
	return fields
}

func firstNonEmpty(extras map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(extras[key]); v != "" {
			return v
		}
	}
	return ""
}

// Normalize turns raw fields into a LogEntry. Entries without an action are
// rejected; a missing ID gets a generated one so de-duplication stays stable.
func Normalize(fields EntryFields, cfg *config.Config) (model.LogEntry, error) {
	action := ParseAction(fields.Action)
	if action == "" {
		return model.LogEntry{}, errors.New("missing action")
	}

	room := strings.TrimSpace(fields.RoomID)
	if room == "" {
		room = cfg.Feed.Parser.DefaultRoomID
	}

	loc := time.UTC
	if cfg.Feed.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Feed.Parser.Timezone); err == nil {
			loc = l
		}
	}

	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.LogEntry{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	id := strings.TrimSpace(fields.ID)
	if id == "" {
		id = uuid.NewString()
	}

	source := fields.Source
	if source == "" {
		source = "feed"
	}

	return model.LogEntry{
		ID:        id,
		Action:    action,
		RoomID:    room,
		UserID:    strings.TrimSpace(fields.UserID),
		UserName:  strings.TrimSpace(fields.UserName),
		Timestamp: ts,
		Source:    source,
		Raw:       fields.Raw,
	}, nil
}

// ParseAction maps the action spellings seen across door firmware revisions
// onto the canonical set. Unknown actions pass through lowercased so the log
// stays lossless.
func ParseAction(action string) model.Action {
	n := strings.ToLower(strings.TrimSpace(action))
	switch n {
	case "":
		return ""
	case "authorized_entry", "authorized", "granted", "access_granted", "entry", "allow", "allowed":
		return model.ActionAuthorizedEntry
	case "unauthorized_attempt", "unauthorized", "denied", "deny", "access_denied", "rejected", "reject", "refused":
		return model.ActionUnauthorizedAttempt
	case "user_leaving", "leaving", "exit", "left", "egress":
		return model.ActionUserLeaving
	case "admin_control", "admin", "remote_unlock", "override":
		return model.ActionAdminControl
	}
	return model.Action(strings.ReplaceAll(n, " ", "_"))
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"Jan 02 15:04:05",
	"Jan 2 15:04:05",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if layout == "Jan 02 15:04:05" || layout == "Jan 2 15:04:05" {
			if t, err := time.ParseInLocation(layout, value, loc); err == nil {
				now := time.Now().In(loc)
				return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
			}
			continue
		}
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
