package model

import (
	"strconv"
	"strings"
	"time"
)

// Action is the kind of access event a door device reported. The set is
// open: devices may report kinds this service has never seen, and unknown
// values are carried through unchanged.
type Action string

const (
	ActionAuthorizedEntry     Action = "authorized_entry"
	ActionUserLeaving         Action = "user_leaving"
	ActionUnauthorizedAttempt Action = "unauthorized_attempt"
	ActionAdminControl        Action = "admin_control"
)

func (a Action) IsDenial() bool {
	return a == ActionUnauthorizedAttempt
}

// LogEntry is one recorded access event. Entries are created once by the
// device side and never change.
type LogEntry struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId,omitempty"`
	UserName  string    `json:"userName,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Raw       string    `json:"raw,omitempty"`
}

// DetectionResult is a detected run of consecutive denials. RoomID is taken
// from the newest entry in the run: that is the door currently under attack.
// Key identifies the run by its entry IDs and doubles as the notification
// coalescing tag.
type DetectionResult struct {
	Attempts   []LogEntry `json:"attempts"`
	RoomID     string     `json:"roomId"`
	DetectedAt time.Time  `json:"detectedAt"`
	Key        string     `json:"key"`
}

const IncidentTypeConsecutiveDenials = "consecutive_unauthorized_attempts"

const (
	IncidentStatusOpen   = "open"
	IncidentStatusClosed = "closed"
)

const (
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SecurityIncident is the durable audit record written for every detection,
// independent of the live presentation state.
type SecurityIncident struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	RoomID       string     `json:"roomId"`
	AttemptCount int        `json:"attemptCount"`
	Attempts     []LogEntry `json:"attempts"`
	DetectedAt   time.Time  `json:"detectedAt"`
	Status       string     `json:"status"`
	Severity     string     `json:"severity"`
	Notified     bool       `json:"notified"`
}

// Device is a registered operator device, addressed by its push token.
type Device struct {
	Token                string    `json:"token"`
	Operator             string    `json:"operator"`
	Platform             string    `json:"platform,omitempty"`
	NotificationsEnabled bool      `json:"notificationsEnabled"`
	RegisteredAt         time.Time `json:"registeredAt"`
	LastSeenAt           time.Time `json:"lastSeenAt"`
}

// RoomGrant allows a person into one room, optionally restricted to weekdays
// and a daily time window ("HH:MM" inclusive-from, exclusive-to). A window
// with From after To spans midnight.
type RoomGrant struct {
	RoomID string         `json:"roomId"`
	Days   []time.Weekday `json:"days,omitempty"`
	From   string         `json:"from,omitempty"`
	To     string         `json:"to,omitempty"`
}

func (g RoomGrant) AllowsAt(roomID string, t time.Time) bool {
	if g.RoomID != roomID {
		return false
	}
	if len(g.Days) > 0 {
		ok := false
		for _, d := range g.Days {
			if d == t.Weekday() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	from, hasFrom := parseMinute(g.From)
	to, hasTo := parseMinute(g.To)
	if !hasFrom && !hasTo {
		return true
	}
	now := t.Hour()*60 + t.Minute()
	switch {
	case !hasFrom:
		return now < to
	case !hasTo:
		return now >= from
	case from <= to:
		return now >= from && now < to
	default:
		return now >= from || now < to
	}
}

func parseMinute(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// Person is a registered known person with per-room access grants. The door
// devices make the actual access decision; this record is what the console
// manages and displays.
type Person struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Grants    []RoomGrant `json:"grants,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func (p Person) AllowedAt(roomID string, t time.Time) bool {
	for _, g := range p.Grants {
		if g.AllowsAt(roomID, t) {
			return true
		}
	}
	return false
}

// Notification is the local notice view-model handed to operator consoles.
// Tag coalesces repeated delivery of the same detection.
type Notification struct {
	Tag                string    `json:"tag"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	Icon               string    `json:"icon,omitempty"`
	RequireInteraction bool      `json:"requireInteraction"`
	Vibration          []int     `json:"vibration,omitempty"`
	ClickURL           string    `json:"clickUrl,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}
