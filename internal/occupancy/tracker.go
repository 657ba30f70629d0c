package occupancy

import (
	"sort"
	"sync"
	"time"

	"github.com/Maaku050/Sentrilock/internal/model"
)

// Occupant is one person currently inside a room.
type Occupant struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName,omitempty"`
	Since    time.Time `json:"since"`
}

// RoomOccupancy is the presence view for one room. Anonymous counts entries
// that carried no user ID.
type RoomOccupancy struct {
	RoomID    string     `json:"roomId"`
	Occupants []Occupant `json:"occupants"`
	Anonymous int        `json:"anonymous"`
	Count     int        `json:"count"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type roomState struct {
	occupants map[string]Occupant
	anonymous int
	updatedAt time.Time
}

// Tracker derives who is where from the entry stream. It is best effort:
// missed or out-of-order entries drift the picture until the next movement
// corrects it.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
	limit int
}

func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 500
	}
	return &Tracker{rooms: make(map[string]*roomState), limit: limit}
}

// Apply folds one entry into the presence picture. Denials and admin actions
// move nobody.
func (t *Tracker) Apply(e model.LogEntry) {
	switch e.Action {
	case model.ActionAuthorizedEntry:
		t.mu.Lock()
		t.enterLocked(e)
		t.mu.Unlock()
	case model.ActionUserLeaving:
		t.mu.Lock()
		t.leaveLocked(e)
		t.mu.Unlock()
	}
}

func (t *Tracker) enterLocked(e model.LogEntry) {
	room := t.roomLocked(e.RoomID)
	if e.UserID == "" {
		room.anonymous++
	} else {
		// A person is in one room at a time.
		for id, other := range t.rooms {
			if id == e.RoomID {
				continue
			}
			delete(other.occupants, e.UserID)
		}
		room.occupants[e.UserID] = Occupant{UserID: e.UserID, UserName: e.UserName, Since: e.Timestamp}
	}
	room.updatedAt = e.Timestamp
}

func (t *Tracker) leaveLocked(e model.LogEntry) {
	if e.UserID == "" {
		if room, ok := t.rooms[e.RoomID]; ok {
			if room.anonymous > 0 {
				room.anonymous--
			}
			room.updatedAt = e.Timestamp
		}
		return
	}
	if room, ok := t.rooms[e.RoomID]; ok {
		if _, present := room.occupants[e.UserID]; present {
			delete(room.occupants, e.UserID)
			room.updatedAt = e.Timestamp
			return
		}
		room.updatedAt = e.Timestamp
	}
	// Exit logged at a different door than the entry; drop the user wherever
	// they were last seen.
	for _, room := range t.rooms {
		delete(room.occupants, e.UserID)
	}
}

func (t *Tracker) roomLocked(roomID string) *roomState {
	if room, ok := t.rooms[roomID]; ok {
		return room
	}
	if len(t.rooms) >= t.limit {
		t.evictLocked()
	}
	room := &roomState{occupants: make(map[string]Occupant)}
	t.rooms[roomID] = room
	return room
}

func (t *Tracker) evictLocked() {
	var oldestID string
	var oldest time.Time
	first := true
	for id, room := range t.rooms {
		if first || room.updatedAt.Before(oldest) {
			oldestID = id
			oldest = room.updatedAt
			first = false
		}
	}
	if oldestID != "" {
		delete(t.rooms, oldestID)
	}
}

func (t *Tracker) Get(roomID string) (RoomOccupancy, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	room, ok := t.rooms[roomID]
	if !ok {
		return RoomOccupancy{}, false
	}
	return snapshotRoom(roomID, room), true
}

// All returns every tracked room sorted by room ID.
func (t *Tracker) All() []RoomOccupancy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RoomOccupancy, 0, len(t.rooms))
	for id, room := range t.rooms {
		out = append(out, snapshotRoom(id, room))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (t *Tracker) Clear() {
	t.mu.Lock()
	t.rooms = make(map[string]*roomState)
	t.mu.Unlock()
}

func snapshotRoom(id string, room *roomState) RoomOccupancy {
	occupants := make([]Occupant, 0, len(room.occupants))
	for _, o := range room.occupants {
		occupants = append(occupants, o)
	}
	sort.Slice(occupants, func(i, j int) bool { return occupants[i].UserID < occupants[j].UserID })
	return RoomOccupancy{
		RoomID:    id,
		Occupants: occupants,
		Anonymous: room.anonymous,
		Count:     len(occupants) + room.anonymous,
		UpdatedAt: room.updatedAt,
	}
}
