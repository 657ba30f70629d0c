package persons

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Maaku050/Sentrilock/internal/model"
	"github.com/Maaku050/Sentrilock/internal/storage"
)

// Registry is the roster of people with door grants. It backs both the admin
// CRUD surface and the per-room "who is allowed right now" view. Changes
// write through to storage when a store is configured.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]model.Person
	store storage.Store
}

func NewRegistry(store storage.Store) *Registry {
	return &Registry{
		byID:  make(map[string]model.Person),
		store: store,
	}
}

// Load restores the roster from storage at startup.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	list, err := r.store.ListPersons(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for _, p := range list {
		r.byID[p.ID] = p
	}
	r.mu.Unlock()
	return nil
}

func (r *Registry) Create(name string, grants []model.RoomGrant) model.Person {
	now := time.Now().UTC()
	p := model.Person{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Grants:    copyGrants(grants),
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.byID[p.ID] = p
	r.mu.Unlock()
	if r.store != nil {
		_ = r.store.SavePerson(context.Background(), p)
	}
	return p
}

// Update replaces name and grants. Passing nil grants clears them.
func (r *Registry) Update(id string, name string, grants []model.RoomGrant) (model.Person, bool) {
	r.mu.Lock()
	p, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return model.Person{}, false
	}
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		p.Name = trimmed
	}
	p.Grants = copyGrants(grants)
	p.UpdatedAt = time.Now().UTC()
	r.byID[id] = p
	r.mu.Unlock()
	if r.store != nil {
		_ = r.store.SavePerson(context.Background(), p)
	}
	return p, true
}

func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	_, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
	}
	r.mu.Unlock()
	if ok && r.store != nil {
		_ = r.store.DeletePerson(context.Background(), id)
	}
	return ok
}

func (r *Registry) Get(id string) (model.Person, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// List returns the roster sorted by name, then ID for stable ordering.
func (r *Registry) List() []model.Person {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Person, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// AllowedAt returns everyone whose grants admit them to the room at the given
// time, sorted by name.
func (r *Registry) AllowedAt(roomID string, t time.Time) []model.Person {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Person, 0)
	for _, p := range r.byID {
		if p.AllowedAt(roomID, t) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func copyGrants(grants []model.RoomGrant) []model.RoomGrant {
	if len(grants) == 0 {
		return nil
	}
	out := make([]model.RoomGrant, len(grants))
	copy(out, grants)
	for i := range out {
		if len(grants[i].Days) > 0 {
			out[i].Days = append([]time.Weekday{}, grants[i].Days...)
		}
	}
	return out
}
