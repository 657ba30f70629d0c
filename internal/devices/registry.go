package devices

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Maaku050/Sentrilock/internal/model"
	"github.com/Maaku050/Sentrilock/internal/storage"
)

// Registry tracks operator devices registered for push alerts, keyed by push
// token. Changes write through to storage when a store is configured.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]model.Device
	store   storage.Store
}

func NewRegistry(store storage.Store) *Registry {
	return &Registry{
		devices: make(map[string]model.Device),
		store:   store,
	}
}

// Load restores registered devices from storage at startup.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	list, err := r.store.ListDevices(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for _, d := range list {
		r.devices[d.Token] = d
	}
	r.mu.Unlock()
	return nil
}

// Register upserts a device. Re-registering an existing token keeps its
// original registration time and refreshes last seen.
func (r *Registry) Register(d model.Device) model.Device {
	now := time.Now().UTC()
	r.mu.Lock()
	if existing, ok := r.devices[d.Token]; ok {
		d.RegisteredAt = existing.RegisteredAt
	} else if d.RegisteredAt.IsZero() {
		d.RegisteredAt = now
	}
	d.LastSeenAt = now
	r.devices[d.Token] = d
	r.mu.Unlock()
	if r.store != nil {
		_ = r.store.SaveDevice(context.Background(), d)
	}
	return d
}

func (r *Registry) SetEnabled(token string, enabled bool) bool {
	r.mu.Lock()
	d, ok := r.devices[token]
	if !ok {
		r.mu.Unlock()
		return false
	}
	d.NotificationsEnabled = enabled
	d.LastSeenAt = time.Now().UTC()
	r.devices[token] = d
	r.mu.Unlock()
	if r.store != nil {
		_ = r.store.SaveDevice(context.Background(), d)
	}
	return true
}

// Touch refreshes last seen after a successful delivery.
func (r *Registry) Touch(token string) {
	r.mu.Lock()
	if d, ok := r.devices[token]; ok {
		d.LastSeenAt = time.Now().UTC()
		r.devices[token] = d
	}
	r.mu.Unlock()
}

func (r *Registry) Remove(token string) bool {
	r.mu.Lock()
	_, ok := r.devices[token]
	if ok {
		delete(r.devices, token)
	}
	r.mu.Unlock()
	if ok && r.store != nil {
		_ = r.store.DeleteDevice(context.Background(), token)
	}
	return ok
}

func (r *Registry) Get(token string) (model.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[token]
	return d, ok
}

// List returns all devices, oldest registration first.
func (r *Registry) List() []model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].Token < out[j].Token
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

// Tokens returns delivery targets. With enabledOnly, muted devices stay
// registered but receive nothing.
func (r *Registry) Tokens(enabledOnly bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.devices))
	for token, d := range r.devices {
		if enabledOnly && !d.NotificationsEnabled {
			continue
		}
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// Prune drops tokens the push gateway rejected as no longer valid. Returns
// how many were removed.
func (r *Registry) Prune(tokens []string) int {
	if len(tokens) == 0 {
		return 0
	}
	removed := 0
	r.mu.Lock()
	for _, token := range tokens {
		if _, ok := r.devices[token]; ok {
			delete(r.devices, token)
			removed++
		}
	}
	r.mu.Unlock()
	if r.store != nil {
		for _, token := range tokens {
			_ = r.store.DeleteDevice(context.Background(), token)
		}
	}
	return removed
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
