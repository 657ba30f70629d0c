package devices

import (
	"testing"

	"github.com/Maaku050/Sentrilock/internal/model"
)

func TestRegisterUpsert(t *testing.T) {
	r := NewRegistry(nil)
	first := r.Register(model.Device{Token: "tok-1", Operator: "day-shift", Platform: "web", NotificationsEnabled: true})
	if first.RegisteredAt.IsZero() || first.LastSeenAt.IsZero() {
		t.Fatal("registration should stamp times")
	}

	again := r.Register(model.Device{Token: "tok-1", Operator: "night-shift", Platform: "web", NotificationsEnabled: true})
	if !again.RegisteredAt.Equal(first.RegisteredAt) {
		t.Fatal("re-registering must keep the original registration time")
	}
	if again.Operator != "night-shift" {
		t.Fatalf("operator = %q, want updated value", again.Operator)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestTokensHonorEnabledFlag(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(model.Device{Token: "tok-a", NotificationsEnabled: true})
	r.Register(model.Device{Token: "tok-b", NotificationsEnabled: true})
	if !r.SetEnabled("tok-b", false) {
		t.Fatal("set enabled should find the device")
	}
	if r.SetEnabled("missing", false) {
		t.Fatal("set enabled on unknown token should report false")
	}

	all := r.Tokens(false)
	if len(all) != 2 {
		t.Fatalf("all tokens = %v", all)
	}
	enabled := r.Tokens(true)
	if len(enabled) != 1 || enabled[0] != "tok-a" {
		t.Fatalf("enabled tokens = %v, want [tok-a]", enabled)
	}
}

func TestPruneRemovesStaleTokens(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(model.Device{Token: "tok-a", NotificationsEnabled: true})
	r.Register(model.Device{Token: "tok-b", NotificationsEnabled: true})
	r.Register(model.Device{Token: "tok-c", NotificationsEnabled: true})

	removed := r.Prune([]string{"tok-b", "tok-x"})
	if removed != 1 {
		t.Fatalf("pruned = %d, want 1", removed)
	}
	if _, ok := r.Get("tok-b"); ok {
		t.Fatal("pruned token should be gone")
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(model.Device{Token: "tok-a"})
	if !r.Remove("tok-a") {
		t.Fatal("remove should report true for a known token")
	}
	if r.Remove("tok-a") {
		t.Fatal("second remove should report false")
	}
}
