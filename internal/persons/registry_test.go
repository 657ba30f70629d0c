package persons

import (
	"testing"
	"time"

	"github.com/Maaku050/Sentrilock/internal/model"
)

// 2024-01-01 is a Monday.
func monday(hour, min int) time.Time {
	return time.Date(2024, 1, 1, hour, min, 0, 0, time.UTC)
}

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry(nil)
	p := r.Create("  Riley Stone  ", []model.RoomGrant{{RoomID: "room-a"}})
	if p.ID == "" {
		t.Fatal("expected generated id")
	}
	if p.Name != "Riley Stone" {
		t.Fatalf("name = %q, want trimmed", p.Name)
	}
	got, ok := r.Get(p.ID)
	if !ok || got.Name != "Riley Stone" {
		t.Fatalf("get = %+v ok = %v", got, ok)
	}
}

func TestUpdateReplacesGrants(t *testing.T) {
	r := NewRegistry(nil)
	p := r.Create("Riley", []model.RoomGrant{{RoomID: "room-a"}})
	updated, ok := r.Update(p.ID, "", []model.RoomGrant{{RoomID: "room-b"}})
	if !ok {
		t.Fatal("update should find the person")
	}
	if updated.Name != "Riley" {
		t.Fatalf("empty name should keep the old one, got %q", updated.Name)
	}
	if len(updated.Grants) != 1 || updated.Grants[0].RoomID != "room-b" {
		t.Fatalf("grants = %+v", updated.Grants)
	}
	if !updated.UpdatedAt.After(p.UpdatedAt) && !updated.UpdatedAt.Equal(p.UpdatedAt) {
		t.Fatal("updated_at should move forward")
	}
	if _, ok := r.Update("missing", "X", nil); ok {
		t.Fatal("updating an unknown id should report false")
	}
}

func TestDelete(t *testing.T) {
	r := NewRegistry(nil)
	p := r.Create("Riley", nil)
	if !r.Delete(p.ID) {
		t.Fatal("delete should report true")
	}
	if r.Delete(p.ID) {
		t.Fatal("second delete should report false")
	}
	if r.Len() != 0 {
		t.Fatalf("len = %d, want 0", r.Len())
	}
}

func TestListSortedByName(t *testing.T) {
	r := NewRegistry(nil)
	r.Create("Zoe", nil)
	r.Create("Ada", nil)
	r.Create("Mia", nil)
	list := r.List()
	if len(list) != 3 || list[0].Name != "Ada" || list[2].Name != "Zoe" {
		t.Fatalf("list order = %v", []string{list[0].Name, list[1].Name, list[2].Name})
	}
}

func TestAllowedAt(t *testing.T) {
	r := NewRegistry(nil)
	r.Create("Weekday Rita", []model.RoomGrant{{
		RoomID: "lab",
		Days:   []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		From:   "09:00",
		To:     "17:00",
	}})
	r.Create("Anytime Ana", []model.RoomGrant{{RoomID: "lab"}})
	r.Create("Other Omar", []model.RoomGrant{{RoomID: "vault"}})

	during := r.AllowedAt("lab", monday(10, 0))
	if len(during) != 2 {
		t.Fatalf("allowed during office hours = %d, want 2", len(during))
	}
	if during[0].Name != "Anytime Ana" || during[1].Name != "Weekday Rita" {
		t.Fatalf("allowed order = %v", []string{during[0].Name, during[1].Name})
	}

	night := r.AllowedAt("lab", monday(22, 0))
	if len(night) != 1 || night[0].Name != "Anytime Ana" {
		t.Fatalf("allowed at night = %v", night)
	}

	vault := r.AllowedAt("vault", monday(10, 0))
	if len(vault) != 1 || vault[0].Name != "Other Omar" {
		t.Fatalf("vault allowed = %v", vault)
	}
}
