package devicectl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/model"
)

func TestUnlockPostsToRoomPath(t *testing.T) {
	var gotPath, gotKey, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(config.DeviceControlConfig{BaseURL: srv.URL, APIKey: "secret"})
	if err := c.Unlock(context.Background(), "server room"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method = %s", gotMethod)
	}
	if gotPath != "/rooms/server%20room/unlock" && gotPath != "/rooms/server room/unlock" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Fatalf("api key header = %q", gotKey)
	}
}

func TestUnlockWrapsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "door offline", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(config.DeviceControlConfig{BaseURL: srv.URL})
	err := c.Unlock(context.Background(), "lab")
	if err == nil {
		t.Fatal("expected an error for a 502 answer")
	}
	if !strings.Contains(err.Error(), "lab") || !strings.Contains(err.Error(), "502") {
		t.Fatalf("error = %v, want room and status in the message", err)
	}
}

func TestUnlockRequiresRoom(t *testing.T) {
	c := NewClient(config.DeviceControlConfig{BaseURL: "http://unused"})
	if err := c.Unlock(context.Background(), ""); err == nil {
		t.Fatal("expected an error for an empty room id")
	}
}

func TestRegisterPersonSendsPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/persons" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(config.DeviceControlConfig{BaseURL: srv.URL})
	p := model.Person{ID: "p1", Name: "Riley"}
	if err := c.RegisterPerson(context.Background(), p, "img://riley"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got["id"] != "p1" || got["name"] != "Riley" || got["imageRef"] != "img://riley" {
		t.Fatalf("payload = %v", got)
	}
}

func TestRemovePerson(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(config.DeviceControlConfig{BaseURL: srv.URL})
	if err := c.RemovePerson(context.Background(), "p1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/persons/p1" {
		t.Fatalf("saw %s %s", gotMethod, gotPath)
	}
}
