// Package devicectl talks to the site's device-control service, the system
// that actually drives the door hardware. The console asks it to unlock
// rooms and to enroll people on the recognition devices; it never touches
// the hardware itself.
package devicectl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/model"
)

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(cfg config.DeviceControlConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Unlock asks the device-control service to release the door of a room.
// The device side logs the resulting admin_control entry, it shows up in
// the feed like any other event.
func (c *Client) Unlock(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("unlock: room id is required")
	}
	path := "/rooms/" + url.PathEscape(roomID) + "/unlock"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("unlocking room %s: %w", roomID, err)
	}
	return nil
}

// RegisterPerson enrolls a person on the recognition devices. imageRef
// points at the face image the devices should train on, as a URL or an
// identifier the device-control service understands.
func (c *Client) RegisterPerson(ctx context.Context, p model.Person, imageRef string) error {
	if p.ID == "" {
		return fmt.Errorf("register person: person id is required")
	}
	payload := map[string]any{
		"id":   p.ID,
		"name": p.Name,
	}
	if imageRef != "" {
		payload["imageRef"] = imageRef
	}
	if err := c.do(ctx, http.MethodPost, "/persons", payload, nil); err != nil {
		return fmt.Errorf("registering person %s: %w", p.ID, err)
	}
	return nil
}

// RemovePerson drops a person from the recognition devices.
func (c *Client) RemovePerson(ctx context.Context, personID string) error {
	if personID == "" {
		return fmt.Errorf("remove person: person id is required")
	}
	path := "/persons/" + url.PathEscape(personID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("removing person %s: %w", personID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("device control returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}
