package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/model"
)

// PushOutcome records what happened to each token during one delivery round.
type PushOutcome struct {
	Delivered []string
	Stale     []string
	Failed    []string
}

// pushMessage is the wire format the gateway expects, one POST per token.
type pushMessage struct {
	Token        string             `json:"token"`
	Notification model.Notification `json:"notification"`
	Data         pushData           `json:"data"`
}

type pushData struct {
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	RoomID     string   `json:"roomId"`
	AttemptIDs []string `json:"attemptIds"`
}

// PushClient delivers alert notifications to registered devices through an
// FCM style HTTP gateway.
type PushClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

func NewPushClient(cfg config.PushConfig, logger *slog.Logger) *PushClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PushClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Send posts the notification to every token and sorts the outcomes. A 4xx
// answer means the gateway rejected the token itself, so the caller should
// drop it from the registry. Network errors and 5xx answers are transient
// and leave the token registered.
func (c *PushClient) Send(ctx context.Context, tokens []string, n model.Notification, inc model.SecurityIncident) PushOutcome {
	var out PushOutcome
	if c.endpoint == "" || len(tokens) == 0 {
		return out
	}

	data := pushData{
		Type:       "security_alert",
		Severity:   inc.Severity,
		RoomID:     inc.RoomID,
		AttemptIDs: make([]string, 0, len(inc.Attempts)),
	}
	for _, a := range inc.Attempts {
		data.AttemptIDs = append(data.AttemptIDs, a.ID)
	}

	for _, token := range tokens {
		err := c.post(ctx, pushMessage{Token: token, Notification: n, Data: data})
		switch {
		case err == nil:
			out.Delivered = append(out.Delivered, token)
		case isStaleToken(err):
			out.Stale = append(out.Stale, token)
			if c.logger != nil {
				c.logger.Warn("push token rejected by gateway", "token", shorten(token), "error", err)
			}
		default:
			out.Failed = append(out.Failed, token)
			if c.logger != nil {
				c.logger.Warn("push delivery failed", "token", shorten(token), "error", err)
			}
		}
	}
	return out
}

func (c *PushClient) post(ctx context.Context, msg pushMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding push message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "key="+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to push gateway: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &gatewayError{status: resp.StatusCode}
}

// gatewayError marks a non-2xx answer so Send can tell stale tokens from
// transient gateway trouble.
type gatewayError struct {
	status int
}

func (e *gatewayError) Error() string {
	return fmt.Sprintf("push gateway returned %d", e.status)
}

func isStaleToken(err error) bool {
	ge, ok := err.(*gatewayError)
	return ok && ge.status >= 400 && ge.status < 500 && ge.status != http.StatusTooManyRequests
}

// shorten trims a token for logging. Full tokens stay out of the logs.
func shorten(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
