package dispatch

import (
	"sync"

	"github.com/Maaku050/Sentrilock/internal/model"
)

// NoticeCenter keeps the notifications the console surfaces to operators.
// Notices coalesce by tag: re-publishing a tag replaces the earlier notice
// instead of stacking a duplicate, so a redelivered alert shows up once.
type NoticeCenter struct {
	mu      sync.Mutex
	notices []model.Notification
	limit   int
}

func NewNoticeCenter(limit int) *NoticeCenter {
	if limit <= 0 {
		limit = 100
	}
	return &NoticeCenter{
		notices: make([]model.Notification, 0, limit),
		limit:   limit,
	}
}

// Publish adds a notice, replacing any existing notice carrying the same tag.
// The refreshed notice moves to the front so operators see it as current.
func (c *NoticeCenter) Publish(n model.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.notices {
		if c.notices[i].Tag == n.Tag && n.Tag != "" {
			copy(c.notices[1:i+1], c.notices[:i])
			c.notices[0] = n
			return
		}
	}

	if len(c.notices) >= c.limit {
		c.notices = c.notices[:c.limit-1]
	}
	c.notices = append(c.notices, model.Notification{})
	copy(c.notices[1:], c.notices)
	c.notices[0] = n
}

// List returns the notices newest first.
func (c *NoticeCenter) List() []model.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Notification, len(c.notices))
	copy(out, c.notices)
	return out
}

// Dismiss removes the notice with the given tag.
func (c *NoticeCenter) Dismiss(tag string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.notices {
		if c.notices[i].Tag == tag {
			c.notices = append(c.notices[:i], c.notices[i+1:]...)
			return true
		}
	}
	return false
}

func (c *NoticeCenter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notices)
}

func (c *NoticeCenter) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = c.notices[:0]
}
