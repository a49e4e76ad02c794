// Package notify keeps the short-lived notifications a board client shows
// for mutation outcomes, remote changes and connection status.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskboard-live/backend/internal/buffer"
)

// Type is the severity of a notification.
type Type string

const (
	Success Type = "success"
	Info    Type = "info"
	Warning Type = "warning"
	Error   Type = "error"
)

// DefaultTTL is how long a notification stays active when none is given.
const DefaultTTL = 5 * time.Second

// Notification is an ephemeral message. It is never persisted.
type Notification struct {
	ID        string        `json:"id"`
	Type      Type          `json:"type"`
	Message   string        `json:"message"`
	TTL       time.Duration `json:"ttl"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ExpiresAt returns the time the notification expires.
func (n Notification) ExpiresAt() time.Time {
	return n.CreatedAt.Add(n.TTL)
}

// Expired reports whether the notification has expired at now.
func (n Notification) Expired(now time.Time) bool {
	return !now.Before(n.ExpiresAt())
}

// Listener is called for every notification added or replaced.
type Listener func(Notification)

// Center holds the active notifications and a bounded history.
type Center struct {
	mu         sync.Mutex
	active     []Notification
	history    *buffer.Ring[Notification]
	now        func() time.Time
	defaultTTL time.Duration
	listeners  []Listener
}

// Option configures a Center.
type Option func(*Center)

// WithClock sets the time source. Tests use it to expire notifications.
func WithClock(now func() time.Time) Option {
	return func(c *Center) {
		c.now = now
	}
}

// WithDefaultTTL sets the TTL used when a notification has none.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Center) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithHistory sets how many past notifications are kept.
func WithHistory(n int) Option {
	return func(c *Center) {
		c.history = buffer.NewRing[Notification](n)
	}
}

// WithListener registers a listener.
func WithListener(l Listener) Option {
	return func(c *Center) {
		c.listeners = append(c.listeners, l)
	}
}

// NewCenter creates a notification center.
func NewCenter(opts ...Option) *Center {
	c := &Center{
		history:    buffer.NewRing[Notification](100),
		now:        time.Now,
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add stores n, replacing an active notification with the same ID in place.
// A missing ID, TTL or creation time is filled in. It returns the stored value.
func (c *Center) Add(n Notification) Notification {
	c.mu.Lock()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.TTL <= 0 {
		n.TTL = c.defaultTTL
	}
	n.CreatedAt = c.now()

	replaced := false
	for i := range c.active {
		if c.active[i].ID == n.ID {
			c.active[i] = n
			replaced = true
			break
		}
	}
	if !replaced {
		c.active = append(c.active, n)
	}
	c.history.Push(n)
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l(n)
	}
	return n
}

// Notify adds a notification with a fresh ID.
func (c *Center) Notify(typ Type, message string, ttl time.Duration) Notification {
	return c.Add(Notification{Type: typ, Message: message, TTL: ttl})
}

// Dismiss removes an active notification. It reports whether it was active.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.active {
		if c.active[i].ID == id {
			c.active = append(c.active[:i], c.active[i+1:]...)
			return true
		}
	}
	return false
}

// Active returns the unexpired notifications, oldest first.
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked()
	return append([]Notification(nil), c.active...)
}

// Prune drops expired notifications and returns how many were dropped.
func (c *Center) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneLocked()
}

func (c *Center) pruneLocked() int {
	now := c.now()
	kept := c.active[:0]
	for _, n := range c.active {
		if !n.Expired(now) {
			kept = append(kept, n)
		}
	}
	dropped := len(c.active) - len(kept)
	c.active = kept
	return dropped
}

// Clear drops every active notification.
func (c *Center) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
}

// History returns recent notifications, oldest first, expired ones included.
func (c *Center) History() []Notification {
	return c.history.Items()
}

// Run prunes expired notifications every interval until ctx is done.
func (c *Center) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Prune()
		}
	}
}
