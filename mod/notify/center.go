package notify

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
)

// Event types delivered to pages
const (
	EventNotification = "notification"
	EventClose        = "close"
	EventOpenWindow   = "openWindow"
)

// Event is a command for the page: show or close a notification, or open a window
type Event struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
	ID           string        `json:"id,omitempty"`
	URL          string        `json:"url,omitempty"`
}

// Sink delivers events to whatever renders them
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a plain function to Sink
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Center shows and closes notifications and opens client windows.
// Shown notifications are remembered for Retention so clicks can find them.
type Center struct {
	sink   Sink
	shown  *ttlcache.Cache[string, Notification]
	logger *zap.Logger
	stop   sync.Once
}

// CenterConfig holds configuration for the notification center
type CenterConfig struct {
	Sink      Sink
	Retention time.Duration
	Logger    *zap.Logger
}

// NewCenter creates a notification center and starts expiring old entries
func NewCenter(cfg CenterConfig) *Center {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Sink == nil {
		cfg.Sink = SinkFunc(func(context.Context, Event) error { return nil })
	}

	shown := ttlcache.New[string, Notification](
		ttlcache.WithTTL[string, Notification](cfg.Retention),
	)
	go shown.Start()

	return &Center{sink: cfg.Sink, shown: shown, logger: cfg.Logger}
}

// Show delivers a notification and remembers it
func (c *Center) Show(ctx context.Context, n Notification) error {
	c.shown.Set(n.ID, n, ttlcache.DefaultTTL)
	c.logger.Debug("showing notification", zap.String("id", n.ID), zap.String("title", n.Title))
	return c.sink.Deliver(ctx, Event{Type: EventNotification, Notification: &n})
}

// Close dismisses a notification
func (c *Center) Close(ctx context.Context, id string) error {
	c.shown.Delete(id)
	return c.sink.Deliver(ctx, Event{Type: EventClose, ID: id})
}

// OpenWindow asks a page to open (or focus) a window at url
func (c *Center) OpenWindow(ctx context.Context, url string) error {
	c.logger.Debug("opening client window", zap.String("url", url))
	return c.sink.Deliver(ctx, Event{Type: EventOpenWindow, URL: url})
}

// Lookup returns a notification that is still displayed
func (c *Center) Lookup(id string) (Notification, bool) {
	item := c.shown.Get(id)
	if item == nil {
		return Notification{}, false
	}
	return item.Value(), true
}

// Stop stops the expiry loop
func (c *Center) Stop() {
	c.stop.Do(c.shown.Stop)
}
