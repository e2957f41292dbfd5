package offline

import (
	"bytes"
	"context"
	"errors"

	"go.uber.org/zap"

	"usexplo.com/offlinecache/mod/notify"
)

// NotificationClick is a user interaction with a shown notification.
// Action is empty when the notification body itself was clicked.
type NotificationClick struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

// Message is a control message posted by a page
type Message struct {
	Type string `json:"type"`
}

// HandlePush shows a notification for a push message. Empty data shows
// nothing. Malformed data still shows a generic notification.
func (m *Manager) HandlePush(ctx context.Context, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		m.logger.Debug("push without payload, nothing to show")
		return nil
	}

	payload, err := notify.ParsePayload(data, m.notifications.AppName)
	if errors.Is(err, notify.ErrMalformedPayload) {
		m.logger.Warn("malformed push payload, showing generic notification", zap.Int("size", len(data)))
	}

	n := m.notifications.Build(payload)
	return m.center.Show(ctx, n)
}

// HandleNotificationClick closes the notification and opens at most one
// window: the explore route for explore, the root for a body click.
func (m *Manager) HandleNotificationClick(ctx context.Context, click NotificationClick) error {
	if err := m.center.Close(ctx, click.ID); err != nil {
		return err
	}

	switch click.Action {
	case notify.ActionExplore:
		return m.center.OpenWindow(ctx, m.notifications.ExploreURL)
	case "":
		return m.center.OpenWindow(ctx, "/")
	case notify.ActionClose:
		return nil
	default:
		m.logger.Warn("unknown notification action, treating as close", zap.String("action", click.Action))
		return nil
	}
}

// HandleMessage reacts to control messages. Only the skip-waiting type
// does anything.
func (m *Manager) HandleMessage(ctx context.Context, msg Message) error {
	if msg.Type != m.config.SkipWaitingType {
		m.logger.Debug("ignoring control message", zap.String("type", msg.Type))
		return nil
	}
	m.logger.Info("skip waiting requested")
	return m.SkipWaiting(ctx)
}

// HandleSync runs the background sync handler for the configured tag.
// A returned error asks the host to retry the sync later.
func (m *Manager) HandleSync(ctx context.Context, tag string) error {
	if tag != m.config.SyncTag {
		m.logger.Debug("ignoring sync tag", zap.String("tag", tag))
		return nil
	}
	return m.syncer.Sync(ctx)
}
