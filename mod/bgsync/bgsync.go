// Package bgsync is the extension point for flushing offline actions
// (pending likes, pending downloads) when connectivity returns.
//
// There is no durable queue here. The host application plugs its own Handler
// in; returning an error asks the caller to retry the sync later.
package bgsync

import (
	"context"

	"go.uber.org/zap"
)

// DefaultTag is the sync tag the client registers for offline actions
const DefaultTag = "offline-actions"

// Handler flushes queued offline actions
type Handler interface {
	Sync(ctx context.Context) error
}

// Func adapts a plain function to Handler
type Func func(ctx context.Context) error

func (f Func) Sync(ctx context.Context) error { return f(ctx) }

// LogOnly is the default stub: it logs the invocation and always succeeds
type LogOnly struct {
	Logger *zap.Logger
}

func (l LogOnly) Sync(ctx context.Context) error {
	if l.Logger != nil {
		l.Logger.Info("background sync requested, no offline action queue configured")
	}
	return nil
}
