package offline

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// ErrSuperseded is returned when a waiting manager that a newer version
// replaced asks to skip waiting
var ErrSuperseded = errors.New("offline: manager superseded by a newer version")

// Registration plays the host runtime: it installs new managers, decides
// when they activate and routes requests to the active one.
//
// A new manager activates right away when nothing is active or no client is
// attached. Otherwise it waits until the last client releases, or until it
// asks to skip waiting.
type Registration struct {
	fetcher Fetcher
	logger  *zap.Logger

	mu      sync.RWMutex
	active  *Manager
	waiting *Manager
	clients int

	// serializes activations
	promoteMu sync.Mutex
}

// NewRegistration creates an empty registration. fetcher serves requests
// while no manager is active.
func NewRegistration(fetcher Fetcher, logger *zap.Logger) *Registration {
	if fetcher == nil {
		fetcher = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registration{fetcher: fetcher, logger: logger}
}

// Register installs m and either activates it or parks it as waiting
func (r *Registration) Register(ctx context.Context, m *Manager) error {
	if _, err := m.Install(ctx); err != nil {
		return err
	}
	m.setSkipWaitingHook(func(ctx context.Context) error {
		return r.promote(ctx, m)
	})

	r.mu.Lock()
	if r.active != nil && r.clients > 0 {
		var replaced *Manager
		if r.waiting != nil && r.waiting != m {
			replaced = r.waiting
		}
		r.waiting = m
		clients := r.clients
		r.mu.Unlock()

		if replaced != nil {
			r.discard(replaced)
		}
		r.logger.Info("manager installed, waiting for clients to release",
			zap.String("version", m.Config().Version),
			zap.Int("clients", clients))
		return nil
	}
	r.mu.Unlock()

	return r.promote(ctx, m)
}

// discard drops a waiting manager that will never activate. Its store is
// left for the next activation to purge.
func (r *Registration) discard(m *Manager) {
	r.logger.Info("replacing waiting manager", zap.String("version", m.Config().Version))
	m.setSkipWaitingHook(func(context.Context) error {
		return ErrSuperseded
	})
	m.Close()
}

// promote activates m and retires the previously active manager
func (r *Registration) promote(ctx context.Context, m *Manager) error {
	r.promoteMu.Lock()
	defer r.promoteMu.Unlock()

	r.mu.RLock()
	already := r.active == m
	r.mu.RUnlock()
	if already {
		return nil
	}

	_, err := m.Activate(ctx)
	if m.State() != StateActive {
		return err
	}
	if err != nil {
		r.logger.Warn("activated with stale store cleanup errors", zap.Error(err))
	}

	r.mu.Lock()
	prev := r.active
	r.active = m
	if r.waiting == m {
		r.waiting = nil
	}
	r.mu.Unlock()

	if prev != nil {
		if err := prev.Retire(); err != nil {
			r.logger.Warn("failed to retire previous manager", zap.Error(err))
		}
		prev.Close()
	}
	return nil
}

// Claim attaches a client to the active manager
func (r *Registration) Claim() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients++
}

// Release detaches a client. Releasing the last one promotes a waiting manager.
func (r *Registration) Release(ctx context.Context) error {
	r.mu.Lock()
	if r.clients > 0 {
		r.clients--
	}
	waiting := r.waiting
	promote := r.clients == 0 && waiting != nil
	r.mu.Unlock()

	if promote {
		return r.promote(ctx, waiting)
	}
	return nil
}

// Clients returns the number of attached clients
func (r *Registration) Clients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients
}

// Active returns the active manager, or nil
func (r *Registration) Active() *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting returns the installed manager waiting for activation, or nil
func (r *Registration) Waiting() *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Fetch routes the request through the active manager, or straight to the
// network when none is active.
func (r *Registration) Fetch(req *http.Request) (*http.Response, error) {
	if m := r.Active(); m != nil {
		return m.Fetch(req)
	}
	return r.fetcher.Do(req)
}
