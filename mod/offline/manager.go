package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"usexplo.com/offlinecache/mod/bgsync"
	"usexplo.com/offlinecache/mod/cache"
	"usexplo.com/offlinecache/mod/cacheworker"
	"usexplo.com/offlinecache/mod/fetchstats"
	"usexplo.com/offlinecache/mod/notify"
)

/*
	Offline Cache Manager

	One Manager serves one deployed version. It owns the cache store named
	after that version and answers intercepted requests:

	- api:    network first, cached copy only when the network fails
	- static: cache first, network on miss, only same-origin 200s are stored

	Writes after serving a response are detached through the Writer;
	Flush waits for them.
*/

// InstallReport summarizes precache population
type InstallReport struct {
	Store  string   `json:"store"`
	Cached []string `json:"cached"`
	Failed []string `json:"failed"`
}

// ActivateReport summarizes the purge of stale stores
type ActivateReport struct {
	Store   string   `json:"store"`
	Deleted []string `json:"deleted"`
	Failed  []string `json:"failed"`
}

// Manager is the offline cache manager of one version
type Manager struct {
	config  Config
	origin  *url.URL
	storage cache.Storage
	fetcher Fetcher
	writer  Writer
	keys    *cache.KeyGenerator

	notifications notify.Options
	center        *notify.Center
	syncer        bgsync.Handler
	stats         *fetchstats.Collector
	logger        *zap.Logger

	lifecycle lifecycle

	hookMu        sync.RWMutex
	onSkipWaiting func(ctx context.Context) error

	// collaborators created by New and released by Close
	ownedWorker *cacheworker.Worker
	ownedCenter *notify.Center
	closeOnce   sync.Once
}

// New creates a manager in the installing state
func New(opts Options) (*Manager, error) {
	cfg := opts.Config
	if cfg.Version == "" {
		return nil, errors.New("offline: version is required")
	}
	if err := cache.ValidateName(cfg.CacheName()); err != nil {
		return nil, fmt.Errorf("offline: cache name %q: %w", cfg.CacheName(), err)
	}
	if opts.Storage == nil {
		return nil, errors.New("offline: storage is required")
	}
	if cfg.APIMarker == "" {
		cfg.APIMarker = DefaultAPIMarker
	}
	if cfg.SkipWaitingType == "" {
		cfg.SkipWaitingType = DefaultSkipWaitingType
	}
	if cfg.SyncTag == "" {
		cfg.SyncTag = bgsync.DefaultTag
	}
	if cfg.PrecacheWorkers <= 0 {
		cfg.PrecacheWorkers = DefaultPrecacheWorkers
	}
	if cfg.MaxEntrySize <= 0 {
		cfg.MaxEntrySize = DefaultMaxEntrySize
	}

	var origin *url.URL
	if cfg.Origin != "" {
		u, err := url.Parse(cfg.Origin)
		if err != nil {
			return nil, fmt.Errorf("offline: invalid origin: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("offline: origin %q must be an absolute URL", cfg.Origin)
		}
		origin = u
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("version", cfg.Version))

	m := &Manager{
		config:        cfg,
		origin:        origin,
		storage:       opts.Storage,
		fetcher:       opts.Fetcher,
		writer:        opts.Writer,
		keys:          cache.NewKeyGenerator(),
		notifications: opts.Notifications,
		center:        opts.Center,
		syncer:        opts.Sync,
		stats:         opts.Stats,
		logger:        logger,
	}

	if m.fetcher == nil {
		m.fetcher = http.DefaultClient
	}
	if m.writer == nil {
		wcfg := cacheworker.DefaultConfig()
		wcfg.Logger = logger
		m.ownedWorker = cacheworker.NewWorker(wcfg)
		m.ownedWorker.Start()
		m.writer = m.ownedWorker
	}
	if m.notifications.AppName == "" {
		m.notifications = notify.DefaultOptions()
	}
	if m.center == nil {
		m.ownedCenter = notify.NewCenter(notify.CenterConfig{Logger: logger})
		m.center = m.ownedCenter
	}
	if m.syncer == nil {
		m.syncer = bgsync.LogOnly{Logger: logger}
	}
	if m.stats == nil {
		m.stats = fetchstats.NewCollector()
	}

	return m, nil
}

// Config returns the configuration the manager runs with
func (m *Manager) Config() Config {
	return m.config
}

// CacheName returns the name of the store owned by this version
func (m *Manager) CacheName() string {
	return m.config.CacheName()
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	return m.lifecycle.get()
}

// Stats returns the fetch statistics collector
func (m *Manager) Stats() *fetchstats.Collector {
	return m.stats
}

// Close releases the collaborators New created. Storage is left open.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.ownedWorker != nil {
			m.ownedWorker.Stop()
		}
		if m.ownedCenter != nil {
			m.ownedCenter.Stop()
		}
	})
}

// setSkipWaitingHook lets a registration take over forced activation
func (m *Manager) setSkipWaitingHook(fn func(ctx context.Context) error) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onSkipWaiting = fn
}

// openStore returns the version's store, creating it. Only install and
// activation may create; every other path uses currentStore.
func (m *Manager) openStore(ctx context.Context) (cache.Store, error) {
	return m.storage.Open(ctx, m.CacheName())
}

// currentStore returns the version's store without creating it
func (m *Manager) currentStore(ctx context.Context) (cache.Store, error) {
	return m.storage.Get(ctx, m.CacheName())
}

// resolve turns a precache entry into an absolute URL against the origin
func (m *Manager) resolve(entry string) (*url.URL, error) {
	u, err := url.Parse(entry)
	if err != nil {
		return nil, err
	}
	if m.origin != nil && !u.IsAbs() {
		u = m.origin.ResolveReference(u)
	}
	return u, nil
}

// Install populates the version's store from the precache list. Individual
// failures are logged and reported but never fail the install.
func (m *Manager) Install(ctx context.Context) (InstallReport, error) {
	report := InstallReport{Store: m.CacheName()}

	if st := m.State(); st != StateInstalling {
		return report, fmt.Errorf("install in state %s: %w", st, ErrIllegalTransition)
	}

	store, err := m.openStore(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to open cache store %s: %w", m.CacheName(), err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.PrecacheWorkers)

	for _, entry := range m.config.Precache {
		entry := entry // per-iteration copy (go1.22 loopvar semantics)
		g.Go(func() error {
			err := m.precacheOne(gctx, store, entry)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Warn("precache failed", zap.String("url", entry), zap.Error(err))
				report.Failed = append(report.Failed, entry)
				return nil
			}
			report.Cached = append(report.Cached, entry)
			return nil
		})
	}
	// Workers never return errors; failures are collected in the report
	_ = g.Wait()

	sort.Strings(report.Cached)
	sort.Strings(report.Failed)

	m.logger.Info("install complete",
		zap.String("store", report.Store),
		zap.Int("cached", len(report.Cached)),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

func (m *Manager) precacheOne(ctx context.Context, store cache.Store, entry string) error {
	u, err := m.resolve(entry)
	if err != nil {
		return fmt.Errorf("invalid precache entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := m.fetcher.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	key := m.keys.GenerateKey(req)
	captured, err := cache.Capture(key, req, resp, cache.ResponseTypeOf(m.origin, req, resp), m.config.MaxEntrySize)
	if err != nil {
		resp.Body.Close()
		return err
	}
	resp.Body.Close()

	return store.Put(ctx, key, captured)
}

// Activate moves the manager to active and deletes every other store.
// Deletions run in parallel and fail independently; their errors are
// joined and returned while the manager stays active.
func (m *Manager) Activate(ctx context.Context) (ActivateReport, error) {
	report := ActivateReport{Store: m.CacheName()}

	if _, err := m.lifecycle.transition(StateActive); err != nil {
		return report, err
	}
	m.logger.Info("manager activated", zap.String("store", report.Store))

	// An active version always has a store, even with nothing precached
	if _, err := m.openStore(ctx); err != nil {
		m.logger.Warn("failed to open cache store", zap.String("store", report.Store), zap.Error(err))
	}

	names, err := m.storage.Names(ctx)
	if err != nil {
		m.logger.Warn("failed to list cache stores", zap.Error(err))
		return report, fmt.Errorf("failed to list cache stores: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, name := range names {
		if name == report.Store {
			continue
		}
		name := name // per-iteration copy (go1.22 loopvar semantics)
		g.Go(func() error {
			_, err := m.storage.Delete(ctx, name)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Warn("failed to delete stale cache store", zap.String("store", name), zap.Error(err))
				report.Failed = append(report.Failed, name)
				errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
				return nil
			}
			m.logger.Info("deleted stale cache store", zap.String("store", name))
			report.Deleted = append(report.Deleted, name)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Deleted)
	sort.Strings(report.Failed)
	return report, errors.Join(errs...)
}

// SkipWaiting activates an installing manager without waiting for clients.
// It is a no-op for an active manager.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	switch m.State() {
	case StateActive:
		return nil
	case StateRedundant:
		return fmt.Errorf("skip waiting in state %s: %w", StateRedundant, ErrIllegalTransition)
	}

	m.hookMu.RLock()
	hook := m.onSkipWaiting
	m.hookMu.RUnlock()
	if hook != nil {
		return hook(ctx)
	}

	_, err := m.Activate(ctx)
	if err != nil && m.State() == StateActive {
		// Stale store cleanup failures are already logged
		return nil
	}
	return err
}

// Retire marks an active manager as redundant
func (m *Manager) Retire() error {
	if _, err := m.lifecycle.transition(StateRedundant); err != nil {
		return err
	}
	m.logger.Info("manager retired")
	return nil
}

// Flush waits for every detached cache write scheduled so far
func (m *Manager) Flush() {
	m.writer.Wait()
}

// Keys lists the request identities held by this version's store
func (m *Manager) Keys(ctx context.Context) ([]string, error) {
	store, err := m.currentStore(ctx)
	if errors.Is(err, cache.ErrStoreNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return store.Keys(ctx)
}

// Purge removes the cached GET response for rawURL. Relative URLs resolve
// against the origin. Returns false when nothing was cached.
func (m *Manager) Purge(ctx context.Context, rawURL string) (bool, error) {
	u, err := m.resolve(rawURL)
	if err != nil {
		return false, fmt.Errorf("invalid url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}

	store, err := m.currentStore(ctx)
	if errors.Is(err, cache.ErrStoreNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return store.Delete(ctx, m.keys.GenerateKey(req))
}
