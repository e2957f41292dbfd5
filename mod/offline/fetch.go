package offline

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"usexplo.com/offlinecache/mod/cache"
	"usexplo.com/offlinecache/mod/cacheworker"
)

// ErrNoResponse is returned when the network fetcher yields neither a
// response nor an error
var ErrNoResponse = errors.New("offline: fetcher returned no response")

// Fetch answers an intercepted request according to its category.
// Only an active manager applies the cache policy, and only to GET requests;
// everything else goes to the network.
func (m *Manager) Fetch(req *http.Request) (*http.Response, error) {
	if m.State() != StateActive || !cache.IsCacheable(req) {
		return m.network(req)
	}

	category := Classify(req.URL.String(), m.config.APIMarker)
	if category == CategoryAPI {
		return m.networkFirst(req)
	}
	return m.cacheFirst(req)
}

// network performs the request. A nil response counts as a network failure.
func (m *Manager) network(req *http.Request) (*http.Response, error) {
	resp, err := m.fetcher.Do(req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrNoResponse
	}
	return resp, nil
}

// networkFirst serves api requests: the live response whatever its status,
// the cached copy only when the network fails.
func (m *Manager) networkFirst(req *http.Request) (*http.Response, error) {
	const category = string(CategoryAPI)
	key := m.keys.GenerateKey(req)

	resp, err := m.network(req)
	if err != nil {
		if entry := m.lookup(req, key); entry != nil {
			m.logger.Debug("network failed, serving cached response", zap.String("key", key), zap.Error(err))
			m.stats.RecordRequest(category, true)
			m.stats.RecordFallback(category)
			return entry.Response(req), nil
		}
		m.stats.RecordFailure(category)
		return nil, err
	}

	m.stats.RecordRequest(category, false)
	if resp.StatusCode == http.StatusOK {
		m.storeDetached(req, resp, key, CategoryAPI)
	}
	return resp, nil
}

// cacheFirst serves static requests: a hit never reaches the network
func (m *Manager) cacheFirst(req *http.Request) (*http.Response, error) {
	const category = string(CategoryStatic)
	key := m.keys.GenerateKey(req)

	if entry := m.lookup(req, key); entry != nil {
		m.stats.RecordRequest(category, true)
		return entry.Response(req), nil
	}

	resp, err := m.network(req)
	if err != nil {
		m.stats.RecordFailure(category)
		return nil, err
	}
	m.stats.RecordRequest(category, false)

	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	if cache.ResponseTypeOf(m.origin, req, resp) != cache.ResponseBasic {
		return resp, nil
	}

	m.storeDetached(req, resp, key, CategoryStatic)
	return resp, nil
}

// lookup returns the cached entry for key. A missing store or a storage
// error counts as a miss; lookups never create the store.
func (m *Manager) lookup(req *http.Request, key string) *cache.Entry {
	ctx := req.Context()

	store, err := m.currentStore(ctx)
	if errors.Is(err, cache.ErrStoreNotFound) {
		return nil
	}
	if err != nil {
		m.logger.Warn("failed to open cache store", zap.String("store", m.CacheName()), zap.Error(err))
		return nil
	}

	entry, ok, err := store.Match(ctx, key)
	if err != nil {
		m.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return entry
}

// storeDetached copies the body into an entry as the caller reads resp and
// schedules the write once the body is complete. Bodies over MaxEntrySize,
// failed reads and bodies closed early are served but not cached.
func (m *Manager) storeDetached(req *http.Request, resp *http.Response, key string, category Category) {
	typ := cache.ResponseTypeOf(m.origin, req, resp)
	teed := cache.Tee(key, req, resp, typ, m.config.MaxEntrySize, func(entry *cache.Entry, err error) {
		if err != nil {
			m.logger.Debug("response not cached", zap.String("key", key), zap.Error(err))
			return
		}
		m.enqueueWrite(key, entry, category)
	})
	if !teed {
		m.logger.Debug("response too large to cache",
			zap.String("key", key),
			zap.Int64("length", resp.ContentLength))
	}
}

// enqueueWrite hands a completed entry to the writer. The request may be
// finished by now, so the store is resolved without its context.
func (m *Manager) enqueueWrite(key string, entry *cache.Entry, category Category) {
	if m.State() != StateActive {
		return
	}

	store, err := m.currentStore(context.Background())
	if err != nil {
		m.logger.Debug("cache store unavailable, dropping write", zap.String("store", m.CacheName()), zap.Error(err))
		return
	}

	size := entry.Meta.Size
	err = m.writer.Enqueue(cacheworker.WriteJob{
		Store: store,
		Key:   key,
		Entry: entry,
		OnDone: func(err error) {
			m.stats.RecordCacheWrite(string(category), size, err)
		},
	})
	if err != nil {
		m.logger.Debug("cache write not scheduled", zap.String("key", key), zap.Error(err))
	}
}
