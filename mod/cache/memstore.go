package cache

import (
	"context"
	"sort"
	"sync"

	radix "github.com/armon/go-radix"
)

// MemoryStorage implements Storage in process memory.
// Each store keeps its entries in a radix tree so Keys is ordered.
type MemoryStorage struct {
	mu     sync.RWMutex
	stores map[string]*memStore
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		stores: make(map[string]*memStore),
	}
}

// Open returns the named store, creating it if needed
func (ms *MemoryStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	s, ok := ms.stores[name]
	if !ok {
		s = &memStore{name: name, tree: radix.New()}
		ms.stores[name] = s
	}
	return s, nil
}

// Get returns the named store if it exists
func (ms *MemoryStorage) Get(ctx context.Context, name string) (Store, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, ok := ms.stores[name]
	if !ok {
		return nil, ErrStoreNotFound
	}
	return s, nil
}

// Has reports whether the named store exists
func (ms *MemoryStorage) Has(ctx context.Context, name string) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	_, ok := ms.stores[name]
	return ok, nil
}

// Delete removes the named store
func (ms *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	s, ok := ms.stores[name]
	if !ok {
		return false, nil
	}
	delete(ms.stores, name)

	// Handles still held by callers see an empty store and refuse writes
	s.mu.Lock()
	s.tree = radix.New()
	s.deleted = true
	s.mu.Unlock()
	return true, nil
}

// Names lists the existing store names
func (ms *MemoryStorage) Names(ctx context.Context) ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	names := make([]string, 0, len(ms.stores))
	for name := range ms.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close releases all stores
func (ms *MemoryStorage) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, s := range ms.stores {
		s.mu.Lock()
		s.deleted = true
		s.mu.Unlock()
	}
	ms.stores = make(map[string]*memStore)
	return nil
}

type memStore struct {
	name    string
	mu      sync.RWMutex
	tree    *radix.Tree
	deleted bool
}

func (s *memStore) Name() string { return s.name }

func (s *memStore) Match(ctx context.Context, key string) (*Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.tree.Get(key)
	if !ok {
		return nil, false, nil
	}
	return cloneEntry(v.(*Entry)), true, nil
}

func (s *memStore) Put(ctx context.Context, key string, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return ErrStoreNotFound
	}
	s.tree.Insert(key, cloneEntry(entry))
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tree.Delete(key)
	return ok, nil
}

func (s *memStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, s.tree.Len())
	s.tree.Walk(func(k string, _ interface{}) bool {
		keys = append(keys, k)
		return false
	})
	return keys, nil
}

// cloneEntry copies an entry so stored values never alias caller memory
func cloneEntry(e *Entry) *Entry {
	c := &Entry{Meta: e.Meta}
	c.Meta.Header = e.Meta.Header.Clone()
	c.Body = append([]byte(nil), e.Body...)
	return c
}
