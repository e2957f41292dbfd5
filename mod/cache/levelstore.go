package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout inside the LevelDB database:
//
//	n:<store>            store marker
//	e:<store>\x00<key>   encoded entry
const (
	levelNamePrefix  = "n:"
	levelEntryPrefix = "e:"
	levelSep         = "\x00"
)

// LevelStorage implements Storage on a LevelDB database.
// Store deletion holds mu exclusively so no entry write can land between
// the marker check and the batch that drops the store.
type LevelStorage struct {
	db    *leveldb.DB
	codec *EntryCodec
	mu    sync.RWMutex
}

// LevelStorageConfig holds configuration for the leveldb backend
type LevelStorageConfig struct {
	Path  string
	Codec CodecConfig
}

// NewLevelStorage opens (or creates) the database directory
func NewLevelStorage(cfg LevelStorageConfig) (*LevelStorage, error) {
	if cfg.Path == "" {
		return nil, errors.New("leveldb storage requires a database path")
	}

	db, err := leveldb.OpenFile(cfg.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}
	return &LevelStorage{db: db, codec: NewEntryCodec(cfg.Codec)}, nil
}

func levelEntryRange(name string) *util.Range {
	return util.BytesPrefix([]byte(levelEntryPrefix + name + levelSep))
}

// Open writes the store marker
func (ls *LevelStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ls.db.Put([]byte(levelNamePrefix+name), nil, nil); err != nil {
		return nil, fmt.Errorf("failed to create store %s: %w", name, err)
	}
	return &levelStore{name: name, parent: ls}, nil
}

// Get returns the store if its marker exists
func (ls *LevelStorage) Get(ctx context.Context, name string) (Store, error) {
	ok, err := ls.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStoreNotFound
	}
	return &levelStore{name: name, parent: ls}, nil
}

// Has checks for the store marker
func (ls *LevelStorage) Has(ctx context.Context, name string) (bool, error) {
	return ls.db.Has([]byte(levelNamePrefix+name), nil)
}

// Delete removes the marker and every entry of the store in one batch
func (ls *LevelStorage) Delete(ctx context.Context, name string) (bool, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ok, err := ls.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete([]byte(levelNamePrefix + name))

	iter := ls.db.NewIterator(levelEntryRange(name), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return false, fmt.Errorf("failed to scan store %s: %w", name, err)
	}

	if err := ls.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("failed to delete store %s: %w", name, err)
	}
	return true, nil
}

// Names lists store markers
func (ls *LevelStorage) Names(ctx context.Context) ([]string, error) {
	var names []string
	iter := ls.db.NewIterator(util.BytesPrefix([]byte(levelNamePrefix)), nil)
	for iter.Next() {
		names = append(names, strings.TrimPrefix(string(iter.Key()), levelNamePrefix))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the database
func (ls *LevelStorage) Close() error {
	return ls.db.Close()
}

type levelStore struct {
	name   string
	parent *LevelStorage
}

func (s *levelStore) Name() string { return s.name }

func (s *levelStore) entryKey(key string) []byte {
	return []byte(levelEntryPrefix + s.name + levelSep + key)
}

func (s *levelStore) Match(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := s.parent.db.Get(s.entryKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	entry, err := s.parent.codec.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (s *levelStore) Put(ctx context.Context, key string, entry *Entry) error {
	data, err := s.parent.codec.Encode(entry)
	if err != nil {
		return err
	}

	s.parent.mu.RLock()
	defer s.parent.mu.RUnlock()

	ok, err := s.parent.Has(ctx, s.name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStoreNotFound
	}
	return s.parent.db.Put(s.entryKey(key), data, nil)
}

func (s *levelStore) Delete(ctx context.Context, key string) (bool, error) {
	ok, err := s.parent.db.Has(s.entryKey(key), nil)
	if err != nil || !ok {
		return false, err
	}
	if err := s.parent.db.Delete(s.entryKey(key), nil); err != nil {
		return false, err
	}
	return true, nil
}

func (s *levelStore) Keys(ctx context.Context) ([]string, error) {
	prefix := levelEntryPrefix + s.name + levelSep

	var keys []string
	iter := s.parent.db.NewIterator(levelEntryRange(s.name), nil)
	for iter.Next() {
		keys = append(keys, strings.TrimPrefix(string(iter.Key()), prefix))
	}
	iter.Release()
	return keys, iter.Error()
}
