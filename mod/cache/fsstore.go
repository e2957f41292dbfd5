package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FSStorage implements Storage using the filesystem.
// Every store is a directory under rootDir.
type FSStorage struct {
	rootDir    string
	shardDepth int
	mu         sync.RWMutex
}

// NewFSStorage creates a new filesystem-based cache storage
func NewFSStorage(rootDir string, shardDepth int) (*FSStorage, error) {
	if shardDepth < 0 || shardDepth > 4 {
		shardDepth = 2 // Default to 2-level sharding
	}

	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FSStorage{
		rootDir:    rootDir,
		shardDepth: shardDepth,
	}, nil
}

// Open returns the named store, creating its directory if needed
func (fss *FSStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	fss.mu.Lock()
	defer fss.mu.Unlock()

	dir := filepath.Join(fss.rootDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &fsStore{name: name, dir: dir, shardDepth: fss.shardDepth, parent: fss}, nil
}

// Get returns the named store if its directory exists
func (fss *FSStorage) Get(ctx context.Context, name string) (Store, error) {
	ok, err := fss.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStoreNotFound
	}
	return &fsStore{name: name, dir: filepath.Join(fss.rootDir, name), shardDepth: fss.shardDepth, parent: fss}, nil
}

// Has reports whether the named store directory exists
func (fss *FSStorage) Has(ctx context.Context, name string) (bool, error) {
	if ValidateName(name) != nil {
		return false, nil
	}
	info, err := os.Stat(filepath.Join(fss.rootDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// Delete removes the named store directory
func (fss *FSStorage) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := fss.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}

	fss.mu.Lock()
	defer fss.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(fss.rootDir, name)); err != nil {
		return false, fmt.Errorf("failed to remove store %s: %w", name, err)
	}
	return true, nil
}

// Names lists store directories
func (fss *FSStorage) Names(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(fss.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close cleanly shuts down the filesystem storage
func (fss *FSStorage) Close() error {
	// No resources to clean up for filesystem storage
	return nil
}

type fsStore struct {
	name       string
	dir        string
	shardDepth int
	parent     *FSStorage
}

func (s *fsStore) Name() string { return s.name }

// Match reads the metadata sidecar and body of a cached entry
func (s *fsStore) Match(ctx context.Context, key string) (*Entry, bool, error) {
	s.parent.mu.RLock()
	defer s.parent.mu.RUnlock()

	dataPath := s.getDataPath(key)
	metaPath := s.getMetaPath(key)

	if _, err := os.Stat(dataPath); errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}

	meta, err := s.readMeta(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read metadata: %w", err)
	}

	body, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache file: %w", err)
	}

	return &Entry{Meta: *meta, Body: body}, true, nil
}

// Put stores an entry; the body is renamed into place after the metadata.
// Store deletion holds the write lock, so the directory check below cannot
// race with RemoveAll.
func (s *fsStore) Put(ctx context.Context, key string, entry *Entry) error {
	s.parent.mu.RLock()
	defer s.parent.mu.RUnlock()

	if info, err := os.Stat(s.dir); errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return ErrStoreNotFound
	} else if err != nil {
		return fmt.Errorf("failed to stat store directory: %w", err)
	}

	dataPath := s.getDataPath(key)
	metaPath := s.getMetaPath(key)

	if err := os.MkdirAll(filepath.Dir(dataPath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmpDataPath := dataPath + ".tmp"
	if err := os.WriteFile(tmpDataPath, entry.Body, 0644); err != nil {
		os.Remove(tmpDataPath)
		return fmt.Errorf("failed to write cache data: %w", err)
	}
	defer os.Remove(tmpDataPath) // Clean up temp file on error

	meta := entry.Meta
	meta.Key = key
	meta.Size = int64(len(entry.Body))
	if err := s.writeMeta(metaPath, &meta); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := os.Rename(tmpDataPath, dataPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Delete removes both files of an entry
func (s *fsStore) Delete(ctx context.Context, key string) (bool, error) {
	s.parent.mu.RLock()
	defer s.parent.mu.RUnlock()

	dataPath := s.getDataPath(key)
	if _, err := os.Stat(dataPath); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err := os.Remove(dataPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to remove cache file: %w", err)
	}
	os.Remove(s.getMetaPath(key))
	return true, nil
}

// Keys walks the store directory and collects keys from the metadata files
func (s *fsStore) Keys(ctx context.Context) ([]string, error) {
	s.parent.mu.RLock()
	defer s.parent.mu.RUnlock()

	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Continue on errors
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}
		meta, err := s.readMeta(path)
		if err != nil {
			return nil
		}
		if _, err := os.Stat(strings.TrimSuffix(path, ".meta") + ".data"); err != nil {
			return nil
		}
		keys = append(keys, meta.Key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// getDataPath returns the filesystem path for cached data
func (s *fsStore) getDataPath(key string) string {
	return s.getShardedPath(key, ".data")
}

// getMetaPath returns the filesystem path for metadata
func (s *fsStore) getMetaPath(key string) string {
	return s.getShardedPath(key, ".meta")
}

// getShardedPath creates a sharded directory path from the hashed key
func (s *fsStore) getShardedPath(key string, suffix string) string {
	hash := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(hash[:])

	if s.shardDepth == 0 {
		return filepath.Join(s.dir, name+suffix)
	}

	var shardParts []string
	for i := 0; i < s.shardDepth && i*2 < len(name); i++ {
		shardParts = append(shardParts, name[i*2:i*2+2])
	}

	return filepath.Join(s.dir, filepath.Join(shardParts...), name+suffix)
}

// readMeta reads metadata from a file
func (s *fsStore) readMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// writeMeta writes metadata to a file
func (s *fsStore) writeMeta(path string, meta *Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpPath, path)
}
