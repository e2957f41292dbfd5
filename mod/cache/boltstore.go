package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/boltdb/bolt"
)

// BoltStorage implements Storage on a single BoltDB file.
// Each cache store is a top-level bucket.
type BoltStorage struct {
	db    *bolt.DB
	codec *EntryCodec
}

// BoltStorageConfig holds configuration for the bolt backend
type BoltStorageConfig struct {
	Path  string
	Codec CodecConfig
}

// NewBoltStorage opens (or creates) the database file
func NewBoltStorage(cfg BoltStorageConfig) (*BoltStorage, error) {
	if cfg.Path == "" {
		return nil, errors.New("bolt storage requires a database path")
	}

	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	return &BoltStorage{db: db, codec: NewEntryCodec(cfg.Codec)}, nil
}

// Open creates the store bucket if needed
func (bs *BoltStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	err := bs.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", name, err)
	}
	return &boltStore{name: name, parent: bs}, nil
}

// Get returns the store if its bucket exists
func (bs *BoltStorage) Get(ctx context.Context, name string) (Store, error) {
	ok, err := bs.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStoreNotFound
	}
	return &boltStore{name: name, parent: bs}, nil
}

// Has reports whether the bucket exists
func (bs *BoltStorage) Has(ctx context.Context, name string) (bool, error) {
	found := false
	err := bs.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return found, err
}

// Delete drops the bucket and everything in it
func (bs *BoltStorage) Delete(ctx context.Context, name string) (bool, error) {
	deleted := false
	err := bs.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete bucket %s: %w", name, err)
	}
	return deleted, nil
}

// Names lists buckets
func (bs *BoltStorage) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := bs.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the database file
func (bs *BoltStorage) Close() error {
	return bs.db.Close()
}

type boltStore struct {
	name   string
	parent *BoltStorage
}

func (s *boltStore) Name() string { return s.name }

func (s *boltStore) Match(ctx context.Context, key string) (*Entry, bool, error) {
	var data []byte
	err := s.parent.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.name))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			// Values are only valid for the life of the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if data == nil {
		return nil, false, nil
	}

	entry, err := s.parent.codec.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (s *boltStore) Put(ctx context.Context, key string, entry *Entry) error {
	data, err := s.parent.codec.Encode(entry)
	if err != nil {
		return err
	}

	return s.parent.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.name))
		if b == nil {
			return ErrStoreNotFound
		}
		return b.Put([]byte(key), data)
	})
}

func (s *boltStore) Delete(ctx context.Context, key string) (bool, error) {
	deleted := false
	err := s.parent.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.name))
		if b == nil || b.Get([]byte(key)) == nil {
			return nil
		}
		deleted = true
		return b.Delete([]byte(key))
	})
	return deleted, err
}

func (s *boltStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.parent.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.name))
		if b == nil {
			return nil
		}
		// Bolt iterates in byte order, which is already sorted
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
