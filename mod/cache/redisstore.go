package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisWriteAttempts bounds retries when the names set changes mid-write
const redisWriteAttempts = 3

// RedisStorage implements Storage using Redis.
// Each store is a hash at <prefix>store:<name>; names live in the set <prefix>names.
type RedisStorage struct {
	client  *redis.Client
	prefix  string
	maxSize int64 // Maximum size for cached bodies
	codec   *EntryCodec
}

// RedisStorageConfig holds configuration for Redis storage
type RedisStorageConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // Key prefix for all cache data
	MaxSize  int64  // Maximum size for cached bodies (default: 10MB)
	Codec    CodecConfig
}

// NewRedisStorage creates a new Redis-based cache storage
func NewRedisStorage(cfg RedisStorageConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorageWithClient(client, cfg), nil
}

// NewRedisStorageWithClient wraps an existing client; the storage owns it afterwards
func NewRedisStorageWithClient(client *redis.Client, cfg RedisStorageConfig) *RedisStorage {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10 * 1024 * 1024 // 10MB default
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "usexplo:sw:"
	}

	return &RedisStorage{
		client:  client,
		prefix:  cfg.Prefix,
		maxSize: cfg.MaxSize,
		codec:   NewEntryCodec(cfg.Codec),
	}
}

func (rs *RedisStorage) namesKey() string {
	return rs.prefix + "names"
}

func (rs *RedisStorage) storeKey(name string) string {
	return rs.prefix + "store:" + name
}

// Open registers the store name
func (rs *RedisStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := rs.client.SAdd(ctx, rs.namesKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("failed to register store %s: %w", name, err)
	}
	return &redisStore{name: name, parent: rs}, nil
}

// Get returns the store if its name is registered
func (rs *RedisStorage) Get(ctx context.Context, name string) (Store, error) {
	ok, err := rs.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStoreNotFound
	}
	return &redisStore{name: name, parent: rs}, nil
}

// Has checks set membership of the store name
func (rs *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := rs.client.SIsMember(ctx, rs.namesKey(), name).Result()
	if err != nil {
		return false, fmt.Errorf("failed to query Redis: %w", err)
	}
	return ok, nil
}

// Delete removes the store hash and its name in one transaction
func (rs *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, rs.namesKey(), name)
		pipe.Del(ctx, rs.storeKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete store %s from Redis: %w", name, err)
	}
	return removed.Val() > 0, nil
}

// Names lists registered stores
func (rs *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := rs.client.SMembers(ctx, rs.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close cleanly shuts down the Redis connection
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

type redisStore struct {
	name   string
	parent *RedisStorage
}

func (s *redisStore) Name() string { return s.name }

func (s *redisStore) Match(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := s.parent.client.HGet(ctx, s.parent.storeKey(s.name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get from Redis: %w", err)
	}

	entry, err := s.parent.codec.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (s *redisStore) Put(ctx context.Context, key string, entry *Entry) error {
	if int64(len(entry.Body)) > s.parent.maxSize {
		return fmt.Errorf("cache entry exceeds maximum size: %d > %d", len(entry.Body), s.parent.maxSize)
	}

	data, err := s.parent.codec.Encode(entry)
	if err != nil {
		return err
	}

	// The names set is watched so a concurrent store deletion aborts the write
	namesKey := s.parent.namesKey()
	write := func(tx *redis.Tx) error {
		ok, err := tx.SIsMember(ctx, namesKey, s.name).Result()
		if err != nil {
			return err
		}
		if !ok {
			return ErrStoreNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.parent.storeKey(s.name), key, data)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisWriteAttempts; attempt++ {
		err = s.parent.client.Watch(ctx, write, namesKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to store in Redis: %w", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.parent.client.HDel(ctx, s.parent.storeKey(s.name), key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete from Redis: %w", err)
	}
	return n > 0, nil
}

func (s *redisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.parent.client.HKeys(ctx, s.parent.storeKey(s.name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
