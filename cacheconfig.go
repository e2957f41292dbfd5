package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"usexplo.com/offlinecache/mod/cache"
	"usexplo.com/offlinecache/mod/cacheworker"
	"usexplo.com/offlinecache/mod/notify"
	"usexplo.com/offlinecache/mod/offline"
)

const (
	CONF_FOLDER       = "./conf"
	CONF_CACHE_CONFIG = CONF_FOLDER + "/sw_conf.json"
	CONF_CACHE_STORE  = CONF_FOLDER + "/cache"

	// ENV_PREFIX is prepended to every environment override
	ENV_PREFIX = "SWCACHE_"
)

// CacheConfiguration holds the configuration for the offline cache service.
// Values come from the JSON file first, then from SWCACHE_* variables.
type CacheConfiguration struct {
	Listen string `json:"listen" env:"LISTEN"`
	Origin string `json:"origin" env:"ORIGIN"`

	// Version names the current cache store; bump it on every deploy
	Version     string   `json:"version" env:"VERSION"`
	CachePrefix string   `json:"cache_prefix" env:"CACHE_PREFIX"`
	Precache    []string `json:"precache" env:"PRECACHE" envSeparator:","`
	APIMarker   string   `json:"api_marker" env:"API_MARKER"`

	SkipWaitingType string `json:"skip_waiting_type" env:"SKIP_WAITING_TYPE"`
	SyncTag         string `json:"sync_tag" env:"SYNC_TAG"`
	MaxEntrySize    int64  `json:"max_entry_size" env:"MAX_ENTRY_SIZE"` // Largest body cached at runtime, in bytes

	Backend        string `json:"backend" env:"BACKEND"` // "memory", "fs", "bolt", "leveldb", "redis"
	CompressBodies bool   `json:"compress_bodies" env:"COMPRESS_BODIES"`

	// Filesystem backend settings
	FS struct {
		Root       string `json:"root" env:"ROOT"`
		ShardDepth int    `json:"shard_depth" env:"SHARD_DEPTH"`
	} `json:"fs" envPrefix:"FS_"`

	// Bolt backend settings
	Bolt struct {
		Path string `json:"path" env:"PATH"`
	} `json:"bolt" envPrefix:"BOLT_"`

	// LevelDB backend settings
	LevelDB struct {
		Path string `json:"path" env:"PATH"`
	} `json:"leveldb" envPrefix:"LEVELDB_"`

	// Redis backend settings
	Redis struct {
		Addr     string `json:"addr" env:"ADDR"`
		Password string `json:"password" env:"PASSWORD"`
		DB       int    `json:"db" env:"DB"`
		Prefix   string `json:"prefix" env:"PREFIX"`
		MaxSize  int64  `json:"max_size" env:"MAX_SIZE"` // Largest entry accepted, in bytes
	} `json:"redis" envPrefix:"REDIS_"`

	// Detached cache write settings
	Worker struct {
		QueueSize     int `json:"queue_size" env:"QUEUE_SIZE"`
		WorkerCount   int `json:"worker_count" env:"WORKER_COUNT"`
		RetryAttempts int `json:"retry_attempts" env:"RETRY_ATTEMPTS"`
		RetryDelayMs  int `json:"retry_delay_ms" env:"RETRY_DELAY_MS"`
		JobTimeout    int `json:"job_timeout" env:"JOB_TIMEOUT"` // Seconds
	} `json:"worker" envPrefix:"WORKER_"`

	// Notification rendering and routing
	Notifications   notify.Options `json:"notifications"`
	NotificationTTL int            `json:"notification_ttl" env:"NOTIFICATION_TTL"` // Seconds a shown notification stays clickable
	WebsocketOrigin string         `json:"websocket_origin" env:"WEBSOCKET_ORIGIN"` // Empty allows any page origin
	ShutdownTimeout int            `json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"` // Seconds
	AdminSecret     string         `json:"admin_secret" env:"ADMIN_SECRET"`
}

// DefaultCacheConfiguration returns the default configuration
func DefaultCacheConfiguration() *CacheConfiguration {
	managerDefaults := offline.DefaultConfig()
	workerDefaults := cacheworker.DefaultConfig()

	config := &CacheConfiguration{
		Listen:          ":8080",
		Origin:          "http://localhost:3000",
		Version:         managerDefaults.Version,
		CachePrefix:     managerDefaults.CachePrefix,
		Precache:        managerDefaults.Precache,
		APIMarker:       managerDefaults.APIMarker,
		SkipWaitingType: managerDefaults.SkipWaitingType,
		SyncTag:         managerDefaults.SyncTag,
		MaxEntrySize:    managerDefaults.MaxEntrySize,
		Backend:         "fs",
		CompressBodies:  true,
		Notifications:   notify.DefaultOptions(),
		NotificationTTL: 86400,
		ShutdownTimeout: 10,
	}

	config.FS.Root = CONF_CACHE_STORE
	config.FS.ShardDepth = 2
	config.Bolt.Path = CONF_FOLDER + "/cache.db"
	config.LevelDB.Path = CONF_FOLDER + "/cache.ldb"
	config.Redis.Addr = "localhost:6379"
	config.Redis.MaxSize = 10 * 1024 * 1024 // 10MB

	config.Worker.QueueSize = workerDefaults.QueueSize
	config.Worker.WorkerCount = workerDefaults.WorkerCount
	config.Worker.RetryAttempts = workerDefaults.RetryAttempts
	config.Worker.RetryDelayMs = int(workerDefaults.RetryDelay / time.Millisecond)
	config.Worker.JobTimeout = int(workerDefaults.JobTimeout / time.Second)

	return config
}

// LoadCacheConfiguration loads configuration from file, creating it with
// defaults when missing, and applies environment overrides
func LoadCacheConfiguration(path string) (*CacheConfiguration, error) {
	config := DefaultCacheConfiguration()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Config file doesn't exist, create default
		if err := SaveCacheConfiguration(path, config); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: ENV_PREFIX}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

// SaveCacheConfiguration saves configuration to file
func SaveCacheConfiguration(path string, config *CacheConfiguration) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ManagerConfig maps the file configuration onto a manager version
func (config *CacheConfiguration) ManagerConfig() offline.Config {
	return offline.Config{
		Version:         config.Version,
		CachePrefix:     config.CachePrefix,
		Origin:          config.Origin,
		Precache:        config.Precache,
		APIMarker:       config.APIMarker,
		SkipWaitingType: config.SkipWaitingType,
		SyncTag:         config.SyncTag,
		MaxEntrySize:    config.MaxEntrySize,
	}
}

// WorkerConfig maps the file configuration onto the cache write worker
func (config *CacheConfiguration) WorkerConfig() cacheworker.Config {
	return cacheworker.Config{
		QueueSize:     config.Worker.QueueSize,
		WorkerCount:   config.Worker.WorkerCount,
		RetryAttempts: config.Worker.RetryAttempts,
		RetryDelay:    time.Duration(config.Worker.RetryDelayMs) * time.Millisecond,
		JobTimeout:    time.Duration(config.Worker.JobTimeout) * time.Second,
	}
}

// codecConfig returns the entry encoding used by the encoded backends
func (config *CacheConfiguration) codecConfig() cache.CodecConfig {
	codec := cache.DefaultCodecConfig()
	if config.CompressBodies {
		codec.Compression = cache.CompressionBrotli
	}
	return codec
}

// BuildCacheStorage creates the cache storage backend from configuration
func BuildCacheStorage(config *CacheConfiguration) (cache.Storage, error) {
	codec := config.codecConfig()

	switch config.Backend {
	case "memory":
		return cache.NewMemoryStorage(), nil

	case "fs":
		return cache.NewFSStorage(config.FS.Root, config.FS.ShardDepth)

	case "bolt":
		return cache.NewBoltStorage(cache.BoltStorageConfig{
			Path:  config.Bolt.Path,
			Codec: codec,
		})

	case "leveldb":
		return cache.NewLevelStorage(cache.LevelStorageConfig{
			Path:  config.LevelDB.Path,
			Codec: codec,
		})

	case "redis":
		return cache.NewRedisStorage(cache.RedisStorageConfig{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			Prefix:   config.Redis.Prefix,
			MaxSize:  config.Redis.MaxSize,
			Codec:    codec,
		})

	default:
		return nil, fmt.Errorf("unknown cache backend %q", config.Backend)
	}
}
