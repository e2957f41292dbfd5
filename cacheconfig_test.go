package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usexplo.com/offlinecache/mod/cache"
)

func TestLoadCacheConfiguration_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "sw_conf.json")

	config, err := LoadCacheConfiguration(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultCacheConfiguration(), config)

	_, err = os.Stat(path)
	assert.NoError(t, err, "default configuration is written to disk")
}

func TestLoadCacheConfiguration_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sw_conf.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"version": "v7",
		"backend": "memory",
		"precache": ["/", "/manifest.json"],
		"fs": {"shard_depth": 3}
	}`), 0644))

	t.Setenv("SWCACHE_ORIGIN", "https://usexplo.com")
	t.Setenv("SWCACHE_PRECACHE", "/,/manifest.json,/new-asset.js")
	t.Setenv("SWCACHE_REDIS_DB", "4")
	t.Setenv("SWCACHE_MAX_ENTRY_SIZE", "2048")

	config, err := LoadCacheConfiguration(path)
	require.NoError(t, err)

	assert.Equal(t, "v7", config.Version)
	assert.Equal(t, "memory", config.Backend)
	assert.Equal(t, 3, config.FS.ShardDepth)
	assert.Equal(t, "https://usexplo.com", config.Origin)
	assert.Equal(t, []string{"/", "/manifest.json", "/new-asset.js"}, config.Precache)
	assert.Equal(t, 4, config.Redis.DB)

	// Untouched settings keep their defaults
	assert.Equal(t, "usexplo-cache-", config.CachePrefix)
	assert.Equal(t, "US EXPLO", config.Notifications.AppName)

	mc := config.ManagerConfig()
	assert.Equal(t, "usexplo-cache-v7", mc.CacheName())
	assert.Equal(t, "https://usexplo.com", mc.Origin)
	assert.Equal(t, int64(2048), mc.MaxEntrySize)
}

func TestLoadCacheConfiguration_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sw_conf.json")
	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0644))

	_, err := LoadCacheConfiguration(path)
	assert.Error(t, err)
}

func TestBuildCacheStorage(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		backend string
		setup   func(c *CacheConfiguration)
		want    any
	}{
		{"memory", nil, &cache.MemoryStorage{}},
		{"fs", func(c *CacheConfiguration) { c.FS.Root = filepath.Join(dir, "fs") }, &cache.FSStorage{}},
		{"bolt", func(c *CacheConfiguration) { c.Bolt.Path = filepath.Join(dir, "cache.db") }, &cache.BoltStorage{}},
		{"leveldb", func(c *CacheConfiguration) { c.LevelDB.Path = filepath.Join(dir, "cache.ldb") }, &cache.LevelStorage{}},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			config := DefaultCacheConfiguration()
			config.Backend = tt.backend
			if tt.setup != nil {
				tt.setup(config)
			}

			storage, err := BuildCacheStorage(config)
			require.NoError(t, err)
			defer storage.Close()
			assert.IsType(t, tt.want, storage)
		})
	}

	config := DefaultCacheConfiguration()
	config.Backend = "varnish"
	_, err := BuildCacheStorage(config)
	assert.Error(t, err)
}

func TestWorkerConfig(t *testing.T) {
	config := DefaultCacheConfiguration()
	config.Worker.RetryDelayMs = 250
	config.Worker.JobTimeout = 5

	wc := config.WorkerConfig()
	assert.Equal(t, 1000, wc.QueueSize)
	assert.Equal(t, "250ms", wc.RetryDelay.String())
	assert.Equal(t, "5s", wc.JobTimeout.String())
}
