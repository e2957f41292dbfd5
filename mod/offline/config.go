package offline

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"usexplo.com/offlinecache/mod/bgsync"
	"usexplo.com/offlinecache/mod/cache"
	"usexplo.com/offlinecache/mod/cacheworker"
	"usexplo.com/offlinecache/mod/fetchstats"
	"usexplo.com/offlinecache/mod/notify"
)

const (
	DefaultCachePrefix     = "usexplo-cache-"
	DefaultAPIMarker       = "/api/"
	DefaultSkipWaitingType = "SKIP_WAITING"
	DefaultPrecacheWorkers = 8
	DefaultMaxEntrySize    = 10 * 1024 * 1024 // 10MB
)

// Config identifies one deployed version of the manager
type Config struct {
	// Version names the cache store of this deployment. Bump it on every
	// deployable change so activation purges the previous store.
	Version string

	// CachePrefix is prepended to Version to form the store name
	CachePrefix string

	// Origin is the upstream base URL. Relative precache entries resolve
	// against it and it decides which responses count as same-origin.
	Origin string

	// Precache is fetched and stored on install, best effort
	Precache []string

	// APIMarker routes any URL containing it through the network-first policy
	APIMarker string

	// SkipWaitingType is the control message type that forces activation
	SkipWaitingType string

	// SyncTag is the background sync tag handled by the Sync handler
	SyncTag string

	// PrecacheWorkers bounds concurrent precache fetches
	PrecacheWorkers int

	// MaxEntrySize is the largest body stored, in bytes. Larger responses
	// are still served, just never cached.
	MaxEntrySize int64
}

// DefaultConfig returns the configuration used by the TuneMe client
func DefaultConfig() Config {
	return Config{
		Version:     "v1",
		CachePrefix: DefaultCachePrefix,
		Precache: []string{
			"/",
			"/static/js/bundle.js",
			"/static/css/main.css",
			"/manifest.json",
			"/explore",
			"/api/tracks",
			"/api/collections?featured=true",
		},
		APIMarker:       DefaultAPIMarker,
		SkipWaitingType: DefaultSkipWaitingType,
		SyncTag:         bgsync.DefaultTag,
		PrecacheWorkers: DefaultPrecacheWorkers,
		MaxEntrySize:    DefaultMaxEntrySize,
	}
}

// CacheName returns the name of the store owned by this version
func (c Config) CacheName() string {
	return c.CachePrefix + c.Version
}

// Fetcher performs network requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Writer schedules detached cache writes. *cacheworker.Worker satisfies it.
type Writer interface {
	Enqueue(job cacheworker.WriteJob) error
	Wait()
}

// Options holds the manager configuration and its collaborators.
// Nil collaborators are replaced with working defaults.
type Options struct {
	Config  Config
	Storage cache.Storage
	Fetcher Fetcher
	Writer  Writer

	Notifications notify.Options
	Center        *notify.Center
	Sync          bgsync.Handler
	Stats         *fetchstats.Collector
	Logger        *zap.Logger
}

// Category is the routing class of an intercepted request
type Category string

const (
	CategoryAPI    Category = "api"
	CategoryStatic Category = "static"
)

// Classify returns CategoryAPI when rawURL contains marker, CategoryStatic otherwise
func Classify(rawURL string, marker string) Category {
	if marker == "" {
		marker = DefaultAPIMarker
	}
	if strings.Contains(rawURL, marker) {
		return CategoryAPI
	}
	return CategoryStatic
}
