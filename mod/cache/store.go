package cache

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"
)

// ErrInvalidName is returned when a cache store name contains characters
// that cannot be used as a bucket, directory or key prefix.
var ErrInvalidName = errors.New("cache: invalid store name")

// ErrStoreNotFound is returned by Storage.Get for a missing store and by
// Store.Put once the store behind the handle has been deleted.
var ErrStoreNotFound = errors.New("cache: store not found")

var validName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateName checks that name can be used by every storage backend
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// Storage is the collection of named cache stores. Exactly one store is
// current per deployed version; the others are purged on activation.
type Storage interface {
	// Open returns the store with the given name, creating it if needed
	Open(ctx context.Context, name string) (Store, error)

	// Get returns an existing store without creating it.
	// Returns ErrStoreNotFound when there is no such store.
	Get(ctx context.Context, name string) (Store, error)

	// Has reports whether a store with the given name exists
	Has(ctx context.Context, name string) (bool, error)

	// Delete removes a store and all of its entries.
	// Returns false if the store did not exist.
	Delete(ctx context.Context, name string) (bool, error)

	// Names lists all existing store names in sorted order
	Names(ctx context.Context) ([]string, error)

	// Close cleanly shuts down the storage backend
	Close() error
}

// Store is a single named cache keyed by request identity.
// Individual operations are atomic; there is no multi-key transaction.
type Store interface {
	Name() string

	// Match returns the entry stored under key, if any
	Match(ctx context.Context, key string) (*Entry, bool, error)

	// Put stores the entry under key, replacing any previous value.
	// A write never recreates a deleted store: it fails with ErrStoreNotFound.
	Put(ctx context.Context, key string, entry *Entry) error

	// Delete removes the entry stored under key.
	// Returns false if there was nothing to delete.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys lists the stored keys in sorted order
	Keys(ctx context.Context) ([]string, error)
}

// ResponseType mirrors the fetch response types a cache policy cares about
type ResponseType string

const (
	// ResponseBasic is a same-origin response whose status and body are visible
	ResponseBasic ResponseType = "basic"

	// ResponseCORS is a cross-origin response allowed by CORS headers
	ResponseCORS ResponseType = "cors"

	// ResponseOpaque is a cross-origin response the client cannot verify
	ResponseOpaque ResponseType = "opaque"
)

// Meta contains metadata about a cached response
type Meta struct {
	// Key is the request identity this entry was stored under
	Key string `json:"key" msgpack:"key"`

	// Method and URL of the request that produced the response
	Method string `json:"method" msgpack:"method"`
	URL    string `json:"url" msgpack:"url"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int    `json:"status_code" msgpack:"status_code"`
	Status     string `json:"status" msgpack:"status"`

	// Header holds the full response header set
	Header http.Header `json:"header" msgpack:"header"`

	// Type is the response type at capture time
	Type ResponseType `json:"type" msgpack:"type"`

	// Size is the size of the cached body in bytes
	Size int64 `json:"size" msgpack:"size"`

	// CachedAt is when this entry was captured
	CachedAt time.Time `json:"cached_at" msgpack:"cached_at"`
}

// Age returns the age of the cache entry in seconds
func (m *Meta) Age() int64 {
	return int64(time.Since(m.CachedAt).Seconds())
}

// Entry is a fully captured response: metadata plus body
type Entry struct {
	Meta Meta   `json:"meta" msgpack:"meta"`
	Body []byte `json:"-" msgpack:"body"`
}
