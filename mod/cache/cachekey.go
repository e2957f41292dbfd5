package cache

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// KeyGenerator generates cache keys from HTTP requests
type KeyGenerator struct {
	// IncludeQuery determines whether query parameters are included in the key
	IncludeQuery bool

	// CaseSensitivePath keeps the path as-is instead of lowercasing it.
	// Scheme and host are always lowercased.
	CaseSensitivePath bool
}

// NewKeyGenerator creates a new KeyGenerator with default settings
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{
		IncludeQuery:      true,
		CaseSensitivePath: true,
	}
}

// GenerateKey creates a cache key of the form "METHOD URL" from a request.
// Query parameters are sorted so equivalent URLs map to the same key.
func (kg *KeyGenerator) GenerateKey(r *http.Request) string {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + kg.NormalizeURL(r.URL)
}

// NormalizeURL renders u in its canonical cache form
func (kg *KeyGenerator) NormalizeURL(u *url.URL) string {
	var b strings.Builder

	if u.Scheme != "" {
		b.WriteString(strings.ToLower(u.Scheme))
		b.WriteString("://")
	}
	b.WriteString(strings.ToLower(u.Host))

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if !kg.CaseSensitivePath {
		path = strings.ToLower(path)
	}
	b.WriteString(path)

	if kg.IncludeQuery && u.RawQuery != "" {
		if q := kg.normalizeQuery(u.Query()); q != "" {
			b.WriteString("?")
			b.WriteString(q)
		}
	}

	return b.String()
}

// normalizeQuery sorts query parameters for consistent key generation
func (kg *KeyGenerator) normalizeQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}

	return strings.Join(parts, "&")
}

// IsCacheable reports whether a request may be looked up in or written to a
// cache store. Request identity is GET-only.
func IsCacheable(r *http.Request) bool {
	return r.Method == "" || r.Method == http.MethodGet
}
