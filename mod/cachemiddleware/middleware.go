package cachemiddleware

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Fetcher answers an intercepted request. *offline.Registration satisfies it.
type Fetcher interface {
	Fetch(req *http.Request) (*http.Response, error)
}

// Config holds configuration for the intercepting proxy
type Config struct {
	// Origin is the upstream base URL requests are rewritten to
	Origin string

	// Fetcher decides between cache and network
	Fetcher Fetcher

	Logger *zap.Logger
}

// Proxy is an http.Handler standing between pages and the origin. Every
// request is rewritten to the origin and answered through the Fetcher.
type Proxy struct {
	origin  *url.URL
	fetcher Fetcher
	logger  *zap.Logger
}

// Hop-by-hop headers are never forwarded in either direction
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// NewProxy creates an intercepting proxy
func NewProxy(config Config) (*Proxy, error) {
	if config.Fetcher == nil {
		return nil, errors.New("cachemiddleware: fetcher is required")
	}
	origin, err := url.Parse(config.Origin)
	if err != nil {
		return nil, err
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, errors.New("cachemiddleware: origin must be an absolute URL")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Proxy{
		origin:  origin,
		fetcher: config.Fetcher,
		logger:  config.Logger,
	}, nil
}

// ServeHTTP implements http.Handler
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	outReq := p.rewrite(r)

	resp, err := p.fetcher.Fetch(outReq)
	if err != nil {
		// Offline with nothing cached: the page sees the same failure the
		// network would have produced
		p.logger.Debug("upstream unavailable", zap.String("url", outReq.URL.String()), zap.Error(err))
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	removeHopHeaders(w.Header())
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug("failed to stream response", zap.String("url", outReq.URL.String()), zap.Error(err))
	}
}

// rewrite points an incoming server request at the origin
func (p *Proxy) rewrite(r *http.Request) *http.Request {
	out := r.Clone(r.Context())
	out.RequestURI = ""

	target := *p.origin
	target.Path = singleJoiningSlash(p.origin.Path, r.URL.Path)
	target.RawPath = ""
	target.RawQuery = r.URL.RawQuery
	target.Fragment = ""
	out.URL = &target
	out.Host = p.origin.Host

	removeHopHeaders(out.Header)

	// Let the transport negotiate compression so cached bodies are plain
	out.Header.Del("Accept-Encoding")

	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	out.Header.Set("X-Forwarded-Host", r.Host)
	return out
}

// Transport is an http.RoundTripper that applies the offline cache policy
// to Go HTTP clients. The Fetcher's own network client must not use it.
type Transport struct {
	Fetcher Fetcher
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Fetcher == nil {
		return nil, errors.New("cachemiddleware: transport has no fetcher")
	}
	return t.Fetcher.Fetch(req)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func removeHopHeaders(h http.Header) {
	for _, c := range h.Values("Connection") {
		for _, f := range strings.Split(c, ",") {
			if f = strings.TrimSpace(f); f != "" {
				h.Del(f)
			}
		}
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
