package cachemiddleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usexplo.com/offlinecache/mod/cache"
	"usexplo.com/offlinecache/mod/offline"
)

type fixture struct {
	origin       *httptest.Server
	originHits   atomic.Int32
	storage      *cache.MemoryStorage
	registration *offline.Registration
	manager      *offline.Manager
	proxy        *Proxy
}

func newFixture(t *testing.T, opts ...func(*offline.Options)) *fixture {
	t.Helper()
	f := &fixture{storage: cache.NewMemoryStorage()}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.originHits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>home</html>")
	})
	mux.HandleFunc("/app.js", func(w http.ResponseWriter, r *http.Request) {
		f.originHits.Add(1)
		w.Header().Set("Content-Type", "application/javascript")
		io.WriteString(w, "console.log('tuneme')")
	})
	mux.HandleFunc("/api/tracks", func(w http.ResponseWriter, r *http.Request) {
		f.originHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":1}]`)
	})
	f.origin = httptest.NewServer(mux)
	t.Cleanup(f.origin.Close)

	options := offline.Options{
		Config: offline.Config{
			Version:  "v1",
			Origin:   f.origin.URL,
			Precache: []string{"/"},
		},
		Storage: f.storage,
		Fetcher: f.origin.Client(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	m, err := offline.New(options)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	f.manager = m

	f.registration = offline.NewRegistration(f.origin.Client(), nil)
	require.NoError(t, f.registration.Register(context.Background(), m))

	f.proxy, err = NewProxy(Config{Origin: f.origin.URL, Fetcher: f.registration})
	require.NoError(t, err)
	return f
}

func serve(h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, body))
	return rec
}

func TestNewProxy_Validation(t *testing.T) {
	_, err := NewProxy(Config{Origin: "http://localhost"})
	assert.Error(t, err)

	_, err = NewProxy(Config{Origin: "not-absolute", Fetcher: offline.NewRegistration(nil, nil)})
	assert.Error(t, err)
}

func TestProxy_StaticServedFromCacheWhenOriginIsDown(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.proxy, http.MethodGet, "http://tuneme.local/app.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log('tuneme')", rec.Body.String())
	assert.Equal(t, "application/javascript", rec.Header().Get("Content-Type"))
	f.manager.Flush()

	f.origin.Close()

	rec = serve(f.proxy, http.MethodGet, "http://tuneme.local/app.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "console.log('tuneme')", rec.Body.String())
}

func TestProxy_PrecachedRootNeverHitsOrigin(t *testing.T) {
	f := newFixture(t)
	before := f.originHits.Load()

	rec := serve(f.proxy, http.MethodGet, "http://tuneme.local/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, before, f.originHits.Load())
}

func TestProxy_APIOfflineWithoutCacheIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.origin.Close()

	rec := serve(f.proxy, http.MethodGet, "http://tuneme.local/api/tracks", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProxy_APIFallsBackToCache(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.proxy, http.MethodGet, "http://tuneme.local/api/tracks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
	f.manager.Flush()

	f.origin.Close()

	rec = serve(f.proxy, http.MethodGet, "http://tuneme.local/api/tracks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, `[{"id":1}]`, rec.Body.String())
}

func TestTransport_RoundTrip(t *testing.T) {
	f := newFixture(t)
	client := &http.Client{Transport: &Transport{Fetcher: f.registration}}

	resp, err := client.Get(f.origin.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, "<html>home</html>", string(body))

	_, err = (&Transport{}).RoundTrip(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Error(t, err)
}

func TestRemoveHopHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "close, X-Custom-Hop")
	h.Set("X-Custom-Hop", "1")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Content-Type", "text/plain")

	removeHopHeaders(h)

	assert.Empty(t, h.Get("Connection"))
	assert.Empty(t, h.Get("X-Custom-Hop"))
	assert.Empty(t, h.Get("Keep-Alive"))
	assert.Equal(t, "text/plain", h.Get("Content-Type"))
}

func TestSingleJoiningSlash(t *testing.T) {
	assert.Equal(t, "/base/x", singleJoiningSlash("/base/", "/x"))
	assert.Equal(t, "/base/x", singleJoiningSlash("/base", "x"))
	assert.Equal(t, "/x", singleJoiningSlash("", "/x"))
}
