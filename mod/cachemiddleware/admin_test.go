package cachemiddleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usexplo.com/offlinecache/mod/bgsync"
	"usexplo.com/offlinecache/mod/notify"
	"usexplo.com/offlinecache/mod/offline"
)

type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (l *eventLog) Deliver(_ context.Context, ev notify.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestAdmin_Authentication(t *testing.T) {
	f := newFixture(t)
	admin := NewAdminHandler(f.registration, f.storage, "s3cret", nil)

	rec := serve(http.HandlerFunc(admin.HandleStatus), http.MethodGet, "/_sw/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/_sw/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	admin.HandleStatus(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(http.HandlerFunc(admin.HandleStatus), http.MethodGet, "/_sw/status?secret=s3cret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(admin.Protect(f.manager.Stats().HandleGetAllStats), http.MethodGet, "/_sw/stats/all", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(http.HandlerFunc(admin.HandleStatus), http.MethodPost, "/_sw/status?secret=s3cret", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdmin_RejectsNearMissSecrets(t *testing.T) {
	f := newFixture(t)
	admin := NewAdminHandler(f.registration, f.storage, "s3cret", nil)

	for _, candidate := range []string{"", "s3cre", "s3cret!", "S3CRET", "s3cret "} {
		req := httptest.NewRequest(http.MethodGet, "/_sw/status", nil)
		req.Header.Set("Authorization", "Bearer "+candidate)
		rec := httptest.NewRecorder()
		admin.HandleStatus(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "bearer %q", candidate)

		rec = serve(http.HandlerFunc(admin.HandleStatus), http.MethodGet, "/_sw/status?secret="+url.QueryEscape(candidate), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "query %q", candidate)
	}
}

func TestAdmin_Status(t *testing.T) {
	f := newFixture(t)
	admin := NewAdminHandler(f.registration, f.storage, "", nil)

	rec := serve(http.HandlerFunc(admin.HandleStatus), http.MethodGet, "/_sw/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Active struct {
			Version string `json:"version"`
			Store   string `json:"store"`
			State   string `json:"state"`
		} `json:"active"`
		Waiting *json.RawMessage `json:"waiting"`
		Stores  []string         `json:"stores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "v1", status.Active.Version)
	assert.Equal(t, "v1", status.Active.Store)
	assert.Equal(t, "active", status.Active.State)
	assert.Nil(t, status.Waiting)
	assert.Equal(t, []string{"v1"}, status.Stores)

	rec = serve(http.HandlerFunc(admin.HandleEntries), http.MethodGet, "/_sw/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var keys []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keys))
	assert.Equal(t, []string{"GET " + f.origin.URL + "/"}, keys)
}

func TestAdmin_MessageSkipsWaiting(t *testing.T) {
	f := newFixture(t)
	admin := NewAdminHandler(f.registration, f.storage, "", nil)
	f.registration.Claim()

	v2, err := offline.New(offline.Options{
		Config:  offline.Config{Version: "v2", Origin: f.origin.URL, Precache: []string{"/"}},
		Storage: f.storage,
		Fetcher: f.origin.Client(),
	})
	require.NoError(t, err)
	defer v2.Close()
	require.NoError(t, f.registration.Register(context.Background(), v2))
	require.Same(t, v2, f.registration.Waiting())

	rec := serve(http.HandlerFunc(admin.HandleMessage), http.MethodPost, "/_sw/message", strings.NewReader(`{"type":"SKIP_WAITING"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"OK"`, rec.Body.String())

	assert.Same(t, v2, f.registration.Active())
	assert.Equal(t, offline.StateRedundant, f.manager.State())

	names, err := f.storage.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, names)

	rec = serve(http.HandlerFunc(admin.HandleMessage), http.MethodPost, "/_sw/message", strings.NewReader(`nope`))
	assert.Contains(t, rec.Body.String(), "error")
}

func TestAdmin_PushAndClick(t *testing.T) {
	events := &eventLog{}
	center := notify.NewCenter(notify.CenterConfig{Sink: events})
	defer center.Stop()

	f := newFixture(t, func(o *offline.Options) { o.Center = center })
	admin := NewAdminHandler(f.registration, f.storage, "", nil)

	rec := serve(http.HandlerFunc(admin.HandlePush), http.MethodPost, "/_sw/push", strings.NewReader(`{"title":"Nouveau spot"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(http.HandlerFunc(admin.HandleNotificationClick), http.MethodPost, "/_sw/notificationclick", strings.NewReader(`{"id":"abc","action":"explore"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{notify.EventNotification, notify.EventClose, notify.EventOpenWindow}, events.types())
}

func TestAdmin_SyncFailureIsServerError(t *testing.T) {
	var fail error
	f := newFixture(t, func(o *offline.Options) {
		o.Sync = bgsync.Func(func(ctx context.Context) error { return fail })
	})
	admin := NewAdminHandler(f.registration, f.storage, "", nil)

	rec := serve(http.HandlerFunc(admin.HandleSync), http.MethodPost, "/_sw/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	fail = errors.New("queue unavailable")
	form := url.Values{"tag": {bgsync.DefaultTag}}
	req := httptest.NewRequest(http.MethodPost, "/_sw/sync", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	admin.HandleSync(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "queue unavailable")
}

func TestAdmin_Purge(t *testing.T) {
	f := newFixture(t)
	admin := NewAdminHandler(f.registration, f.storage, "", nil)

	rec := serve(http.HandlerFunc(admin.HandlePurge), http.MethodPost, "/_sw/purge", strings.NewReader(`{"url":"/"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Success bool `json:"success"`
		Removed bool `json:"removed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.True(t, result.Removed)

	keys, err := f.manager.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)

	rec = serve(http.HandlerFunc(admin.HandlePurge), http.MethodPost, "/_sw/purge", strings.NewReader(`{}`))
	assert.Contains(t, rec.Body.String(), "URL is required")
}

func TestAdmin_NoActiveManager(t *testing.T) {
	f := newFixture(t)
	admin := NewAdminHandler(offline.NewRegistration(nil, nil), f.storage, "", nil)

	rec := serve(http.HandlerFunc(admin.HandleStats), http.MethodGet, "/_sw/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(http.HandlerFunc(admin.HandlePush), http.MethodPost, "/_sw/push", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
