package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Payload
		wantErr error
	}{
		{
			name: "full payload",
			data: `{"title":"Nouveau spot","body":"Un lieu abandonné près de chez vous","primaryKey":42}`,
			want: Payload{Title: "Nouveau spot", Body: "Un lieu abandonné près de chez vous", PrimaryKey: float64(42)},
		},
		{
			name: "missing title uses app name",
			data: `{"body":"hello"}`,
			want: Payload{Title: "US EXPLO", Body: "hello", PrimaryKey: 1},
		},
		{
			name: "empty title uses app name",
			data: `{"title":"","body":"hello"}`,
			want: Payload{Title: "US EXPLO", Body: "hello", PrimaryKey: 1},
		},
		{
			name: "null primary key defaults",
			data: `{"title":"t","primaryKey":null}`,
			want: Payload{Title: "t", PrimaryKey: 1},
		},
		{
			name: "string primary key kept",
			data: `{"primaryKey":"abc"}`,
			want: Payload{Title: "US EXPLO", PrimaryKey: "abc"},
		},
		{
			name:    "malformed json",
			data:    `{not json`,
			want:    Payload{Title: "US EXPLO", PrimaryKey: 1},
			wantErr: ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload([]byte(tt.data), "US EXPLO")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptionsBuild(t *testing.T) {
	opts := DefaultOptions()
	n := opts.Build(Payload{Title: "Hi", Body: "there", PrimaryKey: 7})

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "Hi", n.Title)
	assert.Equal(t, "there", n.Body)
	assert.Equal(t, "/logo192.png", n.Icon)
	assert.Equal(t, []int{100, 50, 100}, n.Vibrate)
	assert.Equal(t, 7, n.Data.PrimaryKey)
	assert.InDelta(t, time.Now().UnixMilli(), n.Data.DateOfArrival, 5000)

	require.Len(t, n.Actions, 2)
	assert.Equal(t, Action{Action: ActionExplore, Title: "Explorer", Icon: opts.ExploreIcon}, n.Actions[0])
	assert.Equal(t, Action{Action: ActionClose, Title: "Fermer", Icon: opts.CloseIcon}, n.Actions[1])

	// Vibrate pattern must not alias the options slice
	n.Vibrate[0] = 0
	assert.Equal(t, 100, opts.Vibrate[0])

	other := opts.Build(Payload{})
	assert.NotEqual(t, n.ID, other.ID)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func TestCenterShowLookupClose(t *testing.T) {
	sink := &recordingSink{}
	center := NewCenter(CenterConfig{Sink: sink})
	defer center.Stop()

	n := DefaultOptions().Build(Payload{Title: "t", PrimaryKey: 1})
	require.NoError(t, center.Show(context.Background(), n))

	got, ok := center.Lookup(n.ID)
	require.True(t, ok)
	assert.Equal(t, n.Title, got.Title)

	require.NoError(t, center.Close(context.Background(), n.ID))
	_, ok = center.Lookup(n.ID)
	assert.False(t, ok)

	require.NoError(t, center.OpenWindow(context.Background(), "/#explore"))

	require.Len(t, sink.events, 3)
	assert.Equal(t, EventNotification, sink.events[0].Type)
	assert.Equal(t, n.ID, sink.events[0].Notification.ID)
	assert.Equal(t, Event{Type: EventClose, ID: n.ID}, sink.events[1])
	assert.Equal(t, Event{Type: EventOpenWindow, URL: "/#explore"}, sink.events[2])

	// Stop is idempotent
	center.Stop()
}

func TestCenterRetention(t *testing.T) {
	center := NewCenter(CenterConfig{Retention: 20 * time.Millisecond})
	defer center.Stop()

	n := DefaultOptions().Build(Payload{})
	require.NoError(t, center.Show(context.Background(), n))

	assert.Eventually(t, func() bool {
		_, ok := center.Lookup(n.ID)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCenterPropagatesSinkError(t *testing.T) {
	boom := errors.New("no page")
	center := NewCenter(CenterConfig{Sink: &recordingSink{err: boom}})
	defer center.Stop()

	err := center.OpenWindow(context.Background(), "/")
	assert.ErrorIs(t, err, boom)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub("", nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Deliver(context.Background(), Event{Type: EventOpenWindow, URL: "/"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, Event{Type: EventOpenWindow, URL: "/"}, ev)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub("https://usexplo.com", nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	header := map[string][]string{"Origin": {"https://evil.example"}}
	_, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Clients())
}

func TestHubPresenceHooks(t *testing.T) {
	hub := NewHub("", nil)
	var connected, left atomic.Int32
	hub.SetPresenceHooks(func() { connected.Add(1) }, func() { left.Add(1) })

	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return connected.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 0, left.Load())

	conn.Close()
	assert.Eventually(t, func() bool { return left.Load() == 1 }, time.Second, 10*time.Millisecond)
}
