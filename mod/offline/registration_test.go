package offline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usexplo.com/offlinecache/mod/cacheworker"
)

func TestRegistration_FirstManagerActivatesImmediately(t *testing.T) {
	env := newTestEnv(t)
	reg := NewRegistration(env.network, nil)

	m := env.manager(t, "v1", "/")
	require.NoError(t, reg.Register(context.Background(), m))

	assert.Same(t, m, reg.Active())
	assert.Nil(t, reg.Waiting())
	assert.Equal(t, StateActive, m.State())
}

func TestRegistration_WaitsForClientsThenPromotes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := NewRegistration(env.network, nil)

	v1 := env.manager(t, "v1", "/")
	require.NoError(t, reg.Register(ctx, v1))
	reg.Claim()
	reg.Claim()

	v2 := env.manager(t, "v2", "/", "/manifest.json")
	require.NoError(t, reg.Register(ctx, v2))

	assert.Same(t, v1, reg.Active())
	assert.Same(t, v2, reg.Waiting())
	assert.Equal(t, StateInstalling, v2.State())

	require.NoError(t, reg.Release(ctx))
	assert.Same(t, v1, reg.Active(), "one client still attached")

	require.NoError(t, reg.Release(ctx))
	assert.Same(t, v2, reg.Active())
	assert.Nil(t, reg.Waiting())
	assert.Equal(t, StateRedundant, v1.State())

	names, err := env.storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, names)
}

func TestRegistration_SkipWaitingBypassesClients(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := NewRegistration(env.network, nil)

	v1 := env.manager(t, "v1", "/")
	require.NoError(t, reg.Register(ctx, v1))
	reg.Claim()

	v2 := env.manager(t, "v2", "/")
	require.NoError(t, reg.Register(ctx, v2))
	require.Same(t, v2, reg.Waiting())

	require.NoError(t, v2.HandleMessage(ctx, Message{Type: DefaultSkipWaitingType}))

	assert.Same(t, v2, reg.Active())
	assert.Nil(t, reg.Waiting())
	assert.Equal(t, StateActive, v2.State())
	assert.Equal(t, StateRedundant, v1.State())
	assert.Equal(t, 1, reg.Clients(), "clients stay attached across the upgrade")
}

func TestRegistration_FetchRoutesToActiveManager(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := NewRegistration(env.network, nil)
	url := testOrigin + "/manifest.json"

	// No manager: straight to the network
	resp, err := reg.Fetch(get(t, url))
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("X-Cache"))
	resp.Body.Close()
	assert.Equal(t, 1, env.network.callCount(url))

	m := env.manager(t, "v1", "/manifest.json")
	require.NoError(t, reg.Register(ctx, m))
	calls := env.network.callCount(url)

	resp, err = reg.Fetch(get(t, url))
	require.NoError(t, err)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	resp.Body.Close()
	assert.Equal(t, calls, env.network.callCount(url))
}

func TestRegistration_ReleaseWithoutClients(t *testing.T) {
	reg := NewRegistration(nil, nil)
	require.NoError(t, reg.Release(context.Background()))
	assert.Equal(t, 0, reg.Clients())
}

func TestRegistration_ReplacedWaitingManagerIsDiscarded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := NewRegistration(env.network, nil)

	v1 := env.manager(t, "v1", "/")
	require.NoError(t, reg.Register(ctx, v1))
	reg.Claim()

	v2 := env.manager(t, "v2", "/")
	require.NoError(t, reg.Register(ctx, v2))
	v3 := env.manager(t, "v3", "/")
	require.NoError(t, reg.Register(ctx, v3))
	require.Same(t, v3, reg.Waiting())

	// The replaced manager can no longer take over
	err := v2.HandleMessage(ctx, Message{Type: DefaultSkipWaitingType})
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Same(t, v1, reg.Active())
	assert.Equal(t, StateInstalling, v2.State())

	// and its own writer has been stopped
	assert.ErrorIs(t, v2.ownedWorker.Enqueue(cacheworker.WriteJob{}), cacheworker.ErrStopped)

	require.NoError(t, reg.Release(ctx))
	assert.Same(t, v3, reg.Active())

	names, err := env.storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v3"}, names)
}
