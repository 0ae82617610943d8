package session

import (
	"testing"
	"time"

	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/testutil"
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, ttl time.Duration) *Registry {
	t.Helper()
	return NewRegistry(ttl, testutil.TestLogger(t), &stats.MockStatsUpdater{})
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	sess, err := r.Create(types.User{Username: "alice"})
	require.NoError(t, err)
	assert.Len(t, sess.Token, 32, "expected 16 random bytes hex-encoded")
	assert.Equal(t, "alice", sess.User.Username)

	got, err := r.Get(sess.Token)
	require.NoError(t, err)
	assert.Same(t, sess, got)
}

func TestRegistry_Get_unknownToken(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	_, err := r.Get("deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_Get_expired(t *testing.T) {
	r := newTestRegistry(t, -time.Second)

	sess, err := r.Create(types.User{Username: "bob"})
	require.NoError(t, err)

	_, err = r.Get(sess.Token)
	assert.ErrorIs(t, err, ErrNotFound, "expired session must behave as missing")
	assert.Zero(t, r.Len(), "expired session must be evicted on access")
}

func TestRegistry_sweep(t *testing.T) {
	r := newTestRegistry(t, -time.Second)

	_, err := r.Create(types.User{Username: "carol"})
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	r.sweep()
	assert.Zero(t, r.Len())
}

func TestRegistry_Remove(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	sess, err := r.Create(types.User{Username: "dave"})
	require.NoError(t, err)

	r.Remove(sess.Token)
	_, err = r.Get(sess.Token)
	assert.ErrorIs(t, err, ErrNotFound)

	// Removing an unknown token is a no-op.
	r.Remove("nope")
}

func TestSession_room(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	sess, err := r.Create(types.User{Username: "eve"})
	require.NoError(t, err)
	assert.Empty(t, sess.Room())

	sess.SetRoom("General")
	assert.Equal(t, "General", sess.Room())

	sess.SetRoom("")
	assert.Empty(t, sess.Room())
}
