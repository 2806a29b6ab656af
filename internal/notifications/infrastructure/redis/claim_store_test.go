package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) (*ClaimStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewClaimStore(client, opts...)
	require.NoError(t, err)
	return store, mr
}

func TestClaimOnlyOnce(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Claim(ctx, "101:1733234525000000")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, "101:1733234525000000")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mr.Exists("safety:fanout:101:1733234525000000"))
	assert.Equal(t, 24*time.Hour, mr.TTL("safety:fanout:101:1733234525000000"))
}

func TestReusedIDWithNewCreationInstantClaimsAgain(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Claim(ctx, "101:1733234525000000")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Claim(ctx, "101:1735689600000000")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmptyKeyRejected(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Claim(context.Background(), "")
	assert.Error(t, err)
	assert.Error(t, store.Release(context.Background(), ""))
}

func TestReleaseAllowsReclaim(t *testing.T) {
	store, _ := newTestStore(t, WithKeyPrefix("test:"))
	ctx := context.Background()

	ok, err := store.Claim(ctx, "5:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Release(ctx, "5:1"))

	ok, err = store.Claim(ctx, "5:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimExpires(t *testing.T) {
	store, mr := newTestStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	ok, err := store.Claim(ctx, "9:1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = store.Claim(ctx, "9:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewClaimStoreNilClient(t *testing.T) {
	_, err := NewClaimStore(nil)
	assert.Error(t, err)
}
