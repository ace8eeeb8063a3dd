package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSnapshotStore_RoundTrip(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisSnapshotStore(client, 0)
	ctx := context.Background()

	_, err := store.Get(ctx, "ch-1", "263771")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	snap := &domain.DialogueSnapshot{
		ChannelNumberID: "ch-1",
		UserID:          "263771",
		Document:        json.RawMessage(`{"version":1,"state":"home.ready"}`),
		CreatedAt:       created,
		UpdatedAt:       created.Add(time.Minute),
	}
	require.NoError(t, store.Upsert(ctx, snap))
	require.True(t, mr.Exists("dialogue:v1:ch-1:263771"))
	require.Equal(t, time.Duration(0), mr.TTL("dialogue:v1:ch-1:263771"))

	got, err := store.Get(ctx, "ch-1", "263771")
	require.NoError(t, err)
	require.JSONEq(t, string(snap.Document), string(got.Document))
	require.True(t, created.Equal(got.CreatedAt))
	require.True(t, snap.UpdatedAt.Equal(got.UpdatedAt))
}

func TestRedisSnapshotStore_AppliesRetention(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisSnapshotStore(client, 48*time.Hour)

	require.NoError(t, store.Upsert(context.Background(), &domain.DialogueSnapshot{
		ChannelNumberID: "ch",
		UserID:          "u",
		Document:        json.RawMessage(`{}`),
	}))
	require.Equal(t, 48*time.Hour, mr.TTL("dialogue:v1:ch:u"))
}

func TestRedisLocker_SerializesHolders(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second, 100*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "ch:u")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "ch:u")
	require.ErrorIs(t, err, ErrLockTimeout)

	other, err := locker.Acquire(ctx, "ch:someone-else")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := locker.Acquire(ctx, "ch:u")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRedisLocker_ReleaseDoesNotStealForeignLock(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, time.Second, 50*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)

	// lease expired and another holder took over
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("dialogue:lock:k", "someone-else"))

	require.NoError(t, release(ctx))
	v, err := mr.Get("dialogue:lock:k")
	require.NoError(t, err)
	require.Equal(t, "someone-else", v)
}

func TestRedisLocker_RenewsLeaseWhileHeld(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, 30*time.Second, 100*time.Millisecond).(*redisLocker)
	locker.renewEvery = 20 * time.Millisecond
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "ch:u")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		mr.FastForward(20 * time.Second)
		require.Eventually(t, func() bool {
			return mr.TTL("dialogue:lock:ch:u") > 25*time.Second
		}, time.Second, 10*time.Millisecond)
	}

	_, err = locker.Acquire(ctx, "ch:u")
	require.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, release(ctx))
	require.False(t, mr.Exists("dialogue:lock:ch:u"))

	next, err := locker.Acquire(ctx, "ch:u")
	require.NoError(t, err)
	require.NoError(t, next(ctx))
}

func TestRedisLocker_StopsRenewingAfterRelease(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, 30*time.Second, 50*time.Millisecond).(*redisLocker)
	locker.renewEvery = 10 * time.Millisecond
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	// a later holder's lease must not be touched by the old renewer
	require.NoError(t, mr.Set("dialogue:lock:k", "other"))
	mr.SetTTL("dialogue:lock:k", 5*time.Second)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 5*time.Second, mr.TTL("dialogue:lock:k"))
}
