package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dev/bravebird/form-submitter/pkg/models"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, "test:", time.Second)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStoreCreateAndSwap(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	got, err := store.Load(ctx, "https://a")
	require.NoError(t, err)
	assert.Nil(t, got)

	rec := &models.SubmissionRecord{TargetKey: "https://a", Status: models.StatusInProgress, Attempts: 1, Version: 1}
	ok, err := store.Create(ctx, rec)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Create(ctx, rec)
	require.NoError(t, err)
	assert.False(t, ok, "second create must not overwrite")

	next := *rec
	next.Status = models.StatusSucceeded
	next.Version = 2

	ok, err = store.Swap(ctx, &next, 7)
	require.NoError(t, err)
	assert.False(t, ok, "stale version must be rejected")

	ok, err = store.Swap(ctx, &next, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.Load(ctx, "https://a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestRedisStoreSwapMissing(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ok, err := store.Swap(context.Background(), &models.SubmissionRecord{TargetKey: "nope", Version: 1}, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreList(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	for _, key := range []string{"https://c?id=3", "https://a?id=1", "https://b?id=2"} {
		_, err := store.Create(ctx, &models.SubmissionRecord{TargetKey: key, Status: models.StatusFailed, Version: 1})
		require.NoError(t, err)
	}

	recs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "https://a?id=1", recs[0].TargetKey)
	assert.Equal(t, "https://c?id=3", recs[2].TargetKey)
}

func TestRedisStoreLock(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	release, err := store.Acquire(ctx, "run-1")
	require.NoError(t, err)

	_, err = store.Acquire(ctx, "run-2")
	assert.ErrorIs(t, err, models.ErrLocked)

	holder, err := mr.Get("test:lock")
	require.NoError(t, err)
	assert.Equal(t, "run-1", holder)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("test:lock"))
	require.NoError(t, release(ctx), "release is idempotent")

	release2, err := store.Acquire(ctx, "run-2")
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestRedisStoreReleaseKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	release, err := store.Acquire(ctx, "run-1")
	require.NoError(t, err)

	// lock expired and someone else took it
	mr.Set("test:lock", "run-9")

	require.NoError(t, release(ctx))
	holder, err := mr.Get("test:lock")
	require.NoError(t, err)
	assert.Equal(t, "run-9", holder)
}

func TestRedisStoreReportsLostLock(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	store, mr := newTestRedisStore(t)
	store.WithLogger(zap.New(core))

	release, err := store.Acquire(ctx, "run-1")
	require.NoError(t, err)

	mr.Set("test:lock", "run-9")

	require.Eventually(t, func() bool {
		return logs.FilterMessageSnippet("Run lock lost").Len() > 0
	}, 3*time.Second, 20*time.Millisecond)

	entry := logs.FilterMessageSnippet("Run lock lost").All()[0]
	assert.Equal(t, "run-9", entry.ContextMap()["holder"])

	assert.ErrorIs(t, release(ctx), ErrLockLost)
	holder, err := mr.Get("test:lock")
	require.NoError(t, err)
	assert.Equal(t, "run-9", holder)
}

func TestRedisStoreRefreshKeepsLock(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	release, err := store.Acquire(ctx, "run-1")
	require.NoError(t, err)

	require.True(t, store.refresh("run-1"))
	assert.Equal(t, time.Second, mr.TTL("test:lock"))
	assert.False(t, store.refresh("run-2"))

	require.NoError(t, release(ctx))
}
