package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hiblogs-account/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestIncrementAttemptsSetsTTLOnce(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRegistrationStore(rdb, 30*time.Minute)
	ctx := context.Background()

	n, err := store.IncrementAttempts(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 30*time.Minute, mr.TTL(attemptsKeyPrefix+"a@b.com"))

	mr.FastForward(10 * time.Minute)

	n, err = store.IncrementAttempts(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	// 第二次自增不刷新窗口
	assert.Equal(t, 20*time.Minute, mr.TTL(attemptsKeyPrefix+"a@b.com"))

	mr.FastForward(21 * time.Minute)

	n, err = store.IncrementAttempts(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIncrementAttemptsConcurrent(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRegistrationStore(rdb, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementAttempts(ctx, "race@b.com")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := store.IncrementAttempts(ctx, "race@b.com")
	require.NoError(t, err)
	assert.Equal(t, int64(21), n)
}

func TestPendingMarkerLifecycle(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRegistrationStore(rdb, 30*time.Minute)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "a@b.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.MarkPending(ctx, "a@b.com", 30*time.Minute))
	ok, err = store.Exists(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(29 * time.Minute)
	require.NoError(t, store.MarkPending(ctx, "a@b.com", 30*time.Minute))
	mr.FastForward(29 * time.Minute)
	ok, err = store.Exists(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, ok, "MarkPending overwrites and restarts the TTL")

	mr.FastForward(2 * time.Minute)
	ok, err = store.Exists(ctx, "a@b.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.MarkPending(ctx, "a@b.com", time.Minute))
	require.NoError(t, store.Invalidate(ctx, "a@b.com"))
	require.NoError(t, store.Invalidate(ctx, "a@b.com"))
	ok, err = store.Exists(ctx, "a@b.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPendingMarkerDoesNotResetCounter(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRegistrationStore(rdb, 30*time.Minute)
	ctx := context.Background()

	_, err := store.IncrementAttempts(ctx, "a@b.com")
	require.NoError(t, err)
	require.NoError(t, store.MarkPending(ctx, "a@b.com", 30*time.Minute))

	n, err := store.IncrementAttempts(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestReserveUsername(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRegistrationStore(rdb, 30*time.Minute)
	ctx := context.Background()

	ok, err := store.ReserveUsername(ctx, "Alice", "a@b.com", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ReserveUsername(ctx, "Alice", "a@b.com", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "same email may re-register")

	ok, err = store.ReserveUsername(ctx, "Alice", "c@d.com", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ReserveUsername(ctx, "alice", "c@d.com", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "usernames are case-sensitive")

	require.NoError(t, store.ReleaseUsername(ctx, "Alice", "c@d.com"))
	ok, err = store.ReserveUsername(ctx, "Alice", "c@d.com", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner is ignored")

	require.NoError(t, store.ReleaseUsername(ctx, "Alice", "a@b.com"))
	ok, err = store.ReserveUsername(ctx, "Alice", "c@d.com", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRegistrationStore(rdb, time.Minute)
	mr.Close()

	_, err := store.IncrementAttempts(context.Background(), "a@b.com")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = store.Exists(context.Background(), "a@b.com")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestOAuthStateConsumeOnce(t *testing.T) {
	mr, rdb := newTestRedis(t)
	states := NewOAuthStateStore(rdb, 10*time.Minute)
	ctx := context.Background()

	require.NoError(t, states.Save(ctx, "s1", "qq"))
	provider, err := states.Consume(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "qq", provider)

	_, err = states.Consume(ctx, "s1")
	assert.ErrorIs(t, err, ErrStateNotFound)

	require.NoError(t, states.Save(ctx, "s2", "sina"))
	mr.FastForward(11 * time.Minute)
	_, err = states.Consume(ctx, "s2")
	assert.ErrorIs(t, err, ErrStateNotFound)

	_, err = states.Consume(ctx, "")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestUserCacheGetOrLoad(t *testing.T) {
	c, err := NewUserCache(10, time.Minute)
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	loader := func(ctx context.Context, id int64) (*models.User, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return &models.User{ID: id, Username: "u"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := c.GetOrLoad(context.Background(), 7, loader)
			assert.NoError(t, err)
			assert.Equal(t, int64(7), u.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)

	c.Invalidate(7)
	_, ok := c.Get(7)
	assert.False(t, ok)

	notFound := func(ctx context.Context, id int64) (*models.User, error) { return nil, models.ErrUserNotFound }
	_, err = c.GetOrLoad(context.Background(), 8, notFound)
	assert.True(t, errors.Is(err, models.ErrUserNotFound))

	_, err = c.GetOrLoad(context.Background(), 0, loader)
	assert.ErrorIs(t, err, ErrInvalidUserID)

	_, err = NewUserCache(0, time.Minute)
	assert.ErrorIs(t, err, ErrCacheInitFailed)
}
