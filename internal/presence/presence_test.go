package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/visitline/internal/testutil"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisTracker) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisTracker(client, time.Hour)
}

func trackers(t *testing.T) map[string]Tracker {
	_, rt := setupRedis(t)
	return map[string]Tracker{
		"redis": rt,
		"db":    NewDBTracker(testutil.OpenDB(t)),
	}
}

func TestTracker_TouchAndLastSeen(t *testing.T) {
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := tr.LastSeen(ctx, "a1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, tr.Touch(ctx, "a1", base))
			require.NoError(t, tr.Touch(ctx, "a1", base.Add(5*time.Minute)))
			require.NoError(t, tr.Touch(ctx, "a1", base.Add(2*time.Minute)), "stale heartbeat is ignored")

			at, ok, err := tr.LastSeen(ctx, "a1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, at.Equal(base.Add(5*time.Minute)), "got %v", at)
		})
	}
}

func TestOnline(t *testing.T) {
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, tr.Touch(ctx, "a1", base))

			online, err := Online(ctx, tr, "a1", base.Add(15*time.Minute), 15*time.Minute)
			require.NoError(t, err)
			assert.True(t, online)

			online, err = Online(ctx, tr, "a1", base.Add(16*time.Minute), 15*time.Minute)
			require.NoError(t, err)
			assert.False(t, online)

			online, err = Online(ctx, tr, "never", base, 15*time.Minute)
			require.NoError(t, err)
			assert.False(t, online)
		})
	}
}

func TestRedisTracker_Expiry(t *testing.T) {
	mr, rt := setupRedis(t)
	ctx := context.Background()
	require.NoError(t, rt.Touch(ctx, "a1", time.Now()))
	assert.True(t, mr.Exists("presence:a1"))

	mr.FastForward(2 * time.Hour)
	_, ok, err := rt.LastSeen(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisTracker_Corrupt(t *testing.T) {
	mr, rt := setupRedis(t)
	require.NoError(t, mr.Set("presence:a1", "yesterday"))
	_, _, err := rt.LastSeen(context.Background(), "a1")
	assert.Error(t, err)
}

func TestRedisTracker_Unavailable(t *testing.T) {
	mr, rt := setupRedis(t)
	mr.Close()
	assert.Error(t, rt.Touch(context.Background(), "a1", time.Now()))
}
