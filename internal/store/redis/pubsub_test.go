package redis_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstore "github.com/gosuda/cadence/internal/store/redis"
)

func TestTaskChannel(t *testing.T) {
	t.Parallel()

	userID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		got := redisstore.TaskChannel(userID)
		assert.Equal(t, "tasks:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", got)
	})

	t.Run("nil UUID", func(t *testing.T) {
		t.Parallel()

		got := redisstore.TaskChannel(uuid.Nil)
		assert.Equal(t, "tasks:00000000-0000-0000-0000-000000000000", got)
	})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()

		got := redisstore.TaskChannel(userID)
		assert.True(t, strings.HasPrefix(got, "tasks:"), "expected prefix 'tasks:', got %q", got)
	})

	t.Run("different users produce different channels", func(t *testing.T) {
		t.Parallel()

		other := uuid.MustParse("11111111-2222-3333-4444-555555555555")
		assert.NotEqual(t, redisstore.TaskChannel(userID), redisstore.TaskChannel(other))
	})
}

func TestLocker_CancelledContext(t *testing.T) {
	t.Parallel()

	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	locker := redisstore.NewLocker(client, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	unlock, err := locker.Lock(ctx, "recurrence:template:x")

	require.Error(t, err)
	assert.Nil(t, unlock)
	assert.ErrorIs(t, err, redisstore.ErrLockTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}
