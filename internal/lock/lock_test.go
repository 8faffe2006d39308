package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "news", keyFor("news"))
	assert.Equal(t, "a_b_c", keyFor("a/b c"))
	assert.Equal(t, "_", keyFor(""))
}

var (
	_ Locker = (*FileLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)

func TestLockerInterfaceRelease(t *testing.T) {
	var l Locker = NewFileLocker(t.TempDir(), 0)
	release, err := l.Acquire(context.Background(), "news")
	require.NoError(t, err)
	require.NotNil(t, release)
	release()

	again, err := l.Acquire(context.Background(), "news")
	require.NoError(t, err)
	again()
}

func TestFileLockerExcludes(t *testing.T) {
	dir := t.TempDir()
	first := NewFileLocker(dir, 0)
	second := NewFileLocker(dir, 150*time.Millisecond)

	release, err := first.Acquire(context.Background(), "news")
	require.NoError(t, err)

	_, err = second.Acquire(context.Background(), "news")
	assert.ErrorIs(t, err, ErrLocked)

	other, err := second.Acquire(context.Background(), "sports")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := second.Acquire(context.Background(), "news")
	require.NoError(t, err)
	again()
}

func TestFileLockerHonoursCancel(t *testing.T) {
	dir := t.TempDir()
	release, err := NewFileLocker(dir, 0).Acquire(context.Background(), "news")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewFileLocker(dir, time.Second).Acquire(ctx, "news")
	assert.Error(t, err)
}

func TestRedisLocker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })

	prefix := "masterdoc:test:" + uuid.NewString() + ":"
	a := NewRedisLocker(rdb, prefix, time.Minute, 0)
	b := NewRedisLocker(rdb, prefix, time.Minute, 200*time.Millisecond)

	release, err := a.Acquire(context.Background(), "news")
	require.NoError(t, err)
	_, err = b.Acquire(context.Background(), "news")
	assert.ErrorIs(t, err, ErrLocked)

	release()
	again, err := b.Acquire(context.Background(), "news")
	require.NoError(t, err)
	again()
}
