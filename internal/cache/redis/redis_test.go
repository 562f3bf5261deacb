package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// newTestClient connects to MARKETD_TEST_REDIS_ADDR or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("MARKETD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MARKETD_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManagerAcquire(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, key, time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	again()
}

func TestLeaseExtendAfterLoss(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	l, err := lm.AcquireLease(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Extend(ctx, time.Minute))

	require.NoError(t, c.Underlying().Del(ctx, "lock:"+key).Err())
	require.ErrorIs(t, l.Extend(ctx, time.Minute), domain.ErrLockHeld)
	l.Release()
}

func TestSignalBusStream(t *testing.T) {
	c := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()
	stream := "test:" + uuid.NewString()
	t.Cleanup(func() { c.Underlying().Del(context.Background(), stream) })

	msgs, err := bus.StreamRead(ctx, stream, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, stream, []byte(`{"n":1}`)))
	require.NoError(t, bus.StreamAppend(ctx, stream, []byte(`{"n":2}`)))

	msgs, err = bus.StreamRead(ctx, stream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"n":1}`, string(msgs[0].Payload))

	rest, err := bus.StreamRead(ctx, stream, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, `{"n":2}`, string(rest[0].Payload))
}

func TestRateLimiterWindow(t *testing.T) {
	c := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPayloadOf(t *testing.T) {
	b, ok := payloadOf(map[string]any{"payload": "x"})
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), b)

	_, ok = payloadOf(map[string]any{"other": "x"})
	assert.False(t, ok)
}
