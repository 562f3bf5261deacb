package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBusPatternSubscribe(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "ledger:*")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "other", []byte("x")))
	require.NoError(t, bus.Publish(ctx, "ledger:events", []byte("y")))

	select {
	case got := <-ch:
		assert.Equal(t, []byte("y"), got)
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	cancel()
	for range ch {
	}
}

func TestLocalBusBadPattern(t *testing.T) {
	_, err := NewLocalBus().Subscribe(context.Background(), "[")
	require.Error(t, err)
}

func TestLocalBusStreamRead(t *testing.T) {
	bus := NewLocalBus()
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "s", []byte(p)))
	}

	all, err := bus.StreamRead(ctx, "s", "0", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1-0", all[0].ID)

	after, err := bus.StreamRead(ctx, "s", all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, []byte("b"), after[0].Payload)

	none, err := bus.StreamRead(ctx, "missing", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStreamSeq(t *testing.T) {
	assert.Equal(t, uint64(0), streamSeq("0"))
	assert.Equal(t, uint64(12), streamSeq("12-0"))
	assert.Equal(t, uint64(0), streamSeq("bogus"))
}
