package keylock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLock(t *testing.T) {
	k := New()

	unlock, ok := k.TryLock("a")
	require.True(t, ok)

	_, ok = k.TryLock("a")
	assert.False(t, ok)

	other, ok := k.TryLock("b")
	require.True(t, ok)
	other()

	unlock()
	unlock()

	again, ok := k.TryLock("a")
	require.True(t, ok)
	again()
	assert.Equal(t, 0, k.Len())
}

func TestLockHonoursContext(t *testing.T) {
	k := New()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, k.Len())
}

func TestLockSerialisesSameKey(t *testing.T) {
	k := New()
	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "shared")
			if err != nil {
				return
			}
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, k.Len())
}
