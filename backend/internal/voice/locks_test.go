package voice

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockRegistry_TryAcquire(t *testing.T) {
	r := NewLockRegistry()

	release, ok := r.TryAcquire("s1")
	require.True(t, ok)
	assert.True(t, r.Held("s1"))

	_, ok = r.TryAcquire("s1")
	assert.False(t, ok)

	other, ok := r.TryAcquire("s2")
	require.True(t, ok)
	assert.Equal(t, 2, r.Len())

	release()
	release()
	assert.False(t, r.Held("s1"))
	assert.Equal(t, 1, r.Len())

	again, ok := r.TryAcquire("s1")
	require.True(t, ok)

	// a stale release from an earlier hold must not free the new one
	release()
	assert.True(t, r.Held("s1"))

	again()
	other()
	assert.Equal(t, 0, r.Len())
}

func TestLockRegistry_OneWinnerUnderContention(t *testing.T) {
	r := NewLockRegistry()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.TryAcquire("shared"); ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, winners)
}
