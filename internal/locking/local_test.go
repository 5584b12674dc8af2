package locking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := locker.Obtain(ctx, StudentKey(1))
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			assert.NoError(t, lock.Release(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locker.size(), "released keys are forgotten")
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	a, err := locker.Obtain(ctx, StudentKey(1))
	require.NoError(t, err)
	b, err := locker.Obtain(ctx, StudentKey(2))
	require.NoError(t, err)

	assert.NoError(t, a.Release(ctx))
	assert.NoError(t, b.Release(ctx))
}

func TestLocalLocker_ContextTimeout(t *testing.T) {
	locker := NewLocalLocker()
	held, err := locker.Obtain(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Obtain(ctx, "k")
	assert.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, held.Release(context.Background()))
	require.NoError(t, held.Release(context.Background()), "double release is a no-op")
	assert.Equal(t, 0, locker.size())

	again, err := locker.Obtain(context.Background(), "k")
	require.NoError(t, err)
	assert.NoError(t, again.Release(context.Background()))
}

func TestStudentKey(t *testing.T) {
	assert.Equal(t, "ledger:student:42", StudentKey(42))
}
