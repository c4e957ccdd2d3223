package runguard

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/postloom/internal/store"
)

func TestMemory_SingleFlight(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()

	ok, err := g.TryAcquire(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, g.IsActive(ctx, "c1"))

	ok, _ = g.TryAcquire(ctx, "c1")
	assert.False(t, ok, "second acquire must fail")

	ok, _ = g.TryAcquire(ctx, "c2")
	assert.True(t, ok, "other campaigns are independent")

	require.NoError(t, g.Release(ctx, "c1"))
	assert.False(t, g.IsActive(ctx, "c1"))
	assert.Equal(t, 1, g.Active())

	ok, _ = g.TryAcquire(ctx, "c1")
	assert.True(t, ok)
}

func TestMemory_ConcurrentAcquire(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := g.TryAcquire(ctx, "same"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestLocking(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "guard.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a := NewLocking(s, "daemon-a", time.Minute, store.ErrResourceLocked)
	b := NewLocking(s, "daemon-b", time.Minute, store.ErrResourceLocked)

	ok, err := a.TryAcquire(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok, "a second process must not acquire a held campaign")
	assert.True(t, b.IsActive(ctx, "c1"))

	require.NoError(t, a.Release(ctx, "c1"))
	assert.False(t, b.IsActive(ctx, "c1"))

	ok, err = b.TryAcquire(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocking_Renew(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "guard.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a := NewLocking(s, "daemon-a", 50*time.Millisecond, store.ErrResourceLocked)
	b := NewLocking(s, "daemon-b", time.Minute, store.ErrResourceLocked)

	ok, err := a.TryAcquire(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, a.IsActive(ctx, "c1"), "lease expired")

	held, err := a.Renew(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, held, "an expired lease nobody took over is renewed")

	held, err = b.Renew(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, held, "only the holder can renew")

	require.NoError(t, b.Release(ctx, "c1"))
	ok, err = b.TryAcquire(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)

	held, err = a.Renew(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, held, "a lease taken over by another holder is lost")
}
