package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/hireloop/pkg/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T) (*Cache, *Scheduler, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock()
	cache := NewCache(Options{Clock: clock})
	sched := NewScheduler(cache, SchedulerOptions{Logger: discardLogger()})
	t.Cleanup(sched.Close)
	return cache, sched, clock
}

func TestGetOrFetchMissThenFreshHit(t *testing.T) {
	cache, _, clock := newTestCache(t)
	key := MakeKey("/jobs", nil)

	var calls atomic.Int64
	fetcher := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "v1", nil
	}

	e, err := cache.GetOrFetch(context.Background(), key, fetcher, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "v1", e.Data)
	assert.Equal(t, Fresh, e.Status)
	assert.EqualValues(t, 1, calls.Load())

	// A fresh hit inside staleTime makes zero fetch calls.
	clock.Advance(30 * time.Second)
	e, err = cache.GetOrFetch(context.Background(), key, fetcher, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "v1", e.Data)
	assert.EqualValues(t, 1, calls.Load())
}

func TestStaleWhileRevalidate(t *testing.T) {
	cache, sched, clock := newTestCache(t)
	key := MakeKey("/jobs", map[string]string{"status": "active"})

	var calls atomic.Int64
	var current atomic.Value
	current.Store("v1")
	fetcher := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return current.Load(), nil
	}

	e, err := cache.GetOrFetch(context.Background(), key, fetcher, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "v1", e.Data)

	// The value ages past staleTime and the server moves on.
	current.Store("v2")
	clock.Advance(2 * time.Minute)

	// The stale value is served immediately...
	e, err = cache.GetOrFetch(context.Background(), key, fetcher, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "v1", e.Data)

	// ...while one background revalidation converges the entry.
	sched.Drain()
	entry, ok := cache.Read(key)
	require.True(t, ok)
	assert.Equal(t, "v2", entry.Data)
	assert.Equal(t, Fresh, entry.Status)
	assert.EqualValues(t, 2, calls.Load())
}

func TestMarkStaleThenReadRevalidates(t *testing.T) {
	cache, sched, _ := newTestCache(t)
	key := MakeKey("/jobs/7", nil)

	var current atomic.Value
	current.Store("v1")
	fetcher := func(ctx context.Context) (any, error) {
		return current.Load(), nil
	}

	_, err := cache.GetOrFetch(context.Background(), key, fetcher, time.Hour)
	require.NoError(t, err)

	current.Store("v2")
	cache.MarkStale(key)

	e, err := cache.GetOrFetch(context.Background(), key, fetcher, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "v1", e.Data, "stale value is served, not awaited")
	assert.Equal(t, Stale, e.Status)

	sched.Drain()
	entry, _ := cache.Read(key)
	assert.Equal(t, "v2", entry.Data)
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	cache, _, _ := newTestCache(t)
	key := MakeKey("/candidates", map[string]string{"stage": "tech"})

	var calls atomic.Int64
	release := make(chan struct{})
	fetcher := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const readers = 5
	var wg sync.WaitGroup
	results := make([]any, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := cache.GetOrFetch(context.Background(), key, fetcher, time.Minute)
			results[i], errs[i] = e.Data, err
		}(i)
	}

	// Let every reader join the in-flight call, then let it finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "concurrent misses share one fetch")
	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
}

func TestBumpDiscardsInFlightFetchResult(t *testing.T) {
	cache, _, _ := newTestCache(t)
	key := MakeKey("/jobs", nil)

	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "server", nil
	}

	cache.Write(key, "v0")
	// Remember the fetcher without fetching (fresh hit).
	_, err := cache.GetOrFetch(context.Background(), key, fetcher, time.Hour)
	require.NoError(t, err)

	var wrote bool
	var ferr error
	done := make(chan struct{})
	go func() {
		wrote, ferr = cache.Refetch(context.Background(), key)
		close(done)
	}()
	<-started

	// A mutation lands while the fetch is in flight: bump, then apply.
	cache.Bump([]Key{key})
	cache.ApplyBatch([]Key{key}, func(k Key, prev any) any { return "optimistic" })

	close(release)
	<-done

	require.NoError(t, ferr)
	assert.False(t, wrote, "the fetch result must be discarded")
	entry, ok := cache.Read(key)
	require.True(t, ok)
	assert.Equal(t, "optimistic", entry.Data, "the mutation's value wins")
}

func TestSnapshotRestoreVerbatim(t *testing.T) {
	cache, _, clock := newTestCache(t)
	k1 := MakeKey("/jobs", nil)
	k2 := MakeKey("/jobs/1", nil)
	k3 := MakeKey("/jobs/2", nil)

	cache.Write(k1, "a")
	t1 := clock.Now()
	clock.Advance(10 * time.Second)
	cache.Write(k2, "b")
	t2 := clock.Now()
	cache.MarkStale(k2)

	snap := cache.Snapshot([]Key{k1, k2, k3})

	clock.Advance(time.Minute)
	cache.ApplyBatch([]Key{k1, k2, k3}, func(k Key, prev any) any { return "x" })

	cache.Restore(snap)

	e1, ok := cache.Read(k1)
	require.True(t, ok)
	assert.Equal(t, "a", e1.Data)
	assert.Equal(t, Fresh, e1.Status)
	assert.Equal(t, t1, e1.UpdatedAt)

	e2, ok := cache.Read(k2)
	require.True(t, ok)
	assert.Equal(t, "b", e2.Data)
	assert.Equal(t, Stale, e2.Status)
	assert.Equal(t, t2, e2.UpdatedAt)

	// The key that never existed is gone again.
	_, ok = cache.Read(k3)
	assert.False(t, ok)
	assert.Equal(t, 2, cache.Len())
}

func TestApplyBatchIsAtomicAcrossKeys(t *testing.T) {
	cache, _, _ := newTestCache(t)
	k1 := MakeKey("/jobs", nil)
	k2 := MakeKey("/candidates", nil)
	cache.Write(k1, 0)
	cache.Write(k2, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 500; i++ {
			v := i
			cache.ApplyBatch([]Key{k1, k2}, func(k Key, prev any) any { return v })
		}
	}()

	// Multi-key snapshots must never observe a half-applied batch.
	torn := false
	for {
		select {
		case <-done:
			if torn {
				t.Fatal("observed a torn multi-key apply")
			}
			return
		default:
		}
		snap := cache.Snapshot([]Key{k1, k2})
		if snap[k1].Entry.Data != snap[k2].Entry.Data {
			torn = true
		}
	}
}

func TestFetchFailureKeepsStaleValue(t *testing.T) {
	cache, _, _ := newTestCache(t)
	key := MakeKey("/jobs", nil)

	boom := errors.New("boom")
	fetcher := func(ctx context.Context) (any, error) { return nil, boom }

	cache.Write(key, "v1")
	_, err := cache.GetOrFetch(context.Background(), key, fetcher, time.Hour)
	require.NoError(t, err)
	cache.MarkStale(key)

	wrote, err := cache.Refetch(context.Background(), key)
	assert.False(t, wrote)
	require.ErrorIs(t, err, boom)

	entry, ok := cache.Read(key)
	require.True(t, ok)
	assert.Equal(t, "v1", entry.Data, "failed revalidation keeps the stale value")
	assert.Equal(t, Stale, entry.Status)
}

func TestFailedFirstFetchRetriesCleanly(t *testing.T) {
	cache, _, _ := newTestCache(t)
	key := MakeKey("/jobs", nil)

	var calls atomic.Int64
	fail := true
	fetcher := func(ctx context.Context) (any, error) {
		calls.Add(1)
		if fail {
			return nil, errors.New("boom")
		}
		return "v1", nil
	}

	_, err := cache.GetOrFetch(context.Background(), key, fetcher, time.Minute)
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len(), "failed first fetch leaves nothing behind")

	fail = false
	e, err := cache.GetOrFetch(context.Background(), key, fetcher, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "v1", e.Data)
	assert.EqualValues(t, 2, calls.Load())
}

func TestResetDiscardsInFlightResult(t *testing.T) {
	cache, _, _ := newTestCache(t)
	key := MakeKey("/jobs", nil)

	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "server", nil
	}

	cache.Write(key, "v0")
	_, err := cache.GetOrFetch(context.Background(), key, fetcher, time.Hour)
	require.NoError(t, err)

	done := make(chan struct{})
	var wrote bool
	go func() {
		wrote, _ = cache.Refetch(context.Background(), key)
		close(done)
	}()
	<-started

	cache.Reset()
	close(release)
	<-done

	assert.False(t, wrote, "a reset mid-fetch wins over the fetch")
	assert.Equal(t, 0, cache.Len())
}

func TestKeysWithPrefix(t *testing.T) {
	cache, _, _ := newTestCache(t)
	cache.Write(MakeKey("/jobs", map[string]string{"status": "active"}), 1)
	cache.Write(MakeKey("/jobs", nil), 1)
	cache.Write(MakeKey("/jobs/42", nil), 1)
	cache.Write(MakeKey("/candidates", nil), 1)

	keys := cache.KeysWithPrefix(KeyPrefix("/jobs"))
	assert.Equal(t, []Key{
		Key("/jobs"),
		Key("/jobs/42"),
		Key("/jobs?status=active"),
	}, keys)
}
