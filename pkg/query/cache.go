package query

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hireloop/hireloop/pkg/transport"
)

// Status is the lifecycle state of a cache entry.
type Status int

const (
	// Fresh entries serve reads without revalidation until they age past
	// the caller's staleTime.
	Fresh Status = iota
	// Stale entries keep serving their value while a revalidation is due.
	Stale
	// Fetching entries have a revalidation in flight.
	Fetching
)

func (s Status) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Fetching:
		return "fetching"
	default:
		return "unknown"
	}
}

// Fetcher loads the authoritative value for one key.
type Fetcher func(ctx context.Context) (any, error)

// Entry is one cached query result. Data is shared with readers and must
// be treated as read-only; writers replace it wholesale (copy-on-write).
type Entry struct {
	Key       Key
	Data      any
	Status    Status
	UpdatedAt time.Time

	// gen counts logical invalidations. A fetch snapshots gen when it
	// starts; if gen moved by the time it finishes, the result is
	// discarded instead of written.
	gen     uint64
	fetcher Fetcher
}

// cached reports whether the entry ever held a value. Placeholder entries
// created when a first fetch starts have a zero UpdatedAt.
func (e *Entry) cached() bool { return !e.UpdatedAt.IsZero() }

// Options configures a Cache.
type Options struct {
	// Clock supplies time for entry ages. Defaults to the wall clock;
	// tests inject a manual one.
	Clock transport.Clock
}

// Cache holds query results keyed by canonical query identity. It never
// evicts on its own: entries leave only through Reset.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
	clock   transport.Clock
	kick    func(Key) // set by the attached Scheduler

	group singleflight.Group
}

// NewCache builds an empty cache.
func NewCache(opts Options) *Cache {
	clock := opts.Clock
	if clock == nil {
		clock = transport.RealClock()
	}
	return &Cache{
		entries: make(map[Key]*Entry),
		clock:   clock,
	}
}

// attach registers the scheduler's kick function. Without one, stale
// entries are served but never revalidated in the background.
func (c *Cache) attach(kick func(Key)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kick = kick
}

// ensure returns the entry for key, creating a placeholder if absent.
// Callers hold c.mu.
func (c *Cache) ensure(key Key) *Entry {
	e, ok := c.entries[key]
	if !ok {
		e = &Entry{Key: key}
		c.entries[key] = e
	}
	return e
}

// Read returns a copy of the entry for key, if it holds a value.
func (c *Cache) Read(key Key) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !e.cached() {
		return Entry{}, false
	}
	return *e, true
}

// Write stores data for key and marks it fresh.
func (c *Cache) Write(key Key, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.ensure(key)
	e.Data = data
	e.Status = Fresh
	e.UpdatedAt = c.clock.Now()
}

// MarkStale flips key to stale, keeping its value. The next read serves
// the stale value and triggers a revalidation.
func (c *Cache) MarkStale(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.cached() && e.Status != Fetching {
		e.Status = Stale
	}
}

// MarkStalePrefix flips every cached key of a resource to stale.
func (c *Cache) MarkStalePrefix(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if k.HasPrefix(prefix) && e.cached() && e.Status != Fetching {
			e.Status = Stale
		}
	}
}

// Bump invalidates in-flight fetches for keys: any fetch that started
// before the bump loses to whatever is written afterwards. The underlying
// transport calls are not aborted, only their results discarded.
func (c *Cache) Bump(keys []Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			e.gen++
		}
	}
}

// ApplyBatch applies a pure transform to every key under one lock hold, so
// readers observe either none or all of the new values. The transform
// receives the key's current data (nil when absent), must not mutate it,
// and returns the replacement. Applied values read as fresh immediately.
func (c *Cache) ApplyBatch(keys []Key, transform func(key Key, prev any) any) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		e := c.ensure(k)
		e.Data = transform(k, e.Data)
		e.Status = Fresh
		e.UpdatedAt = now
	}
}

// SnapshotEntry captures one key's state, including whether it existed.
type SnapshotEntry struct {
	Existed bool
	Entry   Entry
}

// Snapshot is a point-in-time capture of a key set, taken before an
// optimistic apply so a failed mutation can roll back verbatim.
type Snapshot map[Key]SnapshotEntry

// Snapshot captures the named keys.
func (c *Cache) Snapshot(keys []Key) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(Snapshot, len(keys))
	for _, k := range keys {
		if e, ok := c.entries[k]; ok && e.cached() {
			snap[k] = SnapshotEntry{Existed: true, Entry: *e}
		} else {
			snap[k] = SnapshotEntry{}
		}
	}
	return snap
}

// Restore puts every snapshotted key back verbatim: captured values and
// timestamps return, keys that did not exist are removed. A status
// captured mid-revalidation comes back as stale. Generations keep their
// current values so fetches started before the restore still lose.
func (c *Cache) Restore(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, s := range snap {
		if !s.Existed {
			delete(c.entries, k)
			continue
		}
		e := c.ensure(k)
		e.Data = s.Entry.Data
		e.UpdatedAt = s.Entry.UpdatedAt
		e.Status = s.Entry.Status
		if e.Status == Fetching {
			e.Status = Stale
		}
	}
}

// Reset evicts everything. This is the cache's only eviction.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*Entry)
}

// Len reports the number of entries, placeholders included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// KeysWithPrefix returns the cached keys of one resource in sorted order,
// parameterized list variants and record keys alike.
func (c *Cache) KeysWithPrefix(prefix Key) []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var keys []Key
	for k := range c.entries {
		if k.HasPrefix(prefix) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// staleKeys lists entries currently due for revalidation.
func (c *Cache) staleKeys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var keys []Key
	for k, e := range c.entries {
		if e.Status == Stale {
			keys = append(keys, k)
		}
	}
	return keys
}

// GetOrFetch serves key with stale-while-revalidate semantics:
//
//   - fresh hit younger than staleTime: returned synchronously, no fetch
//   - stale hit (marked stale, or fresh but older than staleTime): the
//     cached value is returned immediately and one background
//     revalidation is kicked; concurrent kicks coalesce
//   - miss: blocks on the first fetch; concurrent misses for the same key
//     share a single call
//
// The fetcher is remembered so later revalidations can rerun it.
func (c *Cache) GetOrFetch(ctx context.Context, key Key, fetcher Fetcher, staleTime time.Duration) (Entry, error) {
	c.mu.Lock()
	e := c.ensure(key)
	e.fetcher = fetcher
	if e.cached() {
		out := *e
		kick := c.kick
		needKick := false
		if e.Status == Stale || (e.Status == Fresh && c.clock.Now().Sub(e.UpdatedAt) >= staleTime) {
			needKick = true
		}
		c.mu.Unlock()
		if needKick && kick != nil {
			kick(key)
		}
		return out, nil
	}
	c.mu.Unlock()

	res, err := c.fetch(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	if entry, ok := c.Read(key); ok {
		return entry, nil
	}
	// Written nowhere (a reset or mutation raced the first fetch): hand
	// the caller the fetched value without caching it.
	return Entry{Key: key, Data: res.data, Status: Fresh, UpdatedAt: c.clock.Now()}, nil
}

// Refetch revalidates key now, blocking until the fetch settles. The bool
// reports whether the result was written back; false with a nil error
// means a newer invalidation made the result irrelevant.
func (c *Cache) Refetch(ctx context.Context, key Key) (bool, error) {
	res, err := c.fetch(ctx, key)
	if err != nil {
		return false, err
	}
	return res.written, nil
}

type fetchResult struct {
	data    any
	written bool
}

// fetch runs the key's remembered fetcher once for all concurrent callers
// and writes the result back unless the key's generation moved or the
// entry vanished while the call was in flight.
func (c *Cache) fetch(ctx context.Context, key Key) (fetchResult, error) {
	v, err, _ := c.group.Do(string(key), func() (any, error) {
		c.mu.Lock()
		e, ok := c.entries[key]
		if !ok || e.fetcher == nil {
			c.mu.Unlock()
			return fetchResult{}, nil
		}
		run := e.fetcher
		gen := e.gen
		e.Status = Fetching
		c.mu.Unlock()

		data, err := run(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		e, ok = c.entries[key]
		if !ok {
			// Reset raced the fetch.
			return fetchResult{data: data}, err
		}
		if err != nil {
			if e.gen == gen && e.Status == Fetching {
				if e.cached() {
					e.Status = Stale
				} else {
					// Failed first fetch: drop the placeholder so the
					// next read retries cleanly.
					delete(c.entries, key)
				}
			}
			return fetchResult{}, err
		}
		if e.gen != gen {
			// A mutation moved the generation: its value wins.
			if e.Status == Fetching {
				e.Status = Stale
			}
			return fetchResult{data: data}, nil
		}
		e.Data = data
		e.Status = Fresh
		e.UpdatedAt = c.clock.Now()
		return fetchResult{data: data, written: true}, nil
	})
	if err != nil {
		return fetchResult{}, err
	}
	return v.(fetchResult), nil
}
