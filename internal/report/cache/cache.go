package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/skybi/report-server/internal/metrics"
	"github.com/skybi/report-server/internal/report"
	"github.com/skybi/report-server/internal/task"
)

// FetchFunc performs the actual upstream fetch on a cache miss
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// Result represents the outcome of a cache lookup
type Result struct {
	Payload json.RawMessage
	// FetchedAt holds the point in time the payload was fetched from upstream
	FetchedAt time.Time
	// Hit indicates whether the payload was served from the cache without an upstream fetch
	Hit bool
}

// entry represents a stored report payload
type entry struct {
	payload   json.RawMessage
	fetchedAt time.Time
}

// flight represents an upstream fetch that is currently underway for a key.
// Its result fields are written exactly once, before the done channel is closed.
type flight struct {
	done      chan struct{}
	payload   json.RawMessage
	fetchedAt time.Time
	err       error
}

// Cache stores fetched report payloads for a fixed TTL and coalesces concurrent fetches so that
// at most one upstream call is in flight per key at any instant
type Cache struct {
	ttl time.Duration

	mtx     sync.Mutex
	entries map[report.Key]*entry
	flights map[report.Key]*flight

	sweepTask *task.RepeatingTask

	// now is replaceable to test expiry without sleeping
	now func() time.Time
}

// New creates a new report cache with the given entry TTL
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[report.Key]*entry),
		flights: make(map[report.Key]*flight),
		now:     time.Now,
	}
}

// GetOrFetch returns the cached payload for the given key if a live entry exists.
// Otherwise it either joins an already running fetch for that key or becomes responsible for
// invoking fetch itself. Every caller that coalesced onto the same fetch observes the identical
// result, success or failure. Failed fetches are not cached and not retried.
//
// If the caller's context ends while waiting, only its own wait is abandoned; the fetch keeps
// running for the benefit of the remaining waiters.
func (cache *Cache) GetOrFetch(ctx context.Context, key report.Key, fetch FetchFunc) (*Result, error) {
	cache.mtx.Lock()

	if obj, ok := cache.entries[key]; ok {
		if cache.now().Sub(obj.fetchedAt) <= cache.ttl {
			cache.mtx.Unlock()
			metrics.CacheHitsTotal.Inc()
			return &Result{
				Payload:   obj.payload,
				FetchedAt: obj.fetchedAt,
				Hit:       true,
			}, nil
		}
		// Expiry is enforced on read; the sweep only reclaims memory
		delete(cache.entries, key)
	}

	if running, ok := cache.flights[key]; ok {
		cache.mtx.Unlock()
		metrics.CacheCoalescedTotal.Inc()
		return cache.await(ctx, running)
	}

	obj := &flight{done: make(chan struct{})}
	cache.flights[key] = obj
	cache.mtx.Unlock()
	metrics.CacheMissesTotal.Inc()

	// The fetch deliberately runs on its own context: a cancelled initiator must not kill
	// the fetch other waiters for this key are suspended on
	go func() {
		payload, err := fetch(context.Background())

		cache.mtx.Lock()
		fetchedAt := cache.now()
		if err == nil {
			cache.entries[key] = &entry{
				payload:   payload,
				fetchedAt: fetchedAt,
			}
		}
		delete(cache.flights, key)
		cache.mtx.Unlock()

		obj.payload = payload
		obj.fetchedAt = fetchedAt
		obj.err = err
		close(obj.done)
	}()

	return cache.await(ctx, obj)
}

// await suspends the caller until the given fetch resolves or its own context ends
func (cache *Cache) await(ctx context.Context, obj *flight) (*Result, error) {
	select {
	case <-obj.done:
		if obj.err != nil {
			return nil, obj.err
		}
		return &Result{
			Payload:   obj.payload,
			FetchedAt: obj.fetchedAt,
			Hit:       false,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the amount of stored entries, expired ones included
func (cache *Cache) Size() int {
	cache.mtx.Lock()
	defer cache.mtx.Unlock()
	return len(cache.entries)
}

// ScheduleSweep schedules the task that reclaims memory held by long-expired entries.
// The sweep never touches keys with an active in-flight fetch as those are tracked separately.
func (cache *Cache) ScheduleSweep(tick time.Duration) {
	if cache.sweepTask != nil {
		return
	}
	cache.sweepTask = task.NewRepeating(func() {
		cache.mtx.Lock()
		defer cache.mtx.Unlock()
		for key, obj := range cache.entries {
			if cache.now().Sub(obj.fetchedAt) > cache.ttl {
				delete(cache.entries, key)
			}
		}
	}, tick)
	cache.sweepTask.Start()
}

// StopSweep stops the sweep task
func (cache *Cache) StopSweep() {
	if cache.sweepTask == nil {
		return
	}
	cache.sweepTask.Stop(false)
	cache.sweepTask = nil
}
