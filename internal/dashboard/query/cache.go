package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrUnknownKey = errors.New("unknown query key")

// Fetcher loads the value of one query key.
type Fetcher func(ctx context.Context) (any, error)

// Policy controls staleness and background refresh of a key.
type Policy struct {
	// StaleTime is how long a fetched value is served without refetching.
	StaleTime time.Duration
	// RefetchInterval refreshes the key in the background while the cache runs; 0 disables it.
	RefetchInterval time.Duration
}

type entry struct {
	policy    Policy
	fetch     Fetcher
	value     any
	hasValue  bool
	fetchedAt time.Time
	err       error
	stale     bool
	refresh   bool // background loop started
}

// Cache is a per-key query cache with staleness windows and request de-duplication:
// concurrent fetches of one key share a single backend request.
type Cache struct {
	logger *zap.Logger
	now    func() time.Time
	group  singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry

	runMu   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

func NewCache(logger *zap.Logger) *Cache {
	return &Cache{
		logger:  logger.With(zap.String("component", "query")),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Register declares key with its policy and fetcher. Registering an existing key keeps its value.
func (c *Cache) Register(key string, policy Policy, fetch Fetcher) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.policy = policy
	e.fetch = fetch
	c.mu.Unlock()

	c.runMu.Lock()
	if c.running {
		c.startRefreshLocked(key)
	}
	c.runMu.Unlock()
}

// Registered reports whether key is known.
func (c *Cache) Registered(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Get returns the cached value while fresh, otherwise fetches it.
func (c *Cache) Get(ctx context.Context, key string) (any, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	fresh := e.hasValue && !e.stale && c.now().Sub(e.fetchedAt) < e.policy.StaleTime
	value := e.value
	c.mu.RUnlock()

	if fresh {
		return value, nil
	}
	return c.Refetch(ctx, key)
}

// Refetch fetches key now, joining an in-flight fetch of the same key if there is one.
// On failure the previous value is kept and the error recorded.
func (c *Cache) Refetch(ctx context.Context, key string) (any, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	var fetch Fetcher
	if ok {
		fetch = e.fetch
	}
	c.mu.RUnlock()
	if !ok || fetch == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := fetch(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.entries[key]; ok {
			if err != nil {
				cur.err = err
			} else {
				cur.value = value
				cur.hasValue = true
				cur.fetchedAt = c.now()
				cur.err = nil
				cur.stale = false
			}
		}
		return value, err
	})
	return v, err
}

// Set writes value for key directly, as an optimistic update does.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.value = value
	e.hasValue = true
	e.fetchedAt = c.now()
	e.stale = false
}

// Clear drops the value of key and keeps its registration, so the key reads as never fetched.
func (c *Cache) Clear(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.value = nil
		e.hasValue = false
		e.fetchedAt = time.Time{}
		e.stale = false
	}
	c.mu.Unlock()
	c.group.Forget(key)
}

// Peek returns the cached value without fetching.
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !e.hasValue {
		return nil, false
	}
	return e.value, true
}

// LastError returns the error of the latest fetch of key, nil after a success.
func (c *Cache) LastError(key string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[key]; ok {
		return e.err
	}
	return nil
}

// Invalidate marks key stale so the next Get refetches. An in-flight fetch is not joined afterwards.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.stale = true
	}
	c.mu.Unlock()
	c.group.Forget(key)
}

// InvalidateAll marks every key stale.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		e.stale = true
		keys = append(keys, k)
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.group.Forget(k)
	}
}

// Start runs background refresh for every key with a RefetchInterval, including keys registered later.
func (c *Cache) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true

	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	for _, k := range keys {
		c.startRefreshLocked(k)
	}
}

func (c *Cache) startRefreshLocked(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.refresh || e.policy.RefetchInterval <= 0 {
		c.mu.Unlock()
		return
	}
	e.refresh = true
	interval := e.policy.RefetchInterval
	c.mu.Unlock()

	c.wg.Add(1)
	go func(ctx context.Context) {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.Refetch(ctx, key); err != nil && ctx.Err() == nil {
					c.logger.Warn("background refresh failed", zap.String("key", key), zap.Error(err))
				}
			}
		}
	}(c.ctx)
}

// Stop cancels background refresh and waits for the loops to exit.
func (c *Cache) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.cancel()
	c.running = false
	c.runMu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	for _, e := range c.entries {
		e.refresh = false
	}
	c.mu.Unlock()
}

// Typed returns the value of key as T.
func Typed[T any](ctx context.Context, c *Cache, key string) (T, error) {
	var zero T
	v, err := c.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("query %s holds %T", key, v)
	}
	return t, nil
}
