package querycache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSweepInterval = time.Minute
	eventBuffer          = 32
)

// Key identifies a cached query. Keys are hierarchical: invalidating
// {"menu"} also invalidates {"menu", "items"}.
type Key []string

// NewKey builds a key from its segments.
func NewKey(parts ...string) Key { return Key(parts) }

func (k Key) String() string { return strings.Join(k, "/") }

// HasPrefix reports whether prefix is k or one of its ancestors.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Policy controls freshness and retention of one entry.
type Policy struct {
	// StaleAfter is the age after which a read returns the cached value and
	// refetches in the background.
	StaleAfter time.Duration
	// GCAfter is how long an unreferenced entry survives before Sweep evicts it.
	GCAfter time.Duration
}

// EventKind classifies cache events.
type EventKind int

const (
	EventUpdated EventKind = iota
	EventInvalidated
	EventEvicted
)

func (k EventKind) String() string {
	switch k {
	case EventUpdated:
		return "updated"
	case EventInvalidated:
		return "invalidated"
	case EventEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Event tells subscribers that a key changed.
type Event struct {
	Key  Key
	Kind EventKind
}

// FetchFunc loads the value for a key.
type FetchFunc func(ctx context.Context) (any, error)

type entry struct {
	key       Key
	value     any
	loaded    bool
	fetchedAt time.Time
	policy    Policy
	invalid   bool
	refs      int
	idleSince time.Time
	refresh   bool
}

// flight tracks an in-progress fetch. A dirty flight was overtaken by an
// Invalidate: its callers still get the value, but it is not stored.
type flight struct {
	key   Key
	dirty bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the cache's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSweepInterval sets how often the janitor started by Start runs Sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// Cache is the shared get-or-populate query cache. One instance per session.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	inflight map[string]*flight
	group    singleflight.Group

	logger        *zap.Logger
	now           func() time.Time
	sweepInterval time.Duration

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	janitorMu   sync.Mutex
	janitorStop context.CancelFunc
	janitorDone chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		entries:       make(map[string]*entry),
		inflight:      make(map[string]*flight),
		logger:        zap.NewNop(),
		now:           time.Now,
		sweepInterval: defaultSweepInterval,
		bgCtx:         ctx,
		bgCancel:      cancel,
		subs:          make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key. A fresh entry is returned as is. A
// time-stale entry is returned as is and refetched in the background. A
// missing or invalidated entry is fetched before returning; concurrent
// callers for the same key share one fetch.
func (c *Cache) Get(ctx context.Context, key Key, policy Policy, fetch FetchFunc) (any, error) {
	id := key.String()

	c.mu.Lock()
	if e, ok := c.entries[id]; ok && e.loaded && !e.invalid {
		e.policy = policy
		value := e.value
		if c.now().Sub(e.fetchedAt) >= policy.StaleAfter && !e.refresh {
			e.refresh = true
			c.bg.Add(1)
			go c.revalidate(key, policy, fetch)
		}
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	v, err, shared := c.group.Do(id, func() (any, error) {
		return c.load(ctx, key, policy, fetch)
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", id, err)
	}
	if shared {
		c.logger.Debug("query fetch shared", zap.String("key", id))
	}
	return v, nil
}

// Peek returns the cached value without fetching. ok is false when the key
// has no loaded value.
func (c *Cache) Peek(key Key) (value any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[key.String()]
	if !found || !e.loaded {
		return nil, false
	}
	return e.value, true
}

// Invalidate marks key and all its descendants invalid. The next Get for any
// of them fetches synchronously. Returns the number of entries affected.
func (c *Cache) Invalidate(prefix Key) int {
	c.mu.Lock()
	var hit []Key
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) && e.loaded && !e.invalid {
			e.invalid = true
			hit = append(hit, e.key)
		}
	}
	for id, f := range c.inflight {
		if f.key.HasPrefix(prefix) {
			f.dirty = true
			// Later callers must not join a fetch that began before this point.
			c.group.Forget(id)
		}
	}
	c.mu.Unlock()

	c.logger.Debug("query invalidated", zap.String("prefix", prefix.String()), zap.Int("entries", len(hit)))
	for _, k := range hit {
		c.emit(Event{Key: k, Kind: EventInvalidated})
	}
	return len(hit)
}

// Retain marks key as in use so Sweep keeps it. The returned func releases
// the reference and is safe to call more than once.
func (c *Cache) Retain(key Key) func() {
	id := key.String()
	c.mu.Lock()
	e := c.entryLocked(key)
	e.refs++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if e, ok := c.entries[id]; ok && e.refs > 0 {
				e.refs--
				if e.refs == 0 {
					e.idleSince = c.now()
				}
			}
		})
	}
}

// Sweep evicts unreferenced entries that have been idle longer than their
// GCAfter. Returns the number evicted.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	var evicted []Key
	for id, e := range c.entries {
		if e.refs > 0 || e.refresh {
			continue
		}
		if now.Sub(e.idleSince) >= e.policy.GCAfter {
			delete(c.entries, id)
			evicted = append(evicted, e.key)
		}
	}
	c.mu.Unlock()

	for _, k := range evicted {
		c.emit(Event{Key: k, Kind: EventEvicted})
	}
	if len(evicted) > 0 {
		c.logger.Debug("query cache swept", zap.Int("evicted", len(evicted)))
	}
	return len(evicted)
}

// Len returns the number of entries, loaded or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start runs Sweep on the configured interval until Stop or ctx is done.
// Calling Start while running is a no-op.
func (c *Cache) Start(ctx context.Context) {
	c.janitorMu.Lock()
	defer c.janitorMu.Unlock()
	if c.janitorStop != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.janitorStop = cancel
	c.janitorDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Stop halts the janitor and cancels background refetches, waiting for both.
func (c *Cache) Stop() {
	c.janitorMu.Lock()
	cancel, done := c.janitorStop, c.janitorDone
	c.janitorStop, c.janitorDone = nil, nil
	c.janitorMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.bgCancel()
	c.bg.Wait()
}

// Subscribe returns a channel of cache events. Events are dropped for a
// subscriber whose buffer is full.
func (c *Cache) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Cache) emit(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.logger.Debug("cache event dropped", zap.String("key", ev.Key.String()), zap.Stringer("kind", ev.Kind))
		}
	}
}

// load runs inside the singleflight group, so only one load per key is in
// progress at a time.
func (c *Cache) load(ctx context.Context, key Key, policy Policy, fetch FetchFunc) (any, error) {
	id := key.String()
	f := &flight{key: key}
	c.mu.Lock()
	c.inflight[id] = f
	c.mu.Unlock()

	value, err := fetch(ctx)

	c.mu.Lock()
	if c.inflight[id] == f {
		delete(c.inflight, id)
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Debug("query fetch failed", zap.String("key", id), zap.Error(err))
		return nil, err
	}
	if f.dirty {
		c.mu.Unlock()
		c.logger.Debug("query fetch outdated by invalidation", zap.String("key", id))
		return value, nil
	}
	c.storeLocked(key, policy, value, false)
	c.mu.Unlock()

	c.emit(Event{Key: key, Kind: EventUpdated})
	return value, nil
}

func (c *Cache) revalidate(key Key, policy Policy, fetch FetchFunc) {
	defer c.bg.Done()
	id := key.String()
	_, err, _ := c.group.Do(id, func() (any, error) {
		return c.load(c.bgCtx, key, policy, fetch)
	})

	c.mu.Lock()
	if e, ok := c.entries[id]; ok {
		e.refresh = false
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("background refetch failed, keeping cached value", zap.String("key", id), zap.Error(err))
	}
}

func (c *Cache) entryLocked(key Key) *entry {
	id := key.String()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{key: append(Key(nil), key...), idleSince: c.now()}
		c.entries[id] = e
	}
	return e
}

func (c *Cache) storeLocked(key Key, policy Policy, value any, invalid bool) {
	e := c.entryLocked(key)
	now := c.now()
	e.value = value
	e.loaded = true
	e.fetchedAt = now
	e.policy = policy
	e.invalid = invalid
	if e.refs == 0 {
		e.idleSince = now
	}
}

// Fetch is Get with a typed result.
func Fetch[T any](ctx context.Context, c *Cache, key Key, policy Policy, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Get(ctx, key, policy, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("query %s: cached %T, want %T", key, v, zero)
	}
	return typed, nil
}
