package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var policy = Policy{StaleAfter: time.Minute, GCAfter: 5 * time.Minute}

func newTestCache(t *testing.T) (*Cache, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := New(WithClock(clk.Now), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(c.Stop)
	return c, clk
}

func counter(value string) (FetchFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(context.Context) (any, error) {
		n := calls.Add(1)
		return value + string(rune('0'+n)), nil
	}, &calls
}

func TestGet_FreshEntryServedFromCache(t *testing.T) {
	c, clk := newTestCache(t)
	fetch, calls := counter("v")
	key := NewKey("menu", "items")

	first, err := c.Get(context.Background(), key, policy, fetch)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	clk.Advance(30 * time.Second)
	second, err := c.Get(context.Background(), key, policy, fetch)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != "v1" || second != "v1" {
		t.Fatalf("values = %v, %v; want v1, v1", first, second)
	}
	if calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls.Load())
	}
}

func TestGet_StaleEntryRevalidatesInBackground(t *testing.T) {
	c, clk := newTestCache(t)
	fetch, calls := counter("v")
	key := NewKey("banners", "active")
	ctx := context.Background()

	if _, err := c.Get(ctx, key, policy, fetch); err != nil {
		t.Fatalf("Get: %v", err)
	}
	clk.Advance(2 * time.Minute)

	stale, err := c.Get(ctx, key, policy, fetch)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stale != "v1" {
		t.Fatalf("stale read = %v, want cached v1", stale)
	}
	c.bg.Wait()

	if calls.Load() != 2 {
		t.Fatalf("fetch calls = %d, want 2", calls.Load())
	}
	if v, ok := c.Peek(key); !ok || v != "v2" {
		t.Fatalf("Peek after revalidate = %v, %v; want v2", v, ok)
	}
}

func TestInvalidate_NextGetFetchesSynchronously(t *testing.T) {
	c, _ := newTestCache(t)
	fetch, calls := counter("v")
	key := NewKey("menu", "categories")
	ctx := context.Background()

	if _, err := c.Get(ctx, key, policy, fetch); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := c.Invalidate(key); n != 1 {
		t.Fatalf("Invalidate affected %d entries, want 1", n)
	}
	got, err := c.Get(ctx, key, policy, fetch)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "v2" || calls.Load() != 2 {
		t.Fatalf("Get after invalidate = %v (calls %d), want v2 (2)", got, calls.Load())
	}
}

func TestInvalidate_PrefixReachesDescendantsOnly(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	for _, key := range []Key{NewKey("menu", "items"), NewKey("menu", "categories"), NewKey("banners", "active")} {
		fetch, _ := counter(key.String())
		if _, err := c.Get(ctx, key, policy, fetch); err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
	}

	if n := c.Invalidate(NewKey("menu")); n != 2 {
		t.Fatalf("Invalidate(menu) affected %d, want 2", n)
	}
	if n := c.Invalidate(NewKey("menu")); n != 0 {
		t.Fatalf("second Invalidate(menu) affected %d, want 0", n)
	}
	if n := c.Invalidate(NewKey("banners", "active")); n != 1 {
		t.Fatalf("Invalidate(banners/active) affected %d, want 1", n)
	}
}

func TestInvalidate_DuringFetchMarksResultInvalid(t *testing.T) {
	c, _ := newTestCache(t)
	key := NewKey("menu", "items")
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			c.Invalidate(NewKey("menu"))
			return "old", nil
		}
		return "new", nil
	}

	first, err := c.Get(ctx, key, policy, fetch)
	if err != nil || first != "old" {
		t.Fatalf("first Get = %v, %v", first, err)
	}
	second, err := c.Get(ctx, key, policy, fetch)
	if err != nil || second != "new" {
		t.Fatalf("second Get = %v, %v; want refetched value", second, err)
	}
}

func TestGet_AfterInvalidateDoesNotJoinOlderFetch(t *testing.T) {
	c, _ := newTestCache(t)
	key := NewKey("menu", "items")
	ctx := context.Background()

	var version atomic.Int32
	version.Store(1)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		v := version.Load()
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return v, nil
	}

	firstDone := make(chan any, 1)
	go func() {
		v, err := c.Get(ctx, key, policy, fetch)
		if err != nil {
			t.Errorf("first Get: %v", err)
		}
		firstDone <- v
	}()
	<-started

	version.Store(2)
	c.Invalidate(NewKey("menu"))
	got, err := c.Get(ctx, key, policy, fetch)
	if err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if got != int32(2) {
		t.Fatalf("Get after invalidate = %v, want 2", got)
	}

	close(release)
	if first := <-firstDone; first != int32(1) {
		t.Fatalf("first Get = %v, want 1", first)
	}
	cached, ok := c.Peek(key)
	if !ok || cached != int32(2) {
		t.Fatalf("cached value = %v (%v), want 2; the older fetch must not overwrite it", cached, ok)
	}
	if calls.Load() != 2 {
		t.Fatalf("fetch calls = %d, want 2", calls.Load())
	}
}

func TestGet_ConcurrentCallersShareFetch(t *testing.T) {
	c, _ := newTestCache(t)
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "menu", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), NewKey("menu", "items"), policy, fetch); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls.Load())
	}
}

func TestGet_ErrorKeepsPreviousValue(t *testing.T) {
	c, _ := newTestCache(t)
	key := NewKey("orders", "mine")
	ctx := context.Background()
	boom := errors.New("boom")

	if _, err := c.Get(ctx, key, policy, func(context.Context) (any, error) { return "good", nil }); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.Invalidate(key)
	_, err := c.Get(ctx, key, policy, func(context.Context) (any, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Get error = %v, want boom", err)
	}
	if v, ok := c.Peek(key); !ok || v != "good" {
		t.Fatalf("Peek = %v, %v; want last good value", v, ok)
	}
}

func TestSweep_EvictsOnlyIdleUnreferenced(t *testing.T) {
	c, clk := newTestCache(t)
	ctx := context.Background()
	pinned := NewKey("menu", "items")
	idle := NewKey("banners", "active")
	for _, key := range []Key{pinned, idle} {
		fetch, _ := counter("v")
		if _, err := c.Get(ctx, key, policy, fetch); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	release := c.Retain(pinned)

	clk.Advance(4 * time.Minute)
	if n := c.Sweep(); n != 0 {
		t.Fatalf("early Sweep evicted %d", n)
	}
	clk.Advance(2 * time.Minute)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("Sweep evicted %d, want 1", n)
	}
	if _, ok := c.Peek(idle); ok {
		t.Fatal("idle entry survived sweep")
	}

	release()
	release()
	clk.Advance(policy.GCAfter)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("Sweep after release evicted %d, want 1", n)
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d, want 0", c.Len())
	}
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	c, _ := newTestCache(t)
	events, cancel := c.Subscribe()
	defer cancel()

	key := NewKey("menu", "items")
	fetch, _ := counter("v")
	if _, err := c.Get(context.Background(), key, policy, fetch); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.Invalidate(key)

	for _, want := range []EventKind{EventUpdated, EventInvalidated} {
		select {
		case ev := <-events:
			if ev.Kind != want || ev.Key.String() != "menu/items" {
				t.Fatalf("event = %v %s, want %v menu/items", ev.Kind, ev.Key, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func TestFetch_Typed(t *testing.T) {
	c, _ := newTestCache(t)
	got, err := Fetch(context.Background(), c, NewKey("versions"), policy, func(context.Context) ([]int, error) {
		return []int{1, 2, 3}, nil
	})
	if err != nil || len(got) != 3 {
		t.Fatalf("Fetch = %v, %v", got, err)
	}

	_, err = Fetch(context.Background(), c, NewKey("versions"), policy, func(context.Context) (string, error) {
		return "unused", nil
	})
	if err == nil {
		t.Fatal("Fetch with mismatched type returned nil error")
	}
}

func TestStartStop(t *testing.T) {
	c := New(WithSweepInterval(5 * time.Millisecond))
	c.Start(context.Background())
	c.Start(context.Background())
	c.Stop()
	c.Stop()
}

func TestKey_HasPrefix(t *testing.T) {
	tests := []struct {
		key, prefix Key
		want        bool
	}{
		{NewKey("menu", "items"), NewKey("menu"), true},
		{NewKey("menu", "items"), NewKey("menu", "items"), true},
		{NewKey("menu"), NewKey("menu", "items"), false},
		{NewKey("menus", "items"), NewKey("menu"), false},
		{NewKey("menu", "items"), NewKey(), true},
	}
	for _, tt := range tests {
		if got := tt.key.HasPrefix(tt.prefix); got != tt.want {
			t.Errorf("%s.HasPrefix(%s) = %v, want %v", tt.key, tt.prefix, got, tt.want)
		}
	}
}
