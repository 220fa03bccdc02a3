package orderpoll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/syncerr"
	"github.com/five82/platter/internal/visibility"
)

// statusFetcher answers with the scripted statuses in order, repeating the
// last one.
type statusFetcher struct {
	mu       sync.Mutex
	statuses []api.OrderStatus
	err      error
	calls    int
}

func (f *statusFetcher) FetchOrder(_ context.Context, orderID string) (api.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return api.Order{}, f.err
	}
	i := min(f.calls-1, len(f.statuses)-1)
	return api.Order{ID: orderID, Status: f.statuses[i], Total: 250}, nil
}

func (f *statusFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *statusFetcher) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

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

func TestRefreshOrder_Debounce(t *testing.T) {
	tests := []struct {
		name      string
		gap       time.Duration
		wantCalls int
	}{
		{"five seconds apart", 5 * time.Second, 1},
		{"thirty-one seconds apart", 31 * time.Second, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &statusFetcher{statuses: []api.OrderStatus{api.StatusPreparing}}
			clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
			p := New(f, "o-1", api.StatusPreparing, WithClock(clk.Now), WithLogger(zaptest.NewLogger(t)))
			ctx := context.Background()

			require.NoError(t, p.RefreshOrder(ctx))
			clk.Advance(tt.gap)
			err := p.RefreshOrder(ctx)
			if tt.wantCalls == 1 {
				require.Error(t, err)
				assert.True(t, syncerr.IsIgnored(err))
				assert.ErrorIs(t, err, syncerr.ErrDebounced)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, f.Calls())
		})
	}
}

func TestPoller_StopsAfterObservingFinalStatus(t *testing.T) {
	f := &statusFetcher{statuses: []api.OrderStatus{api.StatusPreparing, api.StatusDelivered, api.StatusDelivered}}
	p := New(f, "o-1", api.StatusPreparing, WithInterval(10*time.Millisecond), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)

	require.Eventually(t, func() bool { return f.Calls() >= 2 }, time.Second, 2*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 2, f.Calls(), "no ticks after the one that saw DELIVERED")
	snap := p.Snapshot()
	assert.Equal(t, api.StatusDelivered, snap.Status)
	assert.False(t, snap.Polling)
}

func TestPoller_SetStatusHaltsNextTick(t *testing.T) {
	f := &statusFetcher{statuses: []api.OrderStatus{api.StatusPreparing}}
	p := New(f, "o-1", "", WithInterval(20*time.Millisecond))
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)

	require.Eventually(t, func() bool { return p.Snapshot().Polling }, time.Second, 2*time.Millisecond)
	f.mu.Lock()
	f.statuses = []api.OrderStatus{api.StatusCancelled}
	f.mu.Unlock()
	p.SetStatus(api.StatusCancelled)
	calls := f.Calls()

	require.Eventually(t, func() bool { return !p.Snapshot().Polling }, time.Second, 2*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	// A tick already in flight may land once more before the halt.
	assert.LessOrEqual(t, f.Calls(), calls+2)
}

func TestPoller_VisibilityGatesPolling(t *testing.T) {
	f := &statusFetcher{statuses: []api.OrderStatus{api.StatusPreparing}}
	vis := visibility.New(true)
	p := New(f, "o-1", api.StatusPreparing, WithInterval(time.Hour), WithVisibility(vis))
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)

	require.Eventually(t, func() bool { return p.Snapshot().Polling }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 1, f.Calls())

	vis.Set(false)
	require.Eventually(t, func() bool { return !p.Snapshot().Polling }, time.Second, 2*time.Millisecond)
	assert.NotNil(t, p.Snapshot().Order, "hidden keeps data")

	vis.Set(true)
	require.Eventually(t, func() bool { return f.Calls() == 2 && p.Snapshot().Polling }, time.Second, 2*time.Millisecond)
}

func TestPoller_FailureKeepsOrder(t *testing.T) {
	f := &statusFetcher{statuses: []api.OrderStatus{api.StatusReady}}
	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := New(f, "o-1", api.StatusReady, WithClock(clk.Now))
	ctx := context.Background()

	require.NoError(t, p.RefreshOrder(ctx))
	f.setErr(errors.New("gateway timeout"))
	clk.Advance(time.Minute)
	require.Error(t, p.RefreshOrder(ctx))

	snap := p.Snapshot()
	require.NotNil(t, snap.Order)
	assert.Equal(t, api.StatusReady, snap.Order.Status)
	assert.Equal(t, "gateway timeout", snap.LastError)
	assert.False(t, snap.Loading)
}

func TestPoller_InvalidOrderIDNoRequest(t *testing.T) {
	f := &statusFetcher{statuses: []api.OrderStatus{api.StatusReady}}
	for _, id := range []string{"", "   ", "a/b"} {
		p := New(f, id, "")
		err := p.Start(context.Background())
		assert.True(t, syncerr.IsInvalidInput(err), "Start(%q) = %v", id, err)
		assert.True(t, syncerr.IsInvalidInput(p.RefreshOrder(context.Background())))
		assert.NotEmpty(t, p.Snapshot().LastError)
		p.Stop()
	}
	assert.Zero(t, f.Calls())
}
