package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/orderpoll"
	"github.com/five82/platter/internal/orderstream"
	"github.com/five82/platter/internal/state"
	"github.com/five82/platter/internal/visibility"
)

// OrderSource is what a Tracker needs from the backend.
type OrderSource interface {
	orderstream.Opener
	orderpoll.Fetcher
}

var _ OrderSource = (*api.Client)(nil)

// Tracker watches one order through the event stream. When the stream gives
// up, a REST poller takes over until the stream is open again or the order
// is final.
type Tracker struct {
	orderID string
	store   *state.Store
	stream  *orderstream.Stream
	poller  *orderpoll.Poller
	logger  *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	fallback bool
	closed   bool
}

func newTracker(orderID string, source OrderSource, vis *visibility.Tracker, pollInterval time.Duration, onNotify func(orderstream.Notification), logger *zap.Logger) *Tracker {
	logger = logger.With(zap.String("order_id", orderID))
	t := &Tracker{
		orderID: orderID,
		store:   state.NewStore(orderID),
		logger:  logger,
	}

	pollOpts := []orderpoll.Option{
		orderpoll.WithVisibility(vis),
		orderpoll.WithLogger(logger),
		orderpoll.OnChange(t.store.ApplyPoll),
	}
	if pollInterval > 0 {
		pollOpts = append(pollOpts, orderpoll.WithInterval(pollInterval))
	}
	t.poller = orderpoll.New(source, orderID, "", pollOpts...)

	t.stream = orderstream.New(source,
		orderstream.WithVisibility(vis),
		orderstream.WithLogger(logger),
		orderstream.OnChange(t.onStream),
		orderstream.OnNotify(func(n orderstream.Notification) {
			t.store.Notify(n.Text)
			if onNotify != nil {
				onNotify(n)
			}
		}),
	)
	return t
}

// OrderID returns the tracked order's id.
func (t *Tracker) OrderID() string { return t.orderID }

// Snapshot returns the merged tracking state.
func (t *Tracker) Snapshot() state.Snapshot { return t.store.Snapshot() }

// Fallback reports whether the REST poller is currently in charge.
func (t *Tracker) Fallback() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fallback
}

// Refresh asks the poller for a manual refresh, subject to its debounce.
func (t *Tracker) Refresh(ctx context.Context) error {
	return t.poller.RefreshOrder(ctx)
}

func (t *Tracker) start(ctx context.Context) error {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
	return t.stream.Start(ctx, t.orderID)
}

// Close stops the stream and the poller. Close is idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.stream.Stop()
	t.poller.Stop()
}

// onStream runs on the stream goroutine for every stream snapshot.
func (t *Tracker) onStream(snap orderstream.Snapshot) {
	t.store.ApplyStream(snap)
	if snap.Order != nil {
		t.poller.SetStatus(snap.Order.Status)
	}

	switch snap.State {
	case orderstream.StateFailed:
		t.setFallback(true)
	case orderstream.StateOpen, orderstream.StateTerminal:
		t.setFallback(false)
	}
}

func (t *Tracker) setFallback(on bool) {
	t.mu.Lock()
	if t.closed || t.fallback == on {
		t.mu.Unlock()
		return
	}
	t.fallback = on
	ctx := t.ctx
	t.mu.Unlock()

	if !on {
		t.logger.Info("order stream back, stopping fallback poller")
		t.poller.Stop()
		return
	}
	t.logger.Info("order stream failed, falling back to polling")
	if err := t.poller.Start(ctx); err != nil {
		t.logger.Warn("fallback poller did not start", zap.Error(err))
	}
}
