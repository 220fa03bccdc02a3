// Package orderpoll polls a single order over REST. It is the fallback for
// when the live order stream is unavailable.
//
// Polling runs every DefaultInterval while the order status is active and
// the client is visible. The condition is checked on every tick against the
// latest status, including statuses pushed in with SetStatus, so a final
// status halts polling right after the fetch that observed it. Going hidden
// stops the interval and keeps the data; coming back fetches once and
// restarts it. Manual refreshes within DebounceWindow of the last accepted
// one are ignored.
package orderpoll

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/syncerr"
	"github.com/five82/platter/internal/visibility"
)

const (
	DefaultInterval = 3 * time.Minute
	DebounceWindow  = 30 * time.Second
)

// Fetcher loads one order.
type Fetcher interface {
	FetchOrder(ctx context.Context, orderID string) (api.Order, error)
}

var _ Fetcher = (*api.Client)(nil)

// Snapshot is the observable state of a Poller.
type Snapshot struct {
	OrderID   string
	Order     *api.Order
	Status    api.OrderStatus
	Loading   bool
	Polling   bool
	LastError string
	LastFetch time.Time
}

func (s Snapshot) clone() Snapshot {
	dup := s
	if s.Order != nil {
		o := s.Order.Clone()
		dup.Order = &o
	}
	return dup
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithVisibility gates polling on vis.
func WithVisibility(vis *visibility.Tracker) Option {
	return func(p *Poller) { p.vis = vis }
}

// WithLogger sets the poller's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source used for debouncing.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// OnChange registers a callback receiving every new Snapshot. It must not
// block.
func OnChange(fn func(Snapshot)) Option {
	return func(p *Poller) { p.onChange = fn }
}

// Poller polls one order.
type Poller struct {
	orderID  string
	fetcher  Fetcher
	vis      *visibility.Tracker
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
	onChange func(Snapshot)

	fetchMu sync.Mutex

	mu         sync.Mutex
	snap       Snapshot
	lastManual time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped poller for orderID whose last known status is status
// (empty when unknown).
func New(fetcher Fetcher, orderID string, status api.OrderStatus, opts ...Option) *Poller {
	orderID = strings.TrimSpace(orderID)
	p := &Poller{
		orderID:  orderID,
		fetcher:  fetcher,
		logger:   zap.NewNop(),
		interval: DefaultInterval,
		now:      time.Now,
		snap:     Snapshot{OrderID: orderID, Status: status},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("order_id", orderID))
	return p
}

// Snapshot returns the current state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap.clone()
}

// Start fetches once and begins polling. An invalid order id is recorded and
// returned without any request. Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	if err := p.validate(); err != nil {
		return err
	}
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	return nil
}

// Stop cancels polling and waits for the loop to exit. Data is kept.
func (p *Poller) Stop() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetStatus records a status learned elsewhere, typically from the stream.
// The next tick sees it.
func (p *Poller) SetStatus(status api.OrderStatus) {
	p.update(func(s *Snapshot) {
		s.Status = status
		if s.Order != nil {
			s.Order.Status = status
		}
	})
}

// RefreshOrder fetches now unless a manual refresh was accepted within
// DebounceWindow, in which case it returns an Ignored error without a
// request.
func (p *Poller) RefreshOrder(ctx context.Context) error {
	if err := p.validate(); err != nil {
		return err
	}
	p.mu.Lock()
	now := p.now()
	if !p.lastManual.IsZero() && now.Sub(p.lastManual) < DebounceWindow {
		since := now.Sub(p.lastManual)
		p.mu.Unlock()
		p.logger.Debug("manual refresh debounced", zap.Duration("since_last", since))
		return syncerr.Ignored("orderpoll.refresh", syncerr.ErrDebounced)
	}
	p.lastManual = now
	p.mu.Unlock()
	return p.fetch(ctx)
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	visible, unsubscribe := p.vis.Subscribe()
	defer unsubscribe()

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	start := func() {
		if ticker == nil && p.shouldPoll() {
			ticker = time.NewTicker(p.interval)
			tick = ticker.C
			p.setPolling(true)
		}
	}
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
			p.setPolling(false)
		}
	}
	defer stop()

	_ = p.fetch(ctx)
	start()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if !p.shouldPoll() {
				p.logger.Debug("order polling stopped", zap.String("status", string(p.status())))
				stop()
				continue
			}
			_ = p.fetch(ctx)
			if !p.active() {
				stop()
			}
		case v := <-visible:
			if !v {
				stop()
				continue
			}
			if p.active() && ticker == nil {
				_ = p.fetch(ctx)
				start()
			}
		}
	}
}

func (p *Poller) fetch(ctx context.Context) error {
	if err := p.validate(); err != nil {
		return err
	}
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	p.update(func(s *Snapshot) { s.Loading = true })
	order, err := p.fetcher.FetchOrder(ctx, p.orderID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("order poll failed", zap.Error(err))
		}
		p.update(func(s *Snapshot) {
			s.Loading = false
			s.LastError = err.Error()
		})
		return err
	}
	now := p.now()
	p.update(func(s *Snapshot) {
		s.Loading = false
		s.Order = &order
		s.Status = order.Status
		s.LastError = ""
		s.LastFetch = now
	})
	return nil
}

func (p *Poller) validate() error {
	if err := api.ValidateOrderID(p.orderID); err != nil {
		p.update(func(s *Snapshot) { s.LastError = err.Error() })
		return err
	}
	return nil
}

func (p *Poller) status() api.OrderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap.Status
}

// active treats an unknown status as active until the first fetch says
// otherwise.
func (p *Poller) active() bool {
	status := p.status()
	return status == "" || status.IsActive()
}

func (p *Poller) shouldPoll() bool {
	return p.active() && p.vis.Visible()
}

func (p *Poller) setPolling(on bool) {
	p.update(func(s *Snapshot) { s.Polling = on })
}

func (p *Poller) update(fn func(*Snapshot)) {
	p.mu.Lock()
	fn(&p.snap)
	out := p.snap.clone()
	p.mu.Unlock()
	if p.onChange != nil {
		p.onChange(out)
	}
}
