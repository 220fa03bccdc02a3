package versions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/querycache"
	"github.com/five82/platter/internal/syncerr"
	"github.com/five82/platter/internal/visibility"
)

const (
	// DefaultInterval is the version check cadence.
	DefaultInterval = 30 * time.Second

	maxRetries = 2
	retryBase  = time.Second
	maxBackoff = 30 * time.Second
)

// Fetcher loads the current version vector.
type Fetcher interface {
	FetchVersions(ctx context.Context) (api.VersionVector, error)
}

// Observer receives every successfully fetched vector, in fetch order.
type Observer interface {
	Observe(v api.VersionVector) []querycache.Key
}

// State is a snapshot of the poller.
type State struct {
	Current             api.VersionVector
	Known               bool
	Loading             bool
	LastError           error
	LastSuccess         time.Time
	ConsecutiveFailures int
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

// WithVisibility gates ticks on vis and refetches when it turns visible.
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

// Poller fetches the version vector on an interval and hands each result to
// its Observer. Fetches never overlap.
type Poller struct {
	fetcher  Fetcher
	observer Observer
	vis      *visibility.Tracker
	logger   *zap.Logger
	interval time.Duration
	after    func(time.Duration) <-chan time.Time
	now      func() time.Time

	pollMu sync.Mutex

	mu    sync.Mutex
	state State

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller returns a stopped poller. observer may be nil.
func NewPoller(fetcher Fetcher, observer Observer, opts ...Option) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		observer: observer,
		logger:   zap.NewNop(),
		interval: DefaultInterval,
		after:    time.After,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns a snapshot of the poller.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start fetches once and then every interval until Stop. Calling Start on a
// running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop cancels the loop, including any pending retry wait, and waits for it
// to exit.
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

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	visible, unsubscribe := p.vis.Subscribe()
	defer unsubscribe()

	p.pollLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-visible:
			if !v {
				continue
			}
			p.logger.Debug("client visible, checking versions")
		case <-p.after(p.interval):
			if !p.vis.Visible() {
				p.logger.Debug("version check skipped while hidden",
					zap.Error(syncerr.Ignored("versions.poll", syncerr.ErrHidden)))
				continue
			}
		}
		p.pollLogged(ctx)
	}
}

func (p *Poller) pollLogged(ctx context.Context) {
	if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("version check failed", zap.Error(err))
	}
}

// Poll performs one check: up to maxRetries retries with exponential backoff,
// then the result is recorded and, on success, observed. A failure keeps the
// previously known vector.
func (p *Poller) Poll(ctx context.Context) error {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	p.mu.Lock()
	p.state.Loading = true
	p.mu.Unlock()

	v, err := p.fetchWithRetry(ctx)

	p.mu.Lock()
	p.state.Loading = false
	if err != nil {
		p.state.LastError = err
		p.state.ConsecutiveFailures++
		p.mu.Unlock()
		return err
	}
	p.state.Current = v
	p.state.Known = true
	p.state.LastError = nil
	p.state.LastSuccess = p.now()
	p.state.ConsecutiveFailures = 0
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.Observe(v)
	}
	return nil
}

func (p *Poller) fetchWithRetry(ctx context.Context) (api.VersionVector, error) {
	for attempt := 0; ; attempt++ {
		v, err := p.fetcher.FetchVersions(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= maxRetries || syncerr.IsInvalidInput(err) {
			return api.VersionVector{}, fmt.Errorf("fetch versions after %d attempts: %w", attempt+1, err)
		}
		delay := calculateBackoff(attempt, retryBase)
		p.logger.Debug("version fetch failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return api.VersionVector{}, ctx.Err()
		case <-p.after(delay):
		}
	}
}

// calculateBackoff doubles base per failure, capped at maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures < 0 {
		failures = 0
	}
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
