package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/auth"
	"github.com/five82/platter/internal/cart"
	"github.com/five82/platter/internal/catalog"
	"github.com/five82/platter/internal/orderstream"
	"github.com/five82/platter/internal/querycache"
	"github.com/five82/platter/internal/storage"
	"github.com/five82/platter/internal/versions"
	"github.com/five82/platter/internal/visibility"
	"github.com/five82/platter/internal/wallet"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Options tunes a Session. Zero values pick the package defaults.
type Options struct {
	Logger            *zap.Logger
	VersionInterval   time.Duration
	OrderPollInterval time.Duration
	SweepInterval     time.Duration
	// OnNotify receives order status notifications from every tracker.
	OnNotify func(orderstream.Notification)
}

// Session owns every long-lived sync component of one signed-in client.
type Session struct {
	Auth       *auth.Session
	Client     *api.Client
	Cache      *querycache.Cache
	Catalog    *catalog.Service
	Cart       *cart.Store
	Wallet     *wallet.Store
	Visibility *visibility.Tracker
	Versions   *versions.Poller
	Checker    *versions.Checker

	durable storage.Store
	logger  *zap.Logger
	opts    Options

	mu       sync.Mutex
	trackers map[string]*Tracker
	started  bool
	closed   bool
}

// New wires a session around client. Persisted cart and wallet data are
// loaded from durable, which may be nil for a memory-only session.
func New(ctx context.Context, client *api.Client, authSession *auth.Session, durable storage.Store, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if durable == nil {
		durable = storage.NewMemory()
	}
	if authSession == nil {
		authSession = auth.NewSession("")
	}

	cacheOpts := []querycache.Option{querycache.WithLogger(logger.Named("cache"))}
	if opts.SweepInterval > 0 {
		cacheOpts = append(cacheOpts, querycache.WithSweepInterval(opts.SweepInterval))
	}
	cache := querycache.New(cacheOpts...)
	cat := catalog.New(client, cache, logger.Named("catalog"))
	vis := visibility.New(true)
	checker := versions.NewChecker(cat, logger.Named("versions"))

	pollerOpts := []versions.Option{
		versions.WithVisibility(vis),
		versions.WithLogger(logger.Named("versions")),
	}
	if opts.VersionInterval > 0 {
		pollerOpts = append(pollerOpts, versions.WithInterval(opts.VersionInterval))
	}

	return &Session{
		Auth:       authSession,
		Client:     client,
		Cache:      cache,
		Catalog:    cat,
		Cart:       cart.New(ctx, durable, cart.WithLogger(logger.Named("cart"))),
		Wallet:     wallet.New(ctx, client, durable, wallet.WithLogger(logger.Named("wallet"))),
		Visibility: vis,
		Versions:   versions.NewPoller(client, checker, pollerOpts...),
		Checker:    checker,
		durable:    durable,
		logger:     logger,
		opts:       opts,
		trackers:   make(map[string]*Tracker),
	}
}

// Start launches the cache sweeper and the version poller.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true
	s.Cache.Start(ctx)
	s.Versions.Start(ctx)
	s.logger.Info("session started")
	return nil
}

// SetVisible reports whether the user is looking at the client.
func (s *Session) SetVisible(visible bool) {
	s.Visibility.Set(visible)
}

// TrackOrder starts watching orderID and returns its tracker. Tracking an
// order that is already tracked returns the existing tracker. ctx bounds
// the tracker's lifetime together with Untrack and Close.
func (s *Session) TrackOrder(ctx context.Context, orderID string) (*Tracker, error) {
	orderID = strings.TrimSpace(orderID)
	if err := api.ValidateOrderID(orderID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if t, ok := s.trackers[orderID]; ok {
		return t, nil
	}
	t := newTracker(orderID, s.Client, s.Visibility, s.opts.OrderPollInterval, s.opts.OnNotify, s.logger.Named("order"))
	if err := t.start(ctx); err != nil {
		return nil, fmt.Errorf("track order %s: %w", orderID, err)
	}
	s.trackers[orderID] = t
	return t, nil
}

// Tracker returns the tracker for orderID, if any.
func (s *Session) Tracker(orderID string) (*Tracker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[strings.TrimSpace(orderID)]
	return t, ok
}

// Untrack stops watching orderID. Unknown ids are ignored.
func (s *Session) Untrack(orderID string) {
	s.mu.Lock()
	t, ok := s.trackers[strings.TrimSpace(orderID)]
	delete(s.trackers, strings.TrimSpace(orderID))
	s.mu.Unlock()
	if ok {
		t.Close()
	}
}

// Logout stops order tracking, clears the cart and the wallet (memory and
// durable) and drops the token. Cached catalog data survives; it is not
// user specific.
func (s *Session) Logout(ctx context.Context) error {
	s.closeTrackers()

	var errs []error
	if _, err := s.Cart.ClearCart(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear cart: %w", err))
	}
	s.Wallet.ClearCache()
	if err := s.durable.Delete(ctx, storage.KeyWallet); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = append(errs, fmt.Errorf("purge wallet entry: %w", err))
	}
	s.Cache.Invalidate(catalog.KeyOrdersMine)
	s.Auth.Clear()
	s.logger.Info("logged out")
	return errors.Join(errs...)
}

// Close stops every tracker, the version poller and the cache sweeper.
// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.closeTrackers()
	s.Versions.Stop()
	s.Cache.Stop()
	s.logger.Info("session closed")
}

func (s *Session) closeTrackers() {
	s.mu.Lock()
	trackers := s.trackers
	s.trackers = make(map[string]*Tracker)
	s.mu.Unlock()
	for _, t := range trackers {
		t.Close()
	}
}
