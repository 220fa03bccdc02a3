package orderstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/syncerr"
	"github.com/five82/platter/internal/visibility"
)

const (
	// MaxReconnects is how many reconnects follow consecutive failures before
	// the stream gives up.
	MaxReconnects = 5
	// ReconnectStep is multiplied by the attempt number to get the delay.
	ReconnectStep = 3 * time.Second
)

// State is the connection state of a Stream.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
	StateFailed
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Live reports whether a connection is open or being established.
func (s State) Live() bool {
	return s == StateConnecting || s == StateOpen || s == StateReconnecting
}

// Snapshot is the observable state of a Stream.
type Snapshot struct {
	OrderID   string
	State     State
	Order     *api.Order
	Attempts  int
	LastError string
	// Fatal is set once reconnects are exhausted; the user has to act.
	Fatal bool
}

func (s Snapshot) clone() Snapshot {
	dup := s
	if s.Order != nil {
		o := s.Order.Clone()
		dup.Order = &o
	}
	return dup
}

// Notification is a transient, user-facing status change message.
type Notification struct {
	OrderID string
	Status  api.OrderStatus
	Text    string
}

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets the stream's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithVisibility makes the stream reconnect at once when vis turns visible
// and no connection is live.
func WithVisibility(vis *visibility.Tracker) Option {
	return func(s *Stream) { s.vis = vis }
}

// OnChange registers a callback receiving every new Snapshot. It runs on the
// stream goroutine and must not block.
func OnChange(fn func(Snapshot)) Option {
	return func(s *Stream) { s.onChange = fn }
}

// OnNotify registers a callback for status change notifications.
func OnNotify(fn func(Notification)) Option {
	return func(s *Stream) { s.onNotify = fn }
}

// Stream keeps one live order subscription, reconnecting with linear backoff.
type Stream struct {
	opener   Opener
	vis      *visibility.Tracker
	logger   *zap.Logger
	after    func(time.Duration) <-chan time.Time
	onChange func(Snapshot)
	onNotify func(Notification)

	mu   sync.Mutex
	snap Snapshot

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an idle stream.
func New(opener Opener, opts ...Option) *Stream {
	s := &Stream{
		opener: opener,
		logger: zap.NewNop(),
		after:  time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current state.
func (s *Stream) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone()
}

// Start subscribes to orderID. An invalid id fails at once without a
// connection. Starting the id that is already live is a no-op; any other
// call replaces the current subscription.
func (s *Stream) Start(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if err := api.ValidateOrderID(orderID); err != nil {
		s.update(func(snap *Snapshot) {
			snap.LastError = err.Error()
		})
		return err
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		cur := s.Snapshot()
		if cur.OrderID == orderID && cur.State.Live() {
			s.logger.Debug("order stream already live", zap.String("order_id", orderID))
			return nil
		}
		s.stopLocked()
	}

	s.update(func(snap *Snapshot) {
		*snap = Snapshot{OrderID: orderID, State: StateConnecting}
	})
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, orderID, s.done)
	return nil
}

// Stop closes the connection and cancels any pending reconnect, then waits
// for the stream goroutine to exit.
func (s *Stream) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.stopLocked()
}

func (s *Stream) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

func (s *Stream) run(ctx context.Context, orderID string, done chan struct{}) {
	defer close(done)
	visible, unsubscribe := s.vis.Subscribe()
	defer unsubscribe()

	log := s.logger.With(zap.String("order_id", orderID))
	attempts := 0
	for {
		s.setState(StateConnecting, attempts)
		opened, terminal, err := s.consume(ctx, orderID, log)
		if ctx.Err() != nil {
			s.setState(StateClosed, attempts)
			return
		}
		if terminal {
			log.Info("order reached final status, closing stream")
			s.setState(StateTerminal, 0)
			return
		}
		if opened {
			attempts = 0
		}
		if syncerr.IsInvalidInput(err) {
			log.Warn("order stream rejected, not reconnecting", zap.Error(err))
			s.update(func(snap *Snapshot) {
				snap.State = StateFailed
				snap.Attempts = attempts
				snap.LastError = err.Error()
				snap.Fatal = true
			})
			return
		}
		// Transitions seen while connected are stale.
		select {
		case <-visible:
		default:
		}

		if attempts >= MaxReconnects {
			log.Warn("order stream gave up", zap.Int("attempts", attempts), zap.Error(err))
			s.update(func(snap *Snapshot) {
				snap.State = StateFailed
				snap.Attempts = attempts
				snap.LastError = syncerr.ErrConnectionLost.Error()
				snap.Fatal = true
			})
			if !s.waitVisible(ctx, visible, nil) {
				s.setState(StateClosed, attempts)
				return
			}
			log.Info("client visible again, reviving order stream")
			attempts = 0
			s.update(func(snap *Snapshot) { snap.Fatal = false })
			continue
		}

		attempts++
		delay := ReconnectStep * time.Duration(attempts)
		log.Info("order stream disconnected, reconnecting",
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		s.update(func(snap *Snapshot) {
			snap.State = StateReconnecting
			snap.Attempts = attempts
			snap.LastError = err.Error()
		})
		if !s.waitVisible(ctx, visible, s.after(delay)) {
			s.setState(StateClosed, attempts)
			return
		}
	}
}

// waitVisible blocks until timer fires or the client turns visible. It
// returns false when ctx is done. A nil timer waits for visibility only.
func (s *Stream) waitVisible(ctx context.Context, visible <-chan bool, timer <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer:
			return true
		case v := <-visible:
			if v {
				return true
			}
		}
	}
}

// consume reads one connection to its end. terminal is true when the order
// reached a final status.
func (s *Stream) consume(ctx context.Context, orderID string, log *zap.Logger) (opened, terminal bool, err error) {
	for msg, err := range Subscribe(ctx, s.opener, orderID, log) {
		if err != nil {
			return opened, false, err
		}
		switch msg.Kind {
		case KindOpened:
			opened = true
			s.update(func(snap *Snapshot) {
				snap.State = StateOpen
				snap.Attempts = 0
				snap.LastError = ""
				snap.Fatal = false
			})
		case KindConnected:
			log.Debug("order stream connected", zap.String("message", msg.Text))
		case KindInitial:
			order := msg.Order.Clone()
			s.update(func(snap *Snapshot) { snap.Order = &order })
			if !order.Status.IsActive() {
				return opened, true, nil
			}
		case KindStatusUpdate:
			s.update(func(snap *Snapshot) {
				if snap.Order == nil {
					snap.Order = &api.Order{ID: orderID}
				}
				snap.Order.Status = msg.Status
				if msg.StatusHistory != nil {
					snap.Order.StatusHistory = append([]api.StatusChange(nil), msg.StatusHistory...)
				}
				if msg.UpdatedAt != "" {
					snap.Order.UpdatedAt = msg.UpdatedAt
				}
			})
			s.notify(Notification{
				OrderID: orderID,
				Status:  msg.Status,
				Text:    "Order status updated: " + msg.Status.Label(),
			})
			if !msg.Status.IsActive() {
				return opened, true, nil
			}
		case KindError:
			log.Warn("order stream reported error", zap.String("message", msg.Text))
			s.update(func(snap *Snapshot) { snap.LastError = msg.Text })
		}
	}
	// Subscribe always ends with an error unless the consumer stops early.
	return opened, false, errors.New("order stream ended")
}

func (s *Stream) setState(state State, attempts int) {
	s.update(func(snap *Snapshot) {
		snap.State = state
		snap.Attempts = attempts
	})
}

func (s *Stream) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	out := s.snap.clone()
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(out)
	}
}

func (s *Stream) notify(n Notification) {
	s.logger.Info("order status changed", zap.String("order_id", n.OrderID), zap.String("status", string(n.Status)))
	if s.onNotify != nil {
		s.onNotify(n)
	}
}
