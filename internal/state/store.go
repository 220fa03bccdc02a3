package state

import (
	"sync"
	"time"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/orderpoll"
	"github.com/five82/platter/internal/orderstream"
)

// Snapshot represents the latest tracking data for one order.
type Snapshot struct {
	OrderID     string
	Order       *api.Order
	Connection  orderstream.State
	Polling     bool // fallback poller is watching the order
	Notice      string
	LastError   string
	Fatal       bool
	LastUpdated time.Time
	// ConsecutiveFailures counts reconnect attempts since the last open stream.
	ConsecutiveFailures int
}

// IsOffline returns true when the stream has failed more than once in a row.
func (s Snapshot) IsOffline() bool {
	return s.ConsecutiveFailures >= 2 || s.Fatal
}

// Status is the order's current status, empty until one is known.
func (s Snapshot) Status() api.OrderStatus {
	if s.Order == nil {
		return ""
	}
	return s.Order.Status
}

func (s Snapshot) clone() Snapshot {
	dup := s
	if s.Order != nil {
		o := s.Order.Clone()
		dup.Order = &o
	}
	return dup
}

// Store merges stream and poller updates for one order. The order shown is
// whichever source changed it last.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot

	streamOrder *api.Order
	pollOrder   *api.Order
	now         func() time.Time
}

// NewStore returns a store for orderID.
func NewStore(orderID string) *Store {
	return &Store{snapshot: Snapshot{OrderID: orderID}, now: time.Now}
}

// ApplyStream records a stream snapshot.
func (s *Store) ApplyStream(in orderstream.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Order != nil && !sameOrder(s.streamOrder, in.Order) {
		o := in.Order.Clone()
		s.streamOrder = &o
		s.setOrder(&o)
	}
	s.snapshot.Connection = in.State
	s.snapshot.Fatal = in.Fatal
	s.snapshot.ConsecutiveFailures = in.Attempts
	if in.LastError != "" || in.State == orderstream.StateOpen {
		s.snapshot.LastError = in.LastError
	}
	s.touch()
}

// ApplyPoll records a fallback poller snapshot.
func (s *Store) ApplyPoll(in orderpoll.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Order != nil && !sameOrder(s.pollOrder, in.Order) {
		o := in.Order.Clone()
		s.pollOrder = &o
		s.setOrder(&o)
	}
	s.snapshot.Polling = in.Polling
	if in.LastError != "" {
		s.snapshot.LastError = in.LastError
	}
	s.touch()
}

// Notify records a user-facing message.
func (s *Store) Notify(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Notice = text
	s.touch()
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.clone()
}

func (s *Store) setOrder(o *api.Order) {
	dup := o.Clone()
	s.snapshot.Order = &dup
}

func (s *Store) touch() {
	if s.now == nil {
		s.now = time.Now
	}
	s.snapshot.LastUpdated = s.now()
}

func sameOrder(a, b *api.Order) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Status == b.Status && a.UpdatedAt == b.UpdatedAt && len(a.StatusHistory) == len(b.StatusHistory)
}
