package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/storage"
)

// ErrInvalidItem is returned when an item cannot be placed in the cart.
var ErrInvalidItem = errors.New("invalid cart item")

// Customization is a chosen option on a line, e.g. {"Spice", "Mild"}.
type Customization struct {
	Group  string `json:"group"`
	Choice string `json:"choice"`
}

// Item is a cart line. Quantity is always >= 1 while the item is in the cart.
type Item struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Price          float64         `json:"price"`
	Discount       float64         `json:"discount"` // percent off Price, 0-100
	Quantity       int             `json:"quantity"`
	Image          string          `json:"image,omitempty"`
	Customizations []Customization `json:"customizations,omitempty"`
}

// FromMenuItem builds a cart line of one for a menu entry.
func FromMenuItem(m api.MenuItem) Item {
	return Item{
		ID:       m.ID,
		Name:     m.Name,
		Price:    m.Price,
		Discount: m.Discount,
		Quantity: 1,
		Image:    m.Image,
	}
}

// UnitPrice is the discounted price of one unit.
func (i Item) UnitPrice() float64 {
	discount := math.Min(math.Max(i.Discount, 0), 100)
	return roundCents(i.Price * (100 - discount) / 100)
}

// LineTotal is the discounted price of the whole line.
func (i Item) LineTotal() float64 {
	return roundCents(i.UnitPrice() * float64(i.Quantity))
}

func (i Item) clone() Item {
	dup := i
	if i.Customizations != nil {
		dup.Customizations = append([]Customization(nil), i.Customizations...)
	}
	return dup
}

// State is the published cart. Totals are derived from Items and always agree
// with them.
type State struct {
	Items                     []Item  `json:"items"`
	TotalItems                int     `json:"totalItems"`
	TotalPrice                float64 `json:"totalPrice"`
	TotalPriceWithoutDiscount float64 `json:"totalPriceWithoutDiscount"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	dup := s
	dup.Items = make([]Item, len(s.Items))
	for i, item := range s.Items {
		dup.Items[i] = item.clone()
	}
	return dup
}

// Empty reports whether the cart has no lines.
func (s State) Empty() bool { return len(s.Items) == 0 }

// Quantity returns the quantity of id, or 0 when absent.
func (s State) Quantity(id string) int {
	if idx := indexOf(s.Items, id); idx >= 0 {
		return s.Items[idx].Quantity
	}
	return 0
}

func newState(items []Item) State {
	st := State{Items: items}
	var total, undiscounted float64
	for _, item := range items {
		st.TotalItems += item.Quantity
		total += item.LineTotal()
		undiscounted += item.Price * float64(item.Quantity)
	}
	st.TotalPrice = roundCents(total)
	st.TotalPriceWithoutDiscount = roundCents(undiscounted)
	return st
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store holds the cart and persists every mutation.
type Store struct {
	mu      sync.Mutex
	state   State
	seq     uint64 // bumped on every mutation
	backend storage.Store
	logger  *zap.Logger

	subMu   sync.Mutex
	subs    map[int]chan State
	nextSub int
	sentSeq uint64
}

// New loads the persisted cart from backend. A missing or corrupt entry
// yields an empty cart.
func New(ctx context.Context, backend storage.Store, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  zap.NewNop(),
		subs:    make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) State {
	if s.backend == nil {
		return newState(nil)
	}
	raw, err := s.backend.Load(ctx, storage.KeyCart)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("cart load failed, starting empty", zap.Error(err))
		}
		return newState(nil)
	}
	var persisted State
	if err := json.Unmarshal(raw, &persisted); err != nil {
		s.logger.Warn("cart entry corrupt, starting empty", zap.Error(err))
		return newState(nil)
	}
	items := make([]Item, 0, len(persisted.Items))
	for _, item := range persisted.Items {
		if strings.TrimSpace(item.ID) == "" || item.Quantity < 1 {
			s.logger.Warn("dropping invalid persisted cart item", zap.String("id", item.ID), zap.Int("quantity", item.Quantity))
			continue
		}
		items = append(items, item.clone())
	}
	return newState(items)
}

// State returns a copy of the current cart.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// ItemQuantity returns the quantity of id, or 0 when absent.
func (s *Store) ItemQuantity(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Quantity(id)
}

// AddItem increments the quantity of an existing line by one, ignoring any
// other field of item, or appends item with quantity 1.
func (s *Store) AddItem(ctx context.Context, item Item) (State, error) {
	if strings.TrimSpace(item.ID) == "" {
		return s.State(), fmt.Errorf("%w: id required", ErrInvalidItem)
	}
	if item.Price < 0 {
		return s.State(), fmt.Errorf("%w: negative price", ErrInvalidItem)
	}
	return s.mutate(ctx, "add", func(items []Item) []Item {
		if idx := indexOf(items, item.ID); idx >= 0 {
			items[idx].Quantity++
			return items
		}
		added := item.clone()
		added.Quantity = 1
		return append(items, added)
	})
}

// RemoveItem drops the line for id.
func (s *Store) RemoveItem(ctx context.Context, id string) (State, error) {
	return s.mutate(ctx, "remove", func(items []Item) []Item {
		return remove(items, id)
	})
}

// UpdateQuantity sets the quantity of id; qty <= 0 removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, id string, qty int) (State, error) {
	if qty <= 0 {
		return s.RemoveItem(ctx, id)
	}
	return s.mutate(ctx, "update_quantity", func(items []Item) []Item {
		if idx := indexOf(items, id); idx >= 0 {
			items[idx].Quantity = qty
		}
		return items
	})
}

// IncrementQuantity adds one unit to id.
func (s *Store) IncrementQuantity(ctx context.Context, id string) (State, error) {
	return s.mutate(ctx, "increment", func(items []Item) []Item {
		if idx := indexOf(items, id); idx >= 0 {
			items[idx].Quantity++
		}
		return items
	})
}

// DecrementQuantity removes one unit from id; the last unit removes the line.
func (s *Store) DecrementQuantity(ctx context.Context, id string) (State, error) {
	return s.mutate(ctx, "decrement", func(items []Item) []Item {
		idx := indexOf(items, id)
		if idx < 0 {
			return items
		}
		if items[idx].Quantity <= 1 {
			return remove(items, id)
		}
		items[idx].Quantity--
		return items
	})
}

// ClearCart empties the cart.
func (s *Store) ClearCart(ctx context.Context) (State, error) {
	return s.mutate(ctx, "clear", func([]Item) []Item { return nil })
}

// Subscribe returns a channel that receives the latest state after every
// mutation. Slow readers only see the most recent state.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// mutate applies fn to a private copy of the items, recomputes totals and
// swaps the new state in under the lock, then persists and notifies. A
// persistence failure is returned but the in-memory state stays updated.
func (s *Store) mutate(ctx context.Context, op string, fn func([]Item) []Item) (State, error) {
	s.mu.Lock()
	items := s.state.Clone().Items
	next := newState(fn(items))
	s.state = next
	s.seq++
	seq := s.seq
	published := next.Clone()
	err := s.persist(ctx, next)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("cart persist failed", zap.String("op", op), zap.Error(err))
	}
	s.logger.Debug("cart updated",
		zap.String("op", op),
		zap.Int("total_items", published.TotalItems),
		zap.Float64("total_price", published.TotalPrice))
	s.notify(published, seq)
	return published, err
}

func (s *Store) persist(ctx context.Context, st State) error {
	if s.backend == nil {
		return nil
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := s.backend.Save(ctx, storage.KeyCart, raw); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// notify delivers st unless a later mutation was already delivered.
func (s *Store) notify(st State, seq uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if seq <= s.sentSeq {
		return
	}
	s.sentSeq = seq
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st.Clone():
		default:
		}
	}
}

func indexOf(items []Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func remove(items []Item, id string) []Item {
	out := items[:0]
	for _, item := range items {
		if item.ID != id {
			out = append(out, item)
		}
	}
	return out
}
