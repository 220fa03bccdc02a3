package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/storage"
)

// CacheDuration is how long each field stays fresh after a successful fetch.
const CacheDuration = 2 * time.Minute

// Backend is the subset of the API the wallet store calls.
type Backend interface {
	FetchBalance(ctx context.Context) (float64, error)
	FetchTransactions(ctx context.Context) ([]api.Transaction, error)
	FetchWalletSummary(ctx context.Context) (api.WalletSummary, error)
	FetchReferralCode(ctx context.Context) (string, error)
	ApplyReferral(ctx context.Context, code string) (api.ReferralResult, error)
}

var _ Backend = (*api.Client)(nil)

// Snapshot is the cached wallet. Each field has its own fetch stamp.
type Snapshot struct {
	Balance       float64           `json:"balance"`
	Transactions  []api.Transaction `json:"transactions"`
	ReferralCode  string            `json:"referralCode"`
	ReferralStats api.ReferralStats `json:"referralStats"`

	BalanceFetchedAt      time.Time `json:"balanceFetchedAt"`
	TransactionsFetchedAt time.Time `json:"transactionsFetchedAt"`
	SummaryFetchedAt      time.Time `json:"summaryFetchedAt"`
	ReferralCodeFetchedAt time.Time `json:"referralCodeFetchedAt"`

	// Error holds the message of the most recent failed fetch; empty after a
	// successful one. Not persisted.
	Error string `json:"-"`
}

func (s Snapshot) clone() Snapshot {
	dup := s
	if s.Transactions != nil {
		dup.Transactions = append([]api.Transaction(nil), s.Transactions...)
	}
	return dup
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

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the persisted wallet cache.
type Store struct {
	mu      sync.Mutex
	snap    Snapshot
	backend Backend
	durable storage.Store
	logger  *zap.Logger
	now     func() time.Time
}

// New loads the persisted wallet snapshot. A missing or corrupt entry starts
// from an empty wallet.
func New(ctx context.Context, backend Backend, durable storage.Store, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		durable: durable,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snap = s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) Snapshot {
	if s.durable == nil {
		return Snapshot{}
	}
	raw, err := s.durable.Load(ctx, storage.KeyWallet)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("wallet load failed, starting empty", zap.Error(err))
		}
		return Snapshot{}
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.logger.Warn("wallet entry corrupt, starting empty", zap.Error(err))
		return Snapshot{}
	}
	return snap
}

// Snapshot returns a copy of the cached wallet.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone()
}

func (s *Store) fresh(at time.Time) bool {
	return !at.IsZero() && s.now().Sub(at) < CacheDuration
}

// FetchBalance returns the balance, from cache when it is non-zero and fresh.
// A failure resets the balance to 0: a visible zero is preferred over a stale
// amount.
func (s *Store) FetchBalance(ctx context.Context, force bool) (float64, error) {
	s.mu.Lock()
	if !force && s.snap.Balance != 0 && s.fresh(s.snap.BalanceFetchedAt) {
		balance := s.snap.Balance
		s.mu.Unlock()
		return balance, nil
	}
	s.mu.Unlock()

	balance, err := s.backend.FetchBalance(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.snap.Balance = 0
		s.snap.BalanceFetchedAt = time.Time{}
		s.fail(ctx, "balance", err)
		return 0, fmt.Errorf("fetch balance: %w", err)
	}
	s.snap.Balance = balance
	s.snap.BalanceFetchedAt = s.now()
	s.succeed(ctx)
	return balance, nil
}

// FetchTransactions returns the transaction list, from cache when it is
// non-empty and fresh. A failure keeps the cached list.
func (s *Store) FetchTransactions(ctx context.Context, force bool) ([]api.Transaction, error) {
	s.mu.Lock()
	if !force && len(s.snap.Transactions) > 0 && s.fresh(s.snap.TransactionsFetchedAt) {
		txs := append([]api.Transaction(nil), s.snap.Transactions...)
		s.mu.Unlock()
		return txs, nil
	}
	s.mu.Unlock()

	txs, err := s.backend.FetchTransactions(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.fail(ctx, "transactions", err)
		return append([]api.Transaction(nil), s.snap.Transactions...), fmt.Errorf("fetch transactions: %w", err)
	}
	s.snap.Transactions = append([]api.Transaction(nil), txs...)
	s.snap.TransactionsFetchedAt = s.now()
	s.succeed(ctx)
	return append([]api.Transaction(nil), txs...), nil
}

// FetchSummary returns balance and referral data, from cache when a referral
// code is cached and fresh. A failure resets balance and referral data.
func (s *Store) FetchSummary(ctx context.Context, force bool) (api.WalletSummary, error) {
	s.mu.Lock()
	if !force && s.snap.ReferralCode != "" && s.fresh(s.snap.SummaryFetchedAt) {
		summary := s.summaryLocked()
		s.mu.Unlock()
		return summary, nil
	}
	s.mu.Unlock()

	summary, err := s.backend.FetchWalletSummary(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// TODO: referral data is cleared together with the balance here even
		// when only the balance half of the summary is suspect; split once the
		// backend exposes referral stats separately.
		s.snap.Balance = 0
		s.snap.BalanceFetchedAt = time.Time{}
		s.snap.ReferralCode = ""
		s.snap.ReferralStats = api.ReferralStats{}
		s.snap.SummaryFetchedAt = time.Time{}
		s.fail(ctx, "summary", err)
		return api.WalletSummary{}, fmt.Errorf("fetch wallet summary: %w", err)
	}
	now := s.now()
	s.snap.Balance = summary.Balance
	s.snap.BalanceFetchedAt = now
	s.snap.ReferralCode = summary.ReferralCode
	s.snap.ReferralStats = summary.ReferralStats
	s.snap.SummaryFetchedAt = now
	s.succeed(ctx)
	return summary, nil
}

// FetchReferralCode returns the referral code, from cache when fresh. A
// failure keeps the cached code.
func (s *Store) FetchReferralCode(ctx context.Context, force bool) (string, error) {
	s.mu.Lock()
	if !force && s.snap.ReferralCode != "" && (s.fresh(s.snap.ReferralCodeFetchedAt) || s.fresh(s.snap.SummaryFetchedAt)) {
		code := s.snap.ReferralCode
		s.mu.Unlock()
		return code, nil
	}
	s.mu.Unlock()

	code, err := s.backend.FetchReferralCode(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.fail(ctx, "referral_code", err)
		return s.snap.ReferralCode, fmt.Errorf("fetch referral code: %w", err)
	}
	s.snap.ReferralCode = code
	s.snap.ReferralCodeFetchedAt = s.now()
	s.succeed(ctx)
	return code, nil
}

// ApplyReferral redeems code and refreshes the summary so the bonus shows up.
func (s *Store) ApplyReferral(ctx context.Context, code string) (api.ReferralResult, error) {
	res, err := s.backend.ApplyReferral(ctx, code)
	if err != nil {
		return api.ReferralResult{}, fmt.Errorf("apply referral: %w", err)
	}
	if _, err := s.FetchSummary(ctx, true); err != nil {
		s.logger.Warn("summary refresh after referral failed", zap.Error(err))
	}
	return res, nil
}

// RefreshWalletData forces balance, transactions and summary concurrently and
// returns the first error.
func (s *Store) RefreshWalletData(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		_, err := s.FetchBalance(ctx, true)
		return err
	})
	g.Go(func() error {
		_, err := s.FetchTransactions(ctx, true)
		return err
	})
	g.Go(func() error {
		_, err := s.FetchSummary(ctx, true)
		return err
	})
	return g.Wait()
}

// ClearCache resets every field and stamp in memory. Durable storage is left
// untouched; the next successful fetch overwrites it.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{}
}

// HardRefresh purges the durable entry, clears the cache and refetches
// everything. Used to recover from a corrupted persisted wallet.
func (s *Store) HardRefresh(ctx context.Context) error {
	if s.durable != nil {
		if err := s.durable.Delete(ctx, storage.KeyWallet); err != nil {
			return fmt.Errorf("purge wallet entry: %w", err)
		}
	}
	s.ClearCache()
	return s.RefreshWalletData(ctx)
}

func (s *Store) summaryLocked() api.WalletSummary {
	return api.WalletSummary{
		Balance:       s.snap.Balance,
		ReferralCode:  s.snap.ReferralCode,
		ReferralStats: s.snap.ReferralStats,
	}
}

// fail and succeed are called with s.mu held.
func (s *Store) fail(ctx context.Context, field string, err error) {
	s.snap.Error = err.Error()
	s.logger.Warn("wallet fetch failed", zap.String("field", field), zap.Error(err))
	s.persistLocked(ctx)
}

func (s *Store) succeed(ctx context.Context) {
	s.snap.Error = ""
	s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) {
	if s.durable == nil {
		return
	}
	raw, err := json.Marshal(s.snap)
	if err != nil {
		s.logger.Warn("wallet encode failed", zap.Error(err))
		return
	}
	if err := s.durable.Save(ctx, storage.KeyWallet, raw); err != nil {
		s.logger.Warn("wallet persist failed", zap.Error(err))
	}
}
