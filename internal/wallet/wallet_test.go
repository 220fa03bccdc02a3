package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/storage"
)

type fakeBackend struct {
	mu           sync.Mutex
	balance      float64
	transactions []api.Transaction
	summary      api.WalletSummary
	code         string
	err          error

	balanceCalls atomic.Int32
	txCalls      atomic.Int32
	summaryCalls atomic.Int32
	codeCalls    atomic.Int32
	appliedCodes []string
}

func (f *fakeBackend) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeBackend) FetchBalance(context.Context) (float64, error) {
	f.balanceCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.err
}

func (f *fakeBackend) FetchTransactions(context.Context) ([]api.Transaction, error) {
	f.txCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.transactions, nil
}

func (f *fakeBackend) FetchWalletSummary(context.Context) (api.WalletSummary, error) {
	f.summaryCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return api.WalletSummary{}, f.err
	}
	return f.summary, nil
}

func (f *fakeBackend) FetchReferralCode(context.Context) (string, error) {
	f.codeCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.code, nil
}

func (f *fakeBackend) ApplyReferral(_ context.Context, code string) (api.ReferralResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return api.ReferralResult{}, f.err
	}
	f.appliedCodes = append(f.appliedCodes, code)
	f.summary.Balance += 50
	return api.ReferralResult{Success: true, Bonus: 50}, nil
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

func newFixture(t *testing.T, durable storage.Store) (*Store, *fakeBackend, *clock) {
	t.Helper()
	backend := &fakeBackend{
		balance:      120.5,
		transactions: []api.Transaction{{ID: "t1", Amount: 20}},
		summary: api.WalletSummary{
			Balance:       120.5,
			ReferralCode:  "FRIEND10",
			ReferralStats: api.ReferralStats{TotalReferrals: 3},
		},
		code: "FRIEND10",
	}
	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := New(context.Background(), backend, durable, WithClock(clk.Now), WithLogger(zaptest.NewLogger(t)))
	return s, backend, clk
}

func TestFetchBalance_CachedWithinWindow(t *testing.T) {
	s, backend, clk := newFixture(t, storage.NewMemory())
	ctx := context.Background()

	first, err := s.FetchBalance(ctx, false)
	require.NoError(t, err)
	clk.Advance(90 * time.Second)
	second, err := s.FetchBalance(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 120.5, first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, backend.balanceCalls.Load())
}

func TestFetchBalance_ForceBypassesCache(t *testing.T) {
	s, backend, _ := newFixture(t, nil)
	ctx := context.Background()

	_, err := s.FetchBalance(ctx, false)
	require.NoError(t, err)
	_, err = s.FetchBalance(ctx, true)
	require.NoError(t, err)

	assert.EqualValues(t, 2, backend.balanceCalls.Load())
}

func TestFetchBalance_RefetchesAfterExpiry(t *testing.T) {
	s, backend, clk := newFixture(t, nil)
	ctx := context.Background()

	_, err := s.FetchBalance(ctx, false)
	require.NoError(t, err)
	clk.Advance(CacheDuration)
	_, err = s.FetchBalance(ctx, false)
	require.NoError(t, err)

	assert.EqualValues(t, 2, backend.balanceCalls.Load())
}

func TestFetchBalance_ZeroIsNotCached(t *testing.T) {
	s, backend, _ := newFixture(t, nil)
	backend.balance = 0
	ctx := context.Background()

	_, err := s.FetchBalance(ctx, false)
	require.NoError(t, err)
	_, err = s.FetchBalance(ctx, false)
	require.NoError(t, err)

	assert.EqualValues(t, 2, backend.balanceCalls.Load())
}

func TestFetchBalance_FailureResetsToZero(t *testing.T) {
	s, backend, clk := newFixture(t, nil)
	ctx := context.Background()

	_, err := s.FetchBalance(ctx, false)
	require.NoError(t, err)
	_, err = s.FetchTransactions(ctx, false)
	require.NoError(t, err)

	clk.Advance(3 * time.Minute)
	backend.setErr(errors.New("boom"))
	balance, err := s.FetchBalance(ctx, false)
	require.Error(t, err)

	snap := s.Snapshot()
	assert.Zero(t, balance)
	assert.Zero(t, snap.Balance)
	assert.Equal(t, "boom", snap.Error)
	assert.Len(t, snap.Transactions, 1, "unrelated fields must survive")
}

func TestFetchTransactions_FailureKeepsList(t *testing.T) {
	s, backend, _ := newFixture(t, nil)
	ctx := context.Background()

	_, err := s.FetchTransactions(ctx, false)
	require.NoError(t, err)
	backend.setErr(errors.New("offline"))
	txs, err := s.FetchTransactions(ctx, true)
	require.Error(t, err)

	assert.Len(t, txs, 1)
	assert.Len(t, s.Snapshot().Transactions, 1)

	backend.setErr(nil)
	_, err = s.FetchTransactions(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().Error)
}

func TestFetchSummary_FailureClearsReferralData(t *testing.T) {
	s, backend, _ := newFixture(t, nil)
	ctx := context.Background()

	summary, err := s.FetchSummary(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "FRIEND10", summary.ReferralCode)

	backend.setErr(errors.New("boom"))
	_, err = s.FetchSummary(ctx, true)
	require.Error(t, err)

	snap := s.Snapshot()
	assert.Zero(t, snap.Balance)
	assert.Empty(t, snap.ReferralCode)
	assert.Equal(t, api.ReferralStats{}, snap.ReferralStats)
}

func TestFetchSummary_CachedWhenReferralCodePresent(t *testing.T) {
	s, backend, _ := newFixture(t, nil)
	ctx := context.Background()

	_, err := s.FetchSummary(ctx, false)
	require.NoError(t, err)
	_, err = s.FetchSummary(ctx, false)
	require.NoError(t, err)
	code, err := s.FetchReferralCode(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, "FRIEND10", code)
	assert.EqualValues(t, 1, backend.summaryCalls.Load())
	assert.EqualValues(t, 0, backend.codeCalls.Load())
}

func TestFieldsExpireIndependently(t *testing.T) {
	s, backend, clk := newFixture(t, nil)
	ctx := context.Background()

	_, err := s.FetchTransactions(ctx, false)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = s.FetchBalance(ctx, false)
	require.NoError(t, err)
	clk.Advance(90 * time.Second)

	_, err = s.FetchTransactions(ctx, false)
	require.NoError(t, err)
	_, err = s.FetchBalance(ctx, false)
	require.NoError(t, err)

	assert.EqualValues(t, 2, backend.txCalls.Load(), "transactions went stale")
	assert.EqualValues(t, 1, backend.balanceCalls.Load(), "balance still fresh")
}

func TestRefreshWalletData_ForcesAll(t *testing.T) {
	s, backend, _ := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, s.RefreshWalletData(ctx))
	require.NoError(t, s.RefreshWalletData(ctx))

	assert.EqualValues(t, 2, backend.balanceCalls.Load())
	assert.EqualValues(t, 2, backend.txCalls.Load())
	assert.EqualValues(t, 2, backend.summaryCalls.Load())
}

func TestClearCache_KeepsDurableEntry(t *testing.T) {
	durable := storage.NewMemory()
	s, _, _ := newFixture(t, durable)
	ctx := context.Background()

	require.NoError(t, s.RefreshWalletData(ctx))
	s.ClearCache()

	assert.Equal(t, Snapshot{}, s.Snapshot())
	raw, err := durable.Load(ctx, storage.KeyWallet)
	require.NoError(t, err)
	var persisted Snapshot
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, 120.5, persisted.Balance)
}

func TestPersistence_ReloadServesFreshFields(t *testing.T) {
	durable := storage.NewMemory()
	s, backend, clk := newFixture(t, durable)
	ctx := context.Background()

	_, err := s.FetchBalance(ctx, false)
	require.NoError(t, err)

	reloaded := New(ctx, backend, durable, WithClock(clk.Now))
	balance, err := reloaded.FetchBalance(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 120.5, balance)
	assert.EqualValues(t, 1, backend.balanceCalls.Load())
}

func TestNew_CorruptEntryStartsEmpty(t *testing.T) {
	durable := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, durable.Save(ctx, storage.KeyWallet, []byte("{broken")))

	s, _, _ := newFixture(t, durable)
	assert.Equal(t, Snapshot{}, s.Snapshot())
}

func TestHardRefresh_PurgesAndRefetches(t *testing.T) {
	durable := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, durable.Save(ctx, storage.KeyWallet, []byte(`{"balance": 999}`)))

	s, backend, _ := newFixture(t, durable)
	require.Equal(t, 999.0, s.Snapshot().Balance)

	require.NoError(t, s.HardRefresh(ctx))

	snap := s.Snapshot()
	assert.Equal(t, 120.5, snap.Balance)
	assert.Equal(t, "FRIEND10", snap.ReferralCode)
	assert.EqualValues(t, 1, backend.balanceCalls.Load())
}

func TestApplyReferral_RefreshesSummary(t *testing.T) {
	s, backend, _ := newFixture(t, nil)
	ctx := context.Background()

	_, err := s.FetchSummary(ctx, false)
	require.NoError(t, err)
	res, err := s.ApplyReferral(ctx, "PAL")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"PAL"}, backend.appliedCodes)
	assert.Equal(t, 170.5, s.Snapshot().Balance)
	assert.EqualValues(t, 2, backend.summaryCalls.Load())
}
