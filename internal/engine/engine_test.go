package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"token_swap/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	authority = domain.Identity("authority")
	alice     = domain.Identity("alice")
	mallory   = domain.Identity("mallory")
)

// memStore is an in-memory Store that can be told to fail commits.
type memStore struct {
	mu      sync.Mutex
	snap    *domain.Snapshot
	journal []domain.JournalEntry
	failErr error
}

func (m *memStore) LoadSnapshot(_ context.Context, _ string) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, nil
	}
	cp := *m.snap
	return &cp, nil
}

func (m *memStore) Commit(_ context.Context, snap domain.Snapshot, entry domain.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.snap = &snap
	m.journal = append(m.journal, entry)
	return nil
}

func (m *memStore) Journal(_ context.Context, _ string, afterSeq uint64, limit int) ([]domain.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range m.journal {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() func() time.Time {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return ts }
}

func newTestEngine(t *testing.T, store Store, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithClock(fixedClock())}, opts...)
	return New("swap_state", store, opts...)
}

// newFundedEngine initializes a 1:1 engine and funds the destination reserve.
func newFundedEngine(t *testing.T, store Store, reserve uint64) *Engine {
	t.Helper()
	e := newTestEngine(t, store)
	ctx := context.Background()
	_, err := e.Initialize(ctx, authority, "OLD", "NEW", 1, 1)
	require.NoError(t, err)
	if reserve > 0 {
		_, err = e.Deposit(ctx, authority, domain.PoolDestination, reserve)
		require.NoError(t, err)
	}
	return e
}

func TestEngine_Initialize(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	st, err := e.Initialize(ctx, authority, "OLD", "NEW", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, authority, st.Authority)
	assert.Equal(t, domain.Ratio{Numerator: 3, Denominator: 2}, st.Ratio)
	assert.Equal(t, uint64(0), st.TotalExchanged)
	assert.Greater(t, st.Ratio.Denominator, uint64(0))
	assert.Equal(t, domain.PoolBalances{}, e.GetPoolBalances(), "pools start empty")

	_, err = e.Initialize(ctx, mallory, "A", "B", 1, 1)
	require.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	got, ok := e.GetState()
	require.True(t, ok)
	assert.Equal(t, authority, got.Authority, "authority is immutable after initialization")
}

func TestEngine_InitializeInvalidRatio(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Initialize(context.Background(), authority, "OLD", "NEW", 1, 0)
	require.ErrorIs(t, err, domain.ErrInvalidRatio)

	_, ok := e.GetState()
	assert.False(t, ok, "failed initialize must not create state")
}

func TestEngine_NotInitialized(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	_, err := e.Exchange(ctx, alice, 10)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = e.UpdateRatio(ctx, authority, 2, 1)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = e.Deposit(ctx, authority, domain.PoolDestination, 10)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = e.Withdraw(ctx, authority, domain.PoolDestination, 10)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestEngine_FullReserveScenario(t *testing.T) {
	ctx := context.Background()
	e := newFundedEngine(t, nil, 1_000_000)

	out, err := e.Exchange(ctx, alice, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), out.AmountIn)
	assert.Equal(t, uint64(1_000_000), out.AmountOut)
	assert.Equal(t, uint64(1_000_000), out.TotalExchanged)

	bal := e.GetPoolBalances()
	assert.Equal(t, uint64(0), bal.DestinationHeld)
	assert.Equal(t, uint64(1_000_000), bal.SourceHeld)

	_, err = e.Exchange(ctx, alice, 1)
	require.ErrorIs(t, err, domain.ErrInsufficientReserve)
}

func TestEngine_UpdateRatioScenario(t *testing.T) {
	ctx := context.Background()
	e := newFundedEngine(t, nil, 5_000)

	st, err := e.UpdateRatio(ctx, authority, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.Ratio{Numerator: 2, Denominator: 1}, st.Ratio)
	assert.Equal(t, uint64(0), st.TotalExchanged, "ratio update does not touch totals")
	assert.Equal(t, uint64(5_000), e.GetPoolBalances().DestinationHeld, "ratio update does not touch pools")

	out, err := e.Exchange(ctx, alice, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), out.AmountOut)
}

func TestEngine_UpdateRatioUnauthorized(t *testing.T) {
	ctx := context.Background()
	e := newFundedEngine(t, nil, 100)
	before, _ := e.GetState()

	_, err := e.UpdateRatio(ctx, mallory, 9, 1)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	after, _ := e.GetState()
	assert.Equal(t, before, after, "rejected update leaves state unchanged")
}

func TestEngine_UpdateRatioInvalid(t *testing.T) {
	e := newFundedEngine(t, nil, 100)
	_, err := e.UpdateRatio(context.Background(), authority, 0, 1)
	require.ErrorIs(t, err, domain.ErrInvalidRatio)
}

func TestEngine_ExchangeRejections(t *testing.T) {
	ctx := context.Background()
	e := newFundedEngine(t, nil, 100)
	_, err := e.UpdateRatio(ctx, authority, 1, 3)
	require.NoError(t, err)
	before, _ := e.Snapshot()

	_, err = e.Exchange(ctx, alice, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = e.Exchange(ctx, alice, 2)
	assert.ErrorIs(t, err, domain.ErrZeroOutput, "2 * 1/3 floors to zero")

	_, err = e.Exchange(ctx, alice, 303)
	assert.ErrorIs(t, err, domain.ErrInsufficientReserve, "303 * 1/3 = 101 > 100")

	after, _ := e.Snapshot()
	assert.Equal(t, before, after, "rejections leave the snapshot unchanged")

	out, err := e.Exchange(ctx, alice, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), out.AmountOut, "residual fraction is forfeited by the requester")
}

func TestEngine_TotalExchangedIsSumOfCommitted(t *testing.T) {
	ctx := context.Background()
	e := newFundedEngine(t, nil, 1_000)

	var sum, last uint64
	for _, amount := range []uint64{1, 7, 0, 300, 2_000, 42} {
		out, err := e.Exchange(ctx, alice, amount)
		if err != nil {
			continue
		}
		sum += amount
		assert.GreaterOrEqual(t, out.TotalExchanged, last)
		last = out.TotalExchanged
	}

	st, _ := e.GetState()
	assert.Equal(t, sum, st.TotalExchanged)
	assert.Equal(t, uint64(350), sum)
}

func TestEngine_DepositAndWithdraw(t *testing.T) {
	ctx := context.Background()
	e := newFundedEngine(t, nil, 100)

	bal, err := e.Deposit(ctx, alice, domain.PoolDestination, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), bal.DestinationHeld)

	_, err = e.Exchange(ctx, alice, 40)
	require.NoError(t, err)

	_, err = e.Withdraw(ctx, mallory, domain.PoolSource, 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.Withdraw(ctx, authority, domain.PoolSource, 41)
	assert.ErrorIs(t, err, domain.ErrInsufficientReserve)

	bal, err = e.Withdraw(ctx, authority, domain.PoolSource, 40)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolBalances{SourceHeld: 0, DestinationHeld: 110}, bal)

	_, err = e.Deposit(ctx, alice, domain.PoolKind(9), 1)
	assert.ErrorIs(t, err, domain.ErrInvalidPool)
	_, err = e.Deposit(ctx, "", domain.PoolSource, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
}

func TestEngine_StorageFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	e := newFundedEngine(t, store, 1_000)
	before, _ := e.Snapshot()

	store.failErr = errors.New("disk full")
	_, err := e.Exchange(ctx, alice, 10)
	require.Error(t, err)
	assert.True(t, domain.IsRetriable(err), "storage failures are retriable")

	after, _ := e.Snapshot()
	assert.Equal(t, before, after)
	assert.Len(t, store.journal, 2, "nothing appended on failure")

	store.failErr = nil
	out, err := e.Exchange(ctx, alice, 10)
	require.NoError(t, err)
	assert.Equal(t, before.State.Sequence+1, out.Sequence, "failed attempt does not consume a sequence")
}

func TestEngine_LoadRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	e := newFundedEngine(t, store, 1_000)
	_, err := e.Exchange(ctx, alice, 250)
	require.NoError(t, err)
	want, _ := e.Snapshot()

	restored := newTestEngine(t, store)
	require.NoError(t, restored.Load(ctx))
	got, ok := restored.Snapshot()
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, err = restored.Initialize(ctx, authority, "OLD", "NEW", 1, 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
}

func TestEngine_JournalHookAndSequence(t *testing.T) {
	ctx := context.Background()
	var kinds []domain.EntryKind
	e := newTestEngine(t, nil, WithJournalHook(func(entry domain.JournalEntry) {
		kinds = append(kinds, entry.Kind)
	}))

	_, err := e.Initialize(ctx, authority, "OLD", "NEW", 1, 1)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, authority, domain.PoolDestination, 10)
	require.NoError(t, err)
	_, err = e.Exchange(ctx, alice, 0) // rejected, no entry
	require.Error(t, err)
	out, err := e.Exchange(ctx, alice, 5)
	require.NoError(t, err)

	assert.Equal(t, []domain.EntryKind{domain.EntryInitialize, domain.EntryDeposit, domain.EntryExchange}, kinds)
	assert.Equal(t, uint64(3), out.Sequence)
}

// Racing exchanges must be totally ordered: the sum of committed output never
// exceeds the reserve, and the pools account for every committed unit.
func TestEngine_ConcurrentExchangesRespectReserve(t *testing.T) {
	ctx := context.Background()
	const (
		reserve = 10_000
		workers = 32
		perG    = 100
		amount  = 7
	)
	e := newFundedEngine(t, nil, reserve)

	var (
		mu        sync.Mutex
		committed uint64
		released  uint64
		wg        sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				out, err := e.Exchange(ctx, alice, amount)
				if err != nil {
					if !errors.Is(err, domain.ErrInsufficientReserve) {
						t.Errorf("unexpected error: %v", err)
					}
					continue
				}
				mu.Lock()
				committed += out.AmountIn
				released += out.AmountOut
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	bal := e.GetPoolBalances()
	st, _ := e.GetState()
	assert.LessOrEqual(t, released, uint64(reserve))
	assert.Equal(t, uint64(reserve)-released, bal.DestinationHeld)
	assert.Equal(t, committed, bal.SourceHeld)
	assert.Equal(t, committed, st.TotalExchanged)
	assert.Equal(t, uint64(reserve/amount*amount), released, "reserve drained down to the last whole request")
}

// Ratio updates racing with exchanges: every committed exchange must match
// one of the ratios that was live at some point.
func TestEngine_ConcurrentRatioUpdates(t *testing.T) {
	ctx := context.Background()
	e := newFundedEngine(t, nil, 1_000_000)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			num := uint64(i%2 + 1) // alternates 1:1 and 2:1
			if _, err := e.UpdateRatio(ctx, authority, num, 1); err != nil {
				t.Errorf("UpdateRatio: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			out, err := e.Exchange(ctx, alice, 100)
			if err != nil {
				t.Errorf("Exchange: %v", err)
				continue
			}
			if out.AmountOut != 100 && out.AmountOut != 200 {
				t.Errorf("torn ratio: amount_out %d", out.AmountOut)
			}
		}
	}()
	wg.Wait()
}
