package storage

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"token_swap/internal/domain"
	"token_swap/internal/engine"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "data", "swap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot(seq uint64) domain.Snapshot {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Snapshot{
		State: domain.SettlementState{
			DeploymentID:     "swap_state",
			Authority:        "authority",
			SourceAsset:      "OLD",
			DestinationAsset: "NEW",
			Ratio:            domain.Ratio{Numerator: 3, Denominator: 2},
			TotalExchanged:   40,
			Sequence:         seq,
			InitializedAt:    now,
			UpdatedAt:        now,
		},
		Source:      domain.CustodyPool{Kind: domain.PoolSource, Asset: "OLD", Held: 40, LastSeq: seq},
		Destination: domain.CustodyPool{Kind: domain.PoolDestination, Asset: "NEW", Held: 940, LastSeq: seq},
	}
}

func testEntry(seq uint64, kind domain.EntryKind) domain.JournalEntry {
	return domain.JournalEntry{
		ID:              uuid.NewString(),
		DeploymentID:    "swap_state",
		Seq:             seq,
		Kind:            kind,
		Actor:           "alice",
		AmountIn:        40,
		AmountOut:       60,
		Ratio:           domain.Ratio{Numerator: 3, Denominator: 2},
		TotalExchanged:  40,
		SourceHeld:      40,
		DestinationHeld: 940,
		At:              time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLoadSnapshot_NotFound(t *testing.T) {
	s := setupTestDB(t)

	snap, err := s.LoadSnapshot(context.Background(), "swap_state")
	require.NoError(t, err)
	assert.Nil(t, snap, "missing deployment is not an error")
}

func TestCommitAndLoadSnapshot(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	want := testSnapshot(3)

	require.NoError(t, s.Commit(ctx, want, testEntry(3, domain.EntryExchange)))

	got, err := s.LoadSnapshot(ctx, "swap_state")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.State.Authority, got.State.Authority)
	assert.Equal(t, want.State.Ratio, got.State.Ratio)
	assert.Equal(t, want.State.TotalExchanged, got.State.TotalExchanged)
	assert.Equal(t, want.State.Sequence, got.State.Sequence)
	assert.Equal(t, want.Source, got.Source)
	assert.Equal(t, want.Destination, got.Destination)
	assert.True(t, want.State.UpdatedAt.Equal(got.State.UpdatedAt))

	// A second commit overwrites the snapshot rows
	next := testSnapshot(4)
	next.Destination.Held = 900
	require.NoError(t, s.Commit(ctx, next, testEntry(4, domain.EntryWithdraw)))

	got, err = s.LoadSnapshot(ctx, "swap_state")
	require.NoError(t, err)
	assert.Equal(t, uint64(900), got.Destination.Held)
	assert.Equal(t, uint64(4), got.State.Sequence)
}

func TestCommit_DuplicateSeqRollsBack(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, testSnapshot(1), testEntry(1, domain.EntryInitialize)))

	// Same journal seq violates idx_journal_seq; the snapshot write must roll back too
	bad := testSnapshot(1)
	bad.Destination.Held = 1
	require.Error(t, s.Commit(ctx, bad, testEntry(1, domain.EntryDeposit)))

	got, err := s.LoadSnapshot(ctx, "swap_state")
	require.NoError(t, err)
	assert.Equal(t, uint64(940), got.Destination.Held)
}

func TestJournal_Paging(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 5; seq++ {
		entry := testEntry(seq, domain.EntryDeposit)
		entry.Pool = domain.PoolDestination
		require.NoError(t, s.Commit(ctx, testSnapshot(seq), entry))
	}

	page, err := s.Journal(ctx, "swap_state", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(1), page[0].Seq)
	assert.Equal(t, domain.PoolDestination, page[0].Pool)

	rest, err := s.Journal(ctx, "swap_state", page[1].Seq, 0)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{rest[0].Seq, rest[1].Seq, rest[2].Seq})

	other, err := s.Journal(ctx, "other", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStorage_EngineRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	quiet := engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	e := engine.New("swap_state", s, quiet)
	_, err := e.Initialize(ctx, "authority", "OLD", "NEW", 2, 1)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, "authority", domain.PoolDestination, 10_000)
	require.NoError(t, err)
	_, err = e.Exchange(ctx, "alice", 1_500)
	require.NoError(t, err)
	_, err = e.UpdateRatio(ctx, "authority", 1, 1)
	require.NoError(t, err)
	_, err = e.Exchange(ctx, "bob", 100)
	require.NoError(t, err)

	// A fresh process restores the same ledger
	restored := engine.New("swap_state", s, quiet)
	require.NoError(t, restored.Load(ctx))

	st, ok := restored.GetState()
	require.True(t, ok)
	assert.Equal(t, uint64(1_600), st.TotalExchanged)
	assert.Equal(t, domain.PoolBalances{SourceHeld: 1_600, DestinationHeld: 6_900}, restored.GetPoolBalances())

	rebuilt, err := restored.Verify(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rebuilt.State.Sequence)
}

// Balances and ratio terms above math.MaxInt64 must persist exactly.
func TestStorage_FullUint64Range(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	quiet := engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	e := engine.New("swap_state", s, quiet)
	_, err := e.Initialize(ctx, "ops", "OLD", "NEW", 1, 1)
	require.NoError(t, err)
	_, err = e.UpdateRatio(ctx, "ops", 1<<63, 1<<62)
	require.NoError(t, err, "ratio terms above MaxInt64 are valid")
	_, err = e.Deposit(ctx, "ops", domain.PoolDestination, math.MaxUint64)
	require.NoError(t, err, "deposit above MaxInt64 is valid")

	out, err := e.Exchange(ctx, "alice", 1<<62)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<63), out.AmountOut)

	restored := engine.New("swap_state", s, quiet)
	require.NoError(t, restored.Load(ctx))
	st, _ := restored.GetState()
	assert.Equal(t, domain.Ratio{Numerator: 1 << 63, Denominator: 1 << 62}, st.Ratio)
	assert.Equal(t, uint64(1<<62), st.TotalExchanged)
	assert.Equal(t, domain.PoolBalances{
		SourceHeld:      1 << 62,
		DestinationHeld: math.MaxUint64 - 1<<63,
	}, restored.GetPoolBalances())

	entries, err := s.Journal(ctx, "swap_state", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, uint64(math.MaxUint64), entries[2].AmountIn)
	assert.Equal(t, uint64(1<<63), entries[3].AmountOut)

	_, err = restored.Verify(ctx, s)
	require.NoError(t, err)
}

func TestAmount_Scan(t *testing.T) {
	var a amount
	require.NoError(t, a.Scan("18446744073709551615"))
	assert.Equal(t, amount(math.MaxUint64), a)
	require.NoError(t, a.Scan([]byte("42")))
	assert.Equal(t, amount(42), a)
	require.NoError(t, a.Scan(int64(7)))
	assert.Equal(t, amount(7), a)

	assert.Error(t, a.Scan(int64(-1)))
	assert.Error(t, a.Scan("not a number"))
	assert.Error(t, a.Scan(3.5))

	v, err := amount(math.MaxUint64).Value()
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615", v)
}
