package engine

import (
	"context"
	"fmt"

	"token_swap/internal/domain"
)

// JournalReader reads committed journal entries in sequence order.
type JournalReader interface {
	Journal(ctx context.Context, deploymentID string, afterSeq uint64, limit int) ([]domain.JournalEntry, error)
}

// Rebuild replays a journal from sequence 1 and returns the snapshot it
// implies. Entries must be contiguous, and the post-state recorded in each
// entry must match what the replay computes.
func Rebuild(deploymentID string, entries []domain.JournalEntry) (domain.Snapshot, error) {
	var snap domain.Snapshot
	nextSeq := uint64(1)

	for _, entry := range entries {
		// Replay must still respect sequence order
		if entry.Seq != nextSeq {
			return domain.Snapshot{}, fmt.Errorf("REPLAY_GAP_DETECTED: expected %d, got %d", nextSeq, entry.Seq)
		}
		if entry.DeploymentID != deploymentID {
			return domain.Snapshot{}, fmt.Errorf("replay seq %d: deployment %q, want %q", entry.Seq, entry.DeploymentID, deploymentID)
		}
		if err := applyEntry(&snap, entry); err != nil {
			return domain.Snapshot{}, fmt.Errorf("replay seq %d (%s): %w", entry.Seq, entry.Kind, err)
		}
		if err := checkPostState(&snap, entry); err != nil {
			return domain.Snapshot{}, fmt.Errorf("replay seq %d (%s): %w", entry.Seq, entry.Kind, err)
		}
		nextSeq++
	}
	return snap, nil
}

func applyEntry(snap *domain.Snapshot, entry domain.JournalEntry) error {
	if entry.Kind != domain.EntryInitialize && snap.State.Sequence == 0 {
		return domain.ErrNotInitialized
	}

	switch entry.Kind {
	case domain.EntryInitialize:
		if snap.State.Sequence != 0 {
			return domain.ErrAlreadyInitialized
		}
		*snap = domain.Snapshot{
			State: domain.SettlementState{
				DeploymentID:     entry.DeploymentID,
				Authority:        entry.Actor,
				SourceAsset:      entry.SourceAsset,
				DestinationAsset: entry.DestinationAsset,
				Ratio:            entry.Ratio,
				InitializedAt:    entry.At,
			},
			Source:      domain.NewCustodyPool(domain.PoolSource, entry.SourceAsset),
			Destination: domain.NewCustodyPool(domain.PoolDestination, entry.DestinationAsset),
		}
	case domain.EntryExchange:
		out, err := snap.State.Ratio.Apply(entry.AmountIn)
		if err != nil {
			return err
		}
		if out != entry.AmountOut {
			return fmt.Errorf("amount_out %d, ratio %s implies %d", entry.AmountOut, snap.State.Ratio, out)
		}
		if err := snap.Source.Credit(entry.AmountIn, entry.Seq); err != nil {
			return err
		}
		if err := snap.Destination.Debit(out, entry.Seq); err != nil {
			return err
		}
		snap.State.TotalExchanged += entry.AmountIn
	case domain.EntryUpdateRatio:
		if entry.Actor != snap.State.Authority {
			return domain.ErrUnauthorized
		}
		if !entry.Ratio.Valid() {
			return domain.ErrInvalidRatio
		}
		snap.State.Ratio = entry.Ratio
	case domain.EntryDeposit:
		pool, err := snap.Pool(entry.Pool)
		if err != nil {
			return err
		}
		if err := pool.Credit(entry.AmountIn, entry.Seq); err != nil {
			return err
		}
	case domain.EntryWithdraw:
		if entry.Actor != snap.State.Authority {
			return domain.ErrUnauthorized
		}
		pool, err := snap.Pool(entry.Pool)
		if err != nil {
			return err
		}
		if err := pool.Debit(entry.AmountOut, entry.Seq); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown journal kind %q", entry.Kind)
	}

	snap.State.Sequence = entry.Seq
	snap.State.UpdatedAt = entry.At
	return nil
}

func checkPostState(snap *domain.Snapshot, entry domain.JournalEntry) error {
	switch {
	case snap.State.Ratio != entry.Ratio:
		return fmt.Errorf("ratio %s, journal says %s", snap.State.Ratio, entry.Ratio)
	case snap.State.TotalExchanged != entry.TotalExchanged:
		return fmt.Errorf("total_exchanged %d, journal says %d", snap.State.TotalExchanged, entry.TotalExchanged)
	case snap.Source.Held != entry.SourceHeld:
		return fmt.Errorf("source_held %d, journal says %d", snap.Source.Held, entry.SourceHeld)
	case snap.Destination.Held != entry.DestinationHeld:
		return fmt.Errorf("destination_held %d, journal says %d", snap.Destination.Held, entry.DestinationHeld)
	}
	return nil
}

// journalPageSize bounds one Journal read during Verify.
const journalPageSize = 500

// Verify replays the persisted journal and compares the result with the live
// snapshot. It returns the rebuilt snapshot on success.
func (e *Engine) Verify(ctx context.Context, journal JournalReader) (domain.Snapshot, error) {
	var entries []domain.JournalEntry
	after := uint64(0)
	for {
		page, err := journal.Journal(ctx, e.deploymentID, after, journalPageSize)
		if err != nil {
			return domain.Snapshot{}, &domain.StorageError{Op: "journal", Err: err}
		}
		entries = append(entries, page...)
		if len(page) < journalPageSize {
			break
		}
		after = page[len(page)-1].Seq
	}

	rebuilt, err := Rebuild(e.deploymentID, entries)
	if err != nil {
		return domain.Snapshot{}, err
	}

	live, ok := e.Snapshot()
	if !ok {
		if len(entries) == 0 {
			return rebuilt, nil
		}
		return domain.Snapshot{}, fmt.Errorf("journal has %d entries but engine is not initialized", len(entries))
	}
	if err := sameLedger(live, rebuilt); err != nil {
		return domain.Snapshot{}, err
	}
	return rebuilt, nil
}

// sameLedger compares the fields that carry value; timestamps may differ in
// precision after a storage round trip.
func sameLedger(live, rebuilt domain.Snapshot) error {
	switch {
	case live.State.Sequence != rebuilt.State.Sequence:
		return fmt.Errorf("sequence %d, journal replays to %d", live.State.Sequence, rebuilt.State.Sequence)
	case live.State.Authority != rebuilt.State.Authority:
		return fmt.Errorf("authority mismatch")
	case live.State.Ratio != rebuilt.State.Ratio:
		return fmt.Errorf("ratio %s, journal replays to %s", live.State.Ratio, rebuilt.State.Ratio)
	case live.State.TotalExchanged != rebuilt.State.TotalExchanged:
		return fmt.Errorf("total_exchanged %d, journal replays to %d", live.State.TotalExchanged, rebuilt.State.TotalExchanged)
	case live.Balances() != rebuilt.Balances():
		return fmt.Errorf("balances %+v, journal replays to %+v", live.Balances(), rebuilt.Balances())
	}
	return nil
}
