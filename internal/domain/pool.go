package domain

import (
	"fmt"
	"math"
)

// CustodyPool is an engine-held balance of one asset type.
// It is never owned by an individual requester.
type CustodyPool struct {
	Kind    PoolKind `json:"kind"`
	Asset   AssetID  `json:"asset"`
	Held    uint64   `json:"held"`
	LastSeq uint64   `json:"last_seq"` // Last committed sequence that modified this pool
}

// NewCustodyPool creates an empty pool for the given asset.
func NewCustodyPool(kind PoolKind, asset AssetID) CustodyPool {
	return CustodyPool{Kind: kind, Asset: asset}
}

// Credit adds funds to the pool.
func (p *CustodyPool) Credit(amount uint64, seq uint64) error {
	if amount > math.MaxUint64-p.Held {
		return ErrOverflow
	}
	p.Held += amount
	p.LastSeq = seq
	return nil
}

// Debit removes funds from the pool.
func (p *CustodyPool) Debit(amount uint64, seq uint64) error {
	if amount > p.Held {
		return ErrInsufficientReserve
	}
	p.Held -= amount
	p.LastSeq = seq
	return nil
}

// VerifyInvariant checks that the pool is internally consistent.
// Call this after any state change; a violation means a bug, so it panics.
func (p *CustodyPool) VerifyInvariant(stateSeq uint64) {
	if p.Kind != PoolSource && p.Kind != PoolDestination {
		panic(fmt.Sprintf("POOL_INVARIANT_UNKNOWN_KIND: %d", p.Kind))
	}
	if p.Asset == "" {
		panic(fmt.Sprintf("POOL_INVARIANT_MISSING_ASSET: %s", p.Kind))
	}
	// A pool cannot have been touched by a mutation the state has not seen.
	if p.LastSeq > stateSeq {
		panic(fmt.Sprintf("POOL_INVARIANT_SEQ_AHEAD: %s last_seq=%d, state_seq=%d",
			p.Kind, p.LastSeq, stateSeq))
	}
}

// PoolBalances is the read-only view of both pools.
type PoolBalances struct {
	SourceHeld      uint64 `json:"source_held"`
	DestinationHeld uint64 `json:"destination_held"`
}
