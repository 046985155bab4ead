package domain

import (
	"fmt"
	"time"
)

// SettlementState is the singleton configuration and counter record of one
// deployment.
type SettlementState struct {
	DeploymentID     string    `json:"deployment_id"`
	Authority        Identity  `json:"authority"`
	SourceAsset      AssetID   `json:"source_asset"`
	DestinationAsset AssetID   `json:"destination_asset"`
	Ratio            Ratio     `json:"ratio"`
	TotalExchanged   uint64    `json:"total_exchanged"` // Cumulative source volume settled
	Sequence         uint64    `json:"sequence"`        // Number of committed mutations
	InitializedAt    time.Time `json:"initialized_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Validate re-checks the invariants that hold for every committed state.
func (s *SettlementState) Validate() error {
	if s.Authority.IsZero() {
		return ErrInvalidIdentity
	}
	if s.SourceAsset == "" || s.DestinationAsset == "" || s.SourceAsset == s.DestinationAsset {
		return ErrInvalidAsset
	}
	if !s.Ratio.Valid() {
		return ErrInvalidRatio
	}
	return nil
}

// Snapshot is the persisted layout: one settlement record plus two pool
// records, keyed by State.DeploymentID.
type Snapshot struct {
	State       SettlementState `json:"state"`
	Source      CustodyPool     `json:"source"`
	Destination CustodyPool     `json:"destination"`
}

// Balances returns both held amounts.
func (s *Snapshot) Balances() PoolBalances {
	return PoolBalances{SourceHeld: s.Source.Held, DestinationHeld: s.Destination.Held}
}

// Pool returns a pointer to the selected pool so it can be mutated in place.
func (s *Snapshot) Pool(kind PoolKind) (*CustodyPool, error) {
	switch kind {
	case PoolSource:
		return &s.Source, nil
	case PoolDestination:
		return &s.Destination, nil
	default:
		return nil, ErrInvalidPool
	}
}

// VerifyInvariant panics if the snapshot is corrupted.
func (s *Snapshot) VerifyInvariant() {
	if err := s.State.Validate(); err != nil {
		panic(fmt.Sprintf("STATE_INVARIANT_VIOLATED: %v", err))
	}
	if s.Source.Kind != PoolSource || s.Destination.Kind != PoolDestination {
		panic(fmt.Sprintf("STATE_INVARIANT_POOL_KINDS: source=%s destination=%s",
			s.Source.Kind, s.Destination.Kind))
	}
	if s.Source.Asset != s.State.SourceAsset || s.Destination.Asset != s.State.DestinationAsset {
		panic("STATE_INVARIANT_POOL_ASSET_MISMATCH")
	}
	s.Source.VerifyInvariant(s.State.Sequence)
	s.Destination.VerifyInvariant(s.State.Sequence)
}

// ExchangeOutcome is the result of one committed exchange.
type ExchangeOutcome struct {
	Requester      Identity `json:"requester"`
	AmountIn       uint64   `json:"amount_in"`
	AmountOut      uint64   `json:"amount_out"`
	TotalExchanged uint64   `json:"total_exchanged"`
	Sequence       uint64   `json:"sequence"`
}
