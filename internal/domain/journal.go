package domain

import "time"

// EntryKind classifies a committed mutation.
type EntryKind string

const (
	EntryInitialize  EntryKind = "initialize"
	EntryExchange    EntryKind = "exchange"
	EntryUpdateRatio EntryKind = "update_ratio"
	EntryDeposit     EntryKind = "deposit"
	EntryWithdraw    EntryKind = "withdraw"
)

// JournalEntry is the append-only record of one committed mutation. Post-state
// fields let an auditor replay the journal and cross-check every step.
type JournalEntry struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Seq          uint64    `json:"seq"`
	Kind         EntryKind `json:"kind"`
	Actor        Identity  `json:"actor"`
	Pool         PoolKind  `json:"pool,omitempty"` // deposit/withdraw only
	AmountIn     uint64    `json:"amount_in"`
	AmountOut    uint64    `json:"amount_out"`

	// Initialize only
	SourceAsset      AssetID `json:"source_asset,omitempty"`
	DestinationAsset AssetID `json:"destination_asset,omitempty"`

	// State after the mutation
	Ratio           Ratio  `json:"ratio"`
	TotalExchanged  uint64 `json:"total_exchanged"`
	SourceHeld      uint64 `json:"source_held"`
	DestinationHeld uint64 `json:"destination_held"`

	At time.Time `json:"at"`
}
