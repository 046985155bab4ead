package event

import "token_swap/internal/domain"

// Type identifies a request event.
type Type string

const (
	TypeInitialize  Type = "INITIALIZE"
	TypeExchange    Type = "EXCHANGE"
	TypeUpdateRatio Type = "UPDATE_RATIO"
	TypeDeposit     Type = "DEPOSIT"
	TypeWithdraw    Type = "WITHDRAW"
)

// Event is a request flowing through the sequencer inbox.
type Event interface {
	GetSeq() uint64
	GetType() Type
}

// BaseEvent carries the ingress sequence and receive time (unix micros).
// The sequencer stamps both when it takes the event off the inbox.
type BaseEvent struct {
	Seq uint64
	Ts  int64
}

func (b *BaseEvent) GetSeq() uint64 { return b.Seq }

// Stamp sets the ingress sequence and timestamp.
func (b *BaseEvent) Stamp(seq uint64, ts int64) {
	b.Seq = seq
	b.Ts = ts
}

type InitializeEvent struct {
	BaseEvent
	Authority        domain.Identity
	SourceAsset      domain.AssetID
	DestinationAsset domain.AssetID
	Numerator        uint64
	Denominator      uint64
}

func (e *InitializeEvent) GetType() Type { return TypeInitialize }

type ExchangeEvent struct {
	BaseEvent
	Requester domain.Identity
	Amount    uint64
}

func (e *ExchangeEvent) GetType() Type { return TypeExchange }

type UpdateRatioEvent struct {
	BaseEvent
	Caller      domain.Identity
	Numerator   uint64
	Denominator uint64
}

func (e *UpdateRatioEvent) GetType() Type { return TypeUpdateRatio }

type DepositEvent struct {
	BaseEvent
	Funder domain.Identity
	Pool   domain.PoolKind
	Amount uint64
}

func (e *DepositEvent) GetType() Type { return TypeDeposit }

type WithdrawEvent struct {
	BaseEvent
	Caller domain.Identity
	Pool   domain.PoolKind
	Amount uint64
}

func (e *WithdrawEvent) GetType() Type { return TypeWithdraw }
