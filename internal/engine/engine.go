package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"token_swap/internal/domain"

	"github.com/google/uuid"
)

// Store persists committed snapshots. Commit must write the snapshot and the
// journal entry in one transaction: either both land or neither does.
type Store interface {
	LoadSnapshot(ctx context.Context, deploymentID string) (*domain.Snapshot, error)
	Commit(ctx context.Context, snap domain.Snapshot, entry domain.JournalEntry) error
}

// Recorder receives operational metrics. infra.Metrics implements it.
type Recorder interface {
	ObserveRequest(op, outcome string, elapsed time.Duration)
	ObserveExchange(amountIn, amountOut uint64)
	SetPoolBalances(balances domain.PoolBalances)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for commit and rejection logs.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder wires a metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(e *Engine) { e.recorder = rec }
}

// WithClock overrides the time source (primarily for deterministic testing).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithJournalHook registers a callback invoked after every commit.
// The hook runs under the engine lock and must not call back into the engine.
func WithJournalHook(hook func(domain.JournalEntry)) Option {
	return func(e *Engine) { e.onCommit = hook }
}

// Engine guards one SettlementState and its two custody pools. Every mutation
// runs inside a single critical section: validate, build the next snapshot on
// a copy, persist, then publish. Readers never see an intermediate state.
type Engine struct {
	mu           sync.RWMutex
	deploymentID string
	current      *domain.Snapshot // nil until initialized
	store        Store

	logger   *slog.Logger
	recorder Recorder
	clock    func() time.Time
	onCommit func(domain.JournalEntry)
}

// New creates an engine for one deployment. store may be nil for a purely
// in-memory engine.
func New(deploymentID string, store Store, opts ...Option) *Engine {
	e := &Engine{
		deploymentID: deploymentID,
		store:        store,
		logger:       slog.Default(),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DeploymentID returns the key this engine persists under.
func (e *Engine) DeploymentID() string {
	return e.deploymentID
}

// Load restores the last committed snapshot from the store. It is a no-op
// when nothing has been persisted yet.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snap, err := e.store.LoadSnapshot(ctx, e.deploymentID)
	if err != nil {
		return &domain.StorageError{Op: "load", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if snap != nil {
		snap.VerifyInvariant()
		e.current = snap
		e.logger.Info("Settlement state restored",
			slog.String("deployment", e.deploymentID),
			slog.Uint64("sequence", snap.State.Sequence),
			slog.String("ratio", snap.State.Ratio.String()))
		if e.recorder != nil {
			e.recorder.SetPoolBalances(snap.Balances())
		}
	}
	return nil
}

// Initialize creates the singleton state with two empty pools.
func (e *Engine) Initialize(ctx context.Context, authority domain.Identity, source, destination domain.AssetID, numerator, denominator uint64) (domain.SettlementState, error) {
	const op = "initialize"
	started := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	var current *domain.SettlementState
	if e.current != nil {
		current = &e.current.State
	}
	if err := ValidateInitialize(current, authority, source, destination, numerator, denominator); err != nil {
		return domain.SettlementState{}, e.reject(op, started, err)
	}

	now := e.clock()
	next := domain.Snapshot{
		State: domain.SettlementState{
			DeploymentID:     e.deploymentID,
			Authority:        authority,
			SourceAsset:      source,
			DestinationAsset: destination,
			Ratio:            domain.Ratio{Numerator: numerator, Denominator: denominator},
			Sequence:         1,
			InitializedAt:    now,
			UpdatedAt:        now,
		},
		Source:      domain.NewCustodyPool(domain.PoolSource, source),
		Destination: domain.NewCustodyPool(domain.PoolDestination, destination),
	}
	entry := e.entry(&next, domain.EntryInitialize, authority, now)
	entry.SourceAsset = source
	entry.DestinationAsset = destination

	if err := e.commit(ctx, op, started, next, entry); err != nil {
		return domain.SettlementState{}, err
	}
	return next.State, nil
}

// Exchange settles amount units of the source asset into the source pool and
// releases floor(amount * num / den) destination units from the reserve.
func (e *Engine) Exchange(ctx context.Context, requester domain.Identity, amount uint64) (domain.ExchangeOutcome, error) {
	const op = "exchange"
	started := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	var current *domain.SettlementState
	if e.current != nil {
		current = &e.current.State
	}
	if err := ValidateExchange(current, requester, amount); err != nil {
		return domain.ExchangeOutcome{}, e.reject(op, started, err)
	}
	out, err := QuoteExchange(current, e.current.Balances(), amount)
	if err != nil {
		return domain.ExchangeOutcome{}, e.reject(op, started, err)
	}

	next := *e.current
	next.State.Sequence++
	seq := next.State.Sequence
	if err := next.Source.Credit(amount, seq); err != nil {
		return domain.ExchangeOutcome{}, e.reject(op, started, err)
	}
	if err := next.Destination.Debit(out, seq); err != nil {
		return domain.ExchangeOutcome{}, e.reject(op, started, err)
	}
	next.State.TotalExchanged += amount

	now := e.clock()
	next.State.UpdatedAt = now
	entry := e.entry(&next, domain.EntryExchange, requester, now)
	entry.AmountIn = amount
	entry.AmountOut = out

	if err := e.commit(ctx, op, started, next, entry); err != nil {
		return domain.ExchangeOutcome{}, err
	}
	if e.recorder != nil {
		e.recorder.ObserveExchange(amount, out)
	}
	return domain.ExchangeOutcome{
		Requester:      requester,
		AmountIn:       amount,
		AmountOut:      out,
		TotalExchanged: next.State.TotalExchanged,
		Sequence:       seq,
	}, nil
}

// UpdateRatio replaces the ratio. Pools and TotalExchanged are untouched.
// Whether the reserve still covers future exchanges is left to the authority.
func (e *Engine) UpdateRatio(ctx context.Context, caller domain.Identity, numerator, denominator uint64) (domain.SettlementState, error) {
	const op = "update_ratio"
	started := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.authorize(caller); err != nil {
		return domain.SettlementState{}, e.reject(op, started, err)
	}
	if err := ValidateRatio(numerator, denominator); err != nil {
		return domain.SettlementState{}, e.reject(op, started, err)
	}

	next := *e.current
	next.State.Sequence++
	next.State.Ratio = domain.Ratio{Numerator: numerator, Denominator: denominator}
	now := e.clock()
	next.State.UpdatedAt = now
	entry := e.entry(&next, domain.EntryUpdateRatio, caller, now)

	if err := e.commit(ctx, op, started, next, entry); err != nil {
		return domain.SettlementState{}, err
	}
	return next.State, nil
}

// Deposit records that amount units reached the selected pool. How the funds
// arrive is the caller's concern; any identified funder may top up a pool.
func (e *Engine) Deposit(ctx context.Context, funder domain.Identity, kind domain.PoolKind, amount uint64) (domain.PoolBalances, error) {
	const op = "deposit"
	started := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ValidateAmount(amount); err != nil {
		return domain.PoolBalances{}, e.reject(op, started, err)
	}
	if e.current == nil {
		return domain.PoolBalances{}, e.reject(op, started, domain.ErrNotInitialized)
	}
	if err := ValidateIdentity(funder); err != nil {
		return domain.PoolBalances{}, e.reject(op, started, err)
	}

	next := *e.current
	next.State.Sequence++
	pool, err := next.Pool(kind)
	if err != nil {
		return domain.PoolBalances{}, e.reject(op, started, err)
	}
	if err := pool.Credit(amount, next.State.Sequence); err != nil {
		return domain.PoolBalances{}, e.reject(op, started, err)
	}

	now := e.clock()
	next.State.UpdatedAt = now
	entry := e.entry(&next, domain.EntryDeposit, funder, now)
	entry.Pool = kind
	entry.AmountIn = amount

	if err := e.commit(ctx, op, started, next, entry); err != nil {
		return domain.PoolBalances{}, err
	}
	return next.Balances(), nil
}

// Withdraw releases amount units from the selected pool to the authority.
func (e *Engine) Withdraw(ctx context.Context, caller domain.Identity, kind domain.PoolKind, amount uint64) (domain.PoolBalances, error) {
	const op = "withdraw"
	started := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.authorize(caller); err != nil {
		return domain.PoolBalances{}, e.reject(op, started, err)
	}
	if err := ValidateAmount(amount); err != nil {
		return domain.PoolBalances{}, e.reject(op, started, err)
	}

	next := *e.current
	next.State.Sequence++
	pool, err := next.Pool(kind)
	if err != nil {
		return domain.PoolBalances{}, e.reject(op, started, err)
	}
	if err := pool.Debit(amount, next.State.Sequence); err != nil {
		return domain.PoolBalances{}, e.reject(op, started, err)
	}

	now := e.clock()
	next.State.UpdatedAt = now
	entry := e.entry(&next, domain.EntryWithdraw, caller, now)
	entry.Pool = kind
	entry.AmountOut = amount

	if err := e.commit(ctx, op, started, next, entry); err != nil {
		return domain.PoolBalances{}, err
	}
	return next.Balances(), nil
}

// GetState returns a snapshot of the settlement state (external read).
func (e *Engine) GetState() (domain.SettlementState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.current == nil {
		return domain.SettlementState{}, false
	}
	return e.current.State, true // Return copy
}

// GetPoolBalances returns both held amounts; zero before initialization.
func (e *Engine) GetPoolBalances() domain.PoolBalances {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.current == nil {
		return domain.PoolBalances{}
	}
	return e.current.Balances()
}

// Snapshot returns a copy of the full committed snapshot.
func (e *Engine) Snapshot() (domain.Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.current == nil {
		return domain.Snapshot{}, false
	}
	return *e.current, true
}

// authorize must be called with e.mu held.
func (e *Engine) authorize(caller domain.Identity) error {
	var current *domain.SettlementState
	if e.current != nil {
		current = &e.current.State
	}
	return ValidateAuthority(current, caller)
}

func (e *Engine) entry(next *domain.Snapshot, kind domain.EntryKind, actor domain.Identity, at time.Time) domain.JournalEntry {
	return domain.JournalEntry{
		ID:              uuid.NewString(),
		DeploymentID:    e.deploymentID,
		Seq:             next.State.Sequence,
		Kind:            kind,
		Actor:           actor,
		Ratio:           next.State.Ratio,
		TotalExchanged:  next.State.TotalExchanged,
		SourceHeld:      next.Source.Held,
		DestinationHeld: next.Destination.Held,
		At:              at,
	}
}

// commit persists next and publishes it. Must be called with e.mu held.
// On a storage failure the published snapshot is left untouched.
func (e *Engine) commit(ctx context.Context, op string, started time.Time, next domain.Snapshot, entry domain.JournalEntry) error {
	next.VerifyInvariant()

	if e.store != nil {
		if err := e.store.Commit(ctx, next, entry); err != nil {
			e.logger.Error("Settlement commit failed",
				slog.String("op", op),
				slog.Uint64("sequence", entry.Seq),
				slog.Any("error", err))
			e.observe(op, "storage_error", started)
			return &domain.StorageError{Op: op, Err: err}
		}
	}

	e.current = &next
	e.logger.Info("Settlement committed",
		slog.String("op", op),
		slog.Uint64("sequence", entry.Seq),
		slog.String("actor", entry.Actor.String()),
		slog.Uint64("amount_in", entry.AmountIn),
		slog.Uint64("amount_out", entry.AmountOut),
		slog.String("ratio", next.State.Ratio.String()),
		slog.Uint64("source_held", next.Source.Held),
		slog.Uint64("destination_held", next.Destination.Held))

	e.observe(op, "ok", started)
	if e.recorder != nil {
		e.recorder.SetPoolBalances(next.Balances())
	}
	if e.onCommit != nil {
		e.onCommit(entry)
	}
	return nil
}

func (e *Engine) reject(op string, started time.Time, err error) error {
	e.logger.Warn("Settlement request rejected",
		slog.String("op", op),
		slog.Any("error", err))
	e.observe(op, outcomeLabel(err), started)
	return domain.Reject(op, err)
}

func (e *Engine) observe(op, outcome string, started time.Time) {
	if e.recorder != nil {
		e.recorder.ObserveRequest(op, outcome, e.clock().Sub(started))
	}
}

func outcomeLabel(err error) string {
	switch err {
	case domain.ErrAlreadyInitialized:
		return "already_initialized"
	case domain.ErrNotInitialized:
		return "not_initialized"
	case domain.ErrUnauthorized:
		return "unauthorized"
	case domain.ErrInvalidRatio:
		return "invalid_ratio"
	case domain.ErrInvalidAmount:
		return "invalid_amount"
	case domain.ErrZeroOutput:
		return "zero_output"
	case domain.ErrInsufficientReserve:
		return "insufficient_reserve"
	case domain.ErrOverflow:
		return "overflow"
	default:
		return "invalid_request"
	}
}
