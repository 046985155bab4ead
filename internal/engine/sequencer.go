package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"token_swap/internal/domain"
	"token_swap/internal/event"
)

// ErrSequencerStopped is returned by Submit once Run has exited.
var ErrSequencerStopped = errors.New("sequencer stopped")

// Result is the reply to one submitted request. Only the field matching the
// request type is populated.
type Result struct {
	Outcome  domain.ExchangeOutcome
	State    domain.SettlementState
	Balances domain.PoolBalances
	Err      error
}

type envelope struct {
	ctx   context.Context
	ev    event.Event
	reply chan Result
}

// Sequencer is the request-dispatch loop in front of an Engine. Callers from
// any goroutine Submit requests; a single goroutine drains the inbox and
// applies them in arrival order.
type Sequencer struct {
	inbox    chan envelope
	done     chan struct{}
	engine   *Engine
	nextSeq  uint64
	dumpPath string

	// Boundary: used to notify other systems of processed requests
	onResult func(event.Event, Result)
}

// NewSequencer creates a new sequencer instance.
func NewSequencer(inboxSize int, engine *Engine, onResult func(event.Event, Result)) *Sequencer {
	return &Sequencer{
		inbox:    make(chan envelope, inboxSize),
		done:     make(chan struct{}),
		engine:   engine,
		nextSeq:  1,
		dumpPath: "panic_dump.json",
		onResult: onResult,
	}
}

// SetDumpPath overrides where DumpState writes on a panic.
func (s *Sequencer) SetDumpPath(path string) {
	s.dumpPath = path
}

// Submit enqueues ev and waits for its result. If ctx ends after the request
// was enqueued, the request may still be applied; its result is dropped.
func (s *Sequencer) Submit(ctx context.Context, ev event.Event) (Result, error) {
	env := envelope{ctx: ctx, ev: ev, reply: make(chan Result, 1)}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-s.done:
		return Result{}, ErrSequencerStopped
	case s.inbox <- env:
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-s.done:
		return Result{}, ErrSequencerStopped
	case res := <-env.reply:
		return res, res.Err
	}
}

// Run starts the main dispatch loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started", slog.String("deployment", s.engine.DeploymentID()))

	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.dumpPath)
			// Invariant violations halt the loop after the dump.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...")
			return
		case env := <-s.inbox:
			s.processEnvelope(env)
		}
	}
}

func (s *Sequencer) processEnvelope(env envelope) {
	if stamper, ok := env.ev.(interface{ Stamp(uint64, int64) }); ok {
		stamper.Stamp(s.nextSeq, time.Now().UnixMicro())
	}
	s.nextSeq++

	var res Result
	if err := env.ctx.Err(); err != nil {
		res.Err = err
	} else {
		res = s.dispatch(env.ctx, env.ev)
	}

	if s.onResult != nil {
		s.onResult(env.ev, res)
	}
	env.reply <- res
}

func (s *Sequencer) dispatch(ctx context.Context, ev event.Event) Result {
	var res Result
	switch e := ev.(type) {
	case *event.ExchangeEvent:
		res.Outcome, res.Err = s.engine.Exchange(ctx, e.Requester, e.Amount)
	case *event.InitializeEvent:
		res.State, res.Err = s.engine.Initialize(ctx, e.Authority, e.SourceAsset, e.DestinationAsset, e.Numerator, e.Denominator)
	case *event.UpdateRatioEvent:
		res.State, res.Err = s.engine.UpdateRatio(ctx, e.Caller, e.Numerator, e.Denominator)
	case *event.DepositEvent:
		res.Balances, res.Err = s.engine.Deposit(ctx, e.Funder, e.Pool, e.Amount)
	case *event.WithdrawEvent:
		res.Balances, res.Err = s.engine.Withdraw(ctx, e.Caller, e.Pool, e.Amount)
	default:
		slog.Warn("Unknown event type", slog.Any("type", ev.GetType()))
		res.Err = fmt.Errorf("unknown event type %q", ev.GetType())
	}
	return res
}

// DumpState writes the committed engine state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	snap, initialized := s.engine.Snapshot()
	data := struct {
		NextSeq     uint64          `json:"next_seq"`
		Initialized bool            `json:"initialized"`
		Snapshot    domain.Snapshot `json:"snapshot"`
	}{
		NextSeq:     s.nextSeq,
		Initialized: initialized,
		Snapshot:    snap,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	err = os.WriteFile(filename, b, 0644)
	if err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
