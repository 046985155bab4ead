package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"token_swap/internal/app"
	"token_swap/internal/domain"
	"token_swap/internal/engine"
	"token_swap/internal/event"
	"token_swap/internal/infra"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	soakWorkers  int
	soakRequests int
	soakAmount   uint64
	soakReserve  uint64
	soakRatio    string
	metricsAddr  string
)

func init() {
	soakCmd.Flags().IntVar(&soakWorkers, "workers", 16, "concurrent submitters")
	soakCmd.Flags().IntVar(&soakRequests, "requests", 10_000, "exchange requests across all workers")
	soakCmd.Flags().Uint64Var(&soakAmount, "amount", 100, "source units per exchange")
	soakCmd.Flags().Uint64Var(&soakReserve, "reserve", 500_000, "initial destination reserve")
	soakCmd.Flags().StringVar(&soakRatio, "ratio", "1:1", "destination-per-source ratio as NUM:DEN")
	soakCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the soak runs (overrides metrics.listen)")
}

type soakReport struct {
	Committed      int64               `json:"committed"`
	Rejected       int64               `json:"rejected"`
	DestinationOut uint64              `json:"destination_out"`
	Reserve        uint64              `json:"reserve"`
	Balances       domain.PoolBalances `json:"balances"`
	TotalExchanged uint64              `json:"total_exchanged"`
	Elapsed        string              `json:"elapsed"`
}

// soakCmd races exchanges against an in-memory engine through the sequencer
// and checks that committed output never exceeded the reserve.
var soakCmd = &cobra.Command{
	Use:   "soak",
	Short: "run concurrent exchanges against an in-memory engine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		num, den, err := parseRatio(soakRatio)
		if err != nil {
			return err
		}
		if soakWorkers <= 0 || soakRequests <= 0 {
			return fmt.Errorf("workers and requests must be positive")
		}

		// Only the sequencer and metrics settings apply; storage stays in memory
		cfg, err := infra.LoadConfig(configPath)
		if errors.Is(err, domain.ErrConfigNotFound) {
			cfg, err = infra.LoadDefaults()
		}
		if err != nil {
			return err
		}
		addr := metricsAddr
		if addr == "" {
			addr = cfg.Metrics.Listen
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		metrics := infra.NewMetrics()
		host := &app.Bootstrap{Config: cfg, Metrics: metrics}
		host.ServeMetrics(addr)
		defer host.Close()

		logger := slog.New(slog.DiscardHandler)
		eng := engine.New("soak", nil, engine.WithLogger(logger), engine.WithRecorder(metrics))

		const authority = domain.Identity("soak-authority")
		if _, err := eng.Initialize(ctx, authority, "SRC", "DST", num, den); err != nil {
			return err
		}
		if _, err := eng.Deposit(ctx, authority, domain.PoolDestination, soakReserve); err != nil {
			return err
		}

		inbox := cfg.Sequencer.InboxSize
		if inbox < soakWorkers {
			inbox = soakWorkers
		}
		seq := engine.NewSequencer(inbox, eng, nil)
		seq.SetDumpPath(cfg.Sequencer.DumpPath)
		go seq.Run(ctx)
		event.Warmup(soakWorkers)

		var committed, rejected atomic.Int64
		var out atomic.Uint64
		started := time.Now()

		g, gctx := errgroup.WithContext(ctx)
		perWorker := soakRequests / soakWorkers
		for w := 0; w < soakWorkers; w++ {
			requester := domain.Identity(fmt.Sprintf("soak-%d", w))
			n := perWorker
			if w == 0 {
				n += soakRequests % soakWorkers
			}
			g.Go(func() error {
				for i := 0; i < n; i++ {
					ev := event.AcquireExchangeEvent()
					ev.Requester = requester
					ev.Amount = soakAmount
					res, err := seq.Submit(gctx, ev)
					event.ReleaseExchangeEvent(ev)

					switch {
					case err == nil:
						committed.Add(1)
						out.Add(res.Outcome.AmountOut)
					case errors.Is(err, domain.ErrInsufficientReserve), errors.Is(err, domain.ErrZeroOutput):
						rejected.Add(1)
					default:
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		st, _ := eng.GetState()
		report := soakReport{
			Committed:      committed.Load(),
			Rejected:       rejected.Load(),
			DestinationOut: out.Load(),
			Reserve:        soakReserve,
			Balances:       eng.GetPoolBalances(),
			TotalExchanged: st.TotalExchanged,
			Elapsed:        time.Since(started).String(),
		}
		if report.DestinationOut > soakReserve {
			return fmt.Errorf("reserve overdrawn: released %d of %d", report.DestinationOut, soakReserve)
		}
		if report.Balances.DestinationHeld != soakReserve-report.DestinationOut {
			return fmt.Errorf("destination pool %d, want %d", report.Balances.DestinationHeld, soakReserve-report.DestinationOut)
		}
		return printJSON(cmd, report)
	},
}
