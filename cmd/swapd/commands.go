package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"token_swap/internal/app"
	"token_swap/internal/domain"

	"github.com/spf13/cobra"
)

var (
	actorFlag       string
	poolFlag        string
	sourceFlag      string
	destinationFlag string
	ratioFlag       string
	afterFlag       uint64
	limitFlag       int
)

func init() {
	initCmd.Flags().StringVar(&actorFlag, "authority", "", "identity allowed to update the ratio and withdraw")
	initCmd.Flags().StringVar(&sourceFlag, "source", "", "source asset id (received into custody)")
	initCmd.Flags().StringVar(&destinationFlag, "destination", "", "destination asset id (released from the reserve)")
	initCmd.Flags().StringVar(&ratioFlag, "ratio", "1:1", "initial destination-per-source ratio as NUM:DEN")

	for _, c := range []*cobra.Command{depositCmd, exchangeCmd, updateRatioCmd, withdrawCmd} {
		c.Flags().StringVar(&actorFlag, "as", "", "caller identity")
	}
	depositCmd.Flags().StringVar(&poolFlag, "pool", "destination", "pool to fund: source|destination")
	withdrawCmd.Flags().StringVar(&poolFlag, "pool", "destination", "pool to withdraw from: source|destination")

	journalCmd.Flags().Uint64Var(&afterFlag, "after", 0, "only entries with a sequence above this")
	journalCmd.Flags().IntVar(&limitFlag, "limit", 100, "maximum number of entries")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "initialize custody with two empty pools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		num, den, err := parseRatio(ratioFlag)
		if err != nil {
			return err
		}
		return withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
			st, err := b.Engine.Initialize(ctx, callerIdentity(),
				domain.AssetID(strings.TrimSpace(sourceFlag)), domain.AssetID(strings.TrimSpace(destinationFlag)), num, den)
			if err != nil {
				return err
			}
			return printJSON(cmd, newStateView(st))
		})
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit AMOUNT",
	Short: "record funds reaching a custody pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		kind, err := domain.ParsePoolKind(poolFlag)
		if err != nil {
			return err
		}
		return withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
			bal, err := b.Engine.Deposit(ctx, callerIdentity(), kind, amount)
			if err != nil {
				return err
			}
			return printJSON(cmd, bal)
		})
	},
}

var exchangeCmd = &cobra.Command{
	Use:   "exchange AMOUNT",
	Short: "exchange AMOUNT source units for destination units at the current ratio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		return withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
			out, err := b.Engine.Exchange(ctx, callerIdentity(), amount)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		})
	},
}

var updateRatioCmd = &cobra.Command{
	Use:   "update-ratio NUM:DEN",
	Short: "replace the exchange ratio (authority only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		num, den, err := parseRatio(args[0])
		if err != nil {
			return err
		}
		return withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
			st, err := b.Engine.UpdateRatio(ctx, callerIdentity(), num, den)
			if err != nil {
				return err
			}
			return printJSON(cmd, newStateView(st))
		})
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw AMOUNT",
	Short: "emergency withdrawal from a custody pool (authority only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		kind, err := domain.ParsePoolKind(poolFlag)
		if err != nil {
			return err
		}
		return withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
			bal, err := b.Engine.Withdraw(ctx, callerIdentity(), kind, amount)
			if err != nil {
				return err
			}
			return printJSON(cmd, bal)
		})
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "print the committed settlement state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
			st, ok := b.Engine.GetState()
			if !ok {
				return domain.Reject("state", domain.ErrNotInitialized)
			}
			return printJSON(cmd, newStateView(st))
		})
	},
}

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "print both custody pool balances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
			return printJSON(cmd, b.Engine.GetPoolBalances())
		})
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "list committed journal entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
			entries, err := b.Storage.Journal(ctx, b.Engine.DeploymentID(), afterFlag, limitFlag)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "replay the journal and compare it with the committed state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
			snap, err := b.Engine.Verify(ctx, b.Storage)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			return printJSON(cmd, struct {
				OK       bool                `json:"ok"`
				Sequence uint64              `json:"sequence"`
				Balances domain.PoolBalances `json:"balances"`
			}{true, snap.State.Sequence, snap.Balances()})
		})
	},
}

// stateView adds the human-readable ratio to the state.
type stateView struct {
	domain.SettlementState
	RatioDecimal string `json:"ratio_decimal"`
}

func newStateView(st domain.SettlementState) stateView {
	return stateView{SettlementState: st, RatioDecimal: st.Ratio.Decimal().String()}
}

// callerIdentity is the --authority / --as value with surrounding blanks
// removed. Empty stays empty so the engine reports the kind it would for any
// unidentified caller.
func callerIdentity() domain.Identity {
	return domain.Identity(strings.TrimSpace(actorFlag))
}

func parseAmount(raw string) (uint64, error) {
	amount, err := strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(raw), "_", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, raw)
	}
	return amount, nil
}

// parseRatio accepts "NUM:DEN" or "NUM/DEN". Zero terms are left for the
// engine to reject so the error kind stays the same on every path.
func parseRatio(raw string) (uint64, uint64, error) {
	parts := strings.FieldsFunc(strings.TrimSpace(raw), func(r rune) bool { return r == ':' || r == '/' })
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q, want NUM:DEN", domain.ErrInvalidRatio, raw)
	}
	num, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: numerator %q", domain.ErrInvalidRatio, parts[0])
	}
	den, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: denominator %q", domain.ErrInvalidRatio, parts[1])
	}
	return num, den, nil
}
