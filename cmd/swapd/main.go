package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"token_swap/internal/app"

	"github.com/spf13/cobra"
)

var configPath = "configs/config.yaml"

var rootCmd = &cobra.Command{
	Use:           "swapd",
	Short:         "token-swap settlement engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", configPath, "path to the YAML configuration file")

	rootCmd.AddCommand(initCmd, depositCmd, exchangeCmd, updateRatioCmd, withdrawCmd)
	rootCmd.AddCommand(stateCmd, balancesCmd, journalCmd, verifyCmd, soakCmd)
}

func main() {
	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

// withBootstrap opens config, storage and the engine for one command. One-shot
// commands exit before anything could scrape them, so no metrics endpoint is
// served here.
func withBootstrap(cmd *cobra.Command, fn func(ctx context.Context, b *app.Bootstrap) error) error {
	ctx := cmd.Context()
	b := app.NewBootstrap(configPath)
	if err := b.Initialize(ctx); err != nil {
		return err
	}
	defer b.Close()

	return fn(ctx, b)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
