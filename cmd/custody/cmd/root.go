// Package cmd holds the custody command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ayo6706/custody-ledger/internal/app"
	"github.com/ayo6706/custody-ledger/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "custody",
	Short:         "Custodial wallet ledger",
	Long:          `Runs the custody ledger: deposit observation, withdraw settlement and ledger reconciliation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, observeCmd, reconcileCmd, tokenCmd)
}

// withApp loads the configuration, builds the app and hands it to fn.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
