package cmd

import (
	"fmt"

	"github.com/ayo6706/custody-ledger/internal/app"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Verify every wallet balance against its transaction log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			report, err := a.ReconcileOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("checked %d wallets, %d imbalanced\n", report.Wallets, len(report.Imbalances))
			for _, imb := range report.Imbalances {
				fmt.Printf("  %s %s balance=%s sum=%s\n", imb.WalletID, imb.Currency, imb.Balance, imb.Sum)
			}
			if len(report.Imbalances) > 0 {
				return fmt.Errorf("ledger imbalanced")
			}
			return nil
		})
	},
}
