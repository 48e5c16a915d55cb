package cmd

import (
	"fmt"

	"github.com/ayo6706/custody-ledger/internal/app"
	"github.com/spf13/cobra"
)

var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Scan one batch of deposit addresses due for a check",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt32("limit")
		return withApp(cmd.Context(), func(a *app.App) error {
			checked, credited, err := a.ObserveOnce(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Printf("checked %d addresses, credited %d deposits\n", checked, credited)
			return nil
		})
	},
}

func init() {
	observeCmd.Flags().Int32("limit", 50, "maximum number of addresses to scan")
}
