package cmd

import (
	"github.com/ayo6706/custody-ledger/internal/app"
	"github.com/ayo6706/custody-ledger/internal/db"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator API and background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		migrate, _ := cmd.Flags().GetBool("migrate")
		return withApp(cmd.Context(), func(a *app.App) error {
			if migrate {
				if err := db.MigrateUp(a.DatabaseURL()); err != nil {
					return err
				}
			}
			return a.Serve(cmd.Context())
		})
	},
}

func init() {
	serveCmd.Flags().Bool("migrate", false, "apply pending migrations before serving")
}
