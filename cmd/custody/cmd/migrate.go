package cmd

import (
	"fmt"

	"github.com/ayo6706/custody-ledger/internal/config"
	"github.com/ayo6706/custody-ledger/internal/db"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.MigrateUp(config.LoadDatabaseURL()); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert every applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to drop the schema without --yes")
		}
		if err := db.MigrateDown(config.LoadDatabaseURL()); err != nil {
			return err
		}
		fmt.Println("migrations reverted")
		return nil
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Mark a schema version as applied after a failed migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var version int
		if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		m, err := db.NewMigrator(config.LoadDatabaseURL())
		if err != nil {
			return err
		}
		defer m.Close()
		if err := m.Force(version); err != nil {
			return fmt.Errorf("force version %d: %w", version, err)
		}
		fmt.Printf("schema forced to version %d\n", version)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().Bool("yes", false, "confirm dropping the schema")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateForceCmd)
}
