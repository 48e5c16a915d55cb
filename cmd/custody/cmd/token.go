package cmd

import (
	"fmt"
	"time"

	"github.com/ayo6706/custody-ledger/internal/api/middleware"
	"github.com/ayo6706/custody-ledger/internal/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator token for the operations API",
	RunE: func(cmd *cobra.Command, args []string) error {
		operatorID, _ := cmd.Flags().GetString("operator")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if _, err := uuid.Parse(operatorID); err != nil {
			return fmt.Errorf("operator must be a uuid: %w", err)
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		middleware.SetJWTSecret(cfg.JWTSecret)
		middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

		token, err := middleware.IssueToken(middleware.Operator{ID: operatorID, Role: role}, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("operator", "", "operator id recorded in audit entries")
	tokenCmd.Flags().String("role", "admin", "operator role")
	tokenCmd.Flags().Duration("ttl", 8*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("operator")
}
