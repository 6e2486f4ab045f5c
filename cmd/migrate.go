package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xpert-ai/xpert-sub004/internal/config"
	"github.com/xpert-ai/xpert-sub004/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := database.Migrate(cfg.PostgresDSN); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
