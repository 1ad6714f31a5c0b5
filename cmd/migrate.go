package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragstack/ragstack/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return db.Migrate(cfg.DatabaseURL, logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
