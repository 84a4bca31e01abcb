package cmd

import (
	"fmt"

	"trip-installments/pkg/database"
	"trip-installments/pkg/utils"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := utils.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		db, err := database.InitDB(config.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		if err := database.Migrate(cmd.Context(), db); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Schema applied")
		return nil
	},
}
