package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Recover stale processing installments and reconcile paid ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.service.Installment.Repair(cmd.Context())
		if err != nil {
			return fmt.Errorf("repair installments: %w", err)
		}

		return printJSON(cmd, summary)
	},
}
