package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single poll cycle and print its summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.poller.RunOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("run poll cycle: %w", err)
		}

		return printJSON(cmd, summary)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
