package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cnab-reconciliation-service/pkg/logger"
)

var clearSide string

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every stored transaction of a side",
	Long: `Clear drops the table of the selected side, or of both sides when --side is
not given.

Examples:
  reconciler clear --side geral
  reconciler clear`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().StringVarP(&clearSide, "side", "s", "", "side to clear: api or geral (default: both)")
}

func runClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sides, err := sidesFor(clearSide)
	if err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, side := range sides {
		if err := store.Clear(ctx, side.Table()); err != nil {
			return err
		}
		logger.WithComponent("cli").WithField("side", side).Info("Side cleared")
		fmt.Fprintf(cmd.OutOrStdout(), "%s: cleared\n", side)
	}
	return nil
}
