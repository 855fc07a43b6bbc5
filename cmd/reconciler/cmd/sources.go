package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/internal/storage"
	"cnab-reconciliation-service/pkg/logger"
)

var (
	sourcesSide   string
	sourcesDelete []string
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List or delete imported return files",
	Long: `Sources lists the distinct files imported into each side. With --delete the
named files' transactions are removed instead.

Examples:
  reconciler sources
  reconciler sources --side geral
  reconciler sources --side api --delete retorno_api_0105.ret`,
	Args: cobra.NoArgs,
	RunE: runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)

	sourcesCmd.Flags().StringVarP(&sourcesSide, "side", "s", "", "side to inspect: api or geral (default: both)")
	sourcesCmd.Flags().StringSliceVar(&sourcesDelete, "delete", nil, "source file names to delete")
}

func runSources(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sides, err := sidesFor(sourcesSide)
	if err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(sourcesDelete) > 0 {
		return deleteSources(ctx, cmd.OutOrStdout(), store, sides, sourcesDelete)
	}
	return listSources(ctx, cmd.OutOrStdout(), store, sides)
}

func listSources(ctx context.Context, w io.Writer, store storage.Store, sides []models.Side) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIDE\tSOURCE")
	for _, side := range sides {
		sources, err := store.Sources(ctx, side.Table())
		if err != nil {
			return err
		}
		for _, source := range sources {
			fmt.Fprintf(tw, "%s\t%s\n", side, source)
		}
	}
	return tw.Flush()
}

func deleteSources(ctx context.Context, w io.Writer, store storage.Store, sides []models.Side, names []string) error {
	log := logger.WithComponent("cli")
	for _, side := range sides {
		removed, err := store.DeleteSources(ctx, side.Table(), names)
		if err != nil {
			return err
		}
		log.WithFields(logger.Fields{"side": side, "sources": names, "removed": removed}).Info("Sources deleted")
		fmt.Fprintf(w, "%s: %d transactions removed\n", side, removed)
	}
	return nil
}
