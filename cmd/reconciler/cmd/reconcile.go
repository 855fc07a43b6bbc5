package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cnab-reconciliation-service/cmd/reconciler/config"
	"cnab-reconciliation-service/internal/reconciler"
	"cnab-reconciliation-service/internal/reporter"
	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the api side against the geral side",
	Long: `Reconcile loads every stored transaction of both sides and joins them on
the bank reference number.

Before the join, each side drops records without a paid amount, records
outside the optional date range and literal duplicates. The report lists
records found on one side only, matched pairs whose paid amount or date
differ, and totals per side.

Dates are DD/MM/YYYY and both bounds are inclusive. A range with a single
bound, or a bound that cannot be parsed, is reported and ignored unless
--strict-filters is given.

Examples:
  # Console report over everything imported
  reconciler reconcile

  # May 2024 by credit date, as a spreadsheet
  reconciler reconcile --match-field credit_date --start 01/05/2024 --end 31/05/2024 \
    --format xlsx --output reports/may.xlsx

  # CSV including clean matches
  reconciler reconcile --format csv --include-matched --output result.csv`,
	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Matching flags
	reconcileCmd.Flags().String("match-field", "occurrence_date", "date field used for filtering and date discrepancies: occurrence_date, credit_date")
	reconcileCmd.Flags().String("start", "", "date range start (DD/MM/YYYY, inclusive)")
	reconcileCmd.Flags().String("end", "", "date range end (DD/MM/YYYY, inclusive)")
	reconcileCmd.Flags().Bool("strict-filters", false, "fail instead of skipping an unusable date filter")
	reconcileCmd.Flags().String("tolerance", "0.01", "largest paid amount difference that is not a discrepancy")

	// Output flags
	reconcileCmd.Flags().StringP("format", "f", "console", "output format: console, json, csv, xlsx")
	reconcileCmd.Flags().StringP("output", "o", "", "output file path (default: stdout)")
	reconcileCmd.Flags().Bool("include-matched", false, "list clean matched pairs too")
	reconcileCmd.Flags().Int("max-items", 50, "maximum records listed per console section (0 for all)")
	reconcileCmd.Flags().Bool("sort-by-amount", false, "order listed records by descending amount paid")

	viper.BindPFlag(config.KeyMatchField, reconcileCmd.Flags().Lookup("match-field"))
	viper.BindPFlag(config.KeyStartDate, reconcileCmd.Flags().Lookup("start"))
	viper.BindPFlag(config.KeyEndDate, reconcileCmd.Flags().Lookup("end"))
	viper.BindPFlag(config.KeyStrictFilters, reconcileCmd.Flags().Lookup("strict-filters"))
	viper.BindPFlag(config.KeyTolerance, reconcileCmd.Flags().Lookup("tolerance"))
	viper.BindPFlag(config.KeyReportFormat, reconcileCmd.Flags().Lookup("format"))
	viper.BindPFlag(config.KeyReportOutput, reconcileCmd.Flags().Lookup("output"))
	viper.BindPFlag(config.KeyIncludeMatched, reconcileCmd.Flags().Lookup("include-matched"))
	viper.BindPFlag(config.KeyMaxListItems, reconcileCmd.Flags().Lookup("max-items"))
	viper.BindPFlag(config.KeySortByAmount, reconcileCmd.Flags().Lookup("sort-by-amount"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	if _, err := config.CreateReconcilerConfig(v); err != nil {
		return err
	}
	reportConfig, err := config.CreateReportConfig(v)
	if err != nil {
		return err
	}
	return validateOutput(reportConfig.Format, v.GetString(config.KeyReportOutput))
}

// validateOutput requires a file for binary formats and an existing
// directory for any output file.
func validateOutput(format reporter.OutputFormat, output string) error {
	if output == "" {
		if format.IsBinary() {
			return errors.ConfigurationError(errors.CodeMissingConfig, config.KeyReportOutput, nil,
				fmt.Errorf("format %s cannot be written to the terminal", format)).
				WithSuggestion("Use --output to name the report file")
		}
		return nil
	}

	dir := filepath.Dir(output)
	if dir == "." {
		return nil
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return errors.FileError(errors.CodeFileNotFound, dir, err).
			WithSuggestion("Create the output directory first")
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	v := viper.GetViper()
	log := logger.WithComponent("cli")

	recConfig, err := config.CreateReconcilerConfig(v)
	if err != nil {
		return err
	}
	reportConfig, err := config.CreateReportConfig(v)
	if err != nil {
		return err
	}
	dateRange := config.CreateDateRange(v)
	output := v.GetString(config.KeyReportOutput)

	rec, err := reconciler.NewReconciler(recConfig)
	if err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	orchestrator := reconciler.NewOrchestrator(rec, store)
	if viper.GetBool(config.KeyVerbose) {
		orchestrator.AddProgressCallback(func(p *reconciler.Progress) {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s (%v)\n",
				p.CompletedSteps, p.TotalSteps, p.CurrentStep, p.ElapsedTime)
		})
	}

	log.WithFields(logger.Fields{
		"match_field": recConfig.Matching.DateField,
		"date_range":  dateRange.String(),
		"format":      reportConfig.Format,
	}).Info("Starting reconciliation")

	result, err := orchestrator.Run(ctx, &reconciler.Request{
		TableA:    recConfig.Matching.SideA.Table(),
		TableB:    recConfig.Matching.SideB.Table(),
		DateField: recConfig.Matching.DateField,
		DateRange: dateRange,
	})
	if err != nil {
		return err
	}

	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}
	if output != "" {
		if err := generator.GenerateToFile(result, output); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", output)
	} else if err := generator.GenerateReportSafely(result, cmd.OutOrStdout()); err != nil {
		return err
	}

	s := result.Summary
	log.WithFields(logger.Fields{
		"matched":       s.Matched,
		"discrepancies": s.Discrepancies,
		"missing_in_a":  s.MissingInA,
		"missing_in_b":  s.MissingInB,
		"duration":      s.Duration,
	}).Info("Reconciliation completed")

	return nil
}

