package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cnab-reconciliation-service/cmd/reconciler/config"
	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/internal/parsers"
	"cnab-reconciliation-service/internal/storage"
	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

// Flags for the import command
var (
	importSide     string
	importForce    bool
	importFailFast bool
)

var importCmd = &cobra.Command{
	Use:   "import --side api|geral FILES...",
	Short: "Decode CNAB240 return files into a side's table",
	Long: `Import decodes each return file and appends its transactions to the table
of the selected side. Transactions keep the file's base name as their source
and share one import batch id per file.

A file whose name was already imported into the side is refused unless
--force is given, in which case its previous transactions are replaced.
A file that fails to decode is skipped and the remaining files are still
imported, unless --fail-fast is given.

Examples:
  reconciler import --side api retorno_api_0105.ret retorno_api_0205.ret
  reconciler import --side geral --force retorno_geral_0105.ret
  reconciler import --side geral --encoding latin1 --sequence-policy reject *.ret`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: validateImportFlags,
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importSide, "side", "s", "", "target side: api or geral (required)")
	importCmd.Flags().BoolVar(&importForce, "force", false, "replace files that were already imported")
	importCmd.Flags().BoolVar(&importFailFast, "fail-fast", false, "stop at the first file that fails")

	importCmd.Flags().String("encoding", "utf-8", "input encoding: utf-8, latin1")
	importCmd.Flags().String("sequence-policy", "ignore", "T/U sequence mismatch policy: ignore, reject, skip")
	importCmd.Flags().Bool("strict-orphans", false, "fail on unpaired T or U segments")

	importCmd.MarkFlagRequired("side")

	viper.BindPFlag(config.KeyEncoding, importCmd.Flags().Lookup("encoding"))
	viper.BindPFlag(config.KeySequencePolicy, importCmd.Flags().Lookup("sequence-policy"))
	viper.BindPFlag(config.KeyStrictOrphans, importCmd.Flags().Lookup("strict-orphans"))
}

func validateImportFlags(cmd *cobra.Command, args []string) error {
	if _, err := models.ParseSide(importSide); err != nil {
		return errors.ValidationError(errors.CodeInvalidValue, "side", importSide, err)
	}
	for _, path := range args {
		if err := validateFileExists(path); err != nil {
			return err
		}
	}
	return nil
}

// validateFileExists checks that path names a regular file.
func validateFileExists(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, path, err)
	}
	if err != nil {
		return errors.FileError(errors.CodeFileUnreadable, path, err)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeFileUnreadable, path, fmt.Errorf("%s is a directory, expected a file", path))
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	side, _ := models.ParseSide(importSide)

	parserConfig, err := config.CreateParserConfig(viper.GetViper())
	if err != nil {
		return err
	}
	parser, err := parsers.NewFileParser(parserConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "parser", parserConfig, err)
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	im := &importer{
		store:    store,
		parser:   parser,
		table:    side.Table(),
		force:    importForce,
		failFast: importFailFast,
		logger:   logger.WithComponent("import").WithField("side", side),
	}
	outcomes, err := im.importAll(ctx, args)
	printImportOutcomes(cmd.OutOrStdout(), side, outcomes)
	return err
}

// importOutcome describes one successfully imported file.
type importOutcome struct {
	Path     string
	Source   string
	ImportID string
	Stats    *parsers.DecodeStats
	Saved    int
	Replaced int64
}

// importer loads return files into one table.
type importer struct {
	store    storage.Store
	parser   *parsers.FileParser
	table    string
	force    bool
	failFast bool
	logger   logger.Logger
}

// importAll imports every path in order. Failed files are collected into an
// ErrorSummary; with failFast the first failure stops the run.
func (im *importer) importAll(ctx context.Context, paths []string) ([]*importOutcome, error) {
	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "import " + im.table,
		Total:     int64(len(paths)),
		Logger:    im.logger,
	})

	var outcomes []*importOutcome
	var failures []*errors.ReconcilerError
	for _, path := range paths {
		outcome, err := im.importFile(ctx, path)
		if err != nil {
			progress.Fail()
			failure := errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError,
				fmt.Sprintf("failed to import %s", path))
			failures = append(failures, failure)
			im.logger.WithError(err).WithField("file_path", path).Error("Import failed")

			if im.failFast || ctx.Err() != nil {
				break
			}
			continue
		}
		progress.Increment()
		outcomes = append(outcomes, outcome)
	}
	progress.Complete()

	if len(failures) > 0 {
		return outcomes, errors.NewErrorSummary(failures)
	}
	return outcomes, nil
}

// importFile decodes path before touching the table, so a file that fails
// to decode or save never replaces a previous import.
func (im *importer) importFile(ctx context.Context, path string) (*importOutcome, error) {
	source := filepath.Base(path)

	exists, err := im.store.HasSource(ctx, im.table, source)
	if err != nil {
		return nil, err
	}
	if exists && !im.force {
		return nil, errors.FileError(errors.CodeAlreadyImported, path, nil).WithContext("table", im.table)
	}

	txs, stats, err := im.parser.ParseFile(ctx, path)
	if err != nil {
		return nil, err
	}

	importID := uuid.NewString()
	for _, tx := range txs {
		tx.ImportID = importID
	}

	outcome := &importOutcome{Path: path, Source: source, ImportID: importID, Stats: stats, Saved: len(txs)}
	if exists {
		outcome.Replaced, err = im.store.ReplaceSource(ctx, im.table, source, txs)
	} else {
		err = im.store.Save(ctx, im.table, txs)
	}
	if err != nil {
		return nil, err
	}

	im.logger.WithFields(logger.Fields{
		"file_path": path,
		"import_id": importID,
		"saved":     len(txs),
		"replaced":  outcome.Replaced,
	}).Info("File imported")
	return outcome, nil
}

func printImportOutcomes(w io.Writer, side models.Side, outcomes []*importOutcome) {
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s: %d transactions imported into %s (batch %s)", o.Source, o.Saved, side, o.ImportID)
		if o.Replaced > 0 {
			fmt.Fprintf(w, ", %d replaced", o.Replaced)
		}
		if o.Stats != nil && o.Stats.OrphansDropped > 0 {
			fmt.Fprintf(w, ", %d unpaired segments dropped", o.Stats.OrphansDropped)
		}
		fmt.Fprintln(w)
	}
}
