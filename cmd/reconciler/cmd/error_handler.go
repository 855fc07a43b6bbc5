package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"cnab-reconciliation-service/cmd/reconciler/config"
	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

// maxListedErrors caps the per-file errors printed for a multi-file failure.
const maxListedErrors = 10

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to stderr
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     os.Stderr,
		verbose: viper.GetBool(config.KeyVerbose),
	}
}

// HandleError prints err and returns the process exit code.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	var summary *errors.ErrorSummary
	if stderrors.As(err, &summary) {
		return h.handleErrorSummary(summary)
	}
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

// handleErrorSummary lists the failures of a multi-file operation.
func (h *CLIErrorHandler) handleErrorSummary(summary *errors.ErrorSummary) int {
	if summary.Total == 1 {
		return h.handleReconcilerError(summary.Errors[0])
	}

	fmt.Fprintf(h.out, "Error: %s\n\n", summary.Error())
	for i, err := range summary.Errors {
		if i == maxListedErrors {
			fmt.Fprintf(h.out, "  ... and %d more errors\n", summary.Total-maxListedErrors)
			break
		}
		fmt.Fprintf(h.out, "  %d. %s\n", i+1, err.Error())
	}

	categories := make([]string, 0, len(summary.ByCategory))
	for category := range summary.ByCategory {
		categories = append(categories, string(category))
	}
	sort.Strings(categories)
	for _, category := range categories {
		fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(errors.ErrorCategory(category)))
	}

	return summary.GetExitCode()
}

// handleReconcilerError handles ReconcilerError with detailed context
func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles non-ReconcilerError types
func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case h.isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case h.isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case h.isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Use --force to re-import a file that is already stored
• Use 'reconciler sources' to list imported files`

	case errors.CategoryParse:
		return `Parse error help:
• Verify the file is a CNAB240 return file with 240 character lines
• Check the currency slots of the reported line: they hold digits only
• Use --encoding latin1 for files exported by legacy bank systems
• Use --sequence-policy ignore and drop --strict-orphans to accept unpaired segments`

	case errors.CategoryValidation:
		return `Validation error help:
• Use --side api or --side geral
• Write date bounds as DD/MM/YYYY
• Check that every flag value is within its accepted range`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Check RECONCILER_ environment variables
• Use 'reconciler <command> --help' to see all available options`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Give both --start and --end, as DD/MM/YYYY
• Check the stored dates of the selected --match-field
• Drop --strict-filters to skip an unusable date filter instead of failing
• Wait for a running reconciliation to finish before starting another`

	case errors.CategoryStorage:
		return `Storage error help:
• Check --storage-driver and --storage-dsn
• For Elasticsearch, check --storage-addresses and that the cluster is reachable
• Check free disk space and write permissions of the store location`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Run again with --verbose for debug logs`
	}
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
