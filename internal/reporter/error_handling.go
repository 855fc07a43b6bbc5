package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cnab-reconciliation-service/internal/reconciler"
	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging, typed errors and
// a console fallback for text outputs.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report.format", config, err)
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely renders result to writer. When a text format fails,
// the report is retried once in console format behind a notice.
func (srg *SafeReportGenerator) GenerateReportSafely(result *reconciler.Result, writer io.Writer) error {
	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil).
			WithSuggestion("Provide a valid reconciliation result")
	}
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}

	log := srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	})
	log.Debug("Starting report generation")

	err := srg.GenerateReport(result, writer)
	if err == nil {
		log.Debug("Report generation completed")
		return nil
	}

	if srg.config.Format == FormatConsole || srg.config.Format.IsBinary() {
		log.WithError(err).Error("Report generation failed")
		return wrapGenerationError(err)
	}

	log.WithError(err).Warn("Primary report generation failed, attempting console fallback")

	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallback := &ReportGenerator{config: &fallbackConfig}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", err)
	if ferr := fallback.GenerateReport(result, writer); ferr != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", err, ferr))
	}
	return nil
}

// GenerateToFile writes the report to path, creating parent directories.
func (srg *SafeReportGenerator) GenerateToFile(result *reconciler.Result, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.FileError(errors.CodeFilePermission, dir, err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		code := errors.CodeFileUnreadable
		if os.IsPermission(err) {
			code = errors.CodeFilePermission
		}
		return errors.FileError(code, path, err)
	}

	if err := srg.GenerateReportSafely(result, file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return errors.FileError(errors.CodeFileUnreadable, path, err)
	}

	srg.logger.WithField("path", path).Info("Report written")
	return nil
}

func wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(errors.CodeUnexpectedError, "report_generation", err).
		WithSuggestion("Check the output destination and report format settings")
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
