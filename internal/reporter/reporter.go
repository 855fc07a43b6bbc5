// Package reporter renders reconciliation results.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: the full result for programmatic consumption
//   - CSV: one row per reported record, tagged with its section
//   - XLSX: one sheet per section with currency totals
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatXLSX})
//	err = generator.GenerateReport(result, file)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"cnab-reconciliation-service/internal/matcher"
	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/internal/reconciler"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// IsBinary reports whether the format cannot be written to a terminal.
func (f OutputFormat) IsBinary() bool {
	return f == FormatXLSX
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// IncludeMatched lists every matched pair, not only discrepancies, in the
	// console and CSV reports. JSON and XLSX always carry them.
	IncludeMatched bool `json:"include_matched"`

	// IncludeDashboard adds per-field currency totals for both sides.
	IncludeDashboard bool `json:"include_dashboard"`

	// MaxListItems caps each console list; 0 lists everything.
	MaxListItems int `json:"max_list_items"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	// SortByAmount orders lists by descending amount paid.
	SortByAmount bool `json:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:           FormatConsole,
		IncludeMatched:   false,
		IncludeDashboard: true,
		MaxListItems:     50,
		CSVDelimiter:     ',',
		CSVHeaders:       true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid csv delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

// GenerateReport renders result to writer in the configured format
func (rg *ReportGenerator) GenerateReport(result *reconciler.Result, writer io.Writer) error {
	if result == nil || result.Summary == nil || result.JoinResult == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	case FormatXLSX:
		return rg.generateExcelReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(result *reconciler.Result, writer io.Writer) error {
	s := result.Summary
	ew := &errWriter{w: writer}

	ew.printf("CNAB RECONCILIATION REPORT\n")
	ew.printf("Generated:  %s\n", result.ProcessedAt.Format(time.RFC3339))
	ew.printf("Duration:   %v\n", s.Duration)
	ew.printf("Date field: %s\n", s.DateField)
	if s.DateRange != nil {
		applied := "applied"
		if !s.FilterApplied {
			applied = "skipped"
		}
		ew.printf("Date range: %s (%s)\n", s.DateRange, applied)
	}
	ew.printf("\n")

	ew.printf("=== SUMMARY ===\n")
	rg.printSideSummary(ew, &s.A)
	rg.printSideSummary(ew, &s.B)
	ew.printf("\n")
	ew.printf("Missing in %-6s %d\n", s.B.Side+":", s.MissingInB)
	ew.printf("Missing in %-6s %d\n", s.A.Side+":", s.MissingInA)
	ew.printf("Matched pairs:     %d (%d clean)\n", s.Matched, s.Clean)
	ew.printf("Discrepancies:     %d (amount: %d, date: %d)\n", s.Discrepancies, s.AmountDiscrepancies, s.DateDiscrepancies)
	ew.printf("Match rate:        %.1f%%\n\n", s.MatchRate())

	ew.printf("=== FINANCIAL SUMMARY ===\n")
	ew.printf("Amount paid (%s): %s\n", s.A.Side, s.A.Totals["amount_paid"].StringFixed(2))
	ew.printf("Amount paid (%s): %s\n", s.B.Side, s.B.Totals["amount_paid"].StringFixed(2))
	ew.printf("Difference:        %s\n\n", s.PaidDifference.StringFixed(2))

	if len(result.MissingInB) > 0 {
		ew.printf("=== ONLY IN %s (%d) ===\n", strings.ToUpper(s.A.Side.String()), len(result.MissingInB))
		rg.printUnmatched(ew, result.MissingInB)
		ew.printf("\n")
	}
	if len(result.MissingInA) > 0 {
		ew.printf("=== ONLY IN %s (%d) ===\n", strings.ToUpper(s.B.Side.String()), len(result.MissingInA))
		rg.printUnmatched(ew, result.MissingInA)
		ew.printf("\n")
	}
	if len(result.Discrepancies) > 0 {
		ew.printf("=== DISCREPANCIES (%d) ===\n", len(result.Discrepancies))
		rg.printPairs(ew, result.Discrepancies)
		ew.printf("\n")
	}
	if rg.config.IncludeMatched && len(result.Matched) > 0 {
		ew.printf("=== MATCHED (%d) ===\n", len(result.Matched))
		rg.printPairs(ew, result.Matched)
		ew.printf("\n")
	}
	if len(result.Diagnostics) > 0 {
		ew.printf("=== DIAGNOSTICS ===\n")
		for _, d := range result.Diagnostics {
			ew.printf("  - %s\n", d)
		}
		ew.printf("\n")
	}
	if rg.config.IncludeDashboard {
		ew.printf("=== DASHBOARD ===\n")
		rg.printDashboard(ew, BuildDashboard(result))
	}

	return ew.err
}

func (rg *ReportGenerator) generateJSONReport(result *reconciler.Result, writer io.Writer) error {
	output := map[string]interface{}{
		"summary":       result.Summary,
		"missing_in_b":  result.MissingInB,
		"missing_in_a":  result.MissingInA,
		"matched":       result.Matched,
		"discrepancies": result.Discrepancies,
		"diagnostics":   result.Diagnostics,
		"processed_at":  result.ProcessedAt,
	}
	if rg.config.IncludeDashboard {
		output["dashboard"] = BuildDashboard(result)
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// CSV sections
const (
	sectionMissingInB  = "missing_in_b"
	sectionMissingInA  = "missing_in_a"
	sectionDiscrepancy = "discrepancy"
	sectionMatched     = "matched"
)

var csvHeaders = []string{
	"section",
	"side",
	"reference_number",
	"amount_paid_a",
	"amount_paid_b",
	"amount_difference",
	"date_field",
	"date_a",
	"date_b",
	"reasons",
	"source_file_a",
	"source_file_b",
}

func (rg *ReportGenerator) generateCSVReport(result *reconciler.Result, writer io.Writer) error {
	w := csv.NewWriter(writer)
	w.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := w.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	field := result.Summary.DateField
	for _, rec := range result.MissingInB {
		tx := rec.Transaction
		row := []string{sectionMissingInB, rec.Side.String(), tx.ReferenceNumber,
			tx.AmountPaid.StringFixed(2), "", "", field.String(), field.ValueOf(tx), "", "", tx.SourceFile, ""}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write unmatched record: %w", err)
		}
	}
	for _, rec := range result.MissingInA {
		tx := rec.Transaction
		row := []string{sectionMissingInA, rec.Side.String(), tx.ReferenceNumber,
			"", tx.AmountPaid.StringFixed(2), "", field.String(), "", field.ValueOf(tx), "", "", tx.SourceFile}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write unmatched record: %w", err)
		}
	}

	pairs := func(section string, list []*matcher.MatchedPair) error {
		for _, p := range list {
			row := []string{section, "", p.ReferenceNumber,
				p.AmountPaidA.StringFixed(2), p.AmountPaidB.StringFixed(2), p.AmountDifference.StringFixed(2),
				p.DateField.String(), p.MatchDateA, p.MatchDateB, joinReasons(p.Reasons),
				p.A.SourceFile, p.B.SourceFile}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("failed to write %s record: %w", section, err)
			}
		}
		return nil
	}
	if err := pairs(sectionDiscrepancy, result.Discrepancies); err != nil {
		return err
	}
	if rg.config.IncludeMatched {
		if err := pairs(sectionMatched, result.Matched); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSideSummary(ew *errWriter, s *reconciler.SideSummary) {
	ew.printf("Side %s:\n", s.Side)
	ew.printf("  Loaded:          %d\n", s.Input)
	ew.printf("  Not paid:        %d\n", s.DroppedByValue)
	if s.OutsideRange > 0 || s.BadDate > 0 {
		ew.printf("  Outside range:   %d\n", s.OutsideRange)
		ew.printf("  Bad date:        %d\n", s.BadDate)
	}
	ew.printf("  Duplicates:      %d\n", s.Duplicates)
	ew.printf("  Reconciled:      %d\n", s.Reconciled)
}

func (rg *ReportGenerator) printUnmatched(ew *errWriter, records []*matcher.UnmatchedRecord) {
	if rg.config.SortByAmount {
		records = append([]*matcher.UnmatchedRecord(nil), records...)
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Transaction.AmountPaid.GreaterThan(records[j].Transaction.AmountPaid)
		})
	}

	for i, rec := range records {
		if rg.truncated(ew, i, len(records)) {
			break
		}
		tx := rec.Transaction
		ew.printf("  %d. Ref: %s, Paid: %s, Occurrence: %s, Credit: %s, Payer: %s, File: %s\n",
			i+1, tx.ReferenceNumber, tx.AmountPaid.StringFixed(2),
			tx.OccurrenceDate, tx.CreditDate, strings.TrimSpace(tx.PayerName), tx.SourceFile)
	}
}

func (rg *ReportGenerator) printPairs(ew *errWriter, pairs []*matcher.MatchedPair) {
	if rg.config.SortByAmount {
		pairs = append([]*matcher.MatchedPair(nil), pairs...)
		sort.SliceStable(pairs, func(i, j int) bool {
			return pairs[i].AmountDifference.GreaterThan(pairs[j].AmountDifference)
		})
	}

	for i, p := range pairs {
		if rg.truncated(ew, i, len(pairs)) {
			break
		}
		ew.printf("  %d. Ref: %s, Paid: %s / %s (diff %s), %s: %s / %s",
			i+1, p.ReferenceNumber, p.AmountPaidA.StringFixed(2), p.AmountPaidB.StringFixed(2),
			p.AmountDifference.StringFixed(2), p.DateField, p.MatchDateA, p.MatchDateB)
		if p.IsDiscrepancy() {
			ew.printf(" [%s]", joinReasons(p.Reasons))
		}
		ew.printf("\n")
	}
}

func (rg *ReportGenerator) truncated(ew *errWriter, i, total int) bool {
	max := rg.config.MaxListItems
	if max > 0 && i >= max {
		ew.printf("  ... and %d more\n", total-max)
		return true
	}
	return false
}

func (rg *ReportGenerator) printDashboard(ew *errWriter, d *Dashboard) {
	tw := tabwriter.NewWriter(ew, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "field\t%s\t%s\tdifference\t\n", d.SideA, d.SideB)
	for _, row := range d.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", row.Field, row.TotalA.StringFixed(2), row.TotalB.StringFixed(2), row.Difference.StringFixed(2))
	}
	fmt.Fprintf(tw, "records\t%d\t%d\t%d\t\n", d.CountA, d.CountB, d.CountA-d.CountB)
	if err := tw.Flush(); err != nil && ew.err == nil {
		ew.err = err
	}
}

// DashboardRow holds the totals of one currency field.
type DashboardRow struct {
	Field      string          `json:"field"`
	TotalA     decimal.Decimal `json:"total_a"`
	TotalB     decimal.Decimal `json:"total_b"`
	Difference decimal.Decimal `json:"difference"`
}

// Dashboard compares both sides field by field over the reconciled records.
type Dashboard struct {
	SideA  models.Side    `json:"side_a"`
	SideB  models.Side    `json:"side_b"`
	CountA int            `json:"count_a"`
	CountB int            `json:"count_b"`
	Rows   []DashboardRow `json:"rows"`
}

// BuildDashboard derives the dashboard from the result summary.
func BuildDashboard(result *reconciler.Result) *Dashboard {
	s := result.Summary
	d := &Dashboard{
		SideA:  s.A.Side,
		SideB:  s.B.Side,
		CountA: s.A.Reconciled,
		CountB: s.B.Reconciled,
		Rows:   make([]DashboardRow, 0, len(models.CurrencyFields)),
	}
	for _, name := range models.CurrencyFields {
		a, b := s.A.Totals[name], s.B.Totals[name]
		d.Rows = append(d.Rows, DashboardRow{Field: name, TotalA: a, TotalB: b, Difference: a.Sub(b)})
	}
	return d
}

func joinReasons(reasons []matcher.DiscrepancyReason) string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return strings.Join(out, ";")
}

// errWriter keeps the first write error so console output can be written
// without checking every call.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	ew.err = err
	return n, err
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	fmt.Fprintf(ew, format, args...)
}
