package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/internal/reconciler"
	"cnab-reconciliation-service/pkg/errors"
)

func tx(ref, paid, occurrence, source string) *models.Transaction {
	return &models.Transaction{
		ReferenceNumber: ref,
		AmountPaid:      decimal.RequireFromString(paid),
		NetAmount:       decimal.RequireFromString(paid),
		OccurrenceDate:  occurrence,
		CreditDate:      occurrence,
		PayerName:       "PAYER " + ref,
		SourceFile:      source,
	}
}

// sampleResult has one clean match, one date discrepancy, two records only
// in api and one only in geral.
func sampleResult(t *testing.T) *reconciler.Result {
	t.Helper()
	a := []*models.Transaction{
		tx("M1", "100.00", "01012024", "api.ret"),
		tx("D1", "50.00", "01012024", "api.ret"),
		tx("A1", "10.00", "01012024", "api.ret"),
		tx("A2", "5.25", "01012024", "api.ret"),
	}
	b := []*models.Transaction{
		tx("M1", "100.00", "01012024", "geral.ret"),
		tx("D1", "50.00", "02012024", "geral.ret"),
		tx("B1", "7.00", "01012024", "geral.ret"),
	}
	return compare(t, a, b)
}

func compare(t *testing.T, a, b []*models.Transaction) *reconciler.Result {
	t.Helper()
	r, err := reconciler.NewReconciler(nil)
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	result, err := r.Compare(a, b, models.OccurrenceDate, nil)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	return result
}

func generate(t *testing.T, config *ReportConfig, result *reconciler.Result) []byte {
	t.Helper()
	g, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("NewReportGenerator: %v", err)
	}
	var buf bytes.Buffer
	if err := g.GenerateReport(result, &buf); err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	return buf.Bytes()
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{"default config", nil, false},
		{"xlsx", &ReportConfig{Format: FormatXLSX}, false},
		{"invalid format", &ReportConfig{Format: "pdf"}, true},
		{"negative list size", &ReportConfig{Format: FormatConsole, MaxListItems: -1}, true},
		{"csv without delimiter", &ReportConfig{Format: FormatCSV}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReportGenerator(tt.config)
			if (err != nil) != tt.expectError {
				t.Errorf("NewReportGenerator() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

func TestGenerateReport_NilResult(t *testing.T) {
	g, _ := NewReportGenerator(nil)
	if err := g.GenerateReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected an error for a nil result")
	}
}

func TestConsoleReport(t *testing.T) {
	config := DefaultReportConfig()
	config.IncludeMatched = true
	out := string(generate(t, config, sampleResult(t)))

	for _, want := range []string{
		"=== SUMMARY ===",
		"=== ONLY IN API (2) ===",
		"=== ONLY IN GERAL (1) ===",
		"=== DISCREPANCIES (1) ===",
		"=== MATCHED (2) ===",
		"=== DASHBOARD ===",
		"Ref: D1, Paid: 50.00 / 50.00 (diff 0.00), occurrence_date: 01012024 / 02012024 [date]",
		"Ref: A2, Paid: 5.25",
		"Matched pairs:     2 (1 clean)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console report missing %q\n%s", want, out)
		}
	}
}

func TestConsoleReport_Truncation(t *testing.T) {
	var a []*models.Transaction
	for i := 0; i < 5; i++ {
		a = append(a, tx(string(rune('A'+i)), "1.00", "01012024", "x.ret"))
	}
	config := DefaultReportConfig()
	config.MaxListItems = 2

	out := string(generate(t, config, compare(t, a, nil)))
	if !strings.Contains(out, "... and 3 more") {
		t.Errorf("expected truncated list\n%s", out)
	}
}

func TestJSONReport(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	out := generate(t, config, sampleResult(t))

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, key := range []string{"summary", "missing_in_a", "missing_in_b", "matched", "discrepancies", "dashboard"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("JSON report missing %q", key)
		}
	}

	// Discrepancies are a subset of matched, so both pairs appear even
	// without include_matched.
	var matched []struct {
		ReferenceNumber string `json:"reference_number"`
	}
	if err := json.Unmarshal(decoded["matched"], &matched); err != nil {
		t.Fatalf("matched: %v", err)
	}
	if len(matched) != 2 {
		t.Errorf("got %d matched pairs, want 2", len(matched))
	}

	var missing []struct {
		Side        string `json:"side"`
		Transaction struct {
			ReferenceNumber string `json:"reference_number"`
		} `json:"transaction"`
	}
	if err := json.Unmarshal(decoded["missing_in_b"], &missing); err != nil {
		t.Fatal(err)
	}
	if len(missing) != 2 || missing[0].Side != "api" || missing[0].Transaction.ReferenceNumber != "A1" {
		t.Errorf("unexpected missing_in_b: %+v", missing)
	}
}

func TestCSVReport(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	config.IncludeMatched = true
	out := generate(t, config, sampleResult(t))

	rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}

	// header + 2 missing in b + 1 missing in a + 1 discrepancy + 2 matched
	if len(rows) != 7 {
		t.Fatalf("got %d rows, want 7", len(rows))
	}

	sections := map[string]int{}
	for _, row := range rows[1:] {
		if len(row) != len(csvHeaders) {
			t.Errorf("row has %d columns, want %d", len(row), len(csvHeaders))
		}
		sections[row[0]]++
	}
	want := map[string]int{sectionMissingInB: 2, sectionMissingInA: 1, sectionDiscrepancy: 1, sectionMatched: 2}
	for k, v := range want {
		if sections[k] != v {
			t.Errorf("section %s has %d rows, want %d", k, sections[k], v)
		}
	}
}

func openWorkbook(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("invalid workbook: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestExcelReport(t *testing.T) {
	out := generate(t, &ReportConfig{Format: FormatXLSX}, sampleResult(t))
	f := openWorkbook(t, out)

	got := f.GetSheetList()
	want := []string{"Discrepancies", "Only_api", "Only_geral", "Matched"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("sheets = %v, want %v", got, want)
	}

	rows, err := f.GetRows("Only_api")
	if err != nil {
		t.Fatal(err)
	}
	// header, A1, A2, TOTAL
	if len(rows) != 4 || rows[3][0] != totalLabel {
		t.Fatalf("unexpected Only_api rows: %v", rows)
	}

	paidCol := -1
	for i, title := range rows[0] {
		if title == "amount_paid" {
			paidCol = i
		}
	}
	if paidCol < 0 {
		t.Fatal("amount_paid column missing")
	}
	cell, _ := excelize.CoordinatesToCellName(paidCol+1, 4)
	total, err := f.GetCellValue("Only_api", cell, excelize.Options{RawCellValue: true})
	if err != nil {
		t.Fatal(err)
	}
	if !decimal.RequireFromString(total).Equal(decimal.RequireFromString("15.25")) {
		t.Errorf("amount_paid total = %s, want 15.25", total)
	}

	matched, _ := f.GetRows("Matched")
	if len(matched) != 4 || matched[3][0] != totalLabel {
		t.Errorf("expected 2 matched rows plus header and total, got %d", len(matched))
	}
}

func TestExcelReport_InfoSheetWithoutMatches(t *testing.T) {
	result := compare(t,
		[]*models.Transaction{tx("A", "1.00", "01012024", "a.ret")},
		[]*models.Transaction{tx("B", "1.00", "01012024", "b.ret")},
	)
	f := openWorkbook(t, generate(t, &ReportConfig{Format: FormatXLSX}, result))

	sheets := f.GetSheetList()
	if sheets[len(sheets)-1] != sheetInfo {
		t.Fatalf("sheets = %v, want Info last", sheets)
	}
	rows, _ := f.GetRows(sheetInfo)
	if len(rows) != 2 || !strings.Contains(rows[1][0], "No matching records") {
		t.Errorf("unexpected Info sheet: %v", rows)
	}
}

func TestBuildDashboard(t *testing.T) {
	d := BuildDashboard(sampleResult(t))

	if d.CountA != 4 || d.CountB != 3 {
		t.Errorf("counts = %d/%d, want 4/3", d.CountA, d.CountB)
	}
	if len(d.Rows) != len(models.CurrencyFields) {
		t.Fatalf("got %d rows, want one per currency field", len(d.Rows))
	}
	for _, row := range d.Rows {
		if row.Field != "amount_paid" {
			continue
		}
		if !row.TotalA.Equal(decimal.RequireFromString("165.25")) || !row.TotalB.Equal(decimal.RequireFromString("157.00")) {
			t.Errorf("amount_paid totals = %s/%s", row.TotalA, row.TotalB)
		}
		if !row.Difference.Equal(decimal.RequireFromString("8.25")) {
			t.Errorf("difference = %s, want 8.25", row.Difference)
		}
	}
}

func TestSafeReportGenerator(t *testing.T) {
	g, err := NewSafeReportGenerator(&ReportConfig{Format: FormatXLSX}, nil)
	if err != nil {
		t.Fatalf("NewSafeReportGenerator: %v", err)
	}

	if err := g.GenerateReportSafely(nil, &bytes.Buffer{}); !errors.HasCode(err, errors.CodeMissingField) {
		t.Errorf("nil result error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "reports", "out.xlsx")
	if err := g.GenerateToFile(sampleResult(t), path); err != nil {
		t.Fatalf("GenerateToFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	openWorkbook(t, data)

	if _, err := NewSafeReportGenerator(&ReportConfig{Format: "pdf"}, nil); !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("invalid config error = %v", err)
	}
}
