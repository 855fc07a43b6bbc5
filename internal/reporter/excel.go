package reporter

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"cnab-reconciliation-service/internal/matcher"
	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/internal/reconciler"
)

const (
	sheetDiscrepancies = "Discrepancies"
	sheetMatched       = "Matched"
	sheetInfo          = "Info"
	totalLabel         = "TOTAL"

	// excelize built-in number format "#,##0.00"
	currencyNumFmt = 4
)

// column is one spreadsheet column. Currency columns are summed in the
// TOTAL row.
type column struct {
	title    string
	currency bool
}

// sheet accumulates rows and running currency totals.
type sheet struct {
	name    string
	columns []column
	rows    [][]interface{}
	totals  []decimal.Decimal
}

func newSheet(name string, columns []column) *sheet {
	return &sheet{name: name, columns: columns, totals: make([]decimal.Decimal, len(columns))}
}

// add appends a row. Currency cells are passed as decimal.Decimal.
func (s *sheet) add(values ...interface{}) {
	row := make([]interface{}, len(values))
	for i, v := range values {
		if d, ok := v.(decimal.Decimal); ok {
			s.totals[i] = s.totals[i].Add(d)
			row[i] = d.InexactFloat64()
			continue
		}
		row[i] = v
	}
	s.rows = append(s.rows, row)
}

func (s *sheet) totalRow() []interface{} {
	row := make([]interface{}, len(s.columns))
	row[0] = totalLabel
	for i, c := range s.columns {
		if c.currency {
			row[i] = s.totals[i].InexactFloat64()
		}
	}
	return row
}

func transactionColumns() []column {
	cols := []column{
		{title: "reference_number"},
		{title: "occurrence_date"},
		{title: "credit_date"},
		{title: "due_date"},
		{title: "payer_name"},
		{title: "payer_tax_id"},
		{title: "document_number"},
		{title: "movement_code"},
	}
	for _, name := range models.CurrencyFields {
		cols = append(cols, column{title: name, currency: true})
	}
	return append(cols, column{title: "source_file"})
}

func transactionRow(tx *models.Transaction) []interface{} {
	row := []interface{}{
		tx.ReferenceNumber,
		tx.OccurrenceDate,
		tx.CreditDate,
		tx.DueDate,
		tx.PayerName,
		tx.PayerTaxID,
		tx.DocumentNumber,
		tx.MovementCode,
	}
	for _, v := range tx.CurrencyValues() {
		row = append(row, v)
	}
	return append(row, tx.SourceFile)
}

func pairColumns(a, b models.Side) []column {
	return []column{
		{title: "reference_number"},
		{title: "date_field"},
		{title: "date_" + a.String()},
		{title: "date_" + b.String()},
		{title: "amount_paid_" + a.String(), currency: true},
		{title: "amount_paid_" + b.String(), currency: true},
		{title: "amount_difference", currency: true},
		{title: "net_amount_" + a.String(), currency: true},
		{title: "net_amount_" + b.String(), currency: true},
		{title: "reasons"},
		{title: "source_file_" + a.String()},
		{title: "source_file_" + b.String()},
	}
}

func pairRow(p *matcher.MatchedPair) []interface{} {
	return []interface{}{
		p.ReferenceNumber,
		p.DateField.String(),
		p.MatchDateA,
		p.MatchDateB,
		p.AmountPaidA,
		p.AmountPaidB,
		p.AmountDifference,
		p.A.NetAmount,
		p.B.NetAmount,
		joinReasons(p.Reasons),
		p.A.SourceFile,
		p.B.SourceFile,
	}
}

// buildSheets lays out the workbook: discrepancies, one sheet per side for
// unmatched records, then matched pairs. With no matched pair the Matched
// sheet is replaced by an Info sheet.
func buildSheets(result *reconciler.Result) []*sheet {
	a, b := result.Summary.A.Side, result.Summary.B.Side

	disc := newSheet(sheetDiscrepancies, pairColumns(a, b))
	for _, p := range result.Discrepancies {
		disc.add(pairRow(p)...)
	}

	onlyA := newSheet("Only_"+a.String(), transactionColumns())
	for _, rec := range result.MissingInB {
		onlyA.add(transactionRow(rec.Transaction)...)
	}

	onlyB := newSheet("Only_"+b.String(), transactionColumns())
	for _, rec := range result.MissingInA {
		onlyB.add(transactionRow(rec.Transaction)...)
	}

	sheets := []*sheet{disc, onlyA, onlyB}

	if len(result.Matched) == 0 {
		info := newSheet(sheetInfo, []column{{title: "message"}})
		info.add(fmt.Sprintf("No matching records between %s and %s", a, b))
		return append(sheets, info)
	}

	matched := newSheet(sheetMatched, pairColumns(a, b))
	for _, p := range result.Matched {
		matched.add(pairRow(p)...)
	}
	return append(sheets, matched)
}

func (rg *ReportGenerator) generateExcelReport(result *reconciler.Result, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	currencyStyle, err := f.NewStyle(&excelize.Style{NumFmt: currencyNumFmt})
	if err != nil {
		return fmt.Errorf("failed to create currency style: %w", err)
	}

	for i, s := range buildSheets(result) {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return fmt.Errorf("failed to name sheet %s: %w", s.name, err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", s.name, err)
		}
		if err := writeSheet(f, s, headerStyle, currencyStyle); err != nil {
			return fmt.Errorf("failed to write sheet %s: %w", s.name, err)
		}
	}

	if err := f.Write(writer); err != nil {
		return fmt.Errorf("failed to write Excel file: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, s *sheet, headerStyle, currencyStyle int) error {
	header := make([]interface{}, len(s.columns))
	for i, c := range s.columns {
		header[i] = c.title
	}
	if err := f.SetSheetRow(s.name, "A1", &header); err != nil {
		return err
	}

	lastCol, err := excelize.ColumnNumberToName(len(s.columns))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(s.name, "A1", lastCol+"1", headerStyle); err != nil {
		return err
	}

	rows := s.rows
	if s.name != sheetInfo {
		rows = append(rows, s.totalRow())
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(s.name, cell, &row); err != nil {
			return err
		}
	}

	lastRow := len(rows) + 1
	for i, c := range s.columns {
		colName, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		width := float64(len(c.title) + 4)
		if width < 12 {
			width = 12
		}
		if err := f.SetColWidth(s.name, colName, colName, width); err != nil {
			return err
		}
		if c.currency && lastRow > 1 {
			if err := f.SetCellStyle(s.name, colName+"2", fmt.Sprintf("%s%d", colName, lastRow), currencyStyle); err != nil {
				return err
			}
		}
	}
	return nil
}
