package parsers

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"cnab-reconciliation-service/internal/models"
)

const (
	// LineLength is the minimum length of a CNAB240 detail line. Shorter lines are noise.
	LineLength = 240
	// markerIndex is the 0-based position of the segment marker.
	markerIndex = 13

	markerHeader       = 'T'
	markerContinuation = 'U'
)

type fieldKind int

const (
	rawField fieldKind = iota
	trimmedField
	centsField
)

// field maps a half-open rune range of a segment to a Transaction attribute.
type field struct {
	name       string
	start, end int
	kind       fieldKind
	text       func(*models.Transaction) *string
	amount     func(*models.Transaction) *decimal.Decimal
}

func (f field) width() int {
	return f.end - f.start
}

// headerLayout is the T segment.
var headerLayout = []field{
	{name: "bank_code", start: 0, end: 3, text: func(t *models.Transaction) *string { return &t.BankCode }},
	{name: "batch_code", start: 3, end: 7, text: func(t *models.Transaction) *string { return &t.BatchCode }},
	{name: "record_type", start: 7, end: 8, text: func(t *models.Transaction) *string { return &t.RecordType }},
	{name: "sequence_number", start: 8, end: 13, text: func(t *models.Transaction) *string { return &t.SequenceNumber }},
	{name: "movement_code", start: 15, end: 17, text: func(t *models.Transaction) *string { return &t.MovementCode }},
	{name: "branch", start: 17, end: 22, text: func(t *models.Transaction) *string { return &t.Branch }},
	{name: "account", start: 23, end: 35, text: func(t *models.Transaction) *string { return &t.Account }},
	{name: "reference_number", start: 37, end: 57, kind: trimmedField, text: func(t *models.Transaction) *string { return &t.ReferenceNumber }},
	{name: "wallet_code", start: 57, end: 58, text: func(t *models.Transaction) *string { return &t.WalletCode }},
	{name: "document_number", start: 58, end: 73, kind: trimmedField, text: func(t *models.Transaction) *string { return &t.DocumentNumber }},
	{name: "due_date", start: 73, end: 81, text: func(t *models.Transaction) *string { return &t.DueDate }},
	{name: "face_value", start: 81, end: 96, kind: centsField, amount: func(t *models.Transaction) *decimal.Decimal { return &t.FaceValue }},
	{name: "collecting_bank", start: 96, end: 99, text: func(t *models.Transaction) *string { return &t.CollectingBank }},
	{name: "collecting_branch", start: 99, end: 104, text: func(t *models.Transaction) *string { return &t.CollectingBranch }},
	{name: "company_title_id", start: 105, end: 130, kind: trimmedField, text: func(t *models.Transaction) *string { return &t.CompanyTitleID }},
	{name: "payer_tax_id_type", start: 131, end: 132, text: func(t *models.Transaction) *string { return &t.PayerTaxIDType }},
	{name: "payer_tax_id", start: 132, end: 147, text: func(t *models.Transaction) *string { return &t.PayerTaxID }},
	{name: "payer_name", start: 147, end: 187, kind: trimmedField, text: func(t *models.Transaction) *string { return &t.PayerName }},
	{name: "contract_number", start: 187, end: 197, text: func(t *models.Transaction) *string { return &t.ContractNumber }},
	{name: "fee_value", start: 197, end: 212, kind: centsField, amount: func(t *models.Transaction) *decimal.Decimal { return &t.FeeValue }},
	{name: "occurrence_reason", start: 212, end: 222, kind: trimmedField, text: func(t *models.Transaction) *string { return &t.OccurrenceReason }},
}

// continuationLayout is the U segment.
var continuationLayout = []field{
	{name: "late_fee", start: 17, end: 32, kind: centsField, amount: func(t *models.Transaction) *decimal.Decimal { return &t.LateFee }},
	{name: "discount", start: 32, end: 47, kind: centsField, amount: func(t *models.Transaction) *decimal.Decimal { return &t.Discount }},
	{name: "rebate", start: 47, end: 62, kind: centsField, amount: func(t *models.Transaction) *decimal.Decimal { return &t.Rebate }},
	{name: "tax_withheld", start: 62, end: 77, kind: centsField, amount: func(t *models.Transaction) *decimal.Decimal { return &t.TaxWithheld }},
	{name: "amount_paid", start: 77, end: 92, kind: centsField, amount: func(t *models.Transaction) *decimal.Decimal { return &t.AmountPaid }},
	{name: "net_amount", start: 92, end: 107, kind: centsField, amount: func(t *models.Transaction) *decimal.Decimal { return &t.NetAmount }},
	{name: "other_expenses", start: 107, end: 122, kind: centsField, amount: func(t *models.Transaction) *decimal.Decimal { return &t.OtherExpenses }},
	{name: "other_credits", start: 122, end: 137, kind: centsField, amount: func(t *models.Transaction) *decimal.Decimal { return &t.OtherCredits }},
	{name: "occurrence_date", start: 137, end: 145, text: func(t *models.Transaction) *string { return &t.OccurrenceDate }},
	{name: "credit_date", start: 145, end: 153, text: func(t *models.Transaction) *string { return &t.CreditDate }},
}

// sequenceField locates the sequence number on both segment types.
var sequenceField = headerLayout[3]

// fieldError is returned by applyLayout when a field cannot be coerced.
type fieldError struct {
	field string
	value string
	err   error
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("field %s='%s': %v", e.field, e.value, e.err)
}

// applyLayout copies every field of layout from line into t.
func applyLayout(layout []field, line []rune, t *models.Transaction) error {
	for _, f := range layout {
		raw := string(line[f.start:f.end])
		switch f.kind {
		case rawField:
			*f.text(t) = raw
		case trimmedField:
			*f.text(t) = strings.TrimSpace(raw)
		case centsField:
			v, err := parseCents(raw)
			if err != nil {
				return &fieldError{field: f.name, value: raw, err: err}
			}
			*f.amount(t) = v
		}
	}
	return nil
}

// parseCents decodes an integer-cents slot into a fixed-point amount.
// Surrounding spaces and a leading sign are accepted, anything else is not.
func parseCents(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	digits := strings.TrimLeft(s, "+-")
	if len(s)-len(digits) > 1 {
		return decimal.Zero, fmt.Errorf("repeated sign")
	}
	if digits == "" {
		return decimal.Zero, fmt.Errorf("no digits")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return decimal.Zero, fmt.Errorf("non-digit character %q", r)
		}
	}
	cents, err := decimal.NewFromString(strings.TrimPrefix(s, "+"))
	if err != nil {
		return decimal.Zero, err
	}
	return cents.Shift(-2), nil
}
