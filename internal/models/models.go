package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side names one of the two independently collected transaction sets.
type Side string

const (
	// SideAPI holds transactions collected from the bank API.
	SideAPI Side = "api"
	// SideGeneral holds transactions from the general return file.
	SideGeneral Side = "geral"
)

func (s Side) String() string {
	return string(s)
}

// IsValid reports whether s is a known side.
func (s Side) IsValid() bool {
	return s == SideAPI || s == SideGeneral
}

// Table returns the default storage table for the side.
func (s Side) Table() string {
	return string(s) + "_transactions"
}

// ParseSide parses a side name, case-insensitively.
func ParseSide(s string) (Side, error) {
	side := Side(strings.ToLower(strings.TrimSpace(s)))
	if !side.IsValid() {
		return "", fmt.Errorf("invalid side '%s': must be %s or %s", s, SideAPI, SideGeneral)
	}
	return side, nil
}

// DateField selects which settlement date drives filtering and date discrepancies.
type DateField string

const (
	OccurrenceDate DateField = "occurrence_date"
	CreditDate     DateField = "credit_date"
)

func (f DateField) String() string {
	return string(f)
}

// IsValid reports whether f is a selectable date field.
func (f DateField) IsValid() bool {
	return f == OccurrenceDate || f == CreditDate
}

// ValueOf returns the raw DDMMYYYY value of the field on t.
func (f DateField) ValueOf(t *Transaction) string {
	if f == CreditDate {
		return t.CreditDate
	}
	return t.OccurrenceDate
}

// ParseDateField parses a date field selector.
func ParseDateField(s string) (DateField, error) {
	f := DateField(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("invalid match field '%s': must be %s or %s", s, OccurrenceDate, CreditDate)
	}
	return f, nil
}

const (
	// RecordDateLayout is the 8-digit date layout stored on transactions.
	RecordDateLayout = "02012006"
	// BoundDateLayout is the layout of user supplied range bounds.
	BoundDateLayout = "02/01/2006"
)

// ParseRecordDate parses a DDMMYYYY record date.
func ParseRecordDate(s string) (time.Time, error) {
	t, err := time.Parse(RecordDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid record date '%s': %w", s, err)
	}
	return t, nil
}

// ParseBoundDate parses a DD/MM/YYYY range bound.
func ParseBoundDate(s string) (time.Time, error) {
	t, err := time.Parse(BoundDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date bound '%s': %w", s, err)
	}
	return t, nil
}

// Transaction is one settled title decoded from a T/U segment pair.
// Currency fields are fixed-point values decoded from integer cents.
type Transaction struct {
	BankCode       string `json:"bank_code"`
	BatchCode      string `json:"batch_code"`
	RecordType     string `json:"record_type"`
	SequenceNumber string `json:"sequence_number"`
	MovementCode   string `json:"movement_code"`
	Branch         string `json:"branch"`
	Account        string `json:"account"`

	// ReferenceNumber is the bank-assigned "nosso número". Not unique.
	ReferenceNumber string `json:"reference_number"`

	WalletCode       string          `json:"wallet_code"`
	DocumentNumber   string          `json:"document_number"`
	DueDate          string          `json:"due_date"`
	FaceValue        decimal.Decimal `json:"face_value"`
	CollectingBank   string          `json:"collecting_bank"`
	CollectingBranch string          `json:"collecting_branch"`
	CompanyTitleID   string          `json:"company_title_id"`
	PayerTaxIDType   string          `json:"payer_tax_id_type"`
	PayerTaxID       string          `json:"payer_tax_id"`
	PayerName        string          `json:"payer_name"`
	ContractNumber   string          `json:"contract_number"`
	FeeValue         decimal.Decimal `json:"fee_value"`
	OccurrenceReason string          `json:"occurrence_reason"`

	LateFee        decimal.Decimal `json:"late_fee"`
	Discount       decimal.Decimal `json:"discount"`
	Rebate         decimal.Decimal `json:"rebate"`
	TaxWithheld    decimal.Decimal `json:"tax_withheld"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	OtherExpenses  decimal.Decimal `json:"other_expenses"`
	OtherCredits   decimal.Decimal `json:"other_credits"`
	OccurrenceDate string          `json:"occurrence_date"`
	CreditDate     string          `json:"credit_date"`

	SourceFile string `json:"source_file"`
	ImportID   string `json:"import_id,omitempty"`
}

// CurrencyFields lists the currency columns in layout order. It is aligned
// with the slice returned by CurrencyValues.
var CurrencyFields = []string{
	"face_value",
	"fee_value",
	"late_fee",
	"discount",
	"rebate",
	"tax_withheld",
	"amount_paid",
	"net_amount",
	"other_expenses",
	"other_credits",
}

func (t *Transaction) currencyPointers() []*decimal.Decimal {
	return []*decimal.Decimal{
		&t.FaceValue,
		&t.FeeValue,
		&t.LateFee,
		&t.Discount,
		&t.Rebate,
		&t.TaxWithheld,
		&t.AmountPaid,
		&t.NetAmount,
		&t.OtherExpenses,
		&t.OtherCredits,
	}
}

// CurrencyValues returns the currency fields in CurrencyFields order.
func (t *Transaction) CurrencyValues() []decimal.Decimal {
	ptrs := t.currencyPointers()
	out := make([]decimal.Decimal, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

// RoundCurrencies rounds every currency field to places decimals in place.
func (t *Transaction) RoundCurrencies(places int32) {
	for _, p := range t.currencyPointers() {
		*p = p.Round(places)
	}
}

// Clone returns an independent copy. decimal.Decimal values are immutable,
// so a shallow struct copy is sufficient.
func (t *Transaction) Clone() *Transaction {
	c := *t
	return &c
}

// Validate checks the fields the reconciliation depends on.
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.ReferenceNumber) == "" {
		return fmt.Errorf("reference number cannot be empty")
	}
	if len(t.OccurrenceDate) != 8 {
		return fmt.Errorf("occurrence date must have 8 digits, got '%s'", t.OccurrenceDate)
	}
	return nil
}

func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{Ref: %s, Paid: %s, Occurrence: %s, Credit: %s, Source: %s}",
		t.ReferenceNumber, t.AmountPaid.StringFixed(2), t.OccurrenceDate, t.CreditDate, t.SourceFile)
}

// Equals compares every decoded field. Currency values compare numerically.
func (t *Transaction) Equals(other *Transaction) bool {
	if other == nil {
		return false
	}
	a, b := t.CurrencyValues(), other.CurrencyValues()
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	x, y := *t, *other
	for _, p := range x.currencyPointers() {
		*p = decimal.Zero
	}
	for _, p := range y.currencyPointers() {
		*p = decimal.Zero
	}
	return x == y
}

// DedupKey identifies literal duplicates: reference, amount paid and occurrence date.
func (t *Transaction) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s", t.ReferenceNumber, t.AmountPaid.String(), t.OccurrenceDate)
}

// CompareAmountsWithTolerance reports whether |a-b| <= tolerance.
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
