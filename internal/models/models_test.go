package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func sampleTransaction() *Transaction {
	return &Transaction{
		BankCode:        "104",
		ReferenceNumber: "14999000002922185",
		FaceValue:       decimal.RequireFromString("7026.80"),
		AmountPaid:      decimal.RequireFromString("7026.80"),
		NetAmount:       decimal.RequireFromString("7026.80"),
		OccurrenceDate:  "06032026",
		CreditDate:      "07032026",
		SourceFile:      "RET_0603.txt",
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		input   string
		want    Side
		wantErr bool
	}{
		{"api", SideAPI, false},
		{" GERAL ", SideGeneral, false},
		{"bank", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSide(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSide(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSide(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}

	if SideAPI.Table() != "api_transactions" || SideGeneral.Table() != "geral_transactions" {
		t.Errorf("unexpected default tables: %s, %s", SideAPI.Table(), SideGeneral.Table())
	}
}

func TestDateField(t *testing.T) {
	tx := sampleTransaction()

	if got := OccurrenceDate.ValueOf(tx); got != "06032026" {
		t.Errorf("occurrence date = %s", got)
	}
	if got := CreditDate.ValueOf(tx); got != "07032026" {
		t.Errorf("credit date = %s", got)
	}

	if _, err := ParseDateField("due_date"); err == nil {
		t.Error("expected due_date to be rejected as match field")
	}
	f, err := ParseDateField("CREDIT_DATE")
	if err != nil || f != CreditDate {
		t.Errorf("ParseDateField(CREDIT_DATE) = %s, %v", f, err)
	}
}

func TestParseDates(t *testing.T) {
	d, err := ParseRecordDate("29022024")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("got %v", d)
	}

	for _, bad := range []string{"", "00000000", "31022024", "2024-01-01", "1012024"} {
		if _, err := ParseRecordDate(bad); err == nil {
			t.Errorf("expected error for record date %q", bad)
		}
	}

	b, err := ParseBoundDate("01/03/2026")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Month() != time.March || b.Day() != 1 {
		t.Errorf("bound parsed as %v", b)
	}
	if _, err := ParseBoundDate("2026-03-01"); err == nil {
		t.Error("expected ISO bound to be rejected")
	}
}

func TestRoundCurrenciesAndClone(t *testing.T) {
	tx := sampleTransaction()
	tx.AmountPaid = decimal.RequireFromString("10.005")
	tx.LateFee = decimal.RequireFromString("0.3333")

	c := tx.Clone()
	c.RoundCurrencies(2)

	if !c.AmountPaid.Equal(decimal.RequireFromString("10.01")) {
		t.Errorf("amount paid rounded to %s", c.AmountPaid)
	}
	if !c.LateFee.Equal(decimal.RequireFromString("0.33")) {
		t.Errorf("late fee rounded to %s", c.LateFee)
	}
	if !tx.AmountPaid.Equal(decimal.RequireFromString("10.005")) {
		t.Errorf("original mutated: %s", tx.AmountPaid)
	}
}

func TestCurrencyValuesAlignment(t *testing.T) {
	tx := &Transaction{AmountPaid: decimal.NewFromInt(5), OtherCredits: decimal.NewFromInt(9)}
	values := tx.CurrencyValues()
	if len(values) != len(CurrencyFields) {
		t.Fatalf("got %d values for %d fields", len(values), len(CurrencyFields))
	}
	for i, name := range CurrencyFields {
		switch name {
		case "amount_paid":
			if !values[i].Equal(decimal.NewFromInt(5)) {
				t.Errorf("amount_paid = %s", values[i])
			}
		case "other_credits":
			if !values[i].Equal(decimal.NewFromInt(9)) {
				t.Errorf("other_credits = %s", values[i])
			}
		}
	}
}

func TestEqualsAndDedupKey(t *testing.T) {
	a := sampleTransaction()
	b := sampleTransaction()
	b.AmountPaid = decimal.RequireFromString("7026.8000")

	if !a.Equals(b) {
		t.Error("expected numerically equal transactions to be equal")
	}
	if a.DedupKey() != b.DedupKey() {
		t.Errorf("dedup keys differ: %s vs %s", a.DedupKey(), b.DedupKey())
	}

	b.PayerName = "OTHER"
	if a.Equals(b) {
		t.Error("expected payer name difference to break equality")
	}
	if a.Equals(nil) {
		t.Error("expected nil to be unequal")
	}
}

func TestValidate(t *testing.T) {
	tx := sampleTransaction()
	if err := tx.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	tx.ReferenceNumber = "  "
	if err := tx.Validate(); err == nil {
		t.Error("expected empty reference to fail validation")
	}
}

func TestTransactionJSON(t *testing.T) {
	tx := sampleTransaction()
	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Transaction
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !tx.Equals(&back) {
		t.Errorf("round trip changed the transaction: %s vs %s", tx, &back)
	}
}

func TestCompareAmountsWithTolerance(t *testing.T) {
	tol := decimal.RequireFromString("0.01")
	if !CompareAmountsWithTolerance(decimal.RequireFromString("100.00"), decimal.RequireFromString("100.01"), tol) {
		t.Error("expected one cent to be within tolerance")
	}
	if CompareAmountsWithTolerance(decimal.RequireFromString("100.00"), decimal.RequireFromString("100.02"), tol) {
		t.Error("expected two cents to exceed tolerance")
	}
}
