package reconciler

import (
	"testing"

	"github.com/shopspring/decimal"

	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/pkg/errors"
)

func tx(ref, paid, occurrence string) *models.Transaction {
	return &models.Transaction{
		ReferenceNumber: ref,
		AmountPaid:      decimal.RequireFromString(paid),
		OccurrenceDate:  occurrence,
		CreditDate:      occurrence,
	}
}

func TestResolveDateRange(t *testing.T) {
	tests := []struct {
		name      string
		r         *DateRange
		wantWin   bool
		wantCodes []errors.ErrorCode
	}{
		{"nil", nil, false, nil},
		{"blank", &DateRange{Start: " ", End: ""}, false, nil},
		{"valid", &DateRange{Start: "01/01/2024", End: "31/01/2024"}, true, nil},
		{"same day", &DateRange{Start: "15/01/2024", End: "15/01/2024"}, true, nil},
		{"reversed", &DateRange{Start: "31/01/2024", End: "01/01/2024"}, true, []errors.ErrorCode{errors.CodeInvalidDate}},
		{"only start", &DateRange{Start: "01/01/2024"}, false, []errors.ErrorCode{errors.CodeFilterFailure}},
		{"only end", &DateRange{End: "01/01/2024"}, false, []errors.ErrorCode{errors.CodeFilterFailure}},
		{"bad start", &DateRange{Start: "2024-01-01", End: "31/01/2024"}, false, []errors.ErrorCode{errors.CodeFilterFailure}},
		{"bad end", &DateRange{Start: "01/01/2024", End: "32/01/2024"}, false, []errors.ErrorCode{errors.CodeFilterFailure}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			win, diags := resolveDateRange(tt.r)
			if (win != nil) != tt.wantWin {
				t.Fatalf("window = %v, want present=%v", win, tt.wantWin)
			}
			if len(diags) != len(tt.wantCodes) {
				t.Fatalf("got %d diagnostics, want %d: %v", len(diags), len(tt.wantCodes), diags)
			}
			for i, code := range tt.wantCodes {
				if diags[i].Code != code {
					t.Errorf("diagnostic %d code = %s, want %s", i, diags[i].Code, code)
				}
			}
			if win != nil && tt.r != nil {
				start, _ := models.ParseBoundDate(tt.r.Start)
				end, _ := models.ParseBoundDate(tt.r.End)
				if !win.start.Equal(start) || !win.end.Equal(end) {
					t.Errorf("window = %v..%v, want the bounds as given", win.start, win.end)
				}
			}
		})
	}
}

func TestFilterByValue(t *testing.T) {
	in := []*models.Transaction{
		tx("1", "10.00", "01012024"),
		tx("2", "0", "01012024"),
		tx("3", "-5.00", "01012024"),
		tx("4", "0.01", "01012024"),
	}

	kept, dropped := filterByValue(in)
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if len(kept) != 2 || kept[0].ReferenceNumber != "1" || kept[1].ReferenceNumber != "4" {
		t.Errorf("unexpected kept transactions: %v", kept)
	}
}

func TestFilterByDate(t *testing.T) {
	in := []*models.Transaction{
		tx("before", "1", "31122023"),
		tx("start", "1", "01012024"),
		tx("inside", "1", "15012024"),
		tx("end", "1", "31012024"),
		tx("after", "1", "01022024"),
		tx("garbage", "1", "00000000"),
		tx("blank", "1", ""),
	}
	win, _ := resolveDateRange(&DateRange{Start: "01/01/2024", End: "31/01/2024"})

	kept, outside, bad := filterByDate(in, models.OccurrenceDate, *win)

	if len(kept) != 3 {
		t.Fatalf("kept %d, want 3 (bounds are inclusive)", len(kept))
	}
	for i, ref := range []string{"start", "inside", "end"} {
		if kept[i].ReferenceNumber != ref {
			t.Errorf("kept[%d] = %s, want %s", i, kept[i].ReferenceNumber, ref)
		}
	}
	if outside != 2 || bad != 2 {
		t.Errorf("outside = %d, bad = %d, want 2 and 2", outside, bad)
	}
}

func TestFilterByDate_ReversedRangeKeepsNothing(t *testing.T) {
	in := []*models.Transaction{
		tx("start", "1", "01012024"),
		tx("inside", "1", "15012024"),
		tx("end", "1", "31012024"),
	}
	win, diags := resolveDateRange(&DateRange{Start: "31/01/2024", End: "01/01/2024"})
	if win == nil || len(diags) != 1 {
		t.Fatalf("window = %v, diagnostics = %v", win, diags)
	}

	kept, outside, _ := filterByDate(in, models.OccurrenceDate, *win)
	if len(kept) != 0 || outside != 3 {
		t.Errorf("kept %d, outside %d, want 0 and 3", len(kept), outside)
	}
}

func TestFilterByDate_CreditField(t *testing.T) {
	x := tx("X", "1", "01012024")
	x.CreditDate = "10022024"
	win, _ := resolveDateRange(&DateRange{Start: "01/02/2024", End: "28/02/2024"})

	if kept, _, _ := filterByDate([]*models.Transaction{x}, models.OccurrenceDate, *win); len(kept) != 0 {
		t.Error("occurrence date is outside the window")
	}
	if kept, _, _ := filterByDate([]*models.Transaction{x}, models.CreditDate, *win); len(kept) != 1 {
		t.Error("credit date is inside the window")
	}
}

func TestDeduplicate(t *testing.T) {
	in := []*models.Transaction{
		tx("A", "10.00", "01012024"),
		tx("A", "10.0", "01012024"),
		tx("A", "10.00", "02012024"),
		tx("A", "11.00", "01012024"),
		tx("B", "10.00", "01012024"),
		tx("A", "10.00", "01012024"),
	}
	in[0].PayerName = "first"
	in[5].PayerName = "last"

	// 10.0 and 10.00 are the same amount, so both later copies collapse into the first.
	kept, removed := deduplicate(in)
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if len(kept) != 4 || kept[0].PayerName != "first" {
		t.Errorf("expected first occurrence kept, got %v", kept)
	}

	again, removedAgain := deduplicate(kept)
	if removedAgain != 0 || len(again) != len(kept) {
		t.Error("deduplicate must be idempotent")
	}
}

func TestNormalize(t *testing.T) {
	in := []*models.Transaction{tx("  ABC  ", "10.005", "01012024")}
	in[0].FaceValue = decimal.RequireFromString("3.14159")

	out := normalize(in, 2)

	if out[0].ReferenceNumber != "ABC" {
		t.Errorf("reference = %q, want trimmed", out[0].ReferenceNumber)
	}
	if !out[0].AmountPaid.Equal(decimal.RequireFromString("10.01")) {
		t.Errorf("amount paid = %s, want 10.01", out[0].AmountPaid)
	}
	if !out[0].FaceValue.Equal(decimal.RequireFromString("3.14")) {
		t.Errorf("face value = %s, want 3.14", out[0].FaceValue)
	}
	if in[0].ReferenceNumber != "  ABC  " || !in[0].AmountPaid.Equal(decimal.RequireFromString("10.005")) {
		t.Error("normalize must not modify its input")
	}
}
