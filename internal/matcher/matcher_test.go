package matcher

import (
	"testing"

	"github.com/shopspring/decimal"

	"cnab-reconciliation-service/internal/models"
)

func tx(ref, paid, date string) *models.Transaction {
	return &models.Transaction{
		ReferenceNumber: ref,
		AmountPaid:      decimal.RequireFromString(paid),
		OccurrenceDate:  date,
		CreditDate:      date,
	}
}

func newEngine(t *testing.T, config *MatchingConfig) *Engine {
	t.Helper()
	e, err := NewEngine(config)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestJoin_Classification(t *testing.T) {
	a := []*models.Transaction{
		tx("A1", "100.00", "01012024"),
		tx("ONLY_A", "50.00", "01012024"),
		tx("ONLY_A", "60.00", "01012024"),
	}
	b := []*models.Transaction{
		tx("ONLY_B", "70.00", "01012024"),
		tx("A1", "100.00", "01012024"),
	}

	r := newEngine(t, nil).Join(a, b)

	if len(r.MissingInB) != 2 {
		t.Errorf("expected 2 missing in B, got %d", len(r.MissingInB))
	}
	for _, rec := range r.MissingInB {
		if rec.Side != models.SideAPI || rec.Transaction.ReferenceNumber != "ONLY_A" {
			t.Errorf("unexpected missing-in-B record: %+v", rec)
		}
	}
	if len(r.MissingInA) != 1 || r.MissingInA[0].Side != models.SideGeneral {
		t.Errorf("expected 1 missing in A tagged geral, got %+v", r.MissingInA)
	}
	if len(r.Matched) != 1 || len(r.Discrepancies) != 0 {
		t.Errorf("expected 1 clean match, got %d matched / %d discrepancies", len(r.Matched), len(r.Discrepancies))
	}

	p := r.Matched[0]
	if p.A != a[0] || p.B != b[1] {
		t.Error("matched pair must reference both source transactions")
	}
	if p.SideA != models.SideAPI || p.SideB != models.SideGeneral {
		t.Errorf("unexpected side tags %s/%s", p.SideA, p.SideB)
	}
}

func TestJoin_Multiplicity(t *testing.T) {
	a := []*models.Transaction{
		tx("123", "10.00", "01012024"),
		tx("123", "20.00", "01012024"),
	}
	b := []*models.Transaction{
		tx("123", "10.00", "01012024"),
		tx("123", "20.00", "01012024"),
		tx("123", "30.00", "01012024"),
	}

	r := newEngine(t, nil).Join(a, b)

	if len(r.Matched) != 6 {
		t.Fatalf("expected 6 pairs for 2x3 key collision, got %d", len(r.Matched))
	}
	// A-major order: each A transaction paired with every B transaction.
	for i, p := range r.Matched {
		if p.A != a[i/3] || p.B != b[i%3] {
			t.Errorf("pair %d combines unexpected transactions", i)
		}
	}
	// 10/10 and 20/20 are clean, the other four differ in amount.
	if len(r.Discrepancies) != 4 {
		t.Errorf("expected 4 discrepancies, got %d", len(r.Discrepancies))
	}
}

func TestJoin_Completeness(t *testing.T) {
	a := []*models.Transaction{
		tx("K1", "1.00", "01012024"),
		tx("K2", "2.00", "01012024"),
		tx("K2", "2.00", "02012024"),
		tx("K3", "3.00", "01012024"),
	}
	b := []*models.Transaction{
		tx("K2", "2.00", "01012024"),
		tx("K4", "4.00", "01012024"),
		tx("K4", "4.50", "01012024"),
		tx("K3", "3.00", "01012024"),
	}

	r := newEngine(t, nil).Join(a, b)

	seen := map[*models.Transaction]int{}
	for _, rec := range r.MissingInB {
		seen[rec.Transaction]++
	}
	for _, rec := range r.MissingInA {
		seen[rec.Transaction]++
	}
	for _, p := range r.Matched {
		seen[p.A]++
		seen[p.B]++
	}

	for _, x := range append(append([]*models.Transaction{}, a...), b...) {
		if seen[x] == 0 {
			t.Errorf("transaction %s dropped by the join", x)
		}
	}

	for _, rec := range r.MissingInB {
		for _, p := range r.Matched {
			if p.A == rec.Transaction {
				t.Errorf("transaction %s both missing and matched", rec.Transaction)
			}
		}
	}
}

func TestJoin_ToleranceBoundary(t *testing.T) {
	tests := []struct {
		name        string
		paidA       string
		paidB       string
		discrepancy bool
	}{
		{"equal", "100.00", "100.00", false},
		{"one cent", "100.00", "100.01", false},
		{"one cent reversed", "100.01", "100.00", false},
		{"two cents", "100.00", "100.02", true},
		{"large", "100.00", "90.00", true},
	}

	e := newEngine(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := e.Compare(tx("X", tt.paidA, "01012024"), tx("X", tt.paidB, "01012024"))
			if p.IsDiscrepancy() != tt.discrepancy {
				t.Errorf("IsDiscrepancy() = %v, want %v (diff %s)", p.IsDiscrepancy(), tt.discrepancy, p.AmountDifference)
			}
			if p.HasReason(ReasonDate) {
				t.Error("equal dates must not be a date discrepancy")
			}
		})
	}
}

func TestCompare_DateField(t *testing.T) {
	a := tx("A1", "100.00", "01012024")
	b := tx("A1", "100.00", "01012024")
	b.CreditDate = "05012024"

	occurrence := newEngine(t, nil).Compare(a, b)
	if occurrence.IsDiscrepancy() {
		t.Errorf("occurrence dates equal, got reasons %v", occurrence.Reasons)
	}

	config := DefaultMatchingConfig()
	config.DateField = models.CreditDate
	credit := newEngine(t, config).Compare(a, b)
	if !credit.HasReason(ReasonDate) || credit.HasReason(ReasonAmount) {
		t.Errorf("expected only a date discrepancy, got %v", credit.Reasons)
	}
	if credit.MatchDateA != "01012024" || credit.MatchDateB != "05012024" {
		t.Errorf("unexpected match dates %s/%s", credit.MatchDateA, credit.MatchDateB)
	}
}

func TestJoin_EndToEndScenario(t *testing.T) {
	a := []*models.Transaction{tx("A1", "100.00", "01012024")}
	b := []*models.Transaction{tx("A1", "100.00", "02012024")}

	r := newEngine(t, nil).Join(a, b)

	if len(r.Matched) != 1 || len(r.Discrepancies) != 1 {
		t.Fatalf("expected 1 matched and 1 discrepancy, got %d/%d", len(r.Matched), len(r.Discrepancies))
	}
	p := r.Discrepancies[0]
	if p != r.Matched[0] {
		t.Error("discrepancy must be the same pair as the matched one")
	}
	if p.HasReason(ReasonAmount) || !p.HasReason(ReasonDate) {
		t.Errorf("expected date-only discrepancy, got %v", p.Reasons)
	}
	if !p.AmountDifference.IsZero() {
		t.Errorf("expected zero amount difference, got %s", p.AmountDifference)
	}
}

func TestJoin_Empty(t *testing.T) {
	r := newEngine(t, nil).Join(nil, nil)
	if !r.IsEmpty() {
		t.Error("expected empty result")
	}
	if r.Matched == nil || r.MissingInA == nil || r.MissingInB == nil || r.Discrepancies == nil {
		t.Error("collections must be non-nil so they serialize as empty lists")
	}
}

func TestMatchingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*MatchingConfig)
		wantErr bool
	}{
		{"default", func(*MatchingConfig) {}, false},
		{"zero tolerance", func(c *MatchingConfig) { c.AmountTolerance = decimal.Zero }, false},
		{"negative tolerance", func(c *MatchingConfig) { c.AmountTolerance = decimal.NewFromInt(-1) }, true},
		{"bad date field", func(c *MatchingConfig) { c.DateField = "due_date" }, true},
		{"same sides", func(c *MatchingConfig) { c.SideB = c.SideA }, true},
		{"missing side", func(c *MatchingConfig) { c.SideA = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultMatchingConfig()
			tt.modify(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if _, err := NewEngine(c); (err != nil) != tt.wantErr {
				t.Errorf("NewEngine() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if !DefaultMatchingConfig().AmountTolerance.Equal(decimal.RequireFromString("0.01")) {
		t.Error("default tolerance must be one cent")
	}
}
