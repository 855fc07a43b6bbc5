package reconciler

import (
	"fmt"
	"strings"
	"time"

	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/pkg/errors"
)

// DateRange holds user supplied DD/MM/YYYY bounds. Both are inclusive.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// IsZero reports whether neither bound is set.
func (r *DateRange) IsZero() bool {
	return r == nil || (strings.TrimSpace(r.Start) == "" && strings.TrimSpace(r.End) == "")
}

func (r *DateRange) String() string {
	if r.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s - %s", r.Start, r.End)
}

// Diagnostic records a recovered anomaly of a reconciliation pass.
type Diagnostic struct {
	Code    errors.ErrorCode `json:"code"`
	Side    models.Side      `json:"side,omitempty"`
	Message string           `json:"message"`
	Count   int              `json:"count,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Side != "" {
		return fmt.Sprintf("[%s] %s: %s", d.Code, d.Side, d.Message)
	}
	return fmt.Sprintf("[%s] %s", d.Code, d.Message)
}

// window is a parsed date range, inclusive on both ends.
type window struct {
	start, end time.Time
}

func (w window) contains(t time.Time) bool {
	return !t.Before(w.start) && !t.After(w.end)
}

// resolveDateRange parses r. It returns a nil window when the filter must be
// skipped, along with the diagnostic explaining why. Reversed bounds are kept
// as given and match nothing.
func resolveDateRange(r *DateRange) (*window, []Diagnostic) {
	if r.IsZero() {
		return nil, nil
	}

	start, end := strings.TrimSpace(r.Start), strings.TrimSpace(r.End)
	if start == "" || end == "" {
		return nil, []Diagnostic{{
			Code:    errors.CodeFilterFailure,
			Message: fmt.Sprintf("date filter skipped: both start and end are required (start=%q, end=%q)", start, end),
		}}
	}

	s, err := models.ParseBoundDate(start)
	if err != nil {
		return nil, []Diagnostic{{Code: errors.CodeFilterFailure, Message: "date filter skipped: " + err.Error()}}
	}
	e, err := models.ParseBoundDate(end)
	if err != nil {
		return nil, []Diagnostic{{Code: errors.CodeFilterFailure, Message: "date filter skipped: " + err.Error()}}
	}

	var diags []Diagnostic
	if s.After(e) {
		diags = append(diags, Diagnostic{
			Code:    errors.CodeInvalidDate,
			Message: fmt.Sprintf("start %s is after end %s, no record can match", start, end),
		})
	}
	return &window{start: s, end: e}, diags
}

// filterByValue keeps transactions with a strictly positive amount paid.
func filterByValue(txs []*models.Transaction) (kept []*models.Transaction, dropped int) {
	kept = make([]*models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.AmountPaid.IsPositive() {
			kept = append(kept, tx)
			continue
		}
		dropped++
	}
	return kept, dropped
}

// filterByDate keeps transactions whose field date lies inside w. Records
// whose date does not parse are dropped and counted separately.
func filterByDate(txs []*models.Transaction, field models.DateField, w window) (kept []*models.Transaction, outside, unparseable int) {
	kept = make([]*models.Transaction, 0, len(txs))
	for _, tx := range txs {
		d, err := models.ParseRecordDate(field.ValueOf(tx))
		if err != nil {
			unparseable++
			continue
		}
		if !w.contains(d) {
			outside++
			continue
		}
		kept = append(kept, tx)
	}
	return kept, outside, unparseable
}

// deduplicate collapses transactions sharing reference, amount paid and
// occurrence date, keeping the first of each group in order.
func deduplicate(txs []*models.Transaction) (kept []*models.Transaction, removed int) {
	seen := make(map[string]bool, len(txs))
	kept = make([]*models.Transaction, 0, len(txs))
	for _, tx := range txs {
		key := tx.DedupKey()
		if seen[key] {
			removed++
			continue
		}
		seen[key] = true
		kept = append(kept, tx)
	}
	return kept, removed
}

// normalize returns trimmed, rounded copies. The inputs are left untouched.
func normalize(txs []*models.Transaction, places int32) []*models.Transaction {
	out := make([]*models.Transaction, len(txs))
	for i, tx := range txs {
		c := tx.Clone()
		c.ReferenceNumber = strings.TrimSpace(c.ReferenceNumber)
		c.RoundCurrencies(places)
		out[i] = c
	}
	return out
}
