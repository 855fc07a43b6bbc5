package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cnab-reconciliation-service/internal/matcher"
	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

// Config holds configuration options for the reconciliation pipeline
type Config struct {
	Matching *matcher.MatchingConfig

	// AmountPrecision is the number of decimals currencies are rounded to
	// before matching.
	AmountPrecision int32

	// StrictFilters turns a skipped date filter, or a record dropped for an
	// unparseable date, into an error.
	StrictFilters bool
}

// DefaultConfig returns a default configuration for the reconciler
func DefaultConfig() *Config {
	return &Config{
		Matching:        matcher.DefaultMatchingConfig(),
		AmountPrecision: 2,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	if err := c.Matching.Validate(); err != nil {
		return err
	}
	if c.AmountPrecision < 0 {
		return fmt.Errorf("amount precision cannot be negative, got %d", c.AmountPrecision)
	}
	return nil
}

// SideSummary counts what happened to one side in the pipeline.
type SideSummary struct {
	Side           models.Side `json:"side"`
	Input          int         `json:"input"`
	DroppedByValue int         `json:"dropped_by_value"`
	OutsideRange   int         `json:"outside_range"`
	BadDate        int         `json:"bad_date"`
	Duplicates     int         `json:"duplicates"`
	Reconciled     int         `json:"reconciled"`

	// Totals sums every currency field over the reconciled transactions,
	// keyed by field name.
	Totals map[string]decimal.Decimal `json:"totals"`
}

// Summary provides a high-level overview of a reconciliation pass
type Summary struct {
	A SideSummary `json:"a"`
	B SideSummary `json:"b"`

	MissingInB          int `json:"missing_in_b"`
	MissingInA          int `json:"missing_in_a"`
	Matched             int `json:"matched"`
	Discrepancies       int `json:"discrepancies"`
	Clean               int `json:"clean"`
	AmountDiscrepancies int `json:"amount_discrepancies"`
	DateDiscrepancies   int `json:"date_discrepancies"`

	// PaidDifference is the absolute difference of the amount paid totals.
	PaidDifference decimal.Decimal `json:"paid_difference"`

	DateField     models.DateField `json:"date_field"`
	DateRange     *DateRange       `json:"date_range,omitempty"`
	FilterApplied bool             `json:"filter_applied"`
	Duration      time.Duration    `json:"duration"`
}

// MatchRate is the share of reconciled A transactions with a counterpart.
func (s *Summary) MatchRate() float64 {
	if s.A.Reconciled == 0 {
		return 0
	}
	return float64(s.A.Reconciled-s.MissingInB) / float64(s.A.Reconciled) * 100
}

// Result contains the complete outcome of a reconciliation pass
type Result struct {
	*matcher.JoinResult

	Summary     *Summary     `json:"summary"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	ProcessedAt time.Time    `json:"processed_at"`
}

// HasDifferences reports whether anything is missing or discrepant.
func (r *Result) HasDifferences() bool {
	return len(r.MissingInA) > 0 || len(r.MissingInB) > 0 || len(r.Discrepancies) > 0
}

// Reconciler runs the filter, deduplicate, normalize and join pipeline.
// Passes are serialized.
type Reconciler struct {
	config *Config
	logger logger.Logger
	mu     sync.Mutex
}

// NewReconciler creates a reconciler. A nil config uses DefaultConfig.
func NewReconciler(config *Config) (*Reconciler, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconcile", config.Matching, err)
	}
	return &Reconciler{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// WithLogger replaces the reconciler logger.
func (r *Reconciler) WithLogger(l logger.Logger) *Reconciler {
	if l != nil {
		r.logger = l
	}
	return r
}

// Compare reconciles sideA against sideB. field selects the date used for the
// range filter and for date discrepancies; an empty field keeps the configured
// one. The inputs are never modified.
func (r *Reconciler) Compare(sideA, sideB []*models.Transaction, field models.DateField, dateRange *DateRange) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matching := r.config.Matching.Clone()
	if field != "" {
		matching.DateField = field
	}
	engine, err := matcher.NewEngine(matching)
	if err != nil {
		return nil, err
	}

	op := logger.NewOperationLogger("reconcile", r.logger).
		WithField("date_field", matching.DateField.String()).
		WithField("date_range", dateRange.String())

	summary := &Summary{
		A:         SideSummary{Side: matching.SideA, Input: len(sideA)},
		B:         SideSummary{Side: matching.SideB, Input: len(sideB)},
		DateField: matching.DateField,
	}
	if !dateRange.IsZero() {
		summary.DateRange = dateRange
	}
	result := &Result{Summary: summary, Diagnostics: []Diagnostic{}}

	// Step 1: resolve the date window
	win, diags := resolveDateRange(dateRange)
	for _, d := range diags {
		op.Warning(d.Message, logger.Fields{"code": d.Code})
		if r.config.StrictFilters && d.Code == errors.CodeFilterFailure {
			err := errors.ReconciliationError(errors.CodeFilterFailure, "date filter", fmt.Errorf("%s", d.Message))
			op.Error(err, "Reconciliation aborted")
			return nil, err
		}
	}
	result.Diagnostics = append(result.Diagnostics, diags...)
	summary.FilterApplied = win != nil

	// Step 2: prepare both sides
	preparedA, err := r.prepare(sideA, &summary.A, matching.DateField, win, result, op)
	if err != nil {
		return nil, err
	}
	preparedB, err := r.prepare(sideB, &summary.B, matching.DateField, win, result, op)
	if err != nil {
		return nil, err
	}

	// Step 3: join
	join := engine.Join(preparedA, preparedB)
	result.JoinResult = join

	summary.MissingInB = len(join.MissingInB)
	summary.MissingInA = len(join.MissingInA)
	summary.Matched = len(join.Matched)
	summary.Discrepancies = len(join.Discrepancies)
	summary.Clean = summary.Matched - summary.Discrepancies
	for _, p := range join.Discrepancies {
		if p.HasReason(matcher.ReasonAmount) {
			summary.AmountDiscrepancies++
		}
		if p.HasReason(matcher.ReasonDate) {
			summary.DateDiscrepancies++
		}
	}
	summary.PaidDifference = summary.A.Totals["amount_paid"].Sub(summary.B.Totals["amount_paid"]).Abs()
	summary.Duration = op.Elapsed()
	result.ProcessedAt = time.Now()

	op.Success("Reconciliation completed", logger.Fields{
		"missing_in_b":  summary.MissingInB,
		"missing_in_a":  summary.MissingInA,
		"matched":       summary.Matched,
		"discrepancies": summary.Discrepancies,
	})
	return result, nil
}

func (r *Reconciler) prepare(txs []*models.Transaction, s *SideSummary, field models.DateField, win *window, result *Result, op *logger.OperationLogger) ([]*models.Transaction, error) {
	kept, dropped := filterByValue(txs)
	s.DroppedByValue = dropped

	if win != nil {
		kept, s.OutsideRange, s.BadDate = filterByDate(kept, field, *win)
		if s.BadDate > 0 {
			d := Diagnostic{
				Code:    errors.CodeInvalidDate,
				Side:    s.Side,
				Message: fmt.Sprintf("%d records dropped: unparseable %s", s.BadDate, field),
				Count:   s.BadDate,
			}
			if r.config.StrictFilters {
				err := errors.ReconciliationError(errors.CodeFilterFailure, "date filter", fmt.Errorf("%s", d.Message))
				op.Error(err, "Reconciliation aborted")
				return nil, err
			}
			op.Warning(d.Message, logger.Fields{"side": s.Side})
			result.Diagnostics = append(result.Diagnostics, d)
		}
	}

	kept, s.Duplicates = deduplicate(kept)
	kept = normalize(kept, r.config.AmountPrecision)
	s.Reconciled = len(kept)
	s.Totals = currencyTotals(kept)

	op.Step("prepare", logger.Fields{
		"side":             s.Side,
		"input":            s.Input,
		"dropped_by_value": s.DroppedByValue,
		"outside_range":    s.OutsideRange,
		"duplicates":       s.Duplicates,
		"reconciled":       s.Reconciled,
	})
	return kept, nil
}

func currencyTotals(txs []*models.Transaction) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal, len(models.CurrencyFields))
	for _, name := range models.CurrencyFields {
		totals[name] = decimal.Zero
	}
	for _, tx := range txs {
		for i, v := range tx.CurrencyValues() {
			name := models.CurrencyFields[i]
			totals[name] = totals[name].Add(v)
		}
	}
	return totals
}
