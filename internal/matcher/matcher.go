package matcher

import (
	"github.com/shopspring/decimal"

	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

// DiscrepancyReason explains why a matched pair is also a discrepancy.
type DiscrepancyReason string

const (
	ReasonAmount DiscrepancyReason = "amount"
	ReasonDate   DiscrepancyReason = "date"
)

// MatchedPair is one combination of a side A and a side B transaction
// sharing a reference number. The A and B fields are always populated.
type MatchedPair struct {
	ReferenceNumber string `json:"reference_number"`

	SideA models.Side         `json:"side_a"`
	SideB models.Side         `json:"side_b"`
	A     *models.Transaction `json:"a"`
	B     *models.Transaction `json:"b"`

	AmountPaidA      decimal.Decimal `json:"amount_paid_a"`
	AmountPaidB      decimal.Decimal `json:"amount_paid_b"`
	AmountDifference decimal.Decimal `json:"amount_difference"`

	DateField  models.DateField `json:"date_field"`
	MatchDateA string           `json:"match_date_a"`
	MatchDateB string           `json:"match_date_b"`

	Reasons []DiscrepancyReason `json:"reasons,omitempty"`
}

// IsDiscrepancy reports whether the pair differs beyond tolerance.
func (p *MatchedPair) IsDiscrepancy() bool {
	return len(p.Reasons) > 0
}

// HasReason reports whether reason applies to the pair.
func (p *MatchedPair) HasReason(reason DiscrepancyReason) bool {
	for _, r := range p.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// UnmatchedRecord is a transaction whose reference number is absent on the other side.
type UnmatchedRecord struct {
	Side        models.Side         `json:"side"`
	Transaction *models.Transaction `json:"transaction"`
}

// JoinResult holds the four classified collections. Discrepancies is a
// subset of Matched and shares its elements.
type JoinResult struct {
	MissingInB    []*UnmatchedRecord `json:"missing_in_b"`
	MissingInA    []*UnmatchedRecord `json:"missing_in_a"`
	Matched       []*MatchedPair     `json:"matched"`
	Discrepancies []*MatchedPair     `json:"discrepancies"`
}

// IsEmpty reports whether no collection has any element.
func (r *JoinResult) IsEmpty() bool {
	return len(r.MissingInB) == 0 && len(r.MissingInA) == 0 && len(r.Matched) == 0
}

// Engine performs the outer join and discrepancy detection.
type Engine struct {
	config *MatchingConfig
	logger logger.Logger
}

// NewEngine validates config and returns an Engine. A nil config uses DefaultMatchingConfig.
func NewEngine(config *MatchingConfig) (*Engine, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", config.String(), err)
	}
	return &Engine{
		config: config.Clone(),
		logger: logger.GetGlobalLogger().WithComponent("matcher"),
	}, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() *MatchingConfig {
	return e.config.Clone()
}

// Join classifies a and b by reference number. The inputs are expected to be
// filtered, deduplicated and normalized already; Join never drops a transaction.
func (e *Engine) Join(a, b []*models.Transaction) *JoinResult {
	indexA := NewReferenceIndex(a)
	indexB := NewReferenceIndex(b)
	return e.JoinIndexes(indexA, indexB)
}

// JoinIndexes joins two prebuilt indexes.
func (e *Engine) JoinIndexes(indexA, indexB *ReferenceIndex) *JoinResult {
	result := &JoinResult{
		MissingInB:    []*UnmatchedRecord{},
		MissingInA:    []*UnmatchedRecord{},
		Matched:       []*MatchedPair{},
		Discrepancies: []*MatchedPair{},
	}

	for _, key := range unionKeys(indexA, indexB) {
		txA, txB := indexA.Get(key), indexB.Get(key)

		switch {
		case len(txB) == 0:
			for _, tx := range txA {
				result.MissingInB = append(result.MissingInB, &UnmatchedRecord{Side: e.config.SideA, Transaction: tx})
			}
		case len(txA) == 0:
			for _, tx := range txB {
				result.MissingInA = append(result.MissingInA, &UnmatchedRecord{Side: e.config.SideB, Transaction: tx})
			}
		default:
			if len(txA) > 1 || len(txB) > 1 {
				e.logger.WithFields(logger.Fields{
					"reference_number": key,
					"count_a":          len(txA),
					"count_b":          len(txB),
				}).Debug("Non-unique reference number, reporting every combination")
			}
			for _, x := range txA {
				for _, y := range txB {
					pair := e.Compare(x, y)
					result.Matched = append(result.Matched, pair)
					if pair.IsDiscrepancy() {
						result.Discrepancies = append(result.Discrepancies, pair)
					}
				}
			}
		}
	}

	e.logger.WithFields(logger.Fields{
		"keys_a":        indexA.KeyCount(),
		"keys_b":        indexB.KeyCount(),
		"missing_in_b":  len(result.MissingInB),
		"missing_in_a":  len(result.MissingInA),
		"matched":       len(result.Matched),
		"discrepancies": len(result.Discrepancies),
	}).Debug("Join completed")

	return result
}

// Compare builds the matched pair for a and b and records any discrepancy.
func (e *Engine) Compare(a, b *models.Transaction) *MatchedPair {
	pair := &MatchedPair{
		ReferenceNumber:  a.ReferenceNumber,
		SideA:            e.config.SideA,
		SideB:            e.config.SideB,
		A:                a,
		B:                b,
		AmountPaidA:      a.AmountPaid,
		AmountPaidB:      b.AmountPaid,
		AmountDifference: a.AmountPaid.Sub(b.AmountPaid).Abs(),
		DateField:        e.config.DateField,
		MatchDateA:       e.config.DateField.ValueOf(a),
		MatchDateB:       e.config.DateField.ValueOf(b),
	}

	if pair.AmountDifference.GreaterThan(e.config.AmountTolerance) {
		pair.Reasons = append(pair.Reasons, ReasonAmount)
	}
	if pair.MatchDateA != pair.MatchDateB {
		pair.Reasons = append(pair.Reasons, ReasonDate)
	}
	return pair
}
