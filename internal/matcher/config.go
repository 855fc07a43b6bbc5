// Package matcher joins two transaction sets on the bank reference number.
//
// The join is an explicit outer join over a multimap of reference number to
// transactions, built once per side:
//  1. keys only on side A produce missing-in-B records
//  2. keys only on side B produce missing-in-A records
//  3. keys on both sides produce the full cross product of their transactions
//
// Reference numbers are not unique, so a key with m transactions on side A
// and n on side B yields m*n matched pairs. Every pair is then checked for
// discrepancies: paid amounts further apart than the tolerance, or different
// values of the selected date field.
//
// Example usage:
//
//	engine, err := matcher.NewEngine(matcher.DefaultMatchingConfig())
//	result := engine.Join(apiTransactions, generalTransactions)
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"

	"cnab-reconciliation-service/internal/models"
)

// MatchingConfig controls discrepancy detection and side labelling.
type MatchingConfig struct {
	// AmountTolerance is the largest |paidA - paidB| that is not a discrepancy.
	AmountTolerance decimal.Decimal `json:"amount_tolerance"`

	// DateField is compared exactly between the two sides of a pair.
	DateField models.DateField `json:"date_field"`

	// SideA and SideB tag the provenance of records in the result.
	SideA models.Side `json:"side_a"`
	SideB models.Side `json:"side_b"`
}

// DefaultTolerance is one cent.
var DefaultTolerance = decimal.New(1, -2)

// DefaultMatchingConfig compares occurrence dates with a one cent tolerance,
// with the API set on side A and the general file set on side B.
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerance: DefaultTolerance,
		DateField:       models.OccurrenceDate,
		SideA:           models.SideAPI,
		SideB:           models.SideGeneral,
	}
}

// Validate checks the tolerance, date field and side labels.
func (c *MatchingConfig) Validate() error {
	if c.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerance cannot be negative: %s", c.AmountTolerance)
	}
	if !c.DateField.IsValid() {
		return fmt.Errorf("invalid date field: %s", c.DateField)
	}
	if c.SideA == "" || c.SideB == "" {
		return fmt.Errorf("both side labels are required")
	}
	if c.SideA == c.SideB {
		return fmt.Errorf("side labels must differ, both are %s", c.SideA)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *MatchingConfig) Clone() *MatchingConfig {
	clone := *c
	return &clone
}

func (c *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Tolerance: %s, DateField: %s, Sides: %s/%s}",
		c.AmountTolerance.String(), c.DateField, c.SideA, c.SideB)
}
