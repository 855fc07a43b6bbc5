package parsers

import (
	"fmt"
	"strings"

	"cnab-reconciliation-service/internal/models"
)

// EncodeTransaction renders t as a T/U segment pair numbered seq and seq+1.
// It is the inverse of Decode for every mapped field, with unmapped
// positions left blank. Text wider than its slot is rejected, as are
// negative amounts.
func EncodeTransaction(t *models.Transaction, seq int) (header string, continuation string, err error) {
	if seq < 0 || seq+1 > 99999 {
		return "", "", fmt.Errorf("sequence number %d out of range", seq)
	}

	h := blankLine()
	if err := writeLayout(headerLayout, h, t); err != nil {
		return "", "", err
	}
	writeSlot(h, sequenceField, fmt.Sprintf("%05d", seq))
	h[markerIndex] = markerHeader

	u := blankLine()
	if err := writeLayout(continuationLayout, u, t); err != nil {
		return "", "", err
	}
	copy(u[0:8], h[0:8])
	writeSlot(u, sequenceField, fmt.Sprintf("%05d", seq+1))
	u[markerIndex] = markerContinuation

	return string(h), string(u), nil
}

func blankLine() []rune {
	return []rune(strings.Repeat(" ", LineLength))
}

func writeLayout(layout []field, line []rune, t *models.Transaction) error {
	for _, f := range layout {
		var value string
		if f.kind == centsField {
			amount := *f.amount(t)
			if amount.IsNegative() {
				return fmt.Errorf("field %s: negative amount %s", f.name, amount)
			}
			value = amount.Shift(2).Round(0).StringFixed(0)
			if len(value) > f.width() {
				return fmt.Errorf("field %s: amount %s does not fit %d digits", f.name, amount, f.width())
			}
			value = strings.Repeat("0", f.width()-len(value)) + value
		} else {
			value = *f.text(t)
			if len([]rune(value)) > f.width() {
				return fmt.Errorf("field %s: '%s' wider than %d characters", f.name, value, f.width())
			}
		}
		writeSlot(line, f, value)
	}
	return nil
}

// writeSlot left-aligns value in the slot of f, padding with spaces.
func writeSlot(line []rune, f field, value string) {
	slot := line[f.start:f.end]
	for i := range slot {
		slot[i] = ' '
	}
	copy(slot, []rune(value))
}
