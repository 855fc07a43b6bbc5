package parsers

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

// decoderState is the position of the T/U pairing machine.
type decoderState int

const (
	awaitingHeader decoderState = iota
	awaitingContinuation
)

func (s decoderState) String() string {
	if s == awaitingContinuation {
		return "awaiting_continuation"
	}
	return "awaiting_header"
}

// Decoder turns CNAB240 lines into transactions. It holds no per-input state,
// so one Decoder may decode any number of inputs, one call at a time or concurrently.
type Decoder struct {
	config *ParserConfig
	logger logger.Logger
}

// NewDecoder validates config and returns a Decoder. A nil config uses DefaultParserConfig.
func NewDecoder(config *ParserConfig) (*Decoder, error) {
	if config == nil {
		config = DefaultParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser", config, err)
	}
	return &Decoder{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("cnab_decoder"),
	}, nil
}

// WithLogger returns a copy of the decoder logging to l.
func (d *Decoder) WithLogger(l logger.Logger) *Decoder {
	c := *d
	c.logger = l.WithComponent("cnab_decoder")
	return &c
}

// Decode pairs T and U segments of lines, in order, into transactions
// stamped with source. Line terminators must already be stripped.
func (d *Decoder) Decode(lines []string, source string) ([]*models.Transaction, *DecodeStats, error) {
	m := &pairingMachine{
		config: d.config,
		logger: d.logger.WithField("source", source),
		source: source,
		stats:  &DecodeStats{Source: source},
	}

	for i, line := range lines {
		if err := m.feed(i+1, line); err != nil {
			return nil, m.stats, err
		}
	}
	if err := m.finish(); err != nil {
		return nil, m.stats, err
	}
	return m.out, m.stats, nil
}

// pairingMachine carries the partially built transaction between lines.
type pairingMachine struct {
	config *ParserConfig
	logger logger.Logger
	source string
	stats  *DecodeStats

	state       decoderState
	pending     *models.Transaction
	pendingLine int
	out         []*models.Transaction
}

func (m *pairingMachine) feed(lineNo int, line string) error {
	m.stats.TotalLines++

	if utf8.RuneCountInString(line) < LineLength {
		m.stats.ShortLines++
		return nil
	}
	runes := []rune(line)

	switch runes[markerIndex] {
	case markerHeader:
		m.stats.HeaderSegments++
		return m.onHeader(lineNo, runes)
	case markerContinuation:
		m.stats.FinancialSegs++
		return m.onContinuation(lineNo, runes)
	default:
		m.stats.IgnoredSegments++
		return nil
	}
}

func (m *pairingMachine) onHeader(lineNo int, line []rune) error {
	if m.state == awaitingContinuation {
		if err := m.orphan(m.pendingLine, "header segment replaced before its continuation"); err != nil {
			return err
		}
	}

	t := &models.Transaction{SourceFile: m.source}
	if err := applyLayout(headerLayout, line, t); err != nil {
		return m.malformed(lineNo, err)
	}

	m.pending = t
	m.pendingLine = lineNo
	m.state = awaitingContinuation
	return nil
}

func (m *pairingMachine) onContinuation(lineNo int, line []rune) error {
	if m.state == awaitingHeader {
		return m.orphan(lineNo, "continuation segment without header")
	}

	seq := string(line[sequenceField.start:sequenceField.end])
	if !followsSequence(m.pending.SequenceNumber, seq) {
		switch m.config.SequencePolicy {
		case SequenceReject:
			return errors.ParseError(errors.CodeSequenceMismatch, m.source, lineNo, sequenceField.name,
				seq, nil).WithContext("header_sequence", m.pending.SequenceNumber)
		case SequenceSkip:
			m.stats.SequenceSkips++
			m.logger.WithFields(logger.Fields{
				"line":            lineNo,
				"header_sequence": m.pending.SequenceNumber,
				"sequence":        seq,
			}).Warn("Skipping continuation segment out of sequence")
			return m.orphan(lineNo, "continuation segment out of sequence")
		}
	}

	if err := applyLayout(continuationLayout, line, m.pending); err != nil {
		return m.malformed(lineNo, err)
	}

	m.out = append(m.out, m.pending)
	m.stats.Transactions++
	m.pending = nil
	m.pendingLine = 0
	m.state = awaitingHeader
	return nil
}

func (m *pairingMachine) finish() error {
	if m.state == awaitingContinuation {
		return m.orphan(m.pendingLine, "header segment without continuation at end of input")
	}
	return nil
}

func (m *pairingMachine) orphan(lineNo int, reason string) error {
	m.stats.OrphansDropped++
	if m.config.StrictOrphans {
		return errors.ParseError(errors.CodeOrphanSegment, m.source, lineNo, "segment", reason, nil)
	}
	m.logger.WithFields(logger.Fields{"line": lineNo, "reason": reason}).Debug("Dropping orphan segment")
	return nil
}

func (m *pairingMachine) malformed(lineNo int, err error) error {
	fe, ok := err.(*fieldError)
	if !ok {
		return errors.ParseError(errors.CodeMalformedRecord, m.source, lineNo, "", "", err)
	}
	m.logger.WithFields(logger.Fields{
		"line":  lineNo,
		"field": fe.field,
		"value": fe.value,
	}).Error("Malformed currency field")
	return errors.ParseError(errors.CodeMalformedRecord, m.source, lineNo, fe.field, fe.value, fe.err)
}

// followsSequence reports whether continuation is header+1.
func followsSequence(header, continuation string) bool {
	h, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		return false
	}
	c, err := strconv.Atoi(strings.TrimSpace(continuation))
	if err != nil {
		return false
	}
	return c == h+1
}
