// Package parsers decodes CNAB240 bank settlement-return files.
//
// A settled title spans two physical lines: a T segment carrying identity and
// billing fields, followed by a U segment carrying the settlement amounts and
// dates. The Decoder pairs them with an explicit two-state machine and emits
// one models.Transaction per completed pair, in file order.
//
// Lines shorter than LineLength are skipped, segments other than T and U are
// ignored, and unpaired segments are dropped unless ParserConfig.StrictOrphans
// is set. A currency slot holding anything but digits aborts the file with a
// malformed-record error.
//
// Example usage:
//
//	parser, err := NewFileParser(DefaultParserConfig())
//	transactions, stats, err := parser.ParseFile(ctx, "RET_0603.txt")
package parsers

import (
	"fmt"
	"os"

	"cnab-reconciliation-service/pkg/errors"
)

// DecodeStats counts what the decoder saw in one input.
type DecodeStats struct {
	Source          string `json:"source"`
	TotalLines      int    `json:"total_lines"`
	ShortLines      int    `json:"short_lines"`
	HeaderSegments  int    `json:"header_segments"`
	FinancialSegs   int    `json:"financial_segments"`
	IgnoredSegments int    `json:"ignored_segments"`
	OrphansDropped  int    `json:"orphans_dropped"`
	SequenceSkips   int    `json:"sequence_skips"`
	Transactions    int    `json:"transactions"`
}

func (s *DecodeStats) String() string {
	return fmt.Sprintf("%s: %d lines, %d transactions (%d short lines, %d ignored segments, %d orphans dropped)",
		s.Source, s.TotalLines, s.Transactions, s.ShortLines, s.IgnoredSegments, s.OrphansDropped)
}

// openFile opens path, mapping OS errors to file-category errors.
func openFile(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err == nil {
		return file, nil
	}
	switch {
	case os.IsNotExist(err):
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	case os.IsPermission(err):
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	default:
		return nil, errors.FileError(errors.CodeFileUnreadable, path, err)
	}
}
