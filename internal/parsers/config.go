package parsers

import (
	"fmt"
	"strings"
)

// SequencePolicy decides what happens when a U segment's sequence number
// does not directly follow the pending T segment's.
type SequencePolicy string

const (
	// SequenceIgnore merges the pair regardless of sequence numbers.
	SequenceIgnore SequencePolicy = "ignore"
	// SequenceReject aborts the file with a sequence mismatch error.
	SequenceReject SequencePolicy = "reject"
	// SequenceSkip drops the mismatched U and keeps waiting for the T's own U.
	SequenceSkip SequencePolicy = "skip"
)

// ParseSequencePolicy parses a policy name.
func ParseSequencePolicy(s string) (SequencePolicy, error) {
	p := SequencePolicy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case SequenceIgnore, SequenceReject, SequenceSkip:
		return p, nil
	case "":
		return SequenceIgnore, nil
	}
	return "", fmt.Errorf("invalid sequence policy '%s': must be ignore, reject or skip", s)
}

// Encoding is the character set of an input return file.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingLatin1 Encoding = "latin1"
)

// ParseEncoding accepts common spellings of the supported encodings.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return EncodingLatin1, nil
	}
	return "", fmt.Errorf("unsupported encoding '%s': must be utf-8 or latin1", s)
}

// ParserConfig holds options for decoding CNAB240 return files.
type ParserConfig struct {
	Encoding       Encoding       `json:"encoding" mapstructure:"encoding"`
	SequencePolicy SequencePolicy `json:"sequence_policy" mapstructure:"sequence_policy"`
	// StrictOrphans turns dropped T or U segments into parse errors.
	StrictOrphans bool `json:"strict_orphans" mapstructure:"strict_orphans"`
}

// DefaultParserConfig merges every T/U pair and silently drops orphans.
func DefaultParserConfig() *ParserConfig {
	return &ParserConfig{
		Encoding:       EncodingUTF8,
		SequencePolicy: SequenceIgnore,
	}
}

// StrictParserConfig rejects sequence mismatches and orphan segments.
func StrictParserConfig() *ParserConfig {
	return &ParserConfig{
		Encoding:       EncodingUTF8,
		SequencePolicy: SequenceReject,
		StrictOrphans:  true,
	}
}

// Validate checks the configured encoding and policy.
func (c *ParserConfig) Validate() error {
	if _, err := ParseEncoding(string(c.Encoding)); err != nil {
		return err
	}
	switch c.SequencePolicy {
	case SequenceIgnore, SequenceReject, SequenceSkip:
	default:
		return fmt.Errorf("invalid sequence policy: %s", c.SequencePolicy)
	}
	return nil
}
