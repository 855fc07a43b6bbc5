package parsers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

const (
	maxLineBytes   = 1 << 20
	cancelInterval = 1000
)

// FileParser reads return files from disk and decodes them.
type FileParser struct {
	config  *ParserConfig
	decoder *Decoder
	logger  logger.Logger
}

// NewFileParser returns a FileParser for config. A nil config uses DefaultParserConfig.
func NewFileParser(config *ParserConfig) (*FileParser, error) {
	if config == nil {
		config = DefaultParserConfig()
	}
	decoder, err := NewDecoder(config)
	if err != nil {
		return nil, err
	}

	log := logger.GetGlobalLogger().WithComponent("file_parser")
	log.WithFields(logger.Fields{
		"encoding":        config.Encoding,
		"sequence_policy": config.SequencePolicy,
		"strict_orphans":  config.StrictOrphans,
	}).Debug("Created file parser")

	return &FileParser{config: config, decoder: decoder, logger: log}, nil
}

// ParseFile decodes the file at path. Transactions carry the file's base name
// as source. A malformed record aborts the whole file.
func (p *FileParser) ParseFile(ctx context.Context, path string) ([]*models.Transaction, *DecodeStats, error) {
	source := filepath.Base(path)
	p.logger.WithFields(logger.Fields{
		"file_path": path,
		"operation": "parse_return_file",
	}).Info("Starting return file parsing")

	file, err := openFile(path)
	if err != nil {
		p.logger.WithError(err).WithField("file_path", path).Error("Failed to open return file")
		return nil, nil, err
	}
	defer file.Close()

	transactions, stats, err := p.Parse(ctx, file, source)
	if err != nil {
		p.logger.WithError(err).WithField("file_path", path).Error("Return file parsing failed")
		return nil, stats, err
	}

	p.logger.WithFields(logger.Fields{
		"file_path":       path,
		"total_lines":     stats.TotalLines,
		"transactions":    stats.Transactions,
		"short_lines":     stats.ShortLines,
		"orphans_dropped": stats.OrphansDropped,
	}).Info("Return file parsing completed")

	if stats.OrphansDropped > 0 {
		p.logger.WithFields(logger.Fields{
			"file_path": path,
			"orphans":   stats.OrphansDropped,
		}).Warn("Unpaired segments were dropped")
	}

	return transactions, stats, nil
}

// Parse decodes r, converting from the configured encoding first.
func (p *FileParser) Parse(ctx context.Context, r io.Reader, source string) ([]*models.Transaction, *DecodeStats, error) {
	lines, err := p.readLines(ctx, r, source)
	if err != nil {
		return nil, nil, err
	}
	return p.decoder.Decode(lines, source)
}

func (p *FileParser) readLines(ctx context.Context, r io.Reader, source string) ([]string, error) {
	if p.config.Encoding == EncodingLatin1 {
		r = charmap.ISO8859_1.NewDecoder().Reader(r)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var lines []string
	for scanner.Scan() {
		if len(lines)%cancelInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.InternalError(errors.CodeUnexpectedError, "return file parsing",
					fmt.Errorf("parsing of %s cancelled: %w", source, err))
			}
		}
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.FileError(errors.CodeFileUnreadable, source, err)
	}
	return lines, nil
}
