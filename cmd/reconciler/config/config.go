// Package config turns viper settings into the typed configurations of the
// decoder, the reconciliation engine, the storage adapter, the report
// emitter and the logger.
//
// Every key can come from a command flag, a config file passed with
// --config, or a RECONCILER_ environment variable with dots replaced by
// underscores (RECONCILER_STORAGE_DRIVER for storage.driver).
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"cnab-reconciliation-service/internal/matcher"
	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/internal/parsers"
	"cnab-reconciliation-service/internal/reconciler"
	"cnab-reconciliation-service/internal/reporter"
	"cnab-reconciliation-service/internal/storage"
	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

// Viper keys.
const (
	KeyVerbose = "verbose"

	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
	KeyLogOutput = "log.output"
	KeyLogFile   = "log.file"

	KeyStorageDriver    = "storage.driver"
	KeyStorageDSN       = "storage.dsn"
	KeyStorageAddresses = "storage.addresses"
	KeyIndexPrefix      = "storage.index_prefix"

	KeyEncoding       = "parser.encoding"
	KeySequencePolicy = "parser.sequence_policy"
	KeyStrictOrphans  = "parser.strict_orphans"

	KeyMatchField    = "reconcile.match_field"
	KeyStartDate     = "reconcile.start_date"
	KeyEndDate       = "reconcile.end_date"
	KeyStrictFilters = "reconcile.strict_filters"
	KeyTolerance     = "reconcile.tolerance"
	KeyPrecision     = "reconcile.precision"

	KeyReportFormat   = "report.format"
	KeyReportOutput   = "report.output"
	KeyIncludeMatched = "report.include_matched"
	KeyMaxListItems   = "report.max_items"
	KeySortByAmount   = "report.sort_by_amount"
)

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	logDefaults := logger.DefaultConfig()
	v.SetDefault(KeyLogLevel, string(logDefaults.Level))
	v.SetDefault(KeyLogFormat, string(logDefaults.Format))
	v.SetDefault(KeyLogOutput, string(logDefaults.Output))

	storeDefaults := storage.DefaultConfig()
	v.SetDefault(KeyStorageDriver, string(storeDefaults.Driver))
	v.SetDefault(KeyStorageDSN, storeDefaults.DSN)
	v.SetDefault(KeyStorageAddresses, []string{"http://localhost:9200"})
	v.SetDefault(KeyIndexPrefix, storeDefaults.IndexPrefix)

	parserDefaults := parsers.DefaultParserConfig()
	v.SetDefault(KeyEncoding, string(parserDefaults.Encoding))
	v.SetDefault(KeySequencePolicy, string(parserDefaults.SequencePolicy))
	v.SetDefault(KeyStrictOrphans, parserDefaults.StrictOrphans)

	recDefaults := reconciler.DefaultConfig()
	v.SetDefault(KeyMatchField, string(recDefaults.Matching.DateField))
	v.SetDefault(KeyTolerance, recDefaults.Matching.AmountTolerance.String())
	v.SetDefault(KeyPrecision, recDefaults.AmountPrecision)

	reportDefaults := reporter.DefaultReportConfig()
	v.SetDefault(KeyReportFormat, string(reportDefaults.Format))
	v.SetDefault(KeyMaxListItems, reportDefaults.MaxListItems)
}

// CreateLoggerConfig builds the logger configuration. Verbose mode forces
// the debug level.
func CreateLoggerConfig(v *viper.Viper) (*logger.Config, error) {
	config := &logger.Config{
		Level:  logger.Level(strings.ToLower(v.GetString(KeyLogLevel))),
		Format: logger.Format(strings.ToLower(v.GetString(KeyLogFormat))),
		Output: logger.Output(strings.ToLower(v.GetString(KeyLogOutput))),
		File:   v.GetString(KeyLogFile),
	}
	if v.GetBool(KeyVerbose) {
		config.Level = logger.DebugLevel
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", config, err)
	}
	return config, nil
}

// CreateParserConfig builds the return file decoder configuration.
func CreateParserConfig(v *viper.Viper) (*parsers.ParserConfig, error) {
	encoding, err := parsers.ParseEncoding(v.GetString(KeyEncoding))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyEncoding, v.GetString(KeyEncoding), err)
	}
	policy, err := parsers.ParseSequencePolicy(v.GetString(KeySequencePolicy))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeySequencePolicy, v.GetString(KeySequencePolicy), err)
	}

	return &parsers.ParserConfig{
		Encoding:       encoding,
		SequencePolicy: policy,
		StrictOrphans:  v.GetBool(KeyStrictOrphans),
	}, nil
}

// CreateMatchingConfig builds the join configuration: the compared date
// field and the paid amount tolerance.
func CreateMatchingConfig(v *viper.Viper) (*matcher.MatchingConfig, error) {
	config := matcher.DefaultMatchingConfig()

	if raw := strings.TrimSpace(v.GetString(KeyMatchField)); raw != "" {
		field, err := models.ParseDateField(raw)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyMatchField, raw, err)
		}
		config.DateField = field
	}

	if raw := strings.TrimSpace(v.GetString(KeyTolerance)); raw != "" {
		tolerance, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyTolerance, raw, err)
		}
		config.AmountTolerance = tolerance
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconcile", config, err)
	}
	return config, nil
}

// CreateReconcilerConfig builds the engine configuration.
func CreateReconcilerConfig(v *viper.Viper) (*reconciler.Config, error) {
	matching, err := CreateMatchingConfig(v)
	if err != nil {
		return nil, err
	}

	config := reconciler.DefaultConfig()
	config.Matching = matching
	config.StrictFilters = v.GetBool(KeyStrictFilters)
	if v.IsSet(KeyPrecision) {
		config.AmountPrecision = v.GetInt32(KeyPrecision)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyPrecision, config.AmountPrecision, err)
	}
	return config, nil
}

// CreateDateRange returns the configured DD/MM/YYYY window, or nil when no
// bound is set. Bounds are only checked by the engine, which decides
// between skipping the filter and failing.
func CreateDateRange(v *viper.Viper) *reconciler.DateRange {
	r := &reconciler.DateRange{
		Start: strings.TrimSpace(v.GetString(KeyStartDate)),
		End:   strings.TrimSpace(v.GetString(KeyEndDate)),
	}
	if r.IsZero() {
		return nil
	}
	return r
}

// CreateStorageConfig builds the storage backend configuration.
// Elasticsearch addresses may be given as a list or as one comma separated
// string.
func CreateStorageConfig(v *viper.Viper) (*storage.Config, error) {
	config := &storage.Config{
		Driver:      storage.Driver(strings.ToLower(v.GetString(KeyStorageDriver))),
		DSN:         v.GetString(KeyStorageDSN),
		IndexPrefix: v.GetString(KeyIndexPrefix),
	}
	for _, entry := range v.GetStringSlice(KeyStorageAddresses) {
		for _, addr := range strings.Split(entry, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				config.Addresses = append(config.Addresses, addr)
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyStorageDriver, config.Driver, err)
	}
	return config, nil
}

// CreateReportConfig builds the report configuration for the configured
// format. CSV reports always carry a header row.
func CreateReportConfig(v *viper.Viper) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()

	format := reporter.OutputFormat(strings.ToLower(strings.TrimSpace(v.GetString(KeyReportFormat))))
	if !format.IsValid() {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyReportFormat, format,
			fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv, xlsx", format)).
			WithSuggestion("Use --format console, json, csv or xlsx")
	}
	config.Format = format
	config.IncludeMatched = v.GetBool(KeyIncludeMatched)
	config.SortByAmount = v.GetBool(KeySortByAmount)
	if v.IsSet(KeyMaxListItems) {
		config.MaxListItems = v.GetInt(KeyMaxListItems)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report", config, err)
	}
	return config, nil
}
