// Package storage persists decoded transactions in named tables, one table
// per reconciliation side.
//
// Three backends implement Store: SQLite through gorm, a directory of JSON
// files, and Elasticsearch with one index per table. Records always load
// back in insertion order.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/pkg/errors"
)

// Store is a table-oriented transaction store.
type Store interface {
	// Save appends txns to table, creating it when needed.
	Save(ctx context.Context, table string, txns []*models.Transaction) error
	// LoadAll returns every transaction of table in insertion order. A table
	// that was never written is empty.
	LoadAll(ctx context.Context, table string) ([]*models.Transaction, error)
	// Sources lists the distinct source files stored in table, sorted.
	Sources(ctx context.Context, table string) ([]string, error)
	HasSource(ctx context.Context, table, source string) (bool, error)
	// DeleteSources removes every transaction imported from the named files
	// and returns how many were removed.
	DeleteSources(ctx context.Context, table string, sources []string) (int64, error)
	// ReplaceSource swaps the transactions of source for txns and returns how
	// many were replaced. When it fails the previous transactions stay.
	ReplaceSource(ctx context.Context, table, source string, txns []*models.Transaction) (int64, error)
	Clear(ctx context.Context, table string) error
	Close() error
}

// Driver names a Store implementation.
type Driver string

const (
	DriverSQLite        Driver = "sqlite"
	DriverJSONFile      Driver = "jsonfile"
	DriverElasticsearch Driver = "elasticsearch"
)

// Config selects and configures a backend.
type Config struct {
	Driver Driver

	// DSN is the SQLite database path or the JSON store directory.
	DSN string

	// Addresses and IndexPrefix configure Elasticsearch.
	Addresses   []string
	IndexPrefix string
}

// DefaultConfig stores into reconciliation.db in the working directory.
func DefaultConfig() *Config {
	return &Config{
		Driver:      DriverSQLite,
		DSN:         "reconciliation.db",
		IndexPrefix: "cnab_",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverJSONFile:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("storage dsn is required for driver %s", c.Driver)
		}
	case DriverElasticsearch:
		if c.IndexPrefix != "" && !tablePattern.MatchString(c.IndexPrefix) {
			return fmt.Errorf("invalid index prefix '%s'", c.IndexPrefix)
		}
	default:
		return fmt.Errorf("unknown storage driver '%s': must be %s, %s or %s",
			c.Driver, DriverSQLite, DriverJSONFile, DriverElasticsearch)
	}
	return nil
}

// Open creates the Store described by config.
func Open(ctx context.Context, config *Config) (Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "storage.driver", config.Driver, err)
	}

	switch config.Driver {
	case DriverJSONFile:
		return NewJSONFileStore(config.DSN)
	case DriverElasticsearch:
		return NewElasticStore(ctx, config.IndexPrefix, config.Addresses...)
	default:
		return NewSQLStore(config.DSN)
	}
}

var tablePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidateTable rejects table names outside [a-z0-9_]+.
func ValidateTable(table string) error {
	if !tablePattern.MatchString(table) {
		return errors.StorageError(errors.CodeInvalidTable, table, "validate",
			fmt.Errorf("invalid table name '%s'", table))
	}
	return nil
}

func storageFailure(table, operation string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsReconcilerError(err); ok {
		return err
	}
	return errors.StorageError(errors.CodeStorageFailure, table, operation, err)
}
