package storage

import (
	"context"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/pkg/logger"
)

const sqlBatchSize = 500

// transactionRow is the relational shape of a transaction. The auto
// increment id preserves insertion order.
type transactionRow struct {
	ID                 uint `gorm:"primaryKey;autoIncrement"`
	models.Transaction `gorm:"embedded"`
}

// SQLStore keeps each table as a SQLite table through gorm.
type SQLStore struct {
	db     *gorm.DB
	logger logger.Logger

	mu       sync.Mutex
	migrated map[string]bool
}

// NewSQLStore opens (or creates) the SQLite database at dsn. Use
// "file::memory:" for a private in-memory database.
func NewSQLStore(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, storageFailure(dsn, "open", err)
	}

	// SQLite allows a single writer.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	return &SQLStore{
		db:       db,
		logger:   logger.GetGlobalLogger().WithComponent("storage.sqlite").WithField("dsn", dsn),
		migrated: make(map[string]bool),
	}, nil
}

func (s *SQLStore) table(ctx context.Context, table string) (*gorm.DB, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.migrated[table] {
		if err := s.db.WithContext(ctx).Table(table).AutoMigrate(&transactionRow{}); err != nil {
			return nil, storageFailure(table, "migrate", err)
		}
		s.migrated[table] = true
		s.logger.WithField("table", table).Debug("Table ready")
	}
	return s.db.WithContext(ctx).Table(table), nil
}

func (s *SQLStore) Save(ctx context.Context, table string, txns []*models.Transaction) error {
	db, err := s.table(ctx, table)
	if err != nil {
		return err
	}
	if len(txns) == 0 {
		return nil
	}

	rows := make([]*transactionRow, len(txns))
	for i, tx := range txns {
		rows[i] = &transactionRow{Transaction: *tx}
	}
	if err := db.CreateInBatches(rows, sqlBatchSize).Error; err != nil {
		return storageFailure(table, "save", err)
	}

	s.logger.WithFields(logger.Fields{"table": table, "count": len(rows)}).Debug("Transactions saved")
	return nil
}

func (s *SQLStore) LoadAll(ctx context.Context, table string) ([]*models.Transaction, error) {
	db, err := s.table(ctx, table)
	if err != nil {
		return nil, err
	}

	var rows []*transactionRow
	if err := db.Order("id").Find(&rows).Error; err != nil {
		return nil, storageFailure(table, "load", err)
	}

	out := make([]*models.Transaction, len(rows))
	for i, row := range rows {
		tx := row.Transaction
		out[i] = &tx
	}
	return out, nil
}

func (s *SQLStore) Sources(ctx context.Context, table string) ([]string, error) {
	db, err := s.table(ctx, table)
	if err != nil {
		return nil, err
	}

	var sources []string
	if err := db.Distinct().Order("source_file").Pluck("source_file", &sources).Error; err != nil {
		return nil, storageFailure(table, "sources", err)
	}
	return sources, nil
}

func (s *SQLStore) HasSource(ctx context.Context, table, source string) (bool, error) {
	db, err := s.table(ctx, table)
	if err != nil {
		return false, err
	}

	var count int64
	if err := db.Where("source_file = ?", source).Count(&count).Error; err != nil {
		return false, storageFailure(table, "has_source", err)
	}
	return count > 0, nil
}

func (s *SQLStore) DeleteSources(ctx context.Context, table string, sources []string) (int64, error) {
	db, err := s.table(ctx, table)
	if err != nil {
		return 0, err
	}
	if len(sources) == 0 {
		return 0, nil
	}

	res := db.Where("source_file IN ?", sources).Delete(&transactionRow{})
	if res.Error != nil {
		return 0, storageFailure(table, "delete_sources", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SQLStore) ReplaceSource(ctx context.Context, table, source string, txns []*models.Transaction) (int64, error) {
	if _, err := s.table(ctx, table); err != nil {
		return 0, err
	}

	rows := make([]*transactionRow, len(txns))
	for i, tx := range txns {
		rows[i] = &transactionRow{Transaction: *tx}
	}

	var replaced int64
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		res := db.Table(table).Where("source_file = ?", source).Delete(&transactionRow{})
		if res.Error != nil {
			return res.Error
		}
		replaced = res.RowsAffected
		if len(rows) == 0 {
			return nil
		}
		return db.Table(table).CreateInBatches(rows, sqlBatchSize).Error
	})
	if err != nil {
		return 0, storageFailure(table, "replace_source", err)
	}

	s.logger.WithFields(logger.Fields{"table": table, "source": source, "replaced": replaced, "count": len(rows)}).Debug("Source replaced")
	return replaced, nil
}

func (s *SQLStore) Clear(ctx context.Context, table string) error {
	db, err := s.table(ctx, table)
	if err != nil {
		return err
	}
	if err := db.Where("1 = 1").Delete(&transactionRow{}).Error; err != nil {
		return storageFailure(table, "clear", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
