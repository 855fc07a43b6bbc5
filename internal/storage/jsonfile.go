package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"cnab-reconciliation-service/internal/models"
)

// JSONFileStore keeps each table as <dir>/<table>.json. Every write rewrites
// the whole file, so it suits small data sets and tests.
type JSONFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewJSONFileStore stores tables under dir, creating it if needed.
func NewJSONFileStore(dir string) (*JSONFileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storageFailure(dir, "open", err)
	}
	return &JSONFileStore{dir: dir}, nil
}

func (f *JSONFileStore) path(table string) string {
	return filepath.Join(f.dir, table+".json")
}

func (f *JSONFileStore) read(table string) ([]*models.Transaction, error) {
	data, err := os.ReadFile(f.path(table))
	if os.IsNotExist(err) {
		return []*models.Transaction{}, nil
	}
	if err != nil {
		return nil, storageFailure(table, "read", err)
	}

	var txns []*models.Transaction
	if err := json.Unmarshal(data, &txns); err != nil {
		return nil, storageFailure(table, "decode", err)
	}
	return txns, nil
}

func (f *JSONFileStore) write(table string, txns []*models.Transaction) error {
	data, err := json.Marshal(txns)
	if err != nil {
		return storageFailure(table, "encode", err)
	}

	tmp := f.path(table) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return storageFailure(table, "write", err)
	}
	if err := os.Rename(tmp, f.path(table)); err != nil {
		return storageFailure(table, "write", err)
	}
	return nil
}

func (f *JSONFileStore) Save(ctx context.Context, table string, txns []*models.Transaction) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.read(table)
	if err != nil {
		return err
	}
	return f.write(table, append(existing, txns...))
}

func (f *JSONFileStore) LoadAll(ctx context.Context, table string) ([]*models.Transaction, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(table)
}

func (f *JSONFileStore) Sources(ctx context.Context, table string) ([]string, error) {
	txns, err := f.LoadAll(ctx, table)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	sources := []string{}
	for _, tx := range txns {
		if !seen[tx.SourceFile] {
			seen[tx.SourceFile] = true
			sources = append(sources, tx.SourceFile)
		}
	}
	sort.Strings(sources)
	return sources, nil
}

func (f *JSONFileStore) HasSource(ctx context.Context, table, source string) (bool, error) {
	txns, err := f.LoadAll(ctx, table)
	if err != nil {
		return false, err
	}
	for _, tx := range txns {
		if tx.SourceFile == source {
			return true, nil
		}
	}
	return false, nil
}

func (f *JSONFileStore) DeleteSources(ctx context.Context, table string, sources []string) (int64, error) {
	if err := ValidateTable(table); err != nil {
		return 0, err
	}

	drop := make(map[string]bool, len(sources))
	for _, s := range sources {
		drop[s] = true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	txns, err := f.read(table)
	if err != nil {
		return 0, err
	}
	kept := txns[:0]
	for _, tx := range txns {
		if !drop[tx.SourceFile] {
			kept = append(kept, tx)
		}
	}
	removed := int64(len(txns) - len(kept))
	if removed == 0 {
		return 0, nil
	}
	return removed, f.write(table, kept)
}

// ReplaceSource rewrites the table file once, so a failed write leaves the
// previous file in place.
func (f *JSONFileStore) ReplaceSource(ctx context.Context, table, source string, txns []*models.Transaction) (int64, error) {
	if err := ValidateTable(table); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.read(table)
	if err != nil {
		return 0, err
	}
	kept := make([]*models.Transaction, 0, len(existing)+len(txns))
	for _, tx := range existing {
		if tx.SourceFile != source {
			kept = append(kept, tx)
		}
	}
	replaced := int64(len(existing) - len(kept))
	if err := f.write(table, append(kept, txns...)); err != nil {
		return 0, err
	}
	return replaced, nil
}

func (f *JSONFileStore) Clear(ctx context.Context, table string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(table)); err != nil && !os.IsNotExist(err) {
		return storageFailure(table, "clear", err)
	}
	return nil
}

func (f *JSONFileStore) Close() error {
	return nil
}
