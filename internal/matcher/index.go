package matcher

import (
	"cnab-reconciliation-service/internal/models"
)

// ReferenceIndex is a multimap from reference number to the transactions
// carrying it. Keys and the transactions under each key keep first-seen order.
type ReferenceIndex struct {
	keys    []string
	buckets map[string][]*models.Transaction
	size    int
}

// NewReferenceIndex indexes transactions by ReferenceNumber.
func NewReferenceIndex(transactions []*models.Transaction) *ReferenceIndex {
	index := &ReferenceIndex{
		buckets: make(map[string][]*models.Transaction),
	}
	for _, tx := range transactions {
		index.Add(tx)
	}
	return index
}

// Add appends tx under its reference number.
func (ix *ReferenceIndex) Add(tx *models.Transaction) {
	key := tx.ReferenceNumber
	if _, seen := ix.buckets[key]; !seen {
		ix.keys = append(ix.keys, key)
	}
	ix.buckets[key] = append(ix.buckets[key], tx)
	ix.size++
}

// Get returns the transactions under key, in insertion order.
func (ix *ReferenceIndex) Get(key string) []*models.Transaction {
	return ix.buckets[key]
}

// Has reports whether any transaction carries key.
func (ix *ReferenceIndex) Has(key string) bool {
	_, ok := ix.buckets[key]
	return ok
}

// Keys returns the distinct reference numbers in first-seen order.
func (ix *ReferenceIndex) Keys() []string {
	out := make([]string, len(ix.keys))
	copy(out, ix.keys)
	return out
}

// Len returns the number of indexed transactions.
func (ix *ReferenceIndex) Len() int {
	return ix.size
}

// KeyCount returns the number of distinct reference numbers.
func (ix *ReferenceIndex) KeyCount() int {
	return len(ix.keys)
}

// Duplicates returns the keys carried by more than one transaction.
func (ix *ReferenceIndex) Duplicates() []string {
	var out []string
	for _, key := range ix.keys {
		if len(ix.buckets[key]) > 1 {
			out = append(out, key)
		}
	}
	return out
}

// unionKeys returns the keys of a followed by the keys only in b.
func unionKeys(a, b *ReferenceIndex) []string {
	keys := a.Keys()
	for _, key := range b.keys {
		if !a.Has(key) {
			keys = append(keys, key)
		}
	}
	return keys
}
