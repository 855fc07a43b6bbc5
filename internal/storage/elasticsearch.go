package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/google/uuid"

	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/pkg/logger"
)

const (
	esFlushBytes  = 1 << 20
	esPageSize    = 1000
	esScrollKeep  = time.Minute
	esMaxSources  = 10000
	esSequenceKey = "sequence"
)

// indexMapping stores every string as a keyword so source files aggregate
// and currency strings keep their exact text.
const indexMapping = `{
  "mappings": {
    "dynamic_templates": [
      {"strings": {"match_mapping_type": "string", "mapping": {"type": "keyword"}}}
    ],
    "properties": {
      "sequence": {"type": "long"}
    }
  }
}`

// document is the indexed shape of a transaction.
type document struct {
	*models.Transaction
	Sequence int64 `json:"sequence"`
}

// ElasticStore keeps each table as an Elasticsearch index named
// <prefix><table>.
type ElasticStore struct {
	es       *elasticsearch.Client
	prefix   string
	sequence int64
	logger   logger.Logger
}

// NewElasticStore connects to addresses, retrying the first ping with
// exponential backoff. Without addresses the client default is used.
func NewElasticStore(ctx context.Context, prefix string, addresses ...string) (*ElasticStore, error) {
	retryBackoff := backoff.NewExponentialBackOff()

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,

		// Retry on 429 TooManyRequests statuses
		RetryOnStatus: []int{502, 503, 504, 429},

		RetryBackoff: func(i int) time.Duration {
			if i == 1 {
				retryBackoff.Reset()
			}
			return retryBackoff.NextBackOff()
		},
		MaxRetries: 5,
	})
	if err != nil {
		return nil, storageFailure(strings.Join(addresses, ","), "connect", err)
	}

	store := newElasticStore(es, prefix)

	ping := func() error {
		res, err := es.Ping(es.Ping.WithContext(ctx))
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("ping: %s", res.Status())
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		return nil, storageFailure(strings.Join(addresses, ","), "connect", err)
	}
	return store, nil
}

func newElasticStore(es *elasticsearch.Client, prefix string) *ElasticStore {
	return &ElasticStore{
		es:       es,
		prefix:   prefix,
		sequence: time.Now().UnixNano(),
		logger:   logger.GetGlobalLogger().WithComponent("storage.elasticsearch"),
	}
}

func (e *ElasticStore) index(table string) (string, error) {
	if err := ValidateTable(table); err != nil {
		return "", err
	}
	return e.prefix + table, nil
}

func (e *ElasticStore) ensureIndex(ctx context.Context, index string) error {
	res, err := e.es.Indices.Create(index,
		e.es.Indices.Create.WithContext(ctx),
		e.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	// 400 means the index already exists.
	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		return responseError(res)
	}
	return nil
}

func (e *ElasticStore) Save(ctx context.Context, table string, txns []*models.Transaction) error {
	index, err := e.index(table)
	if err != nil {
		return err
	}
	if err := e.ensureIndex(ctx, index); err != nil {
		return storageFailure(table, "create_index", err)
	}
	if len(txns) == 0 {
		return nil
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:         index,
		Client:        e.es,
		NumWorkers:    1,
		FlushBytes:    esFlushBytes,
		FlushInterval: 10 * time.Second,
	})
	if err != nil {
		return storageFailure(table, "save", err)
	}

	var (
		failMu       sync.Mutex
		firstFailure error
	)
	for _, tx := range txns {
		data, err := json.Marshal(document{Transaction: tx, Sequence: atomic.AddInt64(&e.sequence, 1)})
		if err != nil {
			return storageFailure(table, "encode", err)
		}

		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: uuid.NewString(),
			Body:       bytes.NewReader(data),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err == nil {
					err = fmt.Errorf("%s: %s", res.Error.Type, res.Error.Reason)
				}
				failMu.Lock()
				if firstFailure == nil {
					firstFailure = err
				}
				failMu.Unlock()
				e.logger.WithError(err).WithField("document_id", item.DocumentID).Warn("Failed to index transaction")
			},
		})
		if err != nil {
			return storageFailure(table, "save", err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return storageFailure(table, "save", err)
	}

	stats := bi.Stats()
	if stats.NumFailed > 0 {
		return storageFailure(table, "save", fmt.Errorf("failed indexing %d docs: %v", stats.NumFailed, firstFailure))
	}

	if err := e.refresh(ctx, index); err != nil {
		return storageFailure(table, "refresh", err)
	}

	e.logger.WithFields(logger.Fields{"index": index, "indexed": stats.NumFlushed}).Debug("Transactions indexed")
	return nil
}

func (e *ElasticStore) refresh(ctx context.Context, index string) error {
	res, err := e.es.Indices.Refresh(
		e.es.Indices.Refresh.WithContext(ctx),
		e.es.Indices.Refresh.WithIndex(index),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}
	return nil
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			Source document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		Sources struct {
			Buckets []struct {
				Key string `json:"key"`
			} `json:"buckets"`
		} `json:"sources"`
	} `json:"aggregations"`
	Count int64 `json:"count"`
}

func (r *searchResponse) transactions() []*models.Transaction {
	out := make([]*models.Transaction, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		if hit.Source.Transaction != nil {
			out = append(out, hit.Source.Transaction)
		}
	}
	return out
}

func (e *ElasticStore) LoadAll(ctx context.Context, table string) ([]*models.Transaction, error) {
	index, err := e.index(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`{"query":{"match_all":{}},"sort":[{%q:"asc"}]}`, esSequenceKey)
	res, err := e.es.Search(
		e.es.Search.WithContext(ctx),
		e.es.Search.WithIndex(index),
		e.es.Search.WithBody(strings.NewReader(query)),
		e.es.Search.WithSize(esPageSize),
		e.es.Search.WithScroll(esScrollKeep),
	)
	if err != nil {
		return nil, storageFailure(table, "load", err)
	}

	var page searchResponse
	found, err := decodeResponse(res, &page)
	if err != nil {
		return nil, storageFailure(table, "load", err)
	}
	if !found {
		return []*models.Transaction{}, nil
	}

	out := page.transactions()
	scrollID := page.ScrollID
	defer e.clearScroll(scrollID)

	for len(page.Hits.Hits) > 0 && scrollID != "" {
		res, err := e.es.Scroll(
			e.es.Scroll.WithContext(ctx),
			e.es.Scroll.WithScrollID(scrollID),
			e.es.Scroll.WithScroll(esScrollKeep),
		)
		if err != nil {
			return nil, storageFailure(table, "load", err)
		}
		page = searchResponse{}
		if _, err := decodeResponse(res, &page); err != nil {
			return nil, storageFailure(table, "load", err)
		}
		out = append(out, page.transactions()...)
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}
	return out, nil
}

func (e *ElasticStore) clearScroll(id string) {
	if id == "" {
		return
	}
	res, err := e.es.ClearScroll(e.es.ClearScroll.WithScrollID(id))
	if err != nil {
		e.logger.WithError(err).Debug("Failed to clear scroll")
		return
	}
	res.Body.Close()
}

func (e *ElasticStore) Sources(ctx context.Context, table string) ([]string, error) {
	index, err := e.index(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`{"size":0,"aggs":{"sources":{"terms":{"field":"source_file","size":%d}}}}`, esMaxSources)
	res, err := e.es.Search(
		e.es.Search.WithContext(ctx),
		e.es.Search.WithIndex(index),
		e.es.Search.WithBody(strings.NewReader(query)),
	)
	if err != nil {
		return nil, storageFailure(table, "sources", err)
	}

	var body searchResponse
	if _, err := decodeResponse(res, &body); err != nil {
		return nil, storageFailure(table, "sources", err)
	}

	sources := make([]string, 0, len(body.Aggregations.Sources.Buckets))
	for _, b := range body.Aggregations.Sources.Buckets {
		sources = append(sources, b.Key)
	}
	sort.Strings(sources)
	return sources, nil
}

func (e *ElasticStore) HasSource(ctx context.Context, table, source string) (bool, error) {
	index, err := e.index(table)
	if err != nil {
		return false, err
	}

	res, err := e.es.Count(
		e.es.Count.WithContext(ctx),
		e.es.Count.WithIndex(index),
		e.es.Count.WithBody(strings.NewReader(termsQuery([]string{source}))),
	)
	if err != nil {
		return false, storageFailure(table, "has_source", err)
	}

	var body searchResponse
	if _, err := decodeResponse(res, &body); err != nil {
		return false, storageFailure(table, "has_source", err)
	}
	return body.Count > 0, nil
}

func (e *ElasticStore) DeleteSources(ctx context.Context, table string, sources []string) (int64, error) {
	index, err := e.index(table)
	if err != nil {
		return 0, err
	}
	if len(sources) == 0 {
		return 0, nil
	}

	deleted, err := e.deleteByQuery(ctx, index, termsQuery(sources))
	if err != nil {
		return 0, storageFailure(table, "delete_sources", err)
	}
	return deleted, nil
}

// ReplaceSource indexes txns first and then deletes the documents of source
// that belong to other imports. txns must carry an import id.
func (e *ElasticStore) ReplaceSource(ctx context.Context, table, source string, txns []*models.Transaction) (int64, error) {
	index, err := e.index(table)
	if err != nil {
		return 0, err
	}

	keep := importIDs(txns)
	if len(txns) > 0 && len(keep) == 0 {
		return 0, storageFailure(table, "replace_source", fmt.Errorf("transactions of %s carry no import id", source))
	}
	if err := e.Save(ctx, table, txns); err != nil {
		e.rollback(index, source, keep)
		return 0, err
	}

	replaced, err := e.deleteByQuery(ctx, index, staleQuery(source, keep))
	if err != nil {
		e.rollback(index, source, keep)
		return 0, storageFailure(table, "replace_source", err)
	}
	return replaced, nil
}

// rollback drops the documents of the given imports so the previous import
// of source stays the only copy.
func (e *ElasticStore) rollback(index, source string, ids []string) {
	if len(ids) == 0 {
		return
	}
	if _, err := e.deleteByQuery(context.Background(), index, importQuery(ids)); err != nil {
		e.logger.WithError(err).WithField("source", source).Error("Failed to roll back replacement")
	}
}

func (e *ElasticStore) deleteByQuery(ctx context.Context, index, query string) (int64, error) {
	res, err := e.es.DeleteByQuery([]string{index}, strings.NewReader(query),
		e.es.DeleteByQuery.WithContext(ctx),
		e.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, err
	}

	var body struct {
		Deleted int64 `json:"deleted"`
	}
	if _, err := decodeResponse(res, &body); err != nil {
		return 0, err
	}
	return body.Deleted, nil
}

func importIDs(txns []*models.Transaction) []string {
	seen := map[string]bool{}
	var ids []string
	for _, tx := range txns {
		if tx.ImportID != "" && !seen[tx.ImportID] {
			seen[tx.ImportID] = true
			ids = append(ids, tx.ImportID)
		}
	}
	return ids
}

func (e *ElasticStore) Clear(ctx context.Context, table string) error {
	index, err := e.index(table)
	if err != nil {
		return err
	}

	res, err := e.es.Indices.Delete([]string{index}, e.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return storageFailure(table, "clear", err)
	}
	if _, err := decodeResponse(res, nil); err != nil {
		return storageFailure(table, "clear", err)
	}
	return nil
}

func (e *ElasticStore) Close() error {
	return nil
}

func termsQuery(sources []string) string {
	data, _ := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"terms": map[string]interface{}{"source_file": sources},
		},
	})
	return string(data)
}

// staleQuery matches the documents of source outside the keep imports.
func staleQuery(source string, keep []string) string {
	clause := map[string]interface{}{
		"filter": []interface{}{
			map[string]interface{}{"terms": map[string]interface{}{"source_file": []string{source}}},
		},
	}
	if len(keep) > 0 {
		clause["must_not"] = []interface{}{
			map[string]interface{}{"terms": map[string]interface{}{"import_id": keep}},
		}
	}
	data, _ := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{"bool": clause},
	})
	return string(data)
}

func importQuery(ids []string) string {
	data, _ := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"terms": map[string]interface{}{"import_id": ids},
		},
	})
	return string(data)
}

// decodeResponse closes res and decodes its body into v. A 404 reports
// found=false without error.
func decodeResponse(res *esapi.Response, v interface{}) (found bool, err error) {
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.IsError() {
		return false, responseError(res)
	}
	if v == nil {
		return true, nil
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}

func responseError(res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("elasticsearch %s: %s", res.Status(), strings.TrimSpace(string(body)))
}
