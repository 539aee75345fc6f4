package store

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/memdb/internal/errors"
	"github.com/devrev/memdb/internal/model"
)

// MemoryStore is an in-memory Store for tests. It counts fetch and upsert
// calls per key and supports failure injection for connectivity, schema and
// per-item upsert errors.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]map[string]model.Document

	fetchCalls  map[string]int
	upsertCalls map[string]int

	fetchDelay  time.Duration
	upsertDelay time.Duration
	fetchErr    error
	ensureErr   error
	batchErr    error
	failKeys    map[string]error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:      make(map[string]map[string]model.Document),
		fetchCalls:  make(map[string]int),
		upsertCalls: make(map[string]int),
		failKeys:    make(map[string]error),
	}
}

func recordKey(table, key string) string {
	return table + "/" + key
}

// EnsureTable creates the logical table
func (s *MemoryStore) EnsureTable(ctx context.Context, table string, schemaHint map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensureErr != nil {
		return s.ensureErr
	}
	if _, ok := s.tables[table]; !ok {
		s.tables[table] = make(map[string]model.Document)
	}
	return nil
}

// Fetch returns the stored document, or nil when absent
func (s *MemoryStore) Fetch(ctx context.Context, table, key string) (model.Document, error) {
	s.mu.Lock()
	s.fetchCalls[recordKey(table, key)]++
	delay := s.fetchDelay
	err := s.fetchErr
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errors.Timeout("fetch canceled", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.tables[table][key]
	if !ok {
		return nil, nil
	}
	return doc.Clone(), nil
}

// UpsertBatch stores each item unless an injected failure applies
func (s *MemoryStore) UpsertBatch(ctx context.Context, table string, items []UpsertItem) ([]string, error) {
	s.mu.Lock()
	delay := s.upsertDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errors.Timeout("upsert canceled", ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batchErr != nil {
		return nil, s.batchErr
	}
	rows, ok := s.tables[table]
	if !ok {
		rows = make(map[string]model.Document)
		s.tables[table] = rows
	}

	acked := make([]string, 0, len(items))
	var firstErr error
	for _, item := range items {
		s.upsertCalls[recordKey(table, item.Key)]++
		if err, ok := s.failKeys[item.Key]; ok {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rows[item.Key] = item.Document.Clone()
		acked = append(acked, item.Key)
	}
	return acked, firstErr
}

// Query returns all documents of the table up to limit. Predicates are not
// interpreted; the fake only supports the empty predicate.
func (s *MemoryStore) Query(ctx context.Context, table, predicate string, limit int) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if predicate != "" {
		return nil, errors.QueryError("memory store does not interpret predicates", nil)
	}
	var docs []model.Document
	for key, doc := range s.tables[table] {
		if len(docs) >= limit {
			break
		}
		out := doc.Clone()
		out["_key"] = key
		docs = append(docs, out)
	}
	return docs, nil
}

// Ping always succeeds unless a fetch error is injected
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return s.fetchErr
	}
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() {}

// Test hooks

// SetFetchDelay makes every fetch block for d before returning
func (s *MemoryStore) SetFetchDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchDelay = d
}

// SetUpsertDelay makes every upsert batch block for d before storing
func (s *MemoryStore) SetUpsertDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertDelay = d
}

// SetFetchErr makes fetches and pings fail with err
func (s *MemoryStore) SetFetchErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

// SetEnsureErr makes EnsureTable fail with err
func (s *MemoryStore) SetEnsureErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureErr = err
}

// SetBatchErr makes whole UpsertBatch calls fail with err
func (s *MemoryStore) SetBatchErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchErr = err
}

// FailKey makes upserts of key fail with err; pass nil to clear
func (s *MemoryStore) FailKey(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failKeys, key)
		return
	}
	s.failKeys[key] = err
}

// FetchCalls returns the number of fetches issued for (table, key)
func (s *MemoryStore) FetchCalls(table, key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls[recordKey(table, key)]
}

// UpsertCalls returns the number of upserts issued for (table, key)
func (s *MemoryStore) UpsertCalls(table, key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCalls[recordKey(table, key)]
}

// Stored returns the persisted document for (table, key), or nil
func (s *MemoryStore) Stored(table, key string) model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.tables[table][key]
	if !ok {
		return nil
	}
	return doc.Clone()
}
