// Package store abstracts the durable document store behind the cache
// engine. Adapters exist for PostgreSQL (production), SQLite (embedded and
// local development) and an in-memory fake for tests.
package store

import (
	"context"
	"regexp"

	"github.com/devrev/memdb/internal/model"
)

// UpsertItem is one (key, document) pair of a batch upsert
type UpsertItem struct {
	Key      string
	Document model.Document
}

// Store is the capability set the engine requires from a persistent store.
//
// UpsertBatch must be atomic per item, not per batch; it returns the keys the
// store acknowledged, so partial failures leave the remaining items for the
// next flush attempt. Fetch returns (nil, nil) when the key is absent.
type Store interface {
	// EnsureTable idempotently creates the backing table. Never drops data.
	// The schema hint is advisory and unused beyond DDL time.
	EnsureTable(ctx context.Context, table string, schemaHint map[string]string) error

	// Fetch returns the document stored under (table, key), or nil
	Fetch(ctx context.Context, table, key string) (model.Document, error)

	// UpsertBatch inserts or updates the given items by primary key and
	// returns the acknowledged keys
	UpsertBatch(ctx context.Context, table string, items []UpsertItem) ([]string, error)

	// Query forwards an opaque predicate to the store and returns matching
	// documents with the primary key injected under "_key"
	Query(ctx context.Context, table, predicate string, limit int) ([]model.Document, error)

	// Ping verifies store connectivity
	Ping(ctx context.Context) error

	// Close releases the connection pool
	Close()
}

// tablePrefix namespaces the physical tables owned by the engine
const tablePrefix = "memdb_"

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// physicalTable maps a logical table name to its physical name. Table names
// are interpolated into SQL, so anything outside the identifier charset is
// rejected here even though the engine validates earlier.
func physicalTable(table string) (string, bool) {
	if !identPattern.MatchString(table) {
		return "", false
	}
	return tablePrefix + table, true
}
