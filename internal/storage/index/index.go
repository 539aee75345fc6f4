// Package index implements the in-memory record index backing the engine.
//
// The index itself performs no locking: every method must be called with the
// engine mutex held. The engine is the only owner; keeping the structure
// lock-free lets snapshot, reconcile and eviction passes compose under a
// single critical section.
package index

import (
	"time"

	"github.com/devrev/memdb/internal/model"
)

// Index maps (table, key) to cache entries and tracks the dirty count.
type Index struct {
	tables map[string]map[string]*model.CacheEntry
	dirty  int
}

// New creates an empty index
func New() *Index {
	return &Index{
		tables: make(map[string]map[string]*model.CacheEntry),
	}
}

// Put creates or replaces the entry for (table, key). The document is stored
// as a fresh top-level copy so later caller mutations cannot leak in. An
// already-dirty entry stays dirty even when markDirty is false.
func (ix *Index) Put(table, key string, doc model.Document, markDirty bool, now time.Time) *model.CacheEntry {
	rows, ok := ix.tables[table]
	if !ok {
		rows = make(map[string]*model.CacheEntry)
		ix.tables[table] = rows
	}

	entry, ok := rows[key]
	if !ok {
		entry = &model.CacheEntry{}
		rows[key] = entry
	}

	wasDirty := entry.Dirty
	entry.Document = doc.Clone()
	entry.Dirty = markDirty || entry.Dirty
	entry.Version++
	entry.LastAccess = now

	if entry.Dirty && !wasDirty {
		ix.dirty++
	}
	return entry
}

// GetEntry returns the entry for (table, key) and refreshes its last access
// time, or nil when absent.
func (ix *Index) GetEntry(table, key string, now time.Time) *model.CacheEntry {
	entry, ok := ix.tables[table][key]
	if !ok {
		return nil
	}
	entry.LastAccess = now
	return entry
}

// ClearDirtyIfUnchanged marks the entry clean iff it still exists and its
// version matches the one observed at snapshot time. A version advance means
// the entry was re-written during the flush and the new document has not been
// persisted. The dirty->clean transition counts as an access.
func (ix *Index) ClearDirtyIfUnchanged(table, key string, observedVersion int64, now time.Time) bool {
	entry, ok := ix.tables[table][key]
	if !ok || entry.Version != observedVersion {
		return false
	}
	if entry.Dirty {
		entry.Dirty = false
		entry.LastAccess = now
		ix.dirty--
	}
	return true
}

// SnapshotDirty returns a frozen snapshot of the currently dirty entries,
// scoped to one table or, with an empty table argument, to all tables. The
// returned documents are the stored values at this instant; writers replace
// documents wholesale, so the snapshot stays stable after the mutex is
// released.
func (ix *Index) SnapshotDirty(table string) []model.DirtyRecord {
	var records []model.DirtyRecord

	appendTable := func(name string, rows map[string]*model.CacheEntry) {
		for key, entry := range rows {
			if !entry.Dirty {
				continue
			}
			records = append(records, model.DirtyRecord{
				Table:    name,
				Key:      key,
				Version:  entry.Version,
				Document: entry.Document,
			})
		}
	}

	if table != "" {
		if rows, ok := ix.tables[table]; ok {
			appendTable(table, rows)
		}
		return records
	}
	for name, rows := range ix.tables {
		appendTable(name, rows)
	}
	return records
}

// Drop removes the entry for (table, key)
func (ix *Index) Drop(table, key string) bool {
	rows, ok := ix.tables[table]
	if !ok {
		return false
	}
	entry, ok := rows[key]
	if !ok {
		return false
	}
	if entry.Dirty {
		ix.dirty--
	}
	delete(rows, key)
	if len(rows) == 0 {
		delete(ix.tables, table)
	}
	return true
}

// Range calls fn for every entry until fn returns false. Entries may be
// dropped from within fn.
func (ix *Index) Range(fn func(table, key string, entry *model.CacheEntry) bool) {
	for name, rows := range ix.tables {
		for key, entry := range rows {
			if !fn(name, key, entry) {
				return
			}
		}
	}
}

// Len returns the number of cached entries
func (ix *Index) Len() int {
	n := 0
	for _, rows := range ix.tables {
		n += len(rows)
	}
	return n
}

// DirtyLen returns the number of dirty entries
func (ix *Index) DirtyLen() int {
	return ix.dirty
}
