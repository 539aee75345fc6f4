package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/memdb/internal/errors"
	"github.com/devrev/memdb/internal/metrics"
	"github.com/devrev/memdb/internal/model"
	"github.com/devrev/memdb/internal/storage/index"
	"github.com/devrev/memdb/internal/store"
	"github.com/devrev/memdb/internal/util/workerpool"
	"github.com/devrev/memdb/internal/validation"
)

const (
	defaultFlushInterval = 10 * time.Second
	defaultEvictInterval = 30 * time.Second
	defaultQueryLimit    = 100
	maxQueryLimit        = 1000
)

// EngineConfig holds engine configuration
type EngineConfig struct {
	// FlushInterval is the period of the background flush task
	FlushInterval time.Duration
	// EvictInterval is both the idle TTL and the period of the background
	// eviction task
	EvictInterval time.Duration
	// FlushWorkers bounds the goroutines running per-table flush batches
	FlushWorkers int
}

// tableState tracks what the engine knows about a logical table
type tableState struct {
	schemaHint  map[string]string
	ensured     bool
	quarantined bool // set on SchemaError, cleared by CreateTable
}

// loadCall is one in-flight cache-miss load. Waiters block on done and then
// share doc/err with the caller that issued the fetch.
type loadCall struct {
	done chan struct{}
	doc  model.Document
	err  error
}

// Engine is the write-back cache engine: an in-memory record index absorbing
// writes, a periodic flush pipeline persisting dirty records in batches, and
// a periodic eviction pipeline dropping idle clean records.
//
// One engine-wide mutex serializes access to the index, the in-flight load
// registry and the stats counters. The mutex is never held across store I/O;
// the background pipelines snapshot under the lock, do I/O without it, and
// reconcile under it again.
type Engine struct {
	cfg       *EngineConfig
	store     store.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
	validator *validation.Validator

	mu       sync.Mutex
	index    *index.Index
	inFlight map[string]*loadCall
	tables   map[string]*tableState
	counters struct {
		cacheHits   uint64
		cacheMisses uint64
		inserts     uint64
		flushes     uint64
		evictions   uint64
		storeErrors uint64
	}

	flushSvc *FlushService
	evictSvc *EvictionService
	pool     *workerpool.Pool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewEngine creates an engine over the given store. Metrics may be nil.
func NewEngine(cfg *EngineConfig, st store.Store, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = defaultEvictInterval
	}
	if cfg.FlushWorkers <= 0 {
		cfg.FlushWorkers = 4
	}

	e := &Engine{
		cfg:       cfg,
		store:     st,
		metrics:   m,
		logger:    logger,
		validator: validation.NewValidator(),
		index:     index.New(),
		inFlight:  make(map[string]*loadCall),
		tables:    make(map[string]*tableState),
	}

	e.pool = workerpool.New(&workerpool.Config{
		Name:       "flush",
		MaxWorkers: cfg.FlushWorkers,
		QueueSize:  cfg.FlushWorkers * 16,
		Logger:     logger,
	})
	e.flushSvc = NewFlushService(e, st, e.pool, cfg.FlushInterval, m, logger)
	e.evictSvc = NewEvictionService(e, cfg.EvictInterval, m, logger)
	return e
}

// Start verifies store connectivity and launches the background pipelines
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return errors.InternalError("engine already started", nil)
	}
	e.mu.Unlock()

	if err := e.store.Ping(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		cancel()
		return errors.EngineStopped("start")
	}
	e.started = true
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.flushSvc.Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.evictSvc.Run(runCtx)
	}()

	e.logger.Info("Engine started",
		zap.Duration("flush_interval", e.cfg.FlushInterval),
		zap.Duration("evict_interval", e.cfg.EvictInterval))
	return nil
}

// Stop cancels the background pipelines, waits for their current tick, runs
// one final flush of every dirty entry and closes the store. It returns the
// residual dirty count; flush failures during shutdown are reported but do
// not prevent the store from closing.
func (e *Engine) Stop(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return 0, nil
	}
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	_, flushErr := e.flushSvc.RunOnce(ctx, "")
	if flushErr != nil {
		e.logger.Error("Final flush incomplete", zap.Error(flushErr))
	}

	e.mu.Lock()
	residual := e.index.DirtyLen()
	e.mu.Unlock()
	if residual > 0 {
		e.logger.Warn("Dirty records not persisted at shutdown", zap.Int("count", residual))
	}

	if err := e.pool.Stop(5 * time.Second); err != nil {
		e.logger.Warn("Worker pool stop timed out", zap.Error(err))
	}
	e.store.Close()

	e.logger.Info("Engine stopped", zap.Int("residual_dirty", residual))
	return residual, flushErr
}

// CreateTable ensures the backing table exists in the store. Calling it for
// a table quarantined by a schema error puts the table back into rotation.
func (e *Engine) CreateTable(ctx context.Context, table string, schemaHint map[string]string) error {
	if err := e.validator.ValidateTable(table); err != nil {
		return err
	}
	if err := e.checkRunning("create_table"); err != nil {
		return err
	}

	if err := e.store.EnsureTable(ctx, table, schemaHint); err != nil {
		e.noteStoreError(err)
		return err
	}

	e.mu.Lock()
	state := e.tableState(table)
	state.schemaHint = schemaHint
	state.ensured = true
	state.quarantined = false
	e.mu.Unlock()
	return nil
}

// Insert writes a record into the index and marks it dirty. The write is
// absorbed in memory; durability is deferred to the flush pipeline, so the
// call never touches the store.
func (e *Engine) Insert(table, key string, doc model.Document) error {
	start := time.Now()
	if err := e.validator.ValidateWrite(table, key, doc); err != nil {
		return err
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return errors.EngineStopped("insert")
	}
	e.index.Put(table, key, doc, true, time.Now())
	e.tableState(table)
	e.counters.inserts++
	cached, dirty := e.index.Len(), e.index.DirtyLen()
	e.mu.Unlock()

	e.metrics.RecordWrite(time.Since(start).Seconds())
	e.metrics.SetIndexSize(cached, dirty)
	return nil
}

// Upsert is Insert; records are replaced wholesale by key
func (e *Engine) Upsert(table, key string, doc model.Document) error {
	return e.Insert(table, key, doc)
}

// Get returns the record's document, serving from memory when cached. On a
// miss with useCache, the document is loaded from the store and cached as
// clean; concurrent misses for the same key coalesce into a single store
// fetch. Returns (nil, nil) when the key does not exist anywhere.
func (e *Engine) Get(ctx context.Context, table, key string, useCache bool) (model.Document, error) {
	start := time.Now()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, errors.EngineStopped("get")
	}
	if entry := e.index.GetEntry(table, key, time.Now()); entry != nil {
		doc := entry.Document.Clone()
		e.counters.cacheHits++
		e.mu.Unlock()
		e.metrics.RecordRead(time.Since(start).Seconds(), true)
		return doc, nil
	}
	e.counters.cacheMisses++

	if !useCache {
		e.mu.Unlock()
		doc, err := e.store.Fetch(ctx, table, key)
		if err != nil {
			e.noteStoreError(err)
			return nil, err
		}
		e.metrics.RecordRead(time.Since(start).Seconds(), false)
		return doc, nil
	}

	k := table + "/" + key
	if c, ok := e.inFlight[k]; ok {
		e.mu.Unlock()
		select {
		case <-c.done:
		case <-ctx.Done():
			return nil, errors.Timeout("cache-miss load canceled", ctx.Err())
		}
		e.metrics.RecordRead(time.Since(start).Seconds(), false)
		return c.doc.Clone(), c.err
	}

	c := &loadCall{done: make(chan struct{})}
	e.inFlight[k] = c
	e.mu.Unlock()

	doc, err := e.store.Fetch(ctx, table, key)

	e.mu.Lock()
	delete(e.inFlight, k)
	if err != nil {
		c.err = err
		e.counters.storeErrors++
		e.mu.Unlock()
		close(c.done)
		e.metrics.RecordStoreError()
		return nil, err
	}
	if entry := e.index.GetEntry(table, key, time.Now()); entry != nil {
		// A write landed while the load was in flight; memory wins.
		c.doc = entry.Document.Clone()
	} else if doc != nil {
		e.index.Put(table, key, doc, false, time.Now())
		e.tableState(table)
		c.doc = doc
	}
	cached, dirty := e.index.Len(), e.index.DirtyLen()
	e.mu.Unlock()
	close(c.done)

	e.metrics.RecordRead(time.Since(start).Seconds(), false)
	e.metrics.SetIndexSize(cached, dirty)
	return c.doc.Clone(), nil
}

// Query forwards an opaque predicate to the store. Results are independent
// of cache contents; unflushed writes are not visible.
func (e *Engine) Query(ctx context.Context, table, predicate string, limit int) ([]model.Document, error) {
	start := time.Now()
	if err := e.validator.ValidateTable(table); err != nil {
		return nil, err
	}
	if err := e.checkRunning("query"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	docs, err := e.store.Query(ctx, table, predicate, limit)
	if err != nil {
		e.noteStoreError(err)
		return nil, err
	}
	e.metrics.RecordQuery(time.Since(start).Seconds())
	return docs, nil
}

// Flush runs one synchronous flush pass. An empty table flushes all tables.
// Store errors are aggregated; partially failed batches stay dirty and retry
// on the next pass.
func (e *Engine) Flush(ctx context.Context, table string) (int, error) {
	if table != "" {
		if err := e.validator.ValidateTable(table); err != nil {
			return 0, err
		}
	}
	if err := e.checkRunning("flush"); err != nil {
		return 0, err
	}
	return e.flushSvc.RunOnce(ctx, table)
}

// EvictIdle runs one synchronous eviction pass and returns the number of
// entries dropped
func (e *Engine) EvictIdle() (int, error) {
	if err := e.checkRunning("evict_idle"); err != nil {
		return 0, err
	}
	return e.evictSvc.RunOnce(), nil
}

// Stats returns a snapshot of the engine counters
func (e *Engine) Stats() model.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.Stats{
		CacheHits:     e.counters.cacheHits,
		CacheMisses:   e.counters.cacheMisses,
		Inserts:       e.counters.inserts,
		Flushes:       e.counters.flushes,
		Evictions:     e.counters.evictions,
		StoreErrors:   e.counters.storeErrors,
		CachedRecords: e.index.Len(),
		DirtyRecords:  e.index.DirtyLen(),
		Tables:        len(e.tables),
	}
}

// checkRunning rejects public operations once Stop has begun
func (e *Engine) checkRunning(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return errors.EngineStopped(op)
	}
	return nil
}

// tableState returns the state for a table, creating it when first seen.
// Callers must hold the engine mutex.
func (e *Engine) tableState(table string) *tableState {
	state, ok := e.tables[table]
	if !ok {
		state = &tableState{}
		e.tables[table] = state
	}
	return state
}

func (e *Engine) noteStoreError(err error) {
	e.mu.Lock()
	e.counters.storeErrors++
	e.mu.Unlock()
	e.metrics.RecordStoreError()
	e.logger.Warn("Store operation failed", zap.Error(err))
}

// flushSource implementation; these are the only entry points the flush
// pipeline has into engine state.

func (e *Engine) snapshotDirty(table string) []model.DirtyRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	records := e.index.SnapshotDirty(table)
	filtered := records[:0]
	for _, r := range records {
		if state, ok := e.tables[r.Table]; ok && state.quarantined {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func (e *Engine) tableEnsureState(table string) (bool, map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.tableState(table)
	return !state.ensured, state.schemaHint
}

func (e *Engine) markEnsured(table string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tableState(table).ensured = true
}

func (e *Engine) quarantineTable(table string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tableState(table).quarantined = true
	e.logger.Error("Table quarantined after schema error; call create_table to resume flushing",
		zap.String("table", table))
}

func (e *Engine) ackFlushed(table, key string, version int64) bool {
	e.mu.Lock()
	cleared := e.index.ClearDirtyIfUnchanged(table, key, version, time.Now())
	if cleared {
		e.counters.flushes++
	}
	cached, dirty := e.index.Len(), e.index.DirtyLen()
	e.mu.Unlock()

	e.metrics.SetIndexSize(cached, dirty)
	return cleared
}

func (e *Engine) noteFlushError(err error) {
	e.noteStoreError(err)
}

// evictSource implementation

// evictPass drops clean entries idle for at least the eviction TTL. Dirty
// entries are skipped regardless of age.
func (e *Engine) evictPass() int {
	now := time.Now()
	ttl := e.cfg.EvictInterval

	e.mu.Lock()
	evicted := 0
	e.index.Range(func(table, key string, entry *model.CacheEntry) bool {
		if entry.Dirty {
			return true
		}
		if now.Sub(entry.LastAccess) >= ttl {
			e.index.Drop(table, key)
			evicted++
		}
		return true
	})
	e.counters.evictions += uint64(evicted)
	cached, dirty := e.index.Len(), e.index.DirtyLen()
	e.mu.Unlock()

	e.metrics.SetIndexSize(cached, dirty)
	return evicted
}
