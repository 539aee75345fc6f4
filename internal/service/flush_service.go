package service

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devrev/memdb/internal/errors"
	"github.com/devrev/memdb/internal/metrics"
	"github.com/devrev/memdb/internal/model"
	"github.com/devrev/memdb/internal/store"
	"github.com/devrev/memdb/internal/util/workerpool"
)

// flushSource is the slice of engine state the flush pipeline operates on.
// Every method is a short critical section under the engine mutex; no store
// I/O happens behind it.
type flushSource interface {
	snapshotDirty(table string) []model.DirtyRecord
	tableEnsureState(table string) (needsEnsure bool, hint map[string]string)
	markEnsured(table string)
	quarantineTable(table string)
	ackFlushed(table, key string, version int64) bool
	noteFlushError(err error)
}

// FlushService periodically drains dirty records to the store in per-table
// batches. Passes are serialized: a manual flush, the background tick and
// the shutdown flush all take the same mutex, so concurrent invocations are
// safe but not parallel.
type FlushService struct {
	src      flushSource
	store    store.Store
	pool     *workerpool.Pool
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	flushMu sync.Mutex
}

// NewFlushService creates a flush service
func NewFlushService(src flushSource, st store.Store, pool *workerpool.Pool, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *FlushService {
	return &FlushService{
		src:      src,
		store:    st,
		pool:     pool,
		interval: interval,
		metrics:  m,
		logger:   logger,
	}
}

// Run drives the periodic flush until ctx is canceled. Store failures are
// logged and retried on the next tick; the loop never exits on error.
func (s *FlushService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Flush loop stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, ""); err != nil {
				s.logger.Warn("Flush tick incomplete, will retry", zap.Error(err))
			}
		}
	}
}

// RunOnce executes one flush pass over the given table, or over all tables
// when table is empty. It returns the number of records cleanly persisted
// and the aggregated store errors. Records whose version advanced during the
// pass stay dirty.
func (s *FlushService) RunOnce(ctx context.Context, table string) (int, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	start := time.Now()
	snapshot := s.src.snapshotDirty(table)
	if len(snapshot) == 0 {
		return 0, nil
	}

	groups := make(map[string][]model.DirtyRecord)
	for _, record := range snapshot {
		if record.Version <= 0 {
			// Versions start at 1 and only grow; anything else is a
			// programmer error. Abort the pass rather than persist it.
			s.logger.Error("Invariant violation in flush snapshot, aborting pass",
				zap.String("table", record.Table),
				zap.String("key", record.Key),
				zap.Int64("version", record.Version))
			return 0, errors.InternalError("invalid record version in flush snapshot", nil)
		}
		groups[record.Table] = append(groups[record.Table], record)
	}

	var (
		mu       sync.Mutex
		flushed  int
		failures int
		errs     []error
		wg       sync.WaitGroup
	)
	for name, records := range groups {
		name, records := name, records
		wg.Add(1)
		task := workerpool.Task{
			ID: "flush-" + name + "-" + uuid.NewString()[:8],
			Fn: func(taskCtx context.Context) error {
				defer wg.Done()
				n, err := s.flushTable(taskCtx, name, records)
				mu.Lock()
				flushed += n
				if err != nil {
					failures++
					errs = append(errs, err)
				}
				mu.Unlock()
				return err
			},
		}
		if err := s.pool.Submit(ctx, task); err != nil {
			// Pool stopped or context canceled; run the batch inline so the
			// pass still accounts for every group.
			task.Fn(ctx)
		}
	}
	wg.Wait()

	s.metrics.RecordFlush(time.Since(start).Seconds(), flushed, len(groups), failures)
	s.logger.Info("Flush pass completed",
		zap.Int("dirty", len(snapshot)),
		zap.Int("flushed", flushed),
		zap.Int("tables", len(groups)),
		zap.Int("failed_batches", failures),
		zap.Duration("duration", time.Since(start)))

	return flushed, stderrors.Join(errs...)
}

// flushTable ensures the backing table exists, upserts one batch and clears
// the dirty flag of every acknowledged record whose version is unchanged.
// Each batch checks out a single store connection.
func (s *FlushService) flushTable(ctx context.Context, table string, records []model.DirtyRecord) (int, error) {
	if needsEnsure, hint := s.src.tableEnsureState(table); needsEnsure {
		if err := s.store.EnsureTable(ctx, table, hint); err != nil {
			s.src.noteFlushError(err)
			if errors.GetCode(err) == errors.ErrCodeSchema {
				s.src.quarantineTable(table)
			}
			return 0, err
		}
		s.src.markEnsured(table)
	}

	items := make([]store.UpsertItem, len(records))
	versions := make(map[string]int64, len(records))
	for i, record := range records {
		items[i] = store.UpsertItem{Key: record.Key, Document: record.Document}
		versions[record.Key] = record.Version
	}

	acked, err := s.store.UpsertBatch(ctx, table, items)

	cleared := 0
	for _, key := range acked {
		if s.src.ackFlushed(table, key, versions[key]) {
			cleared++
		}
	}

	if err != nil {
		s.src.noteFlushError(err)
		if errors.GetCode(err) == errors.ErrCodeSchema {
			s.src.quarantineTable(table)
		}
		s.logger.Warn("Flush batch partially failed",
			zap.String("table", table),
			zap.Int("acked", len(acked)),
			zap.Int("unacked", len(records)-len(acked)),
			zap.Error(err))
	}
	return cleared, err
}
