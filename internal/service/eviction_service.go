package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/memdb/internal/metrics"
)

// evictSource is the slice of engine state the eviction pipeline operates on
type evictSource interface {
	evictPass() int
}

// EvictionService periodically removes clean records that have been idle for
// at least the eviction TTL. Dirty records are never touched; they wait for
// the flush pipeline.
type EvictionService struct {
	src      evictSource
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewEvictionService creates an eviction service
func NewEvictionService(src evictSource, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *EvictionService {
	return &EvictionService{
		src:      src,
		interval: interval,
		metrics:  m,
		logger:   logger,
	}
}

// Run drives the periodic eviction until ctx is canceled
func (s *EvictionService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Eviction loop stopped")
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce executes one eviction pass and returns the number of records
// dropped
func (s *EvictionService) RunOnce() int {
	evicted := s.src.evictPass()
	if evicted > 0 {
		s.metrics.RecordEvictions(evicted)
		s.logger.Info("Evicted idle records", zap.Int("count", evicted))
	}
	return evicted
}
