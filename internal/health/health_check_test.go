package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/devrev/memdb/internal/errors"
	"github.com/devrev/memdb/internal/health"
	"github.com/devrev/memdb/internal/model"
	"github.com/devrev/memdb/internal/store"
)

func TestChecker_ReadyWhenStoreUp(t *testing.T) {
	st := store.NewMemoryStore()
	checker := health.NewChecker(st, func() model.Stats { return model.Stats{} }, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go checker.Start(ctx)
	defer cancel()

	assert.Eventually(t, checker.Ready, time.Second, 10*time.Millisecond)

	report := checker.Report()
	assert.Equal(t, "ok", report["store"].Status)
	assert.Equal(t, "ok", report["flush_backlog"].Status)
}

func TestChecker_NotReadyWhenStoreDown(t *testing.T) {
	st := store.NewMemoryStore()
	st.SetFetchErr(errors.StoreUnavailable("down", nil))
	checker := health.NewChecker(st, func() model.Stats { return model.Stats{} }, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go checker.Start(ctx)
	defer cancel()

	assert.Eventually(t, func() bool { return !checker.Ready() }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "failed", checker.Report()["store"].Status)
}

func TestChecker_NotReadyOnDirtyBacklog(t *testing.T) {
	st := store.NewMemoryStore()
	checker := health.NewChecker(st, func() model.Stats {
		return model.Stats{DirtyRecords: 1 << 20}
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go checker.Start(ctx)
	defer cancel()

	assert.Eventually(t, func() bool { return !checker.Ready() }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "failed", checker.Report()["flush_backlog"].Status)
}
