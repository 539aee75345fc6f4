package workerpool_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/memdb/internal/util/workerpool"
)

func TestPool_ExecutesTasks(t *testing.T) {
	pool := workerpool.New(&workerpool.Config{Name: "test", MaxWorkers: 4, QueueSize: 16})
	defer pool.Stop(time.Second)

	var mu sync.Mutex
	ran := 0
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := pool.Submit(context.Background(), workerpool.Task{
			ID: fmt.Sprintf("task-%d", i),
			Fn: func(ctx context.Context) error {
				defer wg.Done()
				mu.Lock()
				ran++
				mu.Unlock()
				return nil
			},
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, 20, ran)
	assert.Equal(t, uint64(20), pool.Completed())
}

func TestPool_RecoversFromPanic(t *testing.T) {
	pool := workerpool.New(&workerpool.Config{Name: "test", MaxWorkers: 1, QueueSize: 4})
	defer pool.Stop(time.Second)

	var wg sync.WaitGroup
	wg.Add(2)

	require.NoError(t, pool.Submit(context.Background(), workerpool.Task{
		ID: "boom",
		Fn: func(ctx context.Context) error {
			defer wg.Done()
			panic("boom")
		},
	}))
	require.NoError(t, pool.Submit(context.Background(), workerpool.Task{
		ID: "after",
		Fn: func(ctx context.Context) error {
			defer wg.Done()
			return nil
		},
	}))
	wg.Wait()

	assert.Equal(t, uint64(1), pool.Failed())
	assert.Equal(t, uint64(1), pool.Completed())
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := workerpool.New(&workerpool.Config{Name: "test", MaxWorkers: 1, QueueSize: 1})
	require.NoError(t, pool.Stop(time.Second))

	err := pool.Submit(context.Background(), workerpool.Task{
		ID: "late",
		Fn: func(ctx context.Context) error { return nil },
	})
	assert.Error(t, err)
}

func TestPool_SubmitHonorsContext(t *testing.T) {
	pool := workerpool.New(&workerpool.Config{Name: "test", MaxWorkers: 1, QueueSize: 1})
	defer pool.Stop(time.Second)

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker and fill the queue.
	require.NoError(t, pool.Submit(context.Background(), workerpool.Task{
		ID: "blocker",
		Fn: func(ctx context.Context) error { <-block; return nil },
	}))
	require.NoError(t, pool.Submit(context.Background(), workerpool.Task{
		ID: "queued",
		Fn: func(ctx context.Context) error { return nil },
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, workerpool.Task{
		ID: "overflow",
		Fn: func(ctx context.Context) error { return nil },
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
