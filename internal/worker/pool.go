package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/logger"
)

// pool bounds concurrent work with a weighted semaphore. Crawler fetches and
// detector evaluations share one pool so total in-flight network activity
// stays under a single budget.
type pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *logger.Logger
}

func NewPool(size int, log *logger.Logger) (core.Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	return &pool{
		sem:    semaphore.NewWeighted(int64(size)),
		logger: log.WithComponent("worker"),
	}, nil
}

func (p *pool) Go(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.LogPanic(context.Background(), r, "worker.task")
			}
		}()
		fn()
	}()

	return nil
}

func (p *pool) Wait() {
	p.wg.Wait()
}
