package worker

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/nexus-scanner/nexus/internal/core"
)

// scoped layers a per-scan concurrency cap on top of the shared pool. Scans
// share the global capacity accounting but cannot individually exceed the
// parallelism they were submitted with.
type scoped struct {
	inner core.Pool
	sem   *semaphore.Weighted
}

func Scoped(inner core.Pool, limit int) core.Pool {
	if limit <= 0 {
		return inner
	}
	return &scoped{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(limit)),
	}
}

func (s *scoped) Go(ctx context.Context, fn func()) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := s.inner.Go(ctx, func() {
		defer s.sem.Release(1)
		fn()
	}); err != nil {
		s.sem.Release(1)
		return err
	}
	return nil
}

func (s *scoped) Wait() {
	s.inner.Wait()
}
