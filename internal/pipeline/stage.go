package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/llitpux/cogstream/internal/bus"
	"github.com/llitpux/cogstream/internal/observability"
)

// runWorkers starts a fixed-size pool draining in, applying handle to each
// envelope, grounded on internal/agent/warpp.go (manifold)'s
// errgroup.WithContext fan-out: each worker's goroutine always returns nil
// (a handler panic is recovered and logged, not propagated) since one
// worker's failure must never cancel its siblings' in-flight work, mirroring
// WARPP's own "don't return errors to prevent context cancellation races".
// The returned function blocks until every worker has exited. A worker exits
// once ctx is done (after finishing the envelope it is handling; envelopes
// still queued in in are left unread) or once in is closed.
func runWorkers(ctx context.Context, stageName string, workers int, in <-chan bus.Envelope, handle func(context.Context, bus.Envelope)) func() {
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		workerID := i
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case env, ok := <-in:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								observability.LoggerWithTrace(ctx).Error().
									Str("stage", stageName).Int("worker", workerID).
									Interface("panic", r).Msg("pipeline_worker_panic")
							}
						}()
						handle(ctx, env)
					}()
				}
			}
		})
	}
	return func() { _ = g.Wait() }
}
