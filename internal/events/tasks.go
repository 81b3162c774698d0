package events

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultTaskTimeout bounds every detached side effect.
const DefaultTaskTimeout = 10 * time.Second

// Tasks runs fire-and-forget side effects (audit posts, stats pushes, presence
// broadcasts) off the caller's path. Failures are logged at warn and never
// reach the event that triggered them.
//
// Tasks are detached from the triggering request's context: they keep running
// after an HTTP handler returns, and are only bounded by the task timeout and
// the base context given to NewTasks.
type Tasks struct {
	base    context.Context
	group   errgroup.Group
	logger  *zap.Logger
	timeout time.Duration
}

// NewTasks creates a runner whose tasks derive from base.
func NewTasks(base context.Context, timeout time.Duration, logger *zap.Logger) *Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &Tasks{base: base, logger: logger, timeout: timeout}
}

// Go starts fn in the background. name labels the failure log line.
func (t *Tasks) Go(name string, fn func(ctx context.Context) error) {
	t.group.Go(func() error {
		ctx, cancel := context.WithTimeout(t.base, t.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			t.logger.Warn("detached task failed", zap.String("task", name), zap.Error(err))
		}
		return nil // Wait never reports task errors
	})
}

// Wait blocks until every started task has finished.
func (t *Tasks) Wait() {
	_ = t.group.Wait()
}
