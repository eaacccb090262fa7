package adapter

import (
	"context"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/task"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Retrying decorates an Adapter with bounded retries on transient
// failures. Permanent errors pass through on the first attempt.
type Retrying struct {
	inner       Adapter
	maxAttempts int
	baseDelay   time.Duration
	logger      *log.Logger
}

// WithRetry wraps an adapter in retry behavior. Non-positive attempts
// or delay fall back to the defaults (3 attempts, 500ms base delay with
// exponential backoff and jitter).
func WithRetry(inner Adapter, maxAttempts int, baseDelay time.Duration, logger *log.Logger) *Retrying {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[adapter] ", log.LstdFlags)
	}
	return &Retrying{inner: inner, maxAttempts: maxAttempts, baseDelay: baseDelay, logger: logger}
}

func (r *Retrying) System() task.System {
	return r.inner.System()
}

// do runs fn up to maxAttempts times, backing off between transient
// failures. Backoff doubles per attempt with up to 25% jitter.
func (r *Retrying) do(ctx context.Context, what string, fn func() error) error {
	var err error
	delay := r.baseDelay

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == r.maxAttempts {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(delay) / 4))
		r.logger.Printf("%s failed (attempt %d/%d), retrying in %v: %v", what, attempt, r.maxAttempts, delay+jitter, err)

		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func (r *Retrying) ListActiveTasks(ctx context.Context, excludeSynced bool) ([]*task.Task, error) {
	var out []*task.Task
	err := r.do(ctx, "list", func() error {
		var err error
		out, err = r.inner.ListActiveTasks(ctx, excludeSynced)
		return err
	})
	return out, err
}

func (r *Retrying) CreateTask(ctx context.Context, t *task.Task) (string, error) {
	var id string
	err := r.do(ctx, "create", func() error {
		var err error
		id, err = r.inner.CreateTask(ctx, t)
		return err
	})
	return id, err
}

func (r *Retrying) UpdateTask(ctx context.Context, id string, p Partial) error {
	return r.do(ctx, "update", func() error {
		return r.inner.UpdateTask(ctx, id, p)
	})
}

func (r *Retrying) CloseTask(ctx context.Context, id string) (bool, error) {
	var closed bool
	err := r.do(ctx, "close", func() error {
		var err error
		closed, err = r.inner.CloseTask(ctx, id)
		return err
	})
	return closed, err
}

func (r *Retrying) DeleteTask(ctx context.Context, id string) error {
	return r.do(ctx, "delete", func() error {
		return r.inner.DeleteTask(ctx, id)
	})
}
