// Package retry wraps a backend.Backend with exponential-backoff retries of
// failed ReadFull, ReadPartial and WriteFile calls, the same role the
// teacher's internal/backend/retry package plays in front of every remote
// backend. An error reporting a missing file is returned at once, without
// retrying; every other error is retried until MaxElapsedTime.
package retry

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arkiveio/arkive/internal/backend"
	"github.com/arkiveio/arkive/internal/debug"
	"github.com/arkiveio/arkive/internal/model"
)

// Backend retries failed operations on the wrapped backend.Backend using an
// exponential backoff, up to MaxElapsedTime.
type Backend struct {
	backend.Backend
	MaxElapsedTime time.Duration
	Notify         func(err error, attempt time.Duration)
}

var _ backend.Backend = (*Backend)(nil)

// New wraps be with retry logic.
func New(be backend.Backend) *Backend {
	return &Backend{Backend: be, MaxElapsedTime: 5 * time.Minute}
}

func (b *Backend) policy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = b.MaxElapsedTime
	return backoff.WithContext(bo, ctx)
}

func (b *Backend) withRetry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && errors.Is(err, fs.ErrNotExist) {
			return backoff.Permanent(err)
		}
		return err
	}, b.policy(ctx), func(err error, wait time.Duration) {
		debug.Log("retry: %s failed (attempt %d): %v, retrying in %v", op, attempt, err, wait)
		if b.Notify != nil {
			b.Notify(err, wait)
		}
	})
}

func (b *Backend) ReadFull(ctx context.Context, h model.Handle) (data []byte, err error) {
	err = b.withRetry(ctx, "ReadFull", func() error {
		var innerErr error
		data, innerErr = b.Backend.ReadFull(ctx, h)
		return innerErr
	})
	return data, err
}

func (b *Backend) ReadPartial(ctx context.Context, h model.Handle, cacheable bool, offset, length int64) (data []byte, err error) {
	err = b.withRetry(ctx, "ReadPartial", func() error {
		var innerErr error
		data, innerErr = b.Backend.ReadPartial(ctx, h, cacheable, offset, length)
		return innerErr
	})
	return data, err
}

func (b *Backend) WriteFile(ctx context.Context, h model.Handle, data []byte) error {
	return b.withRetry(ctx, "WriteFile", func() error {
		return b.Backend.WriteFile(ctx, h, data)
	})
}
