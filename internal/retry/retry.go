// Package retry retries transient provider failures with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go-docspace/internal/model"
)

type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Jitter   float64
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Initial: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2}
}

// Transient marks an error as safe to retry.
type Transient struct{ Err error }

func (e Transient) Error() string { return e.Err.Error() }
func (e Transient) Unwrap() error { return e.Err }

func Mark(err error) error {
	if err == nil {
		return nil
	}
	return Transient{Err: err}
}

// IsTransient is false for authorization failures even when they were marked.
func IsTransient(err error) bool {
	if errors.Is(err, model.ErrUnauthorized) || model.IsCancellation(err) {
		return false
	}
	var t Transient
	return errors.As(err, &t)
}

func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func Value[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(p.Attempts, 1)
	wait := p.Initial

	var (
		zero T
		err  error
	)
	for attempt := 1; ; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= attempts || !IsTransient(err) {
			return zero, err
		}

		d := wait
		if p.Jitter > 0 {
			d += time.Duration(float64(d) * p.Jitter * (rand.Float64()*2 - 1))
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(d):
		}

		wait *= 2
		if p.Max > 0 && wait > p.Max {
			wait = p.Max
		}
	}
}
