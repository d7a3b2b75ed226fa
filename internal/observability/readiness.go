package observability

import (
	"context"
	"errors"
)

// ReadinessFunc adapts a function to the readiness checker interface.
type ReadinessFunc func(ctx context.Context) error

func (f ReadinessFunc) CheckReadiness(ctx context.Context) error { return f(ctx) }

// Checker is anything that can report readiness.
type Checker interface {
	CheckReadiness(ctx context.Context) error
}

// AllReady reports ready only when every checker does. Errors are joined.
func AllReady(checkers ...Checker) ReadinessFunc {
	return func(ctx context.Context) error {
		var errs []error
		for _, c := range checkers {
			if err := c.CheckReadiness(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
