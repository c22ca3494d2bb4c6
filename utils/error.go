package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ErrExec executes a list of functions concurrently and returns the first error
func ErrExec(ctx context.Context, functions ...func(ctx context.Context) error) error {
	group, ctx := errgroup.WithContext(ctx)

	for _, one := range functions {
		group.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return one(ctx)
			}
		})
	}

	return group.Wait()
}

// ErrExecSequential executes every function and accumulates their errors
func ErrExecSequential(functions ...func() error) error {
	var multErr error

	for _, one := range functions {
		if err := one(); err != nil {
			multErr = multierror.Append(multErr, err)
		}
	}

	return multErr
}

// RetryOnBackoff runs f up to attempts times, doubling sleep after every failure
func RetryOnBackoff(ctx context.Context, attempts int, sleep time.Duration, f func() error) (err error) {
	for cur := 0; cur < attempts; cur++ {
		if err = f(); err == nil {
			return nil
		}

		if cur == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		sleep *= 2
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

// ErrExecFormat wraps the error of a function with the provided format
func ErrExecFormat(format string, function func() error) func() error {
	return func() error {
		if err := function(); err != nil {
			return fmt.Errorf(format, err)
		}
		return nil
	}
}
