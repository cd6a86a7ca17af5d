package providers

import (
	"context"
	"errors"
	"fmt"
)

// Strategy is one of several equivalent ways to obtain the same data.
// Run returns a nil error on success.
type Strategy[T any] struct {
	Run  func(ctx context.Context) (T, error)
	Name string
}

// errAllFailed is returned by FirstSuccessful when no strategy succeeded.
var errAllFailed = errors.New("all strategies failed")

// FirstSuccessful runs strategies in order and returns the first success.
// Remaining strategies are skipped once the deadline has passed. An
// ErrUnauthorized from any strategy stops the walk and is returned as is.
func FirstSuccessful[T any](ctx context.Context, strategies []Strategy[T]) (string, T, error) {
	var zero T
	var lastErr error
	for _, s := range strategies {
		if !HasTime(ctx) {
			return "", zero, errNoTime
		}
		result, err := s.Run(ctx)
		if err == nil {
			return s.Name, result, nil
		}
		if errors.Is(err, ErrUnauthorized) {
			return "", zero, err
		}
		lastErr = fmt.Errorf("%s: %w", s.Name, err)
	}
	if lastErr == nil {
		return "", zero, errAllFailed
	}
	return "", zero, errors.Join(errAllFailed, lastErr)
}

// Preferred returns strategies with the one named preferred moved to the
// front. Order is otherwise kept; an unknown name leaves it unchanged.
func Preferred[T any](strategies []Strategy[T], preferred string) []Strategy[T] {
	out := make([]Strategy[T], 0, len(strategies))
	for _, s := range strategies {
		if s.Name == preferred {
			out = append(out, s)
		}
	}
	for _, s := range strategies {
		if s.Name != preferred {
			out = append(out, s)
		}
	}
	return out
}
