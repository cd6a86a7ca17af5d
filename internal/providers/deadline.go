package providers

import (
	"context"
	"time"
)

// Remaining returns the timeout to use for the next network call: the smaller
// of perCall and the time left before the context deadline. A result <= 0
// means no call may be made.
func Remaining(ctx context.Context, perCall time.Duration) time.Duration {
	if err := ctx.Err(); err != nil {
		return 0
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return perCall
	}
	return min(perCall, time.Until(deadline))
}

// HasTime reports whether the context deadline still leaves room for a call.
func HasTime(ctx context.Context) bool {
	return Remaining(ctx, time.Hour) > 0
}
