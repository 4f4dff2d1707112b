// Package transport holds helpers shared by the TCP and WebSocket transports.
package transport

import (
	"context"
	"errors"
	"os"
	"time"
)

// aLongTimeAgo is a deadline in the past, used to interrupt blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// BindDeadline applies the ctx deadline through set and moves the deadline
// into the past when ctx is cancelled. The returned func undoes both.
func BindDeadline(ctx context.Context, set func(time.Time) error) func() {
	deadline, _ := ctx.Deadline()
	_ = set(deadline)
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = set(aLongTimeAgo)
	})
	return func() {
		if !stop() {
			// The callback already started; let it finish before clearing.
			<-fired
		}
		_ = set(time.Time{})
	}
}

// ContextError reports the context error instead of the timeout it caused.
func ContextError(ctx context.Context, err error) error {
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	// The socket deadline can fire just before the context timer does.
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return err
}
