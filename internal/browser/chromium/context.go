package chromium

import (
	"context"
)

// combineContext returns a context that carries the values of tabCtx (the
// chromedp target) but also ends when opCtx ends. The deadline of opCtx is
// copied so that a timed-out navigation reports context.DeadlineExceeded.
func combineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	var (
		combined context.Context
		cancel   context.CancelFunc
	)
	if deadline, ok := opCtx.Deadline(); ok {
		combined, cancel = context.WithDeadline(tabCtx, deadline)
	} else {
		combined, cancel = context.WithCancel(tabCtx)
	}

	stop := context.AfterFunc(opCtx, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// opError prefers the caller's context error over the one chromedp reports
// for a cancelled child context.
func opError(opCtx context.Context, err error) error {
	if err != nil && opCtx.Err() != nil {
		return opCtx.Err()
	}
	return err
}
