package adbstudio

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	restartBackoff    = 200 * time.Millisecond
	maxRestartBackoff = 30 * time.Second
)

// GroupGoSafe runs fn in group and restarts it with exponential backoff
// whenever it panics. A panic never cancels sibling goroutines; a returned
// error keeps errgroup semantics. Restarts stop once ctx is done.
//
// Panics are reported on stderr rather than through zerolog since the logger
// itself may be what panicked.
func GroupGoSafe(ctx context.Context, group *errgroup.Group, name string, fn func(context.Context) error) {
	if group == nil || fn == nil {
		return
	}
	group.Go(func() error {
		backoff := restartBackoff
		for restarts := 0; ; restarts++ {
			if ctx.Err() != nil {
				return nil
			}
			recovered, err := callRecovering(ctx, fn)
			if recovered == nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stderr, "WARN: %s panicked (restart %d): %v\n%s\n",
				name, restarts+1, recovered, debug.Stack())

			// deterministic jitter, up to half the backoff
			wait := backoff
			if half := backoff / 2; half > 0 {
				wait += time.Duration(time.Now().UnixNano() % int64(half))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			backoff = min(backoff*2, maxRestartBackoff)
		}
	})
}

func callRecovering(ctx context.Context, fn func(context.Context) error) (recovered any, err error) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()
	return nil, fn(ctx)
}
