package timer

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Backoff is a linear back-off between Base and Ceiling.
type Backoff struct {
	Base    time.Duration
	Ceiling time.Duration

	current time.Duration
}

// Current returns the delay before the next run.
func (b *Backoff) Current() time.Duration {
	if b.current == 0 {
		return b.Base
	}
	return b.current
}

// Reset returns the delay to Base.
func (b *Backoff) Reset() time.Duration {
	b.current = b.Base
	return b.current
}

// Grow adds Base to the delay, up to Ceiling.
func (b *Backoff) Grow() time.Duration {
	b.current = min(b.Current()+b.Base, b.Ceiling)
	return b.current
}

// RunWithBackoff runs f immediately and then after every back-off delay until ctx is cancelled.
// The delay is reset to Base whenever f reports a change or fails, and grows otherwise.
// Errors from f are logged and never stop the loop.
func RunWithBackoff(ctx context.Context, b *Backoff, f func(ctx context.Context) (bool, error)) error {
	name := funcName(f)

	log.Debugf("RunWithBackoff: running %s with base %v (ceiling %v)", name, b.Base, b.Ceiling)

	t := time.NewTimer(0)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithBackoff: context cancelled for %s", name)
			return ctx.Err()
		case <-t.C:
			changed, err := f(ctx)
			var next time.Duration
			switch {
			case err != nil:
				log.Warnf("RunWithBackoff: function %s returned error: %v", name, err)
				next = b.Reset()
			case changed:
				next = b.Reset()
			default:
				next = b.Grow()
			}
			t.Reset(next)
		}
	}
}
