package sched

import (
	"context"
	"time"
)

// Request is the generic protocol driven by a Repeater: a fixed number of
// sends, each preceded by a (possibly step-dependent) delay.
type Request interface {
	// NumSends is the total number of transmissions this request performs.
	NumSends() int

	// DelayBefore returns the delay to wait before the step'th send
	// (1-indexed: step 1 is the delay before the first transmission).
	// Recomputing the delay on every call lets a request double its
	// interval between steps, as the announcer does.
	DelayBefore(step int) time.Duration

	// Send performs the zero-indexed index'th transmission.
	Send(ctx context.Context, index int) error
}

// Sleeper abstracts the passage of time so tests can substitute a
// fast-forwarding implementation. DefaultSleeper is used in production.
type Sleeper func(ctx context.Context, d time.Duration) error

// DefaultSleeper blocks for d or until ctx is canceled, whichever comes
// first.
func DefaultSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Repeater drives a Request through exactly NumSends transmissions,
// honoring each step's delay, until it finishes or ctx is canceled.
//
// Cancellation stops further transmissions; a send already in flight when
// ctx is canceled is allowed to complete, but no further step is attempted
// and Run returns ctx.Err() without invoking onFinished semantics (the
// caller, not the Repeater, decides what "finished" means for its
// specialization — Run simply reports whether all steps completed).
type Repeater struct {
	// Sleep is used to wait between steps. Defaults to DefaultSleeper.
	Sleep Sleeper
}

// Run executes req to completion or until ctx is canceled. It returns nil
// only after exactly req.NumSends() sends have been performed.
func (r *Repeater) Run(ctx context.Context, req Request) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = DefaultSleeper
	}

	n := req.NumSends()
	for i := 0; i < n; i++ {
		if err := sleep(ctx, req.DelayBefore(i+1)); err != nil {
			return err
		}

		if err := req.Send(ctx, i); err != nil {
			return err
		}
	}

	return nil
}
