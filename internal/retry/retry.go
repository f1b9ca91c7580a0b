package retry

import (
	"context"
	"time"

	"github.com/googleapis/gax-go/v2"
)

// Policy describes how many extra attempts a call gets and how long to
// wait between them.
type Policy struct {
	// Retries is the number of additional attempts after the first one.
	Retries int
	// Initial is the first backoff ceiling; later pauses grow by Multiplier.
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultPolicy allows two retries starting at one second.
func DefaultPolicy() Policy {
	return Policy{Retries: 2, Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}
}

// Do runs fn until it succeeds, returns an error shouldRetry rejects, the
// retry budget is spent, or ctx is done. onRetry, when non-nil, is called
// before each pause with the attempt number that failed.
func Do(ctx context.Context, p Policy, shouldRetry func(error) bool, onRetry func(attempt int, err error, pause time.Duration), fn func(ctx context.Context) error) error {
	retryer := gax.OnErrorFunc(gax.Backoff{
		Initial:    p.Initial,
		Max:        p.Max,
		Multiplier: p.Multiplier,
	}, shouldRetry)

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt > p.Retries {
			return err
		}

		pause, ok := retryer.Retry(err)
		if !ok {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err, pause)
		}
		if sleepErr := gax.Sleep(ctx, pause); sleepErr != nil {
			return err
		}
	}
}
