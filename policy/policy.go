package policy

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rezenkai/crmflow/model"
)

type Decision int

const (
	Abort Decision = iota
	Continue
	Skip
	Retry
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case Skip:
		return "skip"
	case Retry:
		return "retry"
	}
	return "abort"
}

// Resolve maps a step's error handling strategy to what the runner does
// after the step fails. Unknown strategies abort.
func Resolve(strategy model.ErrorStrategy) Decision {
	switch strategy {
	case model.STRATEGY_CONTINUE:
		return Continue
	case model.STRATEGY_SKIP:
		return Skip
	case model.STRATEGY_RETRY:
		return Retry
	}
	return Abort
}

// ErrStopped is returned by RunWithRetry when stop reported true before an
// attempt could start.
var ErrStopped = errors.New("retry stopped")

// RunWithRetry invokes op once and then up to attempts more times while it
// keeps failing, waiting a fixed delay between invocations. attempt is
// zero for the first invocation. stop is checked before every retry.
func RunWithRetry(ctx context.Context, attempts int, delay time.Duration, stop func() bool, op func(attempt int) (any, error)) (any, int, error) {
	if attempts < 0 {
		attempts = 0
	}
	var result any
	attempt := 0
	operation := func() error {
		if attempt > 0 && stop != nil && stop() {
			return backoff.Permanent(ErrStopped)
		}
		res, err := op(attempt)
		attempt++
		if err != nil {
			return err
		}
		result = res
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts)), ctx)
	err := backoff.Retry(operation, b)
	if err != nil {
		return nil, attempt, err
	}
	return result, attempt, nil
}
