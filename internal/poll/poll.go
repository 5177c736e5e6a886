// Package poll evaluates bounded-retry conditions against external state.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/codex-k8s/deployctl/internal/logging"
)

var (
	// ErrTimeout is returned when the condition is not met within Condition.Timeout.
	ErrTimeout = errors.New("condition not met before timeout")
	// ErrAttemptsExhausted is returned when Condition.MaxAttempts observations were all negative.
	ErrAttemptsExhausted = errors.New("condition not met within attempt budget")
	// ErrCancelled is returned when the caller's context is cancelled.
	ErrCancelled = errors.New("polling cancelled")
)

// CheckFunc performs one observation. An error counts as a negative observation and is kept
// as the last error; it never stops the loop.
type CheckFunc func(ctx context.Context) (bool, error)

// Condition is a predicate over an external resource with a fixed polling interval.
// At least one of Timeout and MaxAttempts bounds the loop.
type Condition struct {
	Name        string
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
	Check       CheckFunc
	Logger      *slog.Logger
}

// Result describes a finished polling loop.
type Result struct {
	Observations int
	LastErr      error
}

// Until evaluates c on the calling goroutine: observe, sleep Interval, repeat. The first
// observation happens immediately.
func Until(ctx context.Context, c Condition) (Result, error) {
	if c.Check == nil {
		return Result{}, fmt.Errorf("poll %q: no check function", c.Name)
	}
	if c.Interval <= 0 {
		return Result{}, fmt.Errorf("poll %q: interval must be positive", c.Name)
	}
	if c.Timeout <= 0 && c.MaxAttempts <= 0 {
		return Result{}, fmt.Errorf("poll %q: timeout or attempt budget required", c.Name)
	}
	logger := c.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	var res Result
	condition := func(ctx context.Context) (bool, error) {
		res.Observations++
		ok, err := c.Check(ctx)
		if err != nil {
			res.LastErr = err
			ok = false
		}
		logger.Debug("poll observation", "condition", c.Name, "attempt", res.Observations, "ready", ok, "error", err)
		if ok {
			return true, nil
		}
		if c.MaxAttempts > 0 && res.Observations >= c.MaxAttempts {
			return false, ErrAttemptsExhausted
		}
		return false, nil
	}

	var err error
	if c.Timeout > 0 {
		err = wait.PollUntilContextTimeout(ctx, c.Interval, c.Timeout, true, condition)
	} else {
		err = wait.PollUntilContextCancel(ctx, c.Interval, true, condition)
	}

	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, ErrAttemptsExhausted):
		return res, ErrAttemptsExhausted
	case ctx.Err() != nil:
		return res, ErrCancelled
	case wait.Interrupted(err):
		return res, ErrTimeout
	default:
		return res, err
	}
}
