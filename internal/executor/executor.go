// File: internal/executor/executor.go
//
// Package executor wraps individual browser operations in a bounded
// retry/recovery policy. Failures are classified at the boundary into
// retryable and fatal; backoff applies only to retryable outcomes, and
// exhaustion triggers capture-then-rethrow.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chromepuppet/api/schemas"
	"github.com/xkilldash9x/chromepuppet/internal/config"
	"github.com/xkilldash9x/chromepuppet/internal/diagnostics"
	"github.com/xkilldash9x/chromepuppet/internal/session"
)

// Target is the slice of the session handle the executor needs: degradation
// visibility and best-effort capture primitives.
type Target interface {
	State() session.State
	Screenshot(ctx context.Context) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
}

// Policy bounds one resilient operation.
type Policy struct {
	// MaxAttempts is the total attempt budget, first try included.
	MaxAttempts int
	// AttemptTimeout bounds each individual attempt.
	AttemptTimeout time.Duration
	// BaseDelay scales the wait between attempts: attempt index times
	// BaseDelay.
	BaseDelay time.Duration
	// Capture enables diagnostics on final failure.
	Capture bool
}

// NavigationPolicy suits page loads: fewer retries, a long per-attempt
// budget, and no artifact capture (the interesting page state is usually
// gone after a failed navigation anyway).
func NavigationPolicy() Policy {
	return Policy{MaxAttempts: 2, AttemptTimeout: 90 * time.Second, BaseDelay: time.Second}
}

// ActionPolicy suits element interaction: more retries on a short leash,
// with capture enabled.
func ActionPolicy() Policy {
	return Policy{MaxAttempts: 3, AttemptTimeout: 15 * time.Second, BaseDelay: 500 * time.Millisecond, Capture: true}
}

// Executor runs operations against a session target under a policy.
type Executor struct {
	target Target
	sink   diagnostics.Sink
	diag   config.DiagnosticsConfig
	logger *zap.Logger
}

// New wires an executor to its session target and diagnostics sink. The
// diagnostics configuration decides which artifacts a capture collects.
func New(target Target, sink diagnostics.Sink, diag config.DiagnosticsConfig, logger *zap.Logger) *Executor {
	if sink == nil {
		sink = diagnostics.NopSink{}
	}
	return &Executor{target: target, sink: sink, diag: diag, logger: logger.Named("executor")}
}

// Run executes op under the policy and returns the operation's error after
// the policy is exhausted, or nil on success. Retryable failures back off
// and retry; fatal failures, including a crashed or degraded session, stop
// immediately. On final failure with capture enabled, a diagnostic record is
// handed to the sink before the original error is returned.
func (e *Executor) Run(ctx context.Context, name string, policy Policy, op func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attempts = attempt
		lastErr = e.attempt(ctx, name, policy, op)
		if lastErr == nil {
			return nil
		}

		// A crashed peer cannot service further attempts; neither can a
		// session someone else already observed as degraded.
		if schemas.IsCrash(lastErr) || e.target.State() == session.Degraded {
			e.logger.Warn("Aborting retries: session crashed",
				zap.String("operation", name), zap.Error(lastErr))
			break
		}
		if !schemas.IsRetryable(lastErr) {
			break
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := time.Duration(attempt) * policy.BaseDelay
		e.logger.Debug("Retrying operation",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	if policy.Capture {
		e.capture(ctx, name, attempts, lastErr)
	}
	return lastErr
}

// attempt runs op once under the per-attempt deadline, normalizing a blown
// deadline into the retryable timeout error type.
func (e *Executor) attempt(ctx context.Context, name string, policy Policy, op func(ctx context.Context) error) error {
	attemptCtx := ctx
	if policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
		defer cancel()
	}

	err := op(attemptCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &schemas.OperationTimeoutError{Operation: name, Err: err}
	}
	return err
}

// capture assembles a diagnostic record on a best-effort basis. Capture
// failures are logged and swallowed; they must never mask the operation's
// own error.
func (e *Executor) capture(ctx context.Context, name string, attempts int, opErr error) {
	// The session context may already be poisoned; give capture its own
	// short budget detached from the failed operation.
	capCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	rec := diagnostics.Record{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Operation: name,
		Attempts:  attempts,
		LastError: opErr.Error(),
	}

	if url, err := e.target.CurrentURL(capCtx); err == nil {
		rec.PageURL = url
	} else {
		e.logger.Debug("Diagnostics: current URL unavailable", zap.Error(err))
	}
	if e.diag.CaptureScreenshot {
		if shot, err := e.target.Screenshot(capCtx); err == nil {
			rec.Screenshot = shot
		} else {
			e.logger.Debug("Diagnostics: screenshot unavailable", zap.Error(err))
		}
	}
	if e.diag.CapturePageSource {
		if source, err := e.target.PageSource(capCtx); err == nil {
			rec.PageSource = source
		} else {
			e.logger.Debug("Diagnostics: page source unavailable", zap.Error(err))
		}
	}

	e.sink.Record(capCtx, rec)
}
