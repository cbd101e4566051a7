package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/jamesjlundin/appforge/internal/domain"
	"github.com/sethvargo/go-retry"
)

// retry policy: up to 3 retries with 30s/60s/120s delays, transient errors
// only. Everything else propagates on the first attempt.
const (
	maxRetries   = 3
	retryBaseDur = 30 * time.Second
)

// newBackoff builds the retry schedule; replaced in tests to avoid sleeping
var newBackoff = func() retry.Backoff {
	return retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBaseDur))
}

// InvokeWithRetry wraps fn in the transient-retry policy. fn is typically a
// closure over Invoker.Invoke.
func InvokeWithRetry(ctx context.Context, logger *slog.Logger, fn func(ctx context.Context) (*domain.AgentResult, error)) (*domain.AgentResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var result *domain.AgentResult
	err := retry.Do(ctx, newBackoff(), func(ctx context.Context) error {
		res, err := fn(ctx)
		if err != nil {
			if IsTransient(err) {
				logger.Warn("transient agent failure, will retry", "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
