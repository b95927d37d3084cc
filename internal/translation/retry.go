package translation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
)

// RetryPolicy retries a failed call with a doubling delay. Rate-limit
// responses triple the delay instead.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy mirrors the config defaults.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	Delay:      2 * time.Second,
	MaxDelay:   2 * time.Minute,
}

// Do runs op until it succeeds, returns a permanent error, or the attempts
// run out.
func (p RetryPolicy) Do(ctx context.Context, logger *logrus.Logger, op func(ctx context.Context) error) error {
	delay := p.Delay
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Debugf("Retrying request in %s (attempt %d/%d)", delay, attempt+1, p.MaxRetries+1)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			delay = p.next(delay, lastErr)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		logger.Warnf("Request failed (attempt %d): %v", attempt+1, err)
	}

	return fmt.Errorf("%w, last error: %w", ErrRetriesExhausted, lastErr)
}

func (p RetryPolicy) next(delay time.Duration, err error) time.Duration {
	if isRateLimited(err) {
		delay *= 3
	} else {
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// statusCode digs an HTTP status out of the provider error types.
func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return 0
}

func isRateLimited(err error) bool {
	return err != nil && statusCode(err) == http.StatusTooManyRequests
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCountMismatch) {
		return false
	}
	code := statusCode(err)
	switch {
	case code == 0:
		// transport errors, timeouts and empty replies
		return true
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
