package crawler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gocolly/colly/v2"
)

const attemptKey = "retry_attempt"

// retryableStatus lists the response codes worth another try.
var retryableStatus = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
	522:                            {},
	524:                            {},
}

// RetryPolicy decides whether a failed request is re-issued.
type RetryPolicy struct {
	maxRetries int
}

// NewRetryPolicy allows up to maxRetries extra attempts per request.
func NewRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{maxRetries: maxRetries}
}

// ShouldRetry decides whether the failure is retryable. A zero status means
// the request failed before a response arrived.
func (p RetryPolicy) ShouldRetry(status int, err error, attempt int) bool {
	if attempt >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if status == 0 {
		return err != nil
	}
	_, ok := retryableStatus[status]
	return ok
}

func attempts(ctx *colly.Context) int {
	if ctx == nil {
		return 0
	}
	n, _ := ctx.GetAny(attemptKey).(int)
	return n
}
