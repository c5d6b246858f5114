package geocoding

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("esri API returned status %d: %s", e.Code, e.Body)
}

// retryable reports whether the status is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// fetchRaw performs a rate limited GET and returns the body of a 200 response.
// Network errors, 429 and 5xx responses are retried with exponential backoff.
// Every attempt waits on the limiter.
func (el *EsriLookup) fetchRaw(ctx context.Context, action, reqURL string) ([]byte, error) {
	var body []byte
	operation := func() error {
		if err := el.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limit exceeded: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		startTime := time.Now()
		resp, err := el.client.Do(req)
		el.metrics.RequestSeconds.WithLabelValues(el.Name(), action).Observe(time.Since(startTime).Seconds())
		if err != nil {
			return fmt.Errorf("failed to execute geocoding request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			body = data
			return nil
		case http.StatusUnauthorized, http.StatusForbidden:
			return backoff.Permanent(ErrEsriUnauthorized)
		}

		statusErr := &StatusError{Code: resp.StatusCode, Body: string(data)}
		el.log.ErrorContext(ctx, "Esri API error", "status", resp.StatusCode, "body", string(data))
		if !statusErr.retryable() {
			return backoff.Permanent(statusErr)
		}

		return statusErr
	}

	notify := func(err error, wait time.Duration) {
		el.log.WarnContext(ctx, "Retrying Esri request", "action", action, "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(operation, el.newBackOff(ctx), notify); err != nil {
		return nil, err
	}

	return body, nil
}

func (el *EsriLookup) newBackOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = el.cfg.RetryInterval
	exp.Reset()

	var retries uint64
	if el.cfg.MaxRetries > 0 {
		retries = uint64(el.cfg.MaxRetries)
	}

	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}
