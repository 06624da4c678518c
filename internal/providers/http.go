package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"bhasha/internal/services"
)

const (
	defaultSubmitAttempts = 3
	defaultSubmitBackoff  = 2 * time.Second
	defaultTimeout        = 60 * time.Second
	maxErrorBody          = 512
)

// RetryPolicy governs submission retries.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Sleep    func(time.Duration)
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = defaultSubmitAttempts
	}
	if p.Backoff < 0 {
		p.Backoff = defaultSubmitBackoff
	}
	return p
}

// wait pauses for d or until ctx is done. Sleep, when set, replaces the
// timer.
func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		p.Sleep(d)
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

// statusError is a non-2xx provider response.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

// withRetry runs call up to Attempts times with a fixed Backoff between
// attempts. Context cancellation stops retrying, including mid-backoff.
func withRetry(ctx context.Context, policy RetryPolicy, call func() error) error {
	policy = policy.normalized()
	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < policy.Attempts && policy.Backoff > 0 {
			if werr := policy.wait(ctx, policy.Backoff); werr != nil {
				return werr
			}
		}
	}
	return err
}

// do executes req and returns the body of a 2xx response.
func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &statusError{status: resp.StatusCode, body: snippet}
	}
	return body, nil
}

func providerError(component, op, msg string, err error) error {
	return services.Wrap(services.ErrProvider, component, op, msg, err)
}
