package client

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestOption adjusts how a single logical request is handled.
type RequestOption func(*attempt)

// WithoutRefresh disables the refresh-and-retry path for a request. Used by
// endpoints where a 401 means "bad credentials" rather than "token expired".
func WithoutRefresh() RequestOption {
	return func(a *attempt) {
		a.noRefresh = true
	}
}

// WithRequestID sets the X-Request-ID sent with the request.
func WithRequestID(id string) RequestOption {
	return func(a *attempt) {
		a.id = id
	}
}

// attempt tracks one logical request across its sends. The same attempt is
// seen by the original send and the retry.
type attempt struct {
	id        string
	noRefresh bool
	retries   int
}

type attemptKey struct{}

func newAttempt(opts ...RequestOption) *attempt {
	a := &attempt{id: uuid.NewString()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func withAttempt(ctx context.Context, a *attempt) context.Context {
	return context.WithValue(ctx, attemptKey{}, a)
}

// attemptFrom returns the attempt stored on ctx, or a fresh one for requests
// that did not go through Client.Do.
func attemptFrom(ctx context.Context) *attempt {
	if a, ok := ctx.Value(attemptKey{}).(*attempt); ok {
		return a
	}
	return newAttempt()
}

// RetryPolicy decides whether a failed response may be retried after a
// token refresh.
type RetryPolicy struct {
	// MaxRefreshRetries bounds refresh-and-resend cycles per logical request.
	MaxRefreshRetries int
}

// defaultRetryPolicy allows exactly one refresh-and-resend.
var defaultRetryPolicy = RetryPolicy{MaxRefreshRetries: 1}

func (p RetryPolicy) shouldRefresh(resp *http.Response, a *attempt) bool {
	if resp.StatusCode != http.StatusUnauthorized {
		return false
	}
	if a.noRefresh {
		return false
	}
	return a.retries < p.MaxRefreshRetries
}
