package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/wolfeidau/stockpile/internal/telemetry"
	"github.com/wolfeidau/stockpile/internal/tokenstore"
)

// SessionExpiredMessage is reported when a refresh fails and the stored
// session is discarded.
const SessionExpiredMessage = "Session expired. Please sign in again."

// Listener observes token refreshes performed by the client. RefreshFailed
// receives an error wrapping ErrTokensReplaced when the stored pair changed
// during the exchange; the store is then left untouched.
type Listener interface {
	RefreshStarted()
	TokensRefreshed(tokens tokenstore.Tokens)
	RefreshFailed(err error)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// refresher exchanges the stored refresh token for a new pair. At most one
// exchange is in flight; concurrent callers share its result.
type refresher struct {
	group   singleflight.Group
	tokens  *tokenstore.Store
	http    *http.Client
	url     string
	timeout time.Duration

	maxTries   uint
	newBackOff func() backoff.BackOff

	mu        sync.RWMutex
	listeners []Listener
}

func newRefresher(tokens *tokenstore.Store, httpClient *http.Client, url string, maxTries uint, timeout time.Duration) *refresher {
	if maxTries == 0 {
		maxTries = 1
	}
	return &refresher{
		tokens:   tokens,
		http:     httpClient,
		url:      url,
		timeout:  timeout,
		maxTries: maxTries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			return b
		},
	}
}

func (r *refresher) addListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *refresher) notify(fn func(Listener)) {
	r.mu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.RUnlock()

	for _, l := range listeners {
		fn(l)
	}
}

// Refresh returns an access token newer than stale. If another caller has
// already rotated the pair the stored token is returned without a network
// call. The exchange itself runs detached from ctx, so a cancelled caller
// stops waiting but never aborts a refresh other callers depend on.
func (r *refresher) Refresh(ctx context.Context, stale string) (string, error) {
	current := r.tokens.Tokens(ctx)
	if current.Access != "" && current.Access != stale {
		return current.Access, nil
	}
	if current.Refresh == "" {
		return "", ErrNoRefreshToken
	}

	ch := r.group.DoChan("refresh", func() (any, error) {
		return r.run(stale)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *refresher) run(stale string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	// the previous flight may have finished between the caller's check and
	// this one starting
	current := r.tokens.Tokens(ctx)
	if current.Access != "" && current.Access != stale {
		return current.Access, nil
	}
	if current.Refresh == "" {
		return "", ErrNoRefreshToken
	}

	r.notify(func(l Listener) { l.RefreshStarted() })

	metrics := telemetry.GetMetrics()
	metrics.RefreshTotal.Add(ctx, 1)
	started := time.Now()

	tokens, err := backoff.Retry(ctx, func() (tokenstore.Tokens, error) {
		return r.call(ctx, current.Refresh)
	}, backoff.WithBackOff(r.newBackOff()), backoff.WithMaxTries(r.maxTries))

	metrics.RefreshDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	if err != nil {
		metrics.RefreshFailuresTotal.Add(ctx, 1)

		log.Warn().Err(err).Msg("token refresh failed, clearing session")

		// a pair stored after this refresh began belongs to a newer session
		cleared, clearErr := r.tokens.ClearIf(ctx, current.Refresh)
		if clearErr != nil {
			log.Error().Err(clearErr).Msg("failed to clear token store after refresh failure")
		}
		if !cleared {
			err = fmt.Errorf("%w: %w", ErrTokensReplaced, err)
		}

		return "", r.fail(err)
	}

	swapped, err := r.tokens.SwapTokens(ctx, current.Refresh, tokens)
	if err != nil {
		log.Error().Err(err).Msg("failed to persist refreshed tokens")
	}
	if !swapped {
		log.Debug().Msg("discarding refreshed tokens, session changed during refresh")
		return "", r.fail(ErrTokensReplaced)
	}

	stored := r.tokens.Tokens(ctx)
	if stored.Access == "" {
		stored = tokens
	}

	log.Debug().
		Str("access", tokenstore.Fingerprint(stored.Access)).
		Dur("duration", time.Since(started)).
		Msg("token refreshed")

	r.notify(func(l Listener) { l.TokensRefreshed(stored) })

	return tokens.Access, nil
}

// fail reports a refresh failure to listeners and returns the error seen by
// every waiting caller.
func (r *refresher) fail(err error) error {
	authErr := &Error{
		Kind:    KindAuth,
		Op:      "refresh",
		Status:  statusOf(err),
		Message: SessionExpiredMessage,
		Err:     err,
	}
	r.notify(func(l Listener) { l.RefreshFailed(authErr) })
	return authErr
}

// call performs one refresh exchange. Only network failures are retried;
// any response from the server is final.
func (r *refresher) call(ctx context.Context, refreshToken string) (tokenstore.Tokens, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return tokenstore.Tokens{}, backoff.Permanent(fmt.Errorf("failed to marshal refresh request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return tokenstore.Tokens{}, backoff.Permanent(fmt.Errorf("failed to create refresh request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := r.http.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("refresh request failed, will retry")
		return tokenstore.Tokens{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenstore.Tokens{}, backoff.Permanent(decodeError("refresh", resp))
	}

	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tokenstore.Tokens{}, backoff.Permanent(fmt.Errorf("failed to decode refresh response: %w", err))
	}
	if out.Token == "" {
		return tokenstore.Tokens{}, backoff.Permanent(errors.New("refresh response did not include a token"))
	}

	return tokenstore.Tokens{Access: out.Token, Refresh: out.RefreshToken}, nil
}

func statusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
