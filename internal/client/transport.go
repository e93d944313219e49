package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/stockpile/internal/telemetry"
	"github.com/wolfeidau/stockpile/internal/tokenstore"
)

var _ http.RoundTripper = (*authTransport)(nil)

// authTransport attaches the stored access token to each request and, when
// the retry policy allows, answers a 401 by refreshing the token pair and
// resending the request once.
type authTransport struct {
	tokens    *tokenstore.Store
	refresher *refresher
	policy    RetryPolicy
	next      http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	a := attemptFrom(ctx)

	// a read failure fails open to an unauthenticated request
	access, _ := t.tokens.Get(ctx, tokenstore.AccessToken)

	resp, err := t.send(req, access)
	if err != nil {
		return nil, err
	}

	if !t.policy.shouldRefresh(resp, a) {
		return resp, nil
	}
	a.retries++

	fresh, err := t.refresher.Refresh(ctx, access)
	if err != nil {
		if errors.Is(err, ErrNoRefreshToken) {
			log.Debug().Str("request_id", a.id).Msg("no refresh token stored, returning 401")
			return resp, nil
		}
		drain(resp)
		return nil, err
	}

	retry, err := rewind(req)
	if err != nil {
		log.Warn().Err(err).Str("request_id", a.id).Msg("request body cannot be resent, returning 401")
		return resp, nil
	}
	drain(resp)

	telemetry.GetMetrics().RequestRetriesTotal.Add(ctx, 1)

	log.Debug().
		Str("request_id", a.id).
		Str("access", tokenstore.Fingerprint(fresh)).
		Msg("resending request with refreshed token")

	return t.send(retry, fresh)
}

func (t *authTransport) send(req *http.Request, access string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if access != "" {
		out.Header.Set("Authorization", "Bearer "+access)
	} else {
		out.Header.Del("Authorization")
	}
	return t.next.RoundTrip(out)
}

// rewind returns a copy of req with a fresh body for a second send.
func rewind(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("%s %s: body is not replayable", req.Method, req.URL.Path)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	out.Body = body
	return out, nil
}

// drain consumes and closes a response that will not be returned so the
// connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}
