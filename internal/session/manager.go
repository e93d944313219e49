package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"

	"github.com/wolfeidau/stockpile/internal/api"
	"github.com/wolfeidau/stockpile/internal/auth"
	"github.com/wolfeidau/stockpile/internal/client"
	"github.com/wolfeidau/stockpile/internal/models"
	"github.com/wolfeidau/stockpile/internal/telemetry"
	"github.com/wolfeidau/stockpile/internal/tokenstore"
)

const signoutTimeout = 5 * time.Second

var (
	_ client.Listener    = (*Manager)(nil)
	_ oauth2.TokenSource = (*Manager)(nil)
)

// Manager owns the session state. It is the only writer of tokens outside
// the client's refresh path.
type Manager struct {
	api    *api.Service
	client *client.Client
	tokens *tokenstore.Store

	mu       sync.Mutex
	state    State
	profile  *models.UserProfile
	lastErr  error
	inflight int

	// generation increments whenever the session ends. Operations capture
	// it when they start and discard their result if it moved.
	generation uint64

	subs map[chan Snapshot]struct{}
}

// New restores the session from the token store and registers for refresh
// notifications on the service's client.
func New(ctx context.Context, svc *api.Service) *Manager {
	c := svc.Client()
	m := &Manager{
		api:    svc,
		client: c,
		tokens: c.Tokens(),
		subs:   map[chan Snapshot]struct{}{},
	}

	if m.tokens.Tokens(ctx).Access != "" {
		m.state = Authenticated
		m.profile = m.loadProfile(ctx)
	} else if err := m.tokens.Clear(ctx, tokenstore.UserProfile); err != nil {
		log.Warn().Err(err).Msg("failed to clear stale cached profile")
	}

	c.AddListener(m)

	log.Debug().Str("state", m.state.String()).Bool("profile", m.profile != nil).Msg("session restored")

	return m
}

// Snapshot returns the current session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel that receives the latest snapshot after every
// change, starting with the current one. Slow readers only see the most
// recent snapshot. Call the returned function to unsubscribe.
func (m *Manager) Subscribe() (func(), <-chan Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Snapshot, 1)
	ch <- m.snapshotLocked()
	m.subs[ch] = struct{}{}

	unsub := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; !ok {
			return
		}
		delete(m.subs, ch)
		close(ch)
	}

	return unsub, ch
}

// Login signs in with email and password and persists the token pair. The
// profile is left for FetchProfile. On failure the session stays
// unauthenticated and the error is returned and recorded as LastError.
func (m *Manager) Login(ctx context.Context, email, password string) (Snapshot, error) {
	m.mu.Lock()
	switch m.state {
	case Authenticating:
		m.mu.Unlock()
		return m.Snapshot(), ErrLoginInProgress
	case Authenticated, Refreshing:
		m.mu.Unlock()
		return m.Snapshot(), ErrAlreadyAuthenticated
	}
	m.state = Authenticating
	m.lastErr = nil
	gen := m.generation
	m.publishLocked()
	m.mu.Unlock()

	metrics := telemetry.GetMetrics()

	resp, err := m.api.Signin(ctx, api.Credentials{Email: email, Password: password})

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		// logged out while signing in
		if err == nil {
			err = ErrSessionEnded
		}
		return m.snapshotLocked(), err
	}

	if err != nil {
		metrics.LoginFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", client.KindOf(err).String())))
		m.state = Unauthenticated
		m.lastErr = err
		m.publishLocked()
		return m.snapshotLocked(), err
	}

	if err := m.tokens.SetTokens(ctx, tokenstore.Tokens{Access: resp.Token, Refresh: resp.RefreshToken}); err != nil {
		metrics.LoginFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "storage")))
		m.state = Unauthenticated
		m.lastErr = err
		m.publishLocked()
		return m.snapshotLocked(), err
	}

	// the profile comes from /user/me/, the signin user may omit
	// organizations
	m.state = Authenticated
	m.profile = nil
	if err := m.tokens.Clear(ctx, tokenstore.UserProfile); err != nil {
		log.Warn().Err(err).Msg("failed to clear cached profile")
	}
	m.publishLocked()

	metrics.LoginsTotal.Add(ctx, 1)

	log.Info().
		Str("access", tokenstore.Fingerprint(resp.Token)).
		Msg("logged in")

	return m.snapshotLocked(), nil
}

// Logout ends the session. Local tokens and the cached profile are always
// cleared; the server is then notified on a best-effort basis. Logging out
// of an unauthenticated session is a no-op.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	tokens := m.tokens.Tokens(ctx)
	m.endLocked(nil)
	clearErr := m.tokens.ClearAll(ctx)
	m.mu.Unlock()

	m.client.PurgeCache()

	if tokens.Access == "" && tokens.Refresh == "" {
		return clearErr
	}

	telemetry.GetMetrics().LogoutsTotal.Add(ctx, 1)

	if tokens.Refresh != "" {
		signoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signoutTimeout)
		defer cancel()

		if err := m.api.Signout(signoutCtx, tokens.Refresh); err != nil {
			log.Warn().Err(err).Msg("failed to notify server of sign out")
		}
	}

	log.Info().Msg("logged out")

	return clearErr
}

// FetchProfile loads the current user's profile. A failure leaves the
// session authenticated with no profile. If the session ends while the
// request is in flight the result is discarded.
func (m *Manager) FetchProfile(ctx context.Context) (*models.UserProfile, error) {
	m.mu.Lock()
	if !m.snapshotLocked().IsAuthenticated() {
		m.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	gen := m.generation
	m.inflight++
	m.lastErr = nil
	m.publishLocked()
	m.mu.Unlock()

	profile, err := m.api.Me(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.settleLocked()

	result := "success"
	defer func() {
		telemetry.GetMetrics().ProfileFetchTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}()

	if gen != m.generation {
		result = "discarded"
		m.publishLocked()
		if IsSessionEnded(err) {
			return nil, err
		}
		return nil, ErrSessionEnded
	}

	if err != nil {
		result = "error"
		m.profile = nil
		m.lastErr = err
		if clearErr := m.tokens.Clear(ctx, tokenstore.UserProfile); clearErr != nil {
			log.Warn().Err(clearErr).Msg("failed to clear cached profile")
		}
		m.publishLocked()
		return nil, err
	}

	m.profile = profile
	m.storeProfile(ctx, profile)
	m.publishLocked()

	return cloneProfile(profile), nil
}

// UpdateProfile merges update into the loaded profile and persists the
// result to the token store. The backend is not contacted.
func (m *Manager) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.snapshotLocked().IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	if m.profile == nil {
		return nil, ErrNoProfile
	}

	profile := cloneProfile(m.profile)
	profile.Apply(update)

	m.profile = profile
	m.storeProfile(ctx, profile)
	m.publishLocked()

	return cloneProfile(profile), nil
}

// Signup registers an account. The session state is unchanged; the user
// signs in afterwards.
func (m *Manager) Signup(ctx context.Context, req api.SignupRequest) error {
	m.mu.Lock()
	m.inflight++
	m.lastErr = nil
	m.publishLocked()
	m.mu.Unlock()

	err := m.api.Signup(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleLocked()
	m.lastErr = err
	m.publishLocked()

	return err
}

// ClearError resets LastError.
func (m *Manager) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = nil
	m.publishLocked()
}

// Token implements oauth2.TokenSource over the stored token pair.
func (m *Manager) Token() (*oauth2.Token, error) {
	ctx := context.Background()

	tokens := m.tokens.Tokens(ctx)
	if tokens.Access == "" {
		return nil, ErrNotAuthenticated
	}

	tok := &oauth2.Token{
		AccessToken:  tokens.Access,
		RefreshToken: tokens.Refresh,
		TokenType:    "Bearer",
	}
	if exp, err := auth.ExpiresAt(tokens.Access); err == nil {
		tok.Expiry = exp
	}

	return tok, nil
}

// RefreshStarted implements client.Listener.
func (m *Manager) RefreshStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Authenticated {
		m.state = Refreshing
	}
	m.inflight++
	m.publishLocked()
}

// TokensRefreshed implements client.Listener. The client only stores a
// refreshed pair while the pair it exchanged is still current, so a session
// that ended in the meantime stays ended.
func (m *Manager) TokensRefreshed(tokens tokenstore.Tokens) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settleLocked()
	if m.state == Refreshing {
		m.state = Authenticated
	}
	m.publishLocked()

	log.Debug().Str("access", tokenstore.Fingerprint(tokens.Access)).Msg("session tokens refreshed")
}

// RefreshFailed implements client.Listener. The client has already cleared
// the token store, unless the pair was replaced during the exchange. A
// replacement pair belongs to a newer session, which is left alone.
func (m *Manager) RefreshFailed(err error) {
	m.mu.Lock()
	m.settleLocked()
	if errors.Is(err, client.ErrTokensReplaced) && m.ignoreReplacedLocked() {
		if m.state == Refreshing {
			m.state = Authenticated
		}
		m.publishLocked()
		m.mu.Unlock()
		log.Debug().Err(err).Msg("ignoring refresh of a replaced session")
		return
	}
	m.endLocked(err)
	m.mu.Unlock()

	m.client.PurgeCache()

	log.Info().Err(err).Msg("session expired")
}

// ignoreReplacedLocked reports whether a refresh whose token pair changed
// underneath it leaves the session as is: it already ended, or a newer pair
// is stored.
func (m *Manager) ignoreReplacedLocked() bool {
	if !m.snapshotLocked().IsAuthenticated() {
		return true
	}
	return m.tokens.Tokens(context.Background()).Access != ""
}

// settleLocked marks one in-flight operation as finished.
func (m *Manager) settleLocked() {
	if m.inflight > 0 {
		m.inflight--
	}
}

// endLocked moves the session to Unauthenticated and invalidates in-flight
// operations.
func (m *Manager) endLocked(cause error) {
	m.generation++
	m.state = Unauthenticated
	m.profile = nil
	m.lastErr = cause
	m.publishLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		State:     m.state,
		Loading:   m.inflight > 0 || m.state == Authenticating || m.state == Refreshing,
		Profile:   cloneProfile(m.profile),
		LastError: m.lastErr,
	}
}

func (m *Manager) publishLocked() {
	snap := m.snapshotLocked()
	for ch := range m.subs {
		// keep only the latest snapshot
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (m *Manager) loadProfile(ctx context.Context) *models.UserProfile {
	raw, err := m.tokens.Get(ctx, tokenstore.UserProfile)
	if err != nil {
		return nil
	}

	var profile models.UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil || profile.ID == "" {
		log.Warn().Err(err).Msg("discarding unreadable cached profile")
		if clearErr := m.tokens.Clear(ctx, tokenstore.UserProfile); clearErr != nil {
			log.Warn().Err(clearErr).Msg("failed to clear cached profile")
		}
		return nil
	}

	return &profile
}

func (m *Manager) storeProfile(ctx context.Context, profile *models.UserProfile) {
	raw, err := json.Marshal(profile)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode profile")
		return
	}
	if err := m.tokens.Set(ctx, tokenstore.UserProfile, string(raw)); err != nil {
		log.Warn().Err(err).Msg("failed to cache profile")
	}
}

func cloneProfile(p *models.UserProfile) *models.UserProfile {
	if p == nil {
		return nil
	}
	out := *p
	out.Organizations = append([]models.Organization(nil), p.Organizations...)
	return &out
}

// IsSessionEnded reports whether err means the session ended, either by
// logout or by a failed refresh.
func IsSessionEnded(err error) bool {
	if errors.Is(err, ErrSessionEnded) {
		return true
	}
	var apiErr *client.Error
	return errors.As(err, &apiErr) && apiErr.Kind == client.KindAuth && apiErr.Op == "refresh"
}
