package onboarding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/stockpile/internal/api"
	"github.com/wolfeidau/stockpile/internal/client"
	"github.com/wolfeidau/stockpile/internal/fakeapi"
	"github.com/wolfeidau/stockpile/internal/models"
	"github.com/wolfeidau/stockpile/internal/session"
	"github.com/wolfeidau/stockpile/internal/tokenstore"
)

func TestDecide(t *testing.T) {
	pending := &models.UserProfile{ID: "u1", Organizations: []models.Organization{}}
	onboarded := &models.UserProfile{ID: "u1", Organizations: []models.Organization{{ID: "o1", Name: "Acme"}}}

	tests := []struct {
		name     string
		snap     session.Snapshot
		route    string
		expected Decision
	}{
		{
			name:     "login is public",
			snap:     session.Snapshot{State: session.Unauthenticated},
			route:    LoginRoute,
			expected: Decision{Action: Allow},
		},
		{
			name:     "signup is public",
			snap:     session.Snapshot{State: session.Unauthenticated},
			route:    SignupRoute,
			expected: Decision{Action: Allow},
		},
		{
			name:     "unauthenticated goes to login",
			snap:     session.Snapshot{State: session.Unauthenticated},
			route:    HomeRoute,
			expected: Decision{Action: Redirect, Target: LoginRoute},
		},
		{
			name:     "unauthenticated cannot onboard",
			snap:     session.Snapshot{State: session.Unauthenticated},
			route:    OnboardRoute,
			expected: Decision{Action: Redirect, Target: LoginRoute},
		},
		{
			name:     "login in progress holds",
			snap:     session.Snapshot{State: session.Authenticating, Loading: true},
			route:    HomeRoute,
			expected: Decision{Action: Hold},
		},
		{
			name:     "missing profile is fetched",
			snap:     session.Snapshot{State: session.Authenticated},
			route:    HomeRoute,
			expected: Decision{Action: FetchProfile},
		},
		{
			name:     "profile fetch in flight holds",
			snap:     session.Snapshot{State: session.Authenticated, Loading: true},
			route:    HomeRoute,
			expected: Decision{Action: Hold},
		},
		{
			name:     "no organizations redirects to onboarding",
			snap:     session.Snapshot{State: session.Authenticated, Profile: pending},
			route:    "/inventory",
			expected: Decision{Action: Redirect, Target: OnboardRoute},
		},
		{
			name:     "no organizations may onboard",
			snap:     session.Snapshot{State: session.Authenticated, Profile: pending},
			route:    OnboardRoute,
			expected: Decision{Action: Allow},
		},
		{
			name:     "organization present proceeds",
			snap:     session.Snapshot{State: session.Authenticated, Profile: onboarded},
			route:    "/inventory",
			expected: Decision{Action: Allow},
		},
		{
			name:     "refreshing still proceeds",
			snap:     session.Snapshot{State: session.Refreshing, Loading: true, Profile: onboarded},
			route:    HomeRoute,
			expected: Decision{Action: Allow},
		},
		{
			name:     "onboarded user leaves onboarding",
			snap:     session.Snapshot{State: session.Authenticated, Profile: onboarded},
			route:    OnboardRoute,
			expected: Decision{Action: Redirect, Target: HomeRoute},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Decide(tt.snap, tt.route))
		})
	}
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "redirect /onboard", Decision{Action: Redirect, Target: OnboardRoute}.String())
	assert.Equal(t, "fetch_profile", Decision{Action: FetchProfile}.String())
	assert.Equal(t, "allow", Decision{}.String())
}

type testEnv struct {
	backend *fakeapi.Server
	session *session.Manager
	gate    *Gate
}

func setupGate(t *testing.T, handler func(backend http.Handler) http.Handler) *testEnv {
	t.Helper()

	backend, err := fakeapi.New(fakeapi.DefaultConfig())
	require.NoError(t, err)

	_, err = backend.SeedUser("Ada", "Lovelace", "ada@example.com", "secret1")
	require.NoError(t, err)

	var h http.Handler = backend
	if handler != nil {
		h = handler(backend)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := client.DefaultConfig()
	cfg.BaseURL = srv.URL + fakeapi.BasePath
	svc := api.New(client.New(cfg, tokenstore.New(tokenstore.NewMemoryBackend())))

	m := session.New(context.Background(), svc)

	return &testEnv{backend: backend, session: m, gate: New(m, svc)}
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	_, err := e.session.Login(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)
}

// restore signs in directly against the API and starts a new session from
// the stored tokens, so no profile is cached.
func (e *testEnv) restore(t *testing.T, email, password string) (*session.Manager, *Gate) {
	t.Helper()
	ctx := context.Background()

	svc := e.gate.api
	resp, err := svc.Signin(ctx, api.Credentials{Email: email, Password: password})
	require.NoError(t, err)

	tokens := svc.Client().Tokens()
	require.NoError(t, tokens.SetTokens(ctx, tokenstore.Tokens{Access: resp.Token, Refresh: resp.RefreshToken}))

	m := session.New(ctx, svc)
	require.True(t, m.Snapshot().IsAuthenticated())

	return m, New(m, svc)
}

func validOnboardRequest() api.OnboardRequest {
	return api.OnboardRequest{
		OrganizationName: "Acme",
		Address:          "1 Main St",
		City:             "Springfield",
		State:            "IL",
		ZipCode:          "62701",
		Country:          "US",
		FirstName:        "Ada",
		LastName:         "Lovelace",
	}
}

func TestGate_Evaluate(t *testing.T) {
	ctx := context.Background()
	env := setupGate(t, nil)

	d, err := env.gate.Evaluate(ctx, HomeRoute)
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: Redirect, Target: LoginRoute}, d)

	env.login(t)

	d, err = env.gate.Evaluate(ctx, HomeRoute)
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: Redirect, Target: OnboardRoute}, d)

	d, err = env.gate.Evaluate(ctx, OnboardRoute)
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: Allow}, d)
}

func TestGate_EvaluateFetchesMissingProfile(t *testing.T) {
	ctx := context.Background()
	env := setupGate(t, nil)

	user, err := env.backend.SeedUser("Grace", "Hopper", "grace@example.com", "cobol1")
	require.NoError(t, err)
	_, err = env.backend.SeedOrganization(user.ID.String(), models.Organization{Name: "Navy"})
	require.NoError(t, err)

	m, gate := env.restore(t, "grace@example.com", "cobol1")
	require.Nil(t, m.Snapshot().Profile)

	d, err := gate.Evaluate(ctx, HomeRoute)
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: Allow}, d)

	profile := m.Snapshot().Profile
	require.NotNil(t, profile)
	assert.Equal(t, "Navy", profile.Organizations[0].Name)
}

func TestGate_EvaluateSessionEndedDuringFetch(t *testing.T) {
	ctx := context.Background()
	env := setupGate(t, nil)

	m, gate := env.restore(t, "ada@example.com", "secret1")

	env.backend.ExpireAccessTokens()
	env.backend.FailRefresh(http.StatusUnauthorized)

	d, err := gate.Evaluate(ctx, HomeRoute)
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: Redirect, Target: LoginRoute}, d)
	assert.Equal(t, session.Unauthenticated, m.Snapshot().State)
}

func TestGate_EvaluateFetchFailureHolds(t *testing.T) {
	ctx := context.Background()
	env := setupGate(t, func(backend http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == fakeapi.BasePath+api.PathMe {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			backend.ServeHTTP(w, r)
		})
	})

	m, gate := env.restore(t, "ada@example.com", "secret1")

	d, err := gate.Evaluate(ctx, HomeRoute)
	require.Error(t, err)
	assert.Equal(t, api.FetchUserFailedMessage, err.Error())
	assert.Equal(t, Decision{Action: Hold}, d)

	// still signed in, no redirect happened
	assert.True(t, m.Snapshot().IsAuthenticated())
}

func TestGate_Complete(t *testing.T) {
	ctx := context.Background()
	env := setupGate(t, nil)

	d, err := env.gate.Complete(ctx, validOnboardRequest())
	require.ErrorIs(t, err, session.ErrNotAuthenticated)
	assert.Equal(t, Decision{Action: Redirect, Target: LoginRoute}, d)

	env.login(t)

	d, err = env.gate.Complete(ctx, api.OnboardRequest{OrganizationName: "Acme"})
	var verr *client.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, Decision{Action: Hold}, d)

	d, err = env.gate.Complete(ctx, validOnboardRequest())
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: Allow}, d)

	profile := env.session.Snapshot().Profile
	require.NotNil(t, profile)
	assert.False(t, profile.NeedsOnboarding())

	d, err = env.gate.Evaluate(ctx, OnboardRoute)
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: Redirect, Target: HomeRoute}, d)
}

func TestGate_EvaluateCancelledWhileHolding(t *testing.T) {
	env := setupGate(t, nil)
	m, gate := env.restore(t, "ada@example.com", "secret1")

	// no profile and a refresh in flight keeps the gate on hold
	m.RefreshStarted()
	t.Cleanup(func() { m.TokensRefreshed(tokenstore.Tokens{}) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	d, err := gate.Evaluate(ctx, HomeRoute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Decision{Action: Hold}, d)
}

func TestGate_EvaluateIgnoresSigninUserOrganizations(t *testing.T) {
	ctx := context.Background()

	// the signin payload carries a bare user, /user/me/ the full profile
	env := setupGate(t, func(backend http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != fakeapi.BasePath+api.PathSignin {
				backend.ServeHTTP(w, r)
				return
			}

			r.Header.Del("Accept-Encoding")
			rec := httptest.NewRecorder()
			backend.ServeHTTP(rec, r)

			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if user, ok := body["user"].(map[string]any); ok {
				delete(user, "organizations")
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.Code)
			_ = json.NewEncoder(w).Encode(body)
		})
	})

	user, err := env.backend.SeedUser("Grace", "Hopper", "grace@example.com", "cobol1")
	require.NoError(t, err)
	_, err = env.backend.SeedOrganization(user.ID.String(), models.Organization{Name: "Navy"})
	require.NoError(t, err)

	_, err = env.session.Login(ctx, "grace@example.com", "cobol1")
	require.NoError(t, err)

	d, err := env.gate.Evaluate(ctx, "/products")
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: Allow}, d)

	profile := env.session.Snapshot().Profile
	require.NotNil(t, profile)
	require.Len(t, profile.Organizations, 1)
	assert.Equal(t, "Navy", profile.Organizations[0].Name)
}

// loggingOutSession ends the session just before the gate loads the
// profile.
type loggingOutSession struct {
	*session.Manager
	t *testing.T
}

func (s *loggingOutSession) FetchProfile(ctx context.Context) (*models.UserProfile, error) {
	require.NoError(s.t, s.Logout(ctx))
	return s.Manager.FetchProfile(ctx)
}

func TestGate_EvaluateSessionEndedBeforeFetch(t *testing.T) {
	ctx := context.Background()
	env := setupGate(t, nil)

	m, _ := env.restore(t, "ada@example.com", "secret1")
	gate := New(&loggingOutSession{Manager: m, t: t}, env.gate.api)

	d, err := gate.Evaluate(ctx, HomeRoute)
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: Redirect, Target: LoginRoute}, d)
	assert.Equal(t, session.Unauthenticated, m.Snapshot().State)
}
