package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/stockpile/internal/api"
	"github.com/wolfeidau/stockpile/internal/client"
	"github.com/wolfeidau/stockpile/internal/fakeapi"
	"github.com/wolfeidau/stockpile/internal/tokenstore"
)

func setupService(t *testing.T, handler http.Handler, basePath string) (*api.Service, *tokenstore.Store) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := tokenstore.New(tokenstore.NewMemoryBackend())

	cfg := client.DefaultConfig()
	cfg.BaseURL = srv.URL + basePath

	return api.New(client.New(cfg, store)), store
}

func setupFakeAPI(t *testing.T) (*api.Service, *tokenstore.Store, *fakeapi.Server) {
	t.Helper()

	backend, err := fakeapi.New(fakeapi.DefaultConfig())
	require.NoError(t, err)

	_, err = backend.SeedUser("Ada", "Lovelace", "ada@example.com", "secret1")
	require.NoError(t, err)

	svc, store := setupService(t, backend, fakeapi.BasePath)
	return svc, store, backend
}

func TestService_Signin(t *testing.T) {
	svc, _, _ := setupFakeAPI(t)
	ctx := context.Background()

	t.Run("valid credentials", func(t *testing.T) {
		resp, err := svc.Signin(ctx, api.Credentials{Email: "ada@example.com", Password: "secret1"})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Token)
		assert.NotEmpty(t, resp.RefreshToken)
		require.NotNil(t, resp.User)
		assert.Equal(t, "Lovelace", resp.User.LastName)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Signin(ctx, api.Credentials{Email: "ada@example.com", Password: "secret2"})
		require.Error(t, err)
		assert.Equal(t, client.KindAuth, client.KindOf(err))
		assert.Equal(t, "Invalid email or password.", err.Error())
	})

	t.Run("invalid input is rejected before sending", func(t *testing.T) {
		_, err := svc.Signin(ctx, api.Credentials{Email: "not-an-email", Password: "123"})
		require.Error(t, err)

		var verr *client.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "email")
		assert.Contains(t, verr.Fields, "password")
	})
}

func TestService_Signup(t *testing.T) {
	svc, _, _ := setupFakeAPI(t)
	ctx := context.Background()

	err := svc.Signup(ctx, api.SignupRequest{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com", Password: "cobol1"})
	require.NoError(t, err)

	err = svc.Signup(ctx, api.SignupRequest{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com", Password: "cobol1"})
	require.Error(t, err)
	assert.Equal(t, client.KindServer, client.KindOf(err))
	assert.Equal(t, "A user with this email already exists.", err.Error())

	err = svc.Signup(ctx, api.SignupRequest{Email: "grace@example.com"})
	var verr *client.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 3)
}

func TestService_AuthenticatedFlow(t *testing.T) {
	svc, store, backend := setupFakeAPI(t)
	ctx := context.Background()

	resp, err := svc.Signin(ctx, api.Credentials{Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, store.SetTokens(ctx, tokenstore.Tokens{Access: resp.Token, Refresh: resp.RefreshToken}))

	me, err := svc.Me(ctx)
	require.NoError(t, err)
	assert.True(t, me.NeedsOnboarding())

	_, err = svc.Categories(ctx)
	require.Error(t, err)
	assert.Equal(t, "Complete onboarding before managing products.", err.Error())

	err = svc.Onboard(ctx, api.OnboardRequest{OrganizationName: "Acme"})
	var verr *client.ValidationError
	require.ErrorAs(t, err, &verr)

	err = svc.Onboard(ctx, api.OnboardRequest{
		OrganizationName: "Acme",
		Address:          "1 Main St",
		City:             "Springfield",
		State:            "IL",
		ZipCode:          "62701",
		Country:          "US",
		FirstName:        "Ada",
		LastName:         "Lovelace",
	})
	require.NoError(t, err)

	me, err = svc.Me(ctx)
	require.NoError(t, err)
	assert.False(t, me.NeedsOnboarding())

	category, err := svc.CreateCategory(ctx, api.CreateCategoryRequest{Name: "Widgets"})
	require.NoError(t, err)
	assert.Equal(t, "Widgets", category.Name)

	// an expired access token is refreshed transparently
	backend.ExpireAccessTokens()

	list, err := svc.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 1, backend.RefreshCalls())

	require.NoError(t, svc.Signout(ctx, store.Tokens(ctx).Refresh))
	assert.Equal(t, 1, backend.SignoutCalls())
}

func TestService_FallbackMessages(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	svc, store := setupService(t, handler, "")
	ctx := context.Background()
	require.NoError(t, store.SetTokens(ctx, tokenstore.Tokens{Access: "T1", Refresh: "R1"}))

	tests := []struct {
		name     string
		call     func() error
		expected string
	}{
		{
			name: "signin",
			call: func() error {
				_, err := svc.Signin(ctx, api.Credentials{Email: "ada@example.com", Password: "secret1"})
				return err
			},
			expected: api.SigninFailedMessage,
		},
		{
			name: "signup",
			call: func() error {
				return svc.Signup(ctx, api.SignupRequest{FirstName: "A", LastName: "B", Email: "a@b.com", Password: "secret1"})
			},
			expected: api.SignupFailedMessage,
		},
		{
			name: "me",
			call: func() error {
				_, err := svc.Me(ctx)
				return err
			},
			expected: api.FetchUserFailedMessage,
		},
		{
			name: "categories",
			call: func() error {
				_, err := svc.Categories(ctx)
				return err
			},
			expected: api.LoadCategoriesFailedMessage,
		},
		{
			name: "create category",
			call: func() error {
				_, err := svc.CreateCategory(ctx, api.CreateCategoryRequest{Name: "Widgets"})
				return err
			},
			expected: api.CreateCategoryFailedMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, client.KindServer, client.KindOf(err))
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestService_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := client.DefaultConfig()
	cfg.BaseURL = url
	svc := api.New(client.New(cfg, tokenstore.New(tokenstore.NewMemoryBackend())))

	_, err := svc.Categories(context.Background())
	require.Error(t, err)
	assert.Equal(t, client.KindNetwork, client.KindOf(err))
	assert.Equal(t, client.NetworkMessage, err.Error())
}

func TestCredentials_Validate(t *testing.T) {
	tests := []struct {
		name   string
		creds  api.Credentials
		fields []string
	}{
		{name: "valid", creds: api.Credentials{Email: "a@b.com", Password: "secret1"}},
		{name: "missing both", creds: api.Credentials{}, fields: []string{"email", "password"}},
		{name: "bad email", creds: api.Credentials{Email: "a@", Password: "secret1"}, fields: []string{"email"}},
		{name: "display name form", creds: api.Credentials{Email: "Ada <a@b.com>", Password: "secret1"}, fields: []string{"email"}},
		{name: "short password", creds: api.Credentials{Email: "a@b.com", Password: "12345"}, fields: []string{"password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if len(tt.fields) == 0 {
				require.NoError(t, err)
				return
			}

			var verr *client.ValidationError
			require.ErrorAs(t, err, &verr)
			for _, f := range tt.fields {
				assert.Contains(t, verr.Fields, f)
			}
			assert.Len(t, verr.Fields, len(tt.fields))
		})
	}
}
