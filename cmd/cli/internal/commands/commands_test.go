package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/stockpile/internal/config"
	"github.com/wolfeidau/stockpile/internal/fakeapi"
	"github.com/wolfeidau/stockpile/internal/session"
)

type runner interface {
	Run(ctx context.Context, globals *Globals) error
}

type testCLI struct {
	t       *testing.T
	backend *fakeapi.Server
	globals *Globals
	out     *bytes.Buffer
}

func setupCLI(t *testing.T, mutate ...func(*fakeapi.Config)) *testCLI {
	t.Helper()

	backendCfg := fakeapi.DefaultConfig()
	for _, m := range mutate {
		m(&backendCfg)
	}

	backend, err := fakeapi.New(backendCfg)
	require.NoError(t, err)

	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	cfg, err := config.Parse(map[string]string{
		"STOCKPILE_API_BASE_URL": srv.URL + fakeapi.BasePath,
		"STOCKPILE_STORE_DIR":    t.TempDir(),
	})
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return &testCLI{
		t:       t,
		backend: backend,
		globals: &Globals{Config: cfg, Output: FormatJSON, Stdout: out},
		out:     out,
	}
}

func (c *testCLI) run(cmd runner) (string, error) {
	c.t.Helper()
	c.out.Reset()
	err := cmd.Run(context.Background(), c.globals)
	return c.out.String(), err
}

func (c *testCLI) runJSON(cmd runner, v any) {
	c.t.Helper()
	out, err := c.run(cmd)
	require.NoError(c.t, err)
	require.NoError(c.t, json.Unmarshal([]byte(out), v), out)
}

func onboardCmd() *OnboardCmd {
	return &OnboardCmd{
		Organization: "Acme",
		Address:      "1 Main St",
		City:         "Springfield",
		State:        "IL",
		ZipCode:      "62701",
		Country:      "US",
	}
}

func TestCommands_SessionLifecycle(t *testing.T) {
	cli := setupCLI(t)

	_, err := cli.run(&SignupCmd{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = cli.run(&CategoriesListCmd{})
	require.ErrorIs(t, err, errNotSignedIn)

	var profile map[string]any
	cli.runJSON(&LoginCmd{Email: "ada@example.com", Password: "secret1"}, &profile)
	assert.Equal(t, "Ada", profile["first_name"])
	assert.Empty(t, profile["organizations"])

	_, err = cli.run(&LoginCmd{Email: "ada@example.com", Password: "secret1"})
	require.ErrorIs(t, err, session.ErrAlreadyAuthenticated)

	_, err = cli.run(&CategoriesListCmd{})
	require.ErrorIs(t, err, errOnboardingRequired)

	cli.runJSON(onboardCmd(), &profile)
	assert.Len(t, profile["organizations"], 1)
	assert.Equal(t, "Lovelace", profile["last_name"])

	var created map[string]any
	cli.runJSON(&CategoriesCreateCmd{Name: "Widgets", Description: "Small parts"}, &created)
	assert.Equal(t, "Widgets", created["name"])

	cli.globals.Query = "data[].name"
	var names []string
	cli.runJSON(&CategoriesListCmd{}, &names)
	assert.Equal(t, []string{"Widgets"}, names)
	cli.globals.Query = ""

	var status sessionStatus
	cli.runJSON(&StatusCmd{}, &status)
	assert.Equal(t, "authenticated", status.State)
	assert.Equal(t, "file", status.Store)
	assert.NotEmpty(t, status.Access)
	require.NotNil(t, status.AccessExpires)
	require.NotNil(t, status.Onboarded)
	assert.True(t, *status.Onboarded)

	var token map[string]any
	cli.runJSON(&TokenCmd{}, &token)
	assert.NotEmpty(t, token["access_token"])
	assert.Equal(t, "Bearer", token["token_type"])

	_, err = cli.run(&LogoutCmd{})
	require.NoError(t, err)
	assert.Equal(t, 1, cli.backend.SignoutCalls())

	cli.runJSON(&StatusCmd{}, &status)
	assert.Equal(t, "unauthenticated", status.State)
	assert.Empty(t, status.Access)

	_, err = cli.run(&WhoamiCmd{})
	require.ErrorIs(t, err, errNotSignedIn)

	_, err = cli.run(&TokenCmd{})
	require.ErrorIs(t, err, errNotSignedIn)

	// a second logout has nothing to revoke
	_, err = cli.run(&LogoutCmd{})
	require.NoError(t, err)
	assert.Equal(t, 1, cli.backend.SignoutCalls())
}

func TestCommands_RefreshPersistsRotatedTokens(t *testing.T) {
	cli := setupCLI(t)

	user, err := cli.backend.SeedUser("Ada", "Lovelace", "ada@example.com", "secret1")
	require.NoError(t, err)

	_, err = cli.run(&LoginCmd{Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)

	var before sessionStatus
	cli.runJSON(&StatusCmd{}, &before)

	cli.backend.ExpireAccessTokens()

	var profile map[string]any
	cli.runJSON(&WhoamiCmd{Refresh: true}, &profile)
	assert.Equal(t, user.ID.String(), profile["id"])
	assert.Equal(t, 1, cli.backend.RefreshCalls())

	var after sessionStatus
	cli.runJSON(&StatusCmd{}, &after)
	assert.Equal(t, "authenticated", after.State)
	assert.NotEqual(t, before.Access, after.Access)
	assert.NotEqual(t, before.Refresh, after.Refresh)
}

func TestCommands_TokenRefreshesExpiringToken(t *testing.T) {
	// tokens this short lived are already inside the oauth2 expiry margin
	cli := setupCLI(t, func(cfg *fakeapi.Config) { cfg.AccessTTL = 5 * time.Second })

	_, err := cli.backend.SeedUser("Ada", "Lovelace", "ada@example.com", "secret1")
	require.NoError(t, err)

	_, err = cli.run(&LoginCmd{Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)

	var first map[string]any
	cli.runJSON(&TokenCmd{}, &first)
	assert.Equal(t, 0, cli.backend.RefreshCalls())

	cli.backend.ExpireAccessTokens()

	var second map[string]any
	cli.runJSON(&TokenCmd{}, &second)
	assert.Equal(t, 1, cli.backend.RefreshCalls())
	assert.NotEmpty(t, second["access_token"])
	assert.NotEqual(t, first["access_token"], second["access_token"])
}

func TestCommands_ExpiredSessionSignsOut(t *testing.T) {
	cli := setupCLI(t)

	_, err := cli.backend.SeedUser("Ada", "Lovelace", "ada@example.com", "secret1")
	require.NoError(t, err)

	_, err = cli.run(&LoginCmd{Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)

	cli.backend.ExpireAccessTokens()
	cli.backend.FailRefresh(401)

	_, err = cli.run(&WhoamiCmd{Refresh: true})
	require.Error(t, err)
	assert.True(t, session.IsSessionEnded(err))

	var status sessionStatus
	cli.runJSON(&StatusCmd{}, &status)
	assert.Equal(t, "unauthenticated", status.State)
	assert.Empty(t, status.Refresh)
}

func TestCommands_LoginForce(t *testing.T) {
	cli := setupCLI(t)

	_, err := cli.backend.SeedUser("Ada", "Lovelace", "ada@example.com", "secret1")
	require.NoError(t, err)
	_, err = cli.backend.SeedUser("Grace", "Hopper", "grace@example.com", "cobol1")
	require.NoError(t, err)

	_, err = cli.run(&LoginCmd{Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)

	var profile map[string]any
	cli.runJSON(&LoginCmd{Email: "grace@example.com", Password: "cobol1", Force: true}, &profile)
	assert.Equal(t, "Grace", profile["first_name"])
	assert.Equal(t, 1, cli.backend.SignoutCalls())
}

func TestCommands_OnboardAlreadyComplete(t *testing.T) {
	cli := setupCLI(t)
	cli.globals.Output = FormatTable

	_, err := cli.backend.SeedUser("Ada", "Lovelace", "ada@example.com", "secret1")
	require.NoError(t, err)

	_, err = cli.run(&LoginCmd{Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)

	out, err := cli.run(onboardCmd())
	require.NoError(t, err)
	assert.Contains(t, out, "Acme")

	out, err = cli.run(onboardCmd())
	require.NoError(t, err)
	assert.Contains(t, out, "Onboarding is already complete.")
}
