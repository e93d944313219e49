package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key-0123456789abcdef")

type revokedSet map[string]bool

func (r revokedSet) IsRevoked(_ context.Context, tokenID string) bool {
	return r[tokenID]
}

func TestNewVerifier(t *testing.T) {
	t.Run("empty key", func(t *testing.T) {
		v, err := NewVerifier(nil)
		require.Error(t, err)
		require.Nil(t, v)
		require.Equal(t, "signing key not provided", err.Error())
	})

	t.Run("valid key", func(t *testing.T) {
		v, err := NewVerifier(testKey)
		require.NoError(t, err)
		require.NotNil(t, v)
	})
}

func TestVerify(t *testing.T) {
	v, err := NewVerifier(testKey)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		token, err := IssueToken(testKey, "user-1", time.Minute)
		require.NoError(t, err)

		claims, err := v.Verify(token)
		require.NoError(t, err)
		require.Equal(t, "user-1", claims.Subject)
		require.NotEmpty(t, claims.ID)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := IssueToken(testKey, "user-1", -time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(token)
		require.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong key", func(t *testing.T) {
		token, err := IssueToken([]byte("another-key"), "user-1", time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(token)
		require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Verify("not-a-token")
		require.Error(t, err)
	})
}

func TestIssueToken_unique(t *testing.T) {
	a, err := IssueToken(testKey, "user-1", time.Minute)
	require.NoError(t, err)
	b, err := IssueToken(testKey, "user-1", time.Minute)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestExpiresAt(t *testing.T) {
	token, err := IssueToken(testKey, "user-1", time.Hour)
	require.NoError(t, err)

	exp, err := ExpiresAt(token)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	_, err = ExpiresAt("not-a-token")
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v, err := NewVerifier(testKey)
	require.NoError(t, err)

	valid, err := IssueToken(testKey, "user-1", time.Minute)
	require.NoError(t, err)
	revoked, err := IssueToken(testKey, "user-1", time.Minute)
	require.NoError(t, err)

	revokedClaims, err := v.Verify(revoked)
	require.NoError(t, err)

	handler := v.Middleware(revokedSet{revokedClaims.ID: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := PrincipalFromContext(r.Context())
		require.NotNil(t, principal)
		_, _ = w.Write([]byte(principal.UserID))
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + valid, status: http.StatusUnauthorized},
		{name: "revoked token", header: "Bearer " + revoked, status: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer " + valid, status: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + valid, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/user/me/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)
			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				require.Equal(t, "user-1", rec.Body.String())
			} else {
				require.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}
