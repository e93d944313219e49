// Package fakeapi is an in-process implementation of the inventory backend
// used for local development and tests. State lives in memory.
package fakeapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/stockpile/internal/api"
	"github.com/wolfeidau/stockpile/internal/auth"
	httpmiddleware "github.com/wolfeidau/stockpile/internal/http"
	"github.com/wolfeidau/stockpile/internal/models"
)

// BasePath is where the API is mounted.
const BasePath = "/api/v1"

// Config configures the fake backend.
type Config struct {
	// SigningKey signs access tokens. A random key is generated when empty.
	SigningKey []byte
	AccessTTL  time.Duration
	// CategoryMaxAge is the Cache-Control max-age of category listings.
	CategoryMaxAge time.Duration
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// DefaultConfig returns the development configuration.
func DefaultConfig() Config {
	return Config{
		AccessTTL:      5 * time.Minute,
		CategoryMaxAge: 30 * time.Second,
		AllowedOrigins: []string{"http://localhost:3000"},
		Logger:         zerolog.Nop(),
	}
}

// Server serves the backend API.
type Server struct {
	cfg      Config
	state    *state
	key      []byte
	verifier *auth.Verifier
	handler  http.Handler

	refreshCalls atomic.Int32
	signoutCalls atomic.Int32

	hookMu        sync.RWMutex
	refreshStatus int
	beforeRefresh func()
}

// New creates a fake backend.
func New(cfg Config) (*Server, error) {
	defaults := DefaultConfig()
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaults.AccessTTL
	}
	if cfg.CategoryMaxAge < 0 {
		cfg.CategoryMaxAge = 0
	}

	key := cfg.SigningKey
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}

	verifier, err := auth.NewVerifier(key)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		state:    newState(),
		key:      key,
		verifier: verifier,
	}
	s.handler = s.routes()

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	requireAuth := s.verifier.Middleware(s)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/signin/{$}", s.handleSignin)
	mux.HandleFunc("POST /auth/signup/{$}", s.handleSignup)
	mux.HandleFunc("POST /auth/refresh-token", s.handleRefresh)
	mux.HandleFunc("POST /auth/signout/{$}", s.handleSignout)
	mux.Handle("GET /user/me/{$}", requireAuth(http.HandlerFunc(s.handleMe)))
	mux.Handle("POST /user/onboard/{$}", requireAuth(http.HandlerFunc(s.handleOnboard)))
	mux.Handle("GET /product/categories/{$}", requireAuth(http.HandlerFunc(s.handleListCategories)))
	mux.Handle("POST /product/categories/{$}", requireAuth(http.HandlerFunc(s.handleCreateCategory)))

	root := http.NewServeMux()
	root.Handle(BasePath+"/", http.StripPrefix(BasePath, mux))
	root.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept", httpmiddleware.RequestIDHeader},
		ExposedHeaders: []string{httpmiddleware.RequestIDHeader},
	})

	return httpmiddleware.Chain(root,
		httpmiddleware.RequestIDMiddleware(),
		httpmiddleware.ClientIPMiddleware(),
		httpmiddleware.AccessLogMiddleware(s.cfg.Logger),
		httpmiddleware.RecoverMiddleware(),
		corsMiddleware.Handler,
		func(h http.Handler) http.Handler { return gzhttp.GzipHandler(h) },
	)
}

// IsRevoked implements auth.RevocationChecker. Access tokens are valid only
// while tracked.
func (s *Server) IsRevoked(_ context.Context, tokenID string) bool {
	return !s.state.accessTokenValid(tokenID)
}

// SeedUser creates an account and returns its profile.
func (s *Server) SeedUser(firstName, lastName, email, password string) (models.UserProfile, error) {
	return s.state.createUser(firstName, lastName, email, password)
}

// SeedOrganization onboards an existing user.
func (s *Server) SeedOrganization(userID string, org models.Organization) (models.UserProfile, error) {
	return s.state.onboard(userID, org, "", "")
}

// ExpireAccessTokens revokes every issued access token, as if they had all
// reached their expiry. Refresh tokens stay valid.
func (s *Server) ExpireAccessTokens() int {
	return s.state.revokeAccessTokens("")
}

// RefreshCalls returns the number of refresh requests received.
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// SignoutCalls returns the number of sign-out requests received.
func (s *Server) SignoutCalls() int {
	return int(s.signoutCalls.Load())
}

// FailRefresh makes the refresh endpoint answer with status. Zero restores
// normal behaviour.
func (s *Server) FailRefresh(status int) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.refreshStatus = status
}

// BeforeRefresh registers fn to run before each refresh is answered.
func (s *Server) BeforeRefresh(fn func()) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.beforeRefresh = fn
}

func (s *Server) issueTokens(userID string) (string, string, error) {
	access, err := s.issueAccessToken(userID)
	if err != nil {
		return "", "", err
	}
	return access, s.state.issueRefreshToken(userID), nil
}

func (s *Server) issueAccessToken(userID string) (string, error) {
	access, err := auth.IssueToken(s.key, userID, s.cfg.AccessTTL)
	if err != nil {
		return "", err
	}
	claims, err := s.verifier.Verify(access)
	if err != nil {
		return "", err
	}
	s.state.trackAccessToken(claims.ID, userID)
	return access, nil
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req api.Credentials
	if !decode(w, r, &req) {
		return
	}

	profile, err := s.state.authenticate(req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password.")
		return
	}

	access, refresh, err := s.issueTokens(profile.ID.String())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to issue tokens")
		writeError(w, http.StatusInternalServerError, "Failed to issue tokens.")
		return
	}

	writeJSON(w, http.StatusOK, api.SigninResponse{Token: access, RefreshToken: refresh, User: &profile})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req api.SignupRequest
	if !decode(w, r, &req) {
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.state.createUser(req.FirstName, req.LastName, req.Email, req.Password); err != nil {
		if errors.Is(err, errEmailTaken) {
			writeError(w, http.StatusBadRequest, "A user with this email already exists.")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create user.")
		return
	}

	writeJSON(w, http.StatusCreated, api.SignupResponse{IsSuccess: true})
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	s.hookMu.RLock()
	status, hook := s.refreshStatus, s.beforeRefresh
	s.hookMu.RUnlock()

	if hook != nil {
		hook()
	}
	if status != 0 {
		writeError(w, status, "Token is invalid or expired.")
		return
	}

	var req refreshBody
	if !decode(w, r, &req) {
		return
	}

	userID, refresh, err := s.state.rotateRefreshToken(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Token is invalid or expired.")
		return
	}

	access, err := s.issueAccessToken(userID)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to issue access token")
		writeError(w, http.StatusInternalServerError, "Failed to issue tokens.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": access, "refreshToken": refresh})
}

func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	s.signoutCalls.Add(1)

	var req refreshBody
	if !decode(w, r, &req) {
		return
	}

	s.state.signout(req.RefreshToken)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())

	profile, err := s.state.profile(principal.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found.")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())

	var req api.OnboardRequest
	if !decode(w, r, &req) {
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	org := models.Organization{
		Name:    req.OrganizationName,
		Address: req.Address,
		City:    req.City,
		State:   req.State,
		ZipCode: req.ZipCode,
		Country: req.Country,
	}

	profile, err := s.state.onboard(principal.UserID, org, req.FirstName, req.LastName)
	if err != nil {
		if errors.Is(err, errAlreadyOnboarded) {
			writeError(w, http.StatusBadRequest, "User is already onboarded.")
			return
		}
		writeError(w, http.StatusNotFound, "User not found.")
		return
	}

	log.Ctx(r.Context()).Info().Str("user_id", profile.ID.String()).Msg("user onboarded")

	writeJSON(w, http.StatusCreated, map[string]any{"is_success": true, "organization": profile.Organizations[0]})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFor(w, r)
	if !ok {
		return
	}

	categories := s.state.listCategories(orgID)
	if categories == nil {
		categories = []models.Category{}
	}

	if s.cfg.CategoryMaxAge > 0 {
		w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(int(s.cfg.CategoryMaxAge.Seconds())))
	}
	writeJSON(w, http.StatusOK, api.CategoryList{Data: categories, Total: len(categories)})
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFor(w, r)
	if !ok {
		return
	}

	var req api.CreateCategoryRequest
	if !decode(w, r, &req) {
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	category, err := s.state.addCategory(orgID, req.Name, req.Description)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Category with this name already exists.")
		return
	}

	writeJSON(w, http.StatusCreated, category)
}

func (s *Server) orgFor(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal := auth.PrincipalFromContext(r.Context())

	orgID, err := s.state.orgFor(principal.UserID)
	if err != nil {
		if errors.Is(err, errNotOnboarded) {
			writeError(w, http.StatusForbidden, "Complete onboarding before managing products.")
			return "", false
		}
		writeError(w, http.StatusNotFound, "User not found.")
		return "", false
	}
	return orgID, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}
