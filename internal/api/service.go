package api

import (
	"context"
	"net/http"

	"github.com/wolfeidau/stockpile/internal/client"
	"github.com/wolfeidau/stockpile/internal/models"
)

// Endpoint paths, relative to the API base URL.
const (
	PathSignin       = "/auth/signin/"
	PathSignup       = "/auth/signup/"
	PathRefreshToken = "/auth/refresh-token"
	PathSignout      = "/auth/signout/"
	PathMe           = "/user/me/"
	PathOnboard      = "/user/onboard/"
	PathCategories   = "/product/categories/"
)

// Messages used when the server does not supply one.
const (
	SigninFailedMessage         = "Signin failed. Please try again."
	SignupFailedMessage         = "Signup failed. Please try again."
	FetchUserFailedMessage      = "Failed to fetch user data. Please try again."
	OnboardFailedMessage        = "Failed to complete onboarding. Please try again."
	LoadCategoriesFailedMessage = "Failed to load categories."
	CreateCategoryFailedMessage = "Failed to create category."
)

// Service exposes the typed backend endpoints. Every method returns either a
// result or an error classified by client.KindOf.
type Service struct {
	client *client.Client
}

// New creates a service over c.
func New(c *client.Client) *Service {
	return &Service{client: c}
}

// Client returns the underlying HTTP client.
func (s *Service) Client() *client.Client {
	return s.client
}

// Signin exchanges credentials for a token pair. A 401 here means bad
// credentials, so the refresh path is disabled.
func (s *Service) Signin(ctx context.Context, creds Credentials) (*SigninResponse, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	var out SigninResponse
	if err := s.client.Do(ctx, http.MethodPost, PathSignin, creds, &out, client.WithoutRefresh()); err != nil {
		return nil, client.WithFallback(err, SigninFailedMessage)
	}

	if out.Token == "" {
		return nil, &client.Error{Kind: client.KindServer, Op: "signin", Status: http.StatusOK, Message: SigninFailedMessage}
	}

	return &out, nil
}

// Signup registers an account. It does not sign the user in.
func (s *Service) Signup(ctx context.Context, req SignupRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	var out SignupResponse
	if err := s.client.Do(ctx, http.MethodPost, PathSignup, req, &out, client.WithoutRefresh()); err != nil {
		return client.WithFallback(err, SignupFailedMessage)
	}

	if !out.IsSuccess {
		return &client.Error{Kind: client.KindServer, Op: "signup", Status: http.StatusOK, Message: SignupFailedMessage}
	}

	return nil
}

// Signout tells the server to revoke refreshToken.
func (s *Service) Signout(ctx context.Context, refreshToken string) error {
	return s.client.Do(ctx, http.MethodPost, PathSignout, signoutRequest{RefreshToken: refreshToken}, nil, client.WithoutRefresh())
}

// Me fetches the current user's profile.
func (s *Service) Me(ctx context.Context) (*models.UserProfile, error) {
	var out models.UserProfile
	if err := s.client.Do(ctx, http.MethodGet, PathMe, nil, &out); err != nil {
		return nil, client.WithFallback(err, FetchUserFailedMessage)
	}

	if out.ID == "" {
		return nil, &client.Error{Kind: client.KindServer, Op: "me", Status: http.StatusOK, Message: FetchUserFailedMessage}
	}

	return &out, nil
}

// Onboard creates the user's first organization.
func (s *Service) Onboard(ctx context.Context, req OnboardRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	if err := s.client.Do(ctx, http.MethodPost, PathOnboard, req, nil); err != nil {
		return client.WithFallback(err, OnboardFailedMessage)
	}

	return nil
}

// Categories lists product categories.
func (s *Service) Categories(ctx context.Context) (*CategoryList, error) {
	var out CategoryList
	if err := s.client.Do(ctx, http.MethodGet, PathCategories, nil, &out); err != nil {
		return nil, client.WithFallback(err, LoadCategoriesFailedMessage)
	}

	return &out, nil
}

// CreateCategory adds a product category.
func (s *Service) CreateCategory(ctx context.Context, req CreateCategoryRequest) (*models.Category, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out models.Category
	if err := s.client.Do(ctx, http.MethodPost, PathCategories, req, &out); err != nil {
		return nil, client.WithFallback(err, CreateCategoryFailedMessage)
	}

	return &out, nil
}
