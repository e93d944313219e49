package api

import (
	"net/mail"
	"strings"

	"github.com/wolfeidau/stockpile/internal/client"
	"github.com/wolfeidau/stockpile/internal/models"
)

const minPasswordLength = 6

// Credentials is the sign in request.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the credentials before they are sent.
func (c Credentials) Validate() error {
	v := client.NewValidationError()
	validateEmail(v, c.Email)
	v.Required("password", c.Password)
	if c.Password != "" && len(c.Password) < minPasswordLength {
		v.Add("password", "must be at least 6 characters")
	}
	return v.OrNil()
}

// SigninResponse is returned by a successful sign in.
type SigninResponse struct {
	Token        string              `json:"token"`
	RefreshToken string              `json:"refreshToken"`
	User         *models.UserProfile `json:"user,omitempty"`
}

// SignupRequest registers a new account.
type SignupRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Validate checks the request before it is sent.
func (s SignupRequest) Validate() error {
	v := client.NewValidationError()
	v.Required("firstName", s.FirstName)
	v.Required("lastName", s.LastName)
	validateEmail(v, s.Email)
	v.Required("password", s.Password)
	if s.Password != "" && len(s.Password) < minPasswordLength {
		v.Add("password", "must be at least 6 characters")
	}
	return v.OrNil()
}

// SignupResponse is returned by sign up.
type SignupResponse struct {
	IsSuccess bool `json:"is_success"`
}

type signoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// OnboardRequest creates the user's first organization.
type OnboardRequest struct {
	OrganizationName string `json:"organizationName"`
	Address          string `json:"address"`
	City             string `json:"city"`
	State            string `json:"state"`
	ZipCode          string `json:"zipCode"`
	Country          string `json:"country"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
}

// Validate checks that every field is filled in.
func (o OnboardRequest) Validate() error {
	v := client.NewValidationError()
	v.Required("organizationName", o.OrganizationName)
	v.Required("address", o.Address)
	v.Required("city", o.City)
	v.Required("state", o.State)
	v.Required("zipCode", o.ZipCode)
	v.Required("country", o.Country)
	v.Required("firstName", o.FirstName)
	v.Required("lastName", o.LastName)
	return v.OrNil()
}

// CategoryList is a page of product categories.
type CategoryList struct {
	Data  []models.Category `json:"data"`
	Total int               `json:"total"`
}

// CreateCategoryRequest adds a product category.
type CreateCategoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Validate checks the request before it is sent.
func (c CreateCategoryRequest) Validate() error {
	v := client.NewValidationError()
	v.Required("name", c.Name)
	return v.OrNil()
}

func validateEmail(v *client.ValidationError, email string) {
	v.Required("email", email)
	if strings.TrimSpace(email) == "" {
		return
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		v.Add("email", "must be a valid email address")
	}
}
