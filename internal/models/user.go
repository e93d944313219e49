package models

import "strings"

// UserProfile is the authenticated principal as returned by GET /user/me/.
type UserProfile struct {
	ID            ID             `json:"id"`
	FirstName     string         `json:"first_name"`
	LastName      string         `json:"last_name"`
	Email         string         `json:"email,omitempty"`
	Organizations []Organization `json:"organizations"`
}

// NeedsOnboarding returns true if the user has no organization yet.
func (u *UserProfile) NeedsOnboarding() bool {
	return len(u.Organizations) == 0
}

// DisplayName joins first and last name.
func (u *UserProfile) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ProfileUpdate holds the profile fields to change. Nil fields are left as
// they are.
type ProfileUpdate struct {
	FirstName     *string        `json:"first_name,omitempty"`
	LastName      *string        `json:"last_name,omitempty"`
	Email         *string        `json:"email,omitempty"`
	Organizations []Organization `json:"organizations,omitempty"`
}

// Apply merges the set fields of update into u.
func (u *UserProfile) Apply(update ProfileUpdate) {
	if update.FirstName != nil {
		u.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		u.LastName = *update.LastName
	}
	if update.Email != nil {
		u.Email = *update.Email
	}
	if update.Organizations != nil {
		u.Organizations = append([]Organization(nil), update.Organizations...)
	}
}
