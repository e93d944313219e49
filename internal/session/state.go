package session

import (
	"errors"

	"github.com/wolfeidau/stockpile/internal/client"
	"github.com/wolfeidau/stockpile/internal/models"
)

var (
	// ErrLoginInProgress is returned when Login is called while another
	// login has not settled.
	ErrLoginInProgress = errors.New("login already in progress")
	// ErrAlreadyAuthenticated is returned when Login is called on an
	// authenticated session. Log out first to switch accounts.
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionEnded is returned when the session was logged out while an
	// operation was in flight. The operation's result is discarded.
	ErrSessionEnded = errors.New("session ended while request was in flight")
	// ErrNoProfile is returned when no profile has been loaded yet.
	ErrNoProfile = errors.New("no profile loaded")
)

// State is the authentication state of a session.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	// Refreshing is entered while the client exchanges the refresh token.
	// The session is still considered authenticated.
	Refreshing
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

// Snapshot is a point in time copy of the session.
type Snapshot struct {
	State State
	// Loading is true while a login, profile fetch, sign up or refresh is
	// in flight.
	Loading bool
	// Profile is nil until fetched.
	Profile   *models.UserProfile
	LastError error
}

// IsAuthenticated reports whether the session holds an access token.
func (s Snapshot) IsAuthenticated() bool {
	return s.State == Authenticated || s.State == Refreshing
}

// ErrorKind classifies LastError. Only meaningful when LastError is set.
func (s Snapshot) ErrorKind() client.Kind {
	return client.KindOf(s.LastError)
}

// ErrorMessage returns the user facing text of LastError.
func (s Snapshot) ErrorMessage() string {
	if s.LastError == nil {
		return ""
	}
	return s.LastError.Error()
}
