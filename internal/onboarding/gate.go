package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/stockpile/internal/api"
	"github.com/wolfeidau/stockpile/internal/models"
	"github.com/wolfeidau/stockpile/internal/session"
)

// Routes the gate redirects to.
const (
	LoginRoute   = "/login"
	SignupRoute  = "/signup"
	OnboardRoute = "/onboard"
	HomeRoute    = "/"
)

// maxPasses bounds re-evaluation when the session changes underneath the
// gate.
const maxPasses = 3

// Action is what the caller should do for a navigation.
type Action int

const (
	// Allow lets the navigation proceed.
	Allow Action = iota
	// Redirect sends the user to Decision.Target instead.
	Redirect
	// FetchProfile means the profile must be loaded before deciding.
	FetchProfile
	// Hold means no decision can be made yet. The caller shows a loading
	// indicator, or the error if one was returned.
	Hold
)

func (a Action) String() string {
	switch a {
	case Redirect:
		return "redirect"
	case FetchProfile:
		return "fetch_profile"
	case Hold:
		return "hold"
	default:
		return "allow"
	}
}

// Decision is the outcome of evaluating a route.
type Decision struct {
	Action Action
	Target string
}

func (d Decision) String() string {
	if d.Action == Redirect {
		return fmt.Sprintf("%s %s", d.Action, d.Target)
	}
	return d.Action.String()
}

func redirect(target string) Decision {
	return Decision{Action: Redirect, Target: target}
}

// IsPublic reports whether route is reachable without a session.
func IsPublic(route string) bool {
	return route == LoginRoute || route == SignupRoute
}

// Decide computes the navigation outcome for route from a session snapshot.
// It performs no I/O.
func Decide(snap session.Snapshot, route string) Decision {
	if IsPublic(route) {
		return Decision{Action: Allow}
	}

	if snap.State == session.Authenticating {
		return Decision{Action: Hold}
	}

	if !snap.IsAuthenticated() {
		return redirect(LoginRoute)
	}

	if snap.Profile == nil {
		if snap.Loading {
			return Decision{Action: Hold}
		}
		return Decision{Action: FetchProfile}
	}

	if snap.Profile.NeedsOnboarding() {
		if route == OnboardRoute {
			return Decision{Action: Allow}
		}
		return redirect(OnboardRoute)
	}

	if route == OnboardRoute {
		return redirect(HomeRoute)
	}

	return Decision{Action: Allow}
}

// Session is the part of session.Manager the gate depends on.
type Session interface {
	Snapshot() session.Snapshot
	Subscribe() (func(), <-chan session.Snapshot)
	FetchProfile(ctx context.Context) (*models.UserProfile, error)
}

var _ Session = (*session.Manager)(nil)

// Gate applies Decide against a live session, loading the profile when it
// is missing.
type Gate struct {
	session Session
	api     *api.Service
}

// New creates a gate over a session and the service used to submit
// onboarding.
func New(s Session, svc *api.Service) *Gate {
	return &Gate{session: s, api: svc}
}

// Evaluate decides route for the current session. A failed profile fetch
// returns Hold with the error and no redirect, unless the failure ended the
// session.
func (g *Gate) Evaluate(ctx context.Context, route string) (Decision, error) {
	for range maxPasses {
		d, err := g.settle(ctx, route)
		if err != nil {
			return d, err
		}

		if d.Action != FetchProfile {
			log.Debug().Str("route", route).Stringer("decision", d).Msg("gate evaluated")
			return d, nil
		}

		if _, err := g.session.FetchProfile(ctx); err != nil {
			// ended before or during the fetch, decide again
			if session.IsSessionEnded(err) || errors.Is(err, session.ErrNotAuthenticated) {
				continue
			}
			return Decision{Action: Hold}, err
		}
	}

	return Decision{Action: Hold}, session.ErrSessionEnded
}

// Complete submits the onboarding form, reloads the profile so the new
// organization is visible, and decides the home route.
func (g *Gate) Complete(ctx context.Context, req api.OnboardRequest) (Decision, error) {
	if !g.session.Snapshot().IsAuthenticated() {
		return redirect(LoginRoute), session.ErrNotAuthenticated
	}

	if err := g.api.Onboard(ctx, req); err != nil {
		return Decision{Action: Hold}, err
	}

	profile, err := g.session.FetchProfile(ctx)
	if err != nil {
		return Decision{Action: Hold}, err
	}

	log.Info().
		Str("user", profile.ID.String()).
		Int("organizations", len(profile.Organizations)).
		Msg("onboarding complete")

	return g.Evaluate(ctx, HomeRoute)
}

// settle waits until the decision for route is no longer Hold.
func (g *Gate) settle(ctx context.Context, route string) (Decision, error) {
	if d := Decide(g.session.Snapshot(), route); d.Action != Hold {
		return d, nil
	}

	unsub, updates := g.session.Subscribe()
	defer unsub()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return Decision{Action: Hold}, session.ErrSessionEnded
			}
			if d := Decide(snap, route); d.Action != Hold {
				return d, nil
			}
		case <-ctx.Done():
			return Decision{Action: Hold}, ctx.Err()
		}
	}
}
