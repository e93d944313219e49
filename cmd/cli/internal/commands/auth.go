package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/stockpile/internal/api"
	"github.com/wolfeidau/stockpile/internal/models"
	"github.com/wolfeidau/stockpile/internal/onboarding"
	"github.com/wolfeidau/stockpile/internal/session"
)

type SignupCmd struct {
	FirstName string `help:"First name"`
	LastName  string `help:"Last name"`
	Email     string `help:"Email address"`
	Password  string `help:"Password" env:"STOCKPILE_PASSWORD"`
}

func (s *SignupCmd) Run(ctx context.Context, globals *Globals) error {
	if err := promptMissing(
		field{Title: "First name", Value: &s.FirstName, Validate: notBlank},
		field{Title: "Last name", Value: &s.LastName, Validate: notBlank},
		field{Title: "Email", Value: &s.Email, Validate: notBlank},
		field{Title: "Password", Value: &s.Password, Secret: true, Validate: notBlank},
	); err != nil {
		return err
	}

	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.session.Signup(ctx, api.SignupRequest{
		FirstName: s.FirstName,
		LastName:  s.LastName,
		Email:     s.Email,
		Password:  s.Password,
	})
	if err != nil {
		return err
	}

	globals.printer().Message("Account created for %s. Run `stockpile-cli login` to sign in.", s.Email)
	return nil
}

type LoginCmd struct {
	Email    string `help:"Email address"`
	Password string `help:"Password" env:"STOCKPILE_PASSWORD"`
	Force    bool   `help:"Sign out of the current session first" default:"false"`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.session.Snapshot().IsAuthenticated() {
		if !l.Force {
			return fmt.Errorf("%w, use --force to sign in again", session.ErrAlreadyAuthenticated)
		}
		if err := a.session.Logout(ctx); err != nil {
			return err
		}
	}

	if err := promptMissing(
		field{Title: "Email", Value: &l.Email, Validate: notBlank},
		field{Title: "Password", Value: &l.Password, Secret: true, Validate: notBlank},
	); err != nil {
		return err
	}

	if _, err := a.session.Login(ctx, l.Email, l.Password); err != nil {
		return err
	}

	d, err := a.gate.Evaluate(ctx, onboarding.HomeRoute)
	if err != nil {
		// signed in, the profile can be loaded later
		log.Warn().Err(err).Msg("failed to load profile")
	}

	p := globals.printer()
	profile := a.session.Snapshot().Profile
	if profile != nil {
		if err := printProfile(p, profile); err != nil {
			return err
		}
	}

	if d.Target == onboarding.OnboardRoute {
		p.Message("Complete onboarding with `stockpile-cli onboard` before managing products.")
	}

	return nil
}

type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	wasAuthenticated := a.session.Snapshot().IsAuthenticated()

	if err := a.session.Logout(ctx); err != nil {
		return err
	}

	if wasAuthenticated {
		globals.printer().Message("Signed out.")
	} else {
		globals.printer().Message("Not signed in.")
	}
	return nil
}

type WhoamiCmd struct {
	Refresh bool `help:"Reload the profile from the server" default:"false"`
}

func (w *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if w.Refresh && a.session.Snapshot().IsAuthenticated() {
		if _, err := a.session.FetchProfile(ctx); err != nil {
			return err
		}
	}

	// the onboarding page is reachable by every signed in user, onboarded
	// or not, and loads the profile when it is missing
	if _, err := a.gate.Evaluate(ctx, onboarding.OnboardRoute); err != nil {
		return err
	}

	profile := a.session.Snapshot().Profile
	if profile == nil {
		return errNotSignedIn
	}

	return printProfile(globals.printer(), profile)
}

func printProfile(p *Printer, profile *models.UserProfile) error {
	return p.Print(profile, func(w *tabwriter.Writer) {
		orgs := make([]string, 0, len(profile.Organizations))
		for _, org := range profile.Organizations {
			orgs = append(orgs, org.Name)
		}
		if len(orgs) == 0 {
			orgs = append(orgs, "(none, onboarding required)")
		}

		fmt.Fprintf(w, "ID:\t%s\n", profile.ID)
		fmt.Fprintf(w, "Name:\t%s\n", profile.DisplayName())
		if profile.Email != "" {
			fmt.Fprintf(w, "Email:\t%s\n", profile.Email)
		}
		fmt.Fprintf(w, "Organizations:\t%s\n", strings.Join(orgs, ", "))
	})
}
