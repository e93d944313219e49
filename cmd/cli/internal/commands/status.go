package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/stockpile/internal/auth"
	"github.com/wolfeidau/stockpile/internal/tokenstore"
)

// StatusCmd reports the local session without contacting the server.
type StatusCmd struct{}

type sessionStatus struct {
	Profile       string     `json:"profile"`
	Store         string     `json:"store"`
	State         string     `json:"state"`
	User          string     `json:"user,omitempty"`
	Onboarded     *bool      `json:"onboarded,omitempty"`
	Access        string     `json:"access_token,omitempty"`
	AccessExpires *time.Time `json:"access_expires,omitempty"`
	Refresh       string     `json:"refresh_token,omitempty"`
}

func (s *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	snap := a.session.Snapshot()
	tokens := a.tokens.Tokens(ctx)

	st := sessionStatus{
		Profile: globals.Config.Profile,
		Store:   globals.Config.Store.Kind,
		State:   snap.State.String(),
		Access:  tokenstore.Fingerprint(tokens.Access),
		Refresh: tokenstore.Fingerprint(tokens.Refresh),
	}
	if snap.Profile != nil {
		st.User = snap.Profile.DisplayName()
		onboarded := !snap.Profile.NeedsOnboarding()
		st.Onboarded = &onboarded
	}
	if tokens.Access != "" {
		if exp, err := auth.ExpiresAt(tokens.Access); err == nil {
			st.AccessExpires = &exp
		}
	}

	return globals.printer().Print(st, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Profile:\t%s (%s store)\n", st.Profile, st.Store)
		fmt.Fprintf(w, "State:\t%s\n", st.State)
		if st.User != "" {
			fmt.Fprintf(w, "User:\t%s\n", st.User)
		}
		if st.Onboarded != nil {
			fmt.Fprintf(w, "Onboarded:\t%t\n", *st.Onboarded)
		}
		if st.Access != "" {
			fmt.Fprintf(w, "Access token:\t%s\n", st.Access)
		}
		if st.AccessExpires != nil {
			fmt.Fprintf(w, "Expires:\t%s\n", describeExpiry(*st.AccessExpires, time.Now()))
		}
		if st.Refresh != "" {
			fmt.Fprintf(w, "Refresh token:\t%s\n", st.Refresh)
		}
	})
}

func describeExpiry(exp, now time.Time) string {
	stamp := exp.Local().Format(time.RFC3339)
	if !exp.After(now) {
		return fmt.Sprintf("%s (expired, refreshed on next request)", stamp)
	}
	return fmt.Sprintf("%s (in %s)", stamp, exp.Sub(now).Round(time.Second))
}

// TokenCmd prints the current access token for use with other tools,
// refreshing it first when it has expired.
type TokenCmd struct{}

func (t *TokenCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tok, err := a.session.Token()
	if err != nil {
		return errNotSignedIn
	}

	if !tok.Valid() {
		// any authenticated request rotates an expired token
		if _, err := a.session.FetchProfile(ctx); err != nil {
			return err
		}
		if tok, err = a.session.Token(); err != nil {
			return errNotSignedIn
		}
	}

	return globals.printer().Print(map[string]any{
		"access_token": tok.AccessToken,
		"token_type":   tok.TokenType,
		"expiry":       tok.Expiry,
	}, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, tok.AccessToken)
	})
}
