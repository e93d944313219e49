package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/stockpile/internal/api"
	"github.com/wolfeidau/stockpile/internal/onboarding"
)

type OnboardCmd struct {
	Organization string `help:"Organization name"`
	Address      string `help:"Street address"`
	City         string `help:"City"`
	State        string `help:"State or region"`
	ZipCode      string `help:"Postal code" name:"zip-code"`
	Country      string `help:"Country"`
	FirstName    string `help:"First name, defaults to the profile"`
	LastName     string `help:"Last name, defaults to the profile"`
}

func (o *OnboardCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.gate.Evaluate(ctx, onboarding.OnboardRoute)
	if err != nil {
		return err
	}
	switch {
	case d.Target == onboarding.LoginRoute:
		return errNotSignedIn
	case d.Target == onboarding.HomeRoute:
		globals.printer().Message("Onboarding is already complete.")
		return nil
	}

	if profile := a.session.Snapshot().Profile; profile != nil {
		if o.FirstName == "" {
			o.FirstName = profile.FirstName
		}
		if o.LastName == "" {
			o.LastName = profile.LastName
		}
	}

	if err := promptMissing(
		field{Title: "Organization name", Value: &o.Organization, Validate: notBlank},
		field{Title: "Address", Value: &o.Address, Validate: notBlank},
		field{Title: "City", Value: &o.City, Validate: notBlank},
		field{Title: "State", Value: &o.State, Validate: notBlank},
		field{Title: "Zip code", Value: &o.ZipCode, Validate: notBlank},
		field{Title: "Country", Value: &o.Country, Validate: notBlank},
		field{Title: "First name", Value: &o.FirstName, Validate: notBlank},
		field{Title: "Last name", Value: &o.LastName, Validate: notBlank},
	); err != nil {
		return err
	}

	d, err = a.gate.Complete(ctx, api.OnboardRequest{
		OrganizationName: o.Organization,
		Address:          o.Address,
		City:             o.City,
		State:            o.State,
		ZipCode:          o.ZipCode,
		Country:          o.Country,
		FirstName:        o.FirstName,
		LastName:         o.LastName,
	})
	if err != nil {
		return err
	}
	if d.Action != onboarding.Allow {
		return fmt.Errorf("onboarding submitted but the session is not ready: %s", d)
	}

	return printProfile(globals.printer(), a.session.Snapshot().Profile)
}
