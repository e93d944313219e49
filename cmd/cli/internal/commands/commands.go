package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/stockpile/internal/api"
	"github.com/wolfeidau/stockpile/internal/client"
	"github.com/wolfeidau/stockpile/internal/config"
	"github.com/wolfeidau/stockpile/internal/onboarding"
	"github.com/wolfeidau/stockpile/internal/session"
	"github.com/wolfeidau/stockpile/internal/tokenstore"
)

var (
	errNotSignedIn        = errors.New("not signed in, run `stockpile-cli login`")
	errOnboardingRequired = errors.New("onboarding required, run `stockpile-cli onboard`")
)

type Globals struct {
	Debug   bool
	Version string
	Config  config.Config
	Output  string
	Query   string

	// Stdout receives command output, os.Stdout when nil.
	Stdout io.Writer
}

func (g *Globals) printer() *Printer {
	out := g.Stdout
	if out == nil {
		out = os.Stdout
	}
	return &Printer{Format: g.Output, Query: g.Query, Out: out}
}

// app is the per invocation wiring of store, client, session and gate.
type app struct {
	tokens  *tokenstore.Store
	api     *api.Service
	session *session.Manager
	gate    *onboarding.Gate
	closers []func() error
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("failed to close")
		}
	}
}

func (g *Globals) open(ctx context.Context) (*app, error) {
	a := &app{}

	backend, err := g.backend(a)
	if err != nil {
		return nil, err
	}

	a.tokens = tokenstore.New(backend)
	a.api = api.New(client.New(g.Config.Client(), a.tokens))
	a.session = session.New(ctx, a.api)
	a.gate = onboarding.New(a.session, a.api)

	return a, nil
}

func (g *Globals) backend(a *app) (tokenstore.Backend, error) {
	cfg := g.Config.Store

	switch cfg.Kind {
	case config.StoreMemory:
		return tokenstore.NewMemoryBackend(), nil
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, rdb.Close)
		return tokenstore.NewRedisBackend(rdb, g.Config.Profile, cfg.RedisTTL), nil
	default:
		b, err := tokenstore.NewFileBackend(cfg.Dir, g.Config.Profile)
		if err != nil {
			return nil, fmt.Errorf("failed to open token store: %w", err)
		}
		return b, nil
	}
}

// require evaluates the onboarding gate for route and turns a redirect into
// an instruction for the user.
func (a *app) require(ctx context.Context, route string) error {
	d, err := a.gate.Evaluate(ctx, route)
	if err != nil {
		return err
	}

	switch {
	case d.Action == onboarding.Allow:
		return nil
	case d.Target == onboarding.LoginRoute:
		return errNotSignedIn
	case d.Target == onboarding.OnboardRoute:
		return errOnboardingRequired
	default:
		return fmt.Errorf("cannot open %s: %s", route, d)
	}
}
