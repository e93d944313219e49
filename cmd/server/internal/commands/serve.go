package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/stockpile/internal/fakeapi"
	"github.com/wolfeidau/stockpile/internal/logger"
	"github.com/wolfeidau/stockpile/internal/models"
	"github.com/wolfeidau/stockpile/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd runs the development backend.
type ServeCmd struct {
	Listen string `help:"HTTP server listen address" default:"localhost:8000" env:"STOCKPILE_LISTEN"`
	Cert   string `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"STOCKPILE_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"STOCKPILE_TLS_KEY"`

	SigningKey     string        `help:"access token signing key, random when empty" default:"" env:"STOCKPILE_SIGNING_KEY"`
	AccessTTL      time.Duration `help:"access token lifetime" default:"5m" env:"STOCKPILE_ACCESS_TTL"`
	CategoryMaxAge time.Duration `help:"Cache-Control max-age of category listings" default:"30s" env:"STOCKPILE_CATEGORY_MAX_AGE"`
	CORSOrigins    []string      `help:"allowed CORS origins" default:"http://localhost:3000" env:"STOCKPILE_CORS_ORIGINS"`

	Seed      []string `help:"seed accounts as email:password[:organization]" env:"STOCKPILE_SEED"`
	Telemetry bool     `help:"export metrics over OTLP" default:"false" env:"STOCKPILE_TELEMETRY"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Telemetry {
		shutdown, err := telemetry.InitTelemetry(ctx, "stockpile-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	cfg := fakeapi.DefaultConfig()
	cfg.SigningKey = []byte(c.SigningKey)
	cfg.AccessTTL = c.AccessTTL
	cfg.CategoryMaxAge = c.CategoryMaxAge
	cfg.AllowedOrigins = c.CORSOrigins
	cfg.Logger = log

	backend, err := fakeapi.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}

	if err := seedAccounts(backend, c.Seed, log); err != nil {
		return err
	}

	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS requires both --cert and --key")
	}

	srv := configureHTTPServer(c.Listen, backend)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Str("base_path", fakeapi.BasePath).Bool("tls", c.Cert != "").Msg("Listening")
		if c.Cert != "" {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// seedAccounts creates accounts from email:password[:organization] values.
// An organization marks the account as onboarded.
func seedAccounts(backend *fakeapi.Server, seeds []string, log zerolog.Logger) error {
	for _, seed := range seeds {
		parts := strings.SplitN(seed, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid seed %q, expected email:password[:organization]", seed)
		}

		email, password := parts[0], parts[1]
		first, _, _ := strings.Cut(email, "@")

		profile, err := backend.SeedUser(first, "User", email, password)
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", email, err)
		}

		if len(parts) == 3 && parts[2] != "" {
			if _, err := backend.SeedOrganization(profile.ID.String(), models.Organization{Name: parts[2]}); err != nil {
				return fmt.Errorf("failed to seed organization for %s: %w", email, err)
			}
		}

		log.Info().Str("email", email).Bool("onboarded", len(parts) == 3 && parts[2] != "").Msg("Seeded account")
	}

	return nil
}
