package main

import (
	"context"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/stockpile/cmd/cli/internal/commands"
	"github.com/wolfeidau/stockpile/internal/config"
	"github.com/wolfeidau/stockpile/internal/logger"
	"github.com/wolfeidau/stockpile/internal/telemetry"
)

var (
	version = "dev"
	cli     struct {
		Signup     commands.SignupCmd     `cmd:"" help:"Create an account"`
		Login      commands.LoginCmd      `cmd:"" help:"Sign in"`
		Logout     commands.LogoutCmd     `cmd:"" help:"Sign out and clear local tokens"`
		Whoami     commands.WhoamiCmd     `cmd:"" help:"Show the signed in user"`
		Onboard    commands.OnboardCmd    `cmd:"" help:"Create your organization"`
		Categories commands.CategoriesCmd `cmd:"" help:"Manage product categories"`
		Status     commands.StatusCmd     `cmd:"" help:"Show the local session"`
		Token      commands.TokenCmd      `cmd:"" help:"Print the current access token"`

		Debug     bool   `help:"Enable debug mode."`
		Profile   string `help:"Session profile name" short:"p"`
		Store     string `help:"Token store (file, redis, memory)"`
		APIURL    string `name:"api-url" help:"Backend API base URL"`
		Output    string `help:"Output format (table, json, yaml)" short:"o" enum:"table,json,yaml" default:"table"`
		Query     string `help:"JMESPath query applied to the output" short:"q"`
		Telemetry bool   `help:"Export metrics over OTLP."`
		Version   kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))

	// flags override the environment
	cfg.Debug = cfg.Debug || cli.Debug
	cfg.Telemetry = cfg.Telemetry || cli.Telemetry
	if cli.Profile != "" {
		cfg.Profile = cli.Profile
	}
	if cli.Store != "" {
		cfg.Store.Kind = cli.Store
	}
	if cli.APIURL != "" {
		cfg.API.BaseURL = cli.APIURL
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		cmd.FatalIfErrorf(err)
	}

	log.Logger = logger.Setup(cfg.Debug)

	shutdown := func(context.Context) error { return nil }
	if cfg.Telemetry {
		if shutdown, err = telemetry.InitTelemetry(ctx, "stockpile-cli", version); err != nil {
			log.Warn().Err(err).Msg("failed to initialize telemetry, continuing without metrics")
			shutdown = func(context.Context) error { return nil }
		}
	}

	err = cmd.Run(&commands.Globals{
		Debug:   cfg.Debug,
		Version: version,
		Config:  cfg,
		Output:  cli.Output,
		Query:   cli.Query,
	})

	// flush metrics before a failure exits the process
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if serr := shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("failed to shutdown telemetry")
	}
	cancel()

	cmd.FatalIfErrorf(err)
}
