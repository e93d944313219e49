package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/wolfeidau/stockpile/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode." env:"STOCKPILE_DEBUG"`
		Version kong.VersionFlag
		Serve   commands.ServeCmd `cmd:"" help:"Start the development backend API"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
