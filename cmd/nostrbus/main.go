package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/config"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

var (
	log     = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stderr })).With().Timestamp().Logger()
	source  config.Source
	account config.Account
)

var app = &cli.Command{
	Name:      "nostrbus",
	Usage:     "receive and send nostr direct messages for a configured account",
	UsageText: "nostrbus [--config path] [--account id] <listen|serve|profile|relays|keys> ...",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to the json configuration file",
			Value:   defaultConfigPath(),
		},
		&cli.StringFlag{
			Name:  "channel",
			Usage: "key under 'channels' holding the nostr configuration",
			Value: config.DefaultChannel,
		},
		&cli.StringFlag{
			Name:    "account",
			Aliases: []string{"a"},
			Usage:   "account id",
			Value:   config.DefaultAccountID,
		},
		&cli.StringFlag{
			Name:  "state",
			Usage: "path to the state file keeping the subscription cursor, in memory when empty",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "print debug logs, including relay traffic",
		},
	},
	Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
		level := zerolog.InfoLevel
		if c.Bool("verbose") {
			level = zerolog.DebugLevel
		}
		log = log.Level(level)
		nostr.SetLogger(log.With().Str("component", "relay").Logger())

		source = config.File{Path: c.String("config")}
		acc, err := config.ResolveAccount(source, c.String("channel"), c.String("account"))
		if err != nil {
			return ctx, err
		}
		account = acc
		return ctx, nil
	},
	Commands: []*cli.Command{
		listen,
		serve,
		profileCmd,
		relays,
		keys,
	},
}

func main() {
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "nostrbus.json"
	}
	return filepath.Join(home, ".config", "nostrbus", "config.json")
}

func requireConfigured() error {
	if !account.Configured {
		return fmt.Errorf("account '%s' has no privateKey configured", account.ID)
	}
	return nil
}
