package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/profilehttp"
	"github.com/urfave/cli/v3"
)

var serve = &cli.Command{
	Name:  "serve",
	Usage: "serves the account profiles over http",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "address to listen on",
			Value: "127.0.0.1:8089",
		},
		&cli.StringSliceFlag{
			Name:  "origin",
			Usage: "allowed CORS origin, can be repeated; any origin when not given",
		},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		pool := nostr.NewPool(ctx, nostr.PoolOptions{})
		defer pool.Close("shutting down")

		handler := (&profilehttp.Server{
			Source:         source,
			Channel:        c.String("channel"),
			Pool:           pool,
			AllowedOrigins: c.StringSlice("origin"),
			Logger:         &log,
		}).Handler()

		srv := &http.Server{Addr: c.String("listen"), Handler: handler}
		go func() {
			<-ctx.Done()
			srv.Close()
		}()

		log.Info().Str("addr", srv.Addr).Msg("serving profiles")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}
