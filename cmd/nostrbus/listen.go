package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/bus"
	"fiatjaf.com/nostrbus/dispatch"
	"fiatjaf.com/nostrbus/kvstore"
	boltstore "fiatjaf.com/nostrbus/kvstore/bbolt"
	"fiatjaf.com/nostrbus/kvstore/memory"
	"fiatjaf.com/nostrbus/metrics"
	"fiatjaf.com/nostrbus/nip19"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
)

var listen = &cli.Command{
	Name:  "listen",
	Usage: "prints incoming direct messages until interrupted",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "echo",
			Usage: "answer every message with its own text",
		},
		&cli.DurationFlag{
			Name:  "lookback",
			Usage: "how far back to look for messages when there is no saved state",
			Value: bus.DefaultLookback,
		},
		&cli.StringFlag{
			Name:  "metrics",
			Usage: "address to serve prometheus metrics on, e.g. 127.0.0.1:9108",
		},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		if err := requireConfigured(); err != nil {
			return err
		}
		if !account.Enabled {
			return fmt.Errorf("account '%s' is disabled", account.ID)
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		state, err := openState(c.String("state"))
		if err != nil {
			return err
		}
		defer state.Close()

		var onMetric func(metrics.Metric)
		if addr := c.String("metrics"); addr != "" {
			reg := prometheus.NewRegistry()
			prom, err := metrics.NewPrometheus(reg, account.ID)
			if err != nil {
				return err
			}
			onMetric = prom.Record
			srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("metrics server failed")
				}
			}()
			defer srv.Close()
		}

		adapter := &dispatch.Adapter{
			AccountID:  account.ID,
			Self:       account.PublicKey,
			Dispatcher: printer{echo: c.Bool("echo")},
			Logger:     &log,
		}
		if len(account.AllowFrom) > 0 {
			adapter.Authorized = func(pk nostr.PubKey) bool { return slices.Contains(account.AllowFrom, pk) }
		}

		b, err := bus.Start(ctx, bus.Options{
			SecretKey:     account.SecretKey.Hex(),
			Relays:        account.Relays,
			AccountID:     account.ID,
			Lookback:      c.Duration("lookback"),
			PublishQuorum: account.PublishQuorum,
			Scheme:        account.Scheme,
			State:         state,
			Logger:        &log,
			OnMessage:     adapter.Handle,
			OnMetric:      onMetric,
			OnError: func(err error, where string) {
				log.Warn().Err(err).Str("where", where).Msg("")
			},
			OnConnect: func(relay string) { log.Info().Str("relay", relay).Msg("connected") },
			OnDisconnect: func(relay string) {
				log.Info().Str("relay", relay).Msg("disconnected")
			},
			OnEose: func(relay string) { log.Debug().Str("relay", relay).Msg("caught up") },
		})
		if err != nil {
			return err
		}

		log.Info().Str("npub", nip19.EncodeNpub(b.PublicKey())).Msg("listening")
		<-ctx.Done()

		done := make(chan struct{})
		go func() {
			b.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			return errors.New("timed out closing the bus")
		}
		return nil
	},
}

// printer writes messages to stdout and optionally echoes them back.
type printer struct {
	echo bool
}

func (p printer) Dispatch(ctx context.Context, in dispatch.InboundContext, deliver dispatch.Deliver) error {
	from := in.From
	if pk, err := nostr.PubKeyFromHex(in.From); err == nil {
		from = nip19.EncodeNpub(pk)
	}
	fmt.Printf("[%s] %s: %s\n", in.Timestamp.Format(time.DateTime), from, in.Body)
	if !p.echo {
		return nil
	}
	return deliver(ctx, in.Body)
}

func openState(path string) (kvstore.KVStore, error) {
	if path == "" {
		return memory.NewStore(), nil
	}
	return boltstore.NewStore(path)
}
