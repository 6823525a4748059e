package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/config"
	"fiatjaf.com/nostrbus/nip05"
	"fiatjaf.com/nostrbus/profile"
	"github.com/urfave/cli/v3"
)

var profileCmd = &cli.Command{
	Name:  "profile",
	Usage: "shows or publishes the account's kind 0 profile",
	Commands: []*cli.Command{
		{
			Name:  "show",
			Usage: "prints the signed profile event that would be published",
			Action: func(ctx context.Context, c *cli.Command) error {
				if err := requireConfigured(); err != nil {
					return err
				}
				evt, err := profile.CreateProfileEvent(account.SecretKey, account.Profile)
				if err != nil {
					return err
				}
				fmt.Println(evt)
				return nil
			},
		},
		{
			Name:  "verify",
			Usage: "checks that the profile's nip05 identifier points to this account",
			Action: func(ctx context.Context, c *cli.Command) error {
				if err := requireConfigured(); err != nil {
					return err
				}
				if account.Profile.NIP05 == nil || *account.Profile.NIP05 == "" {
					return fmt.Errorf("profile has no nip05 identifier")
				}
				id := *account.Profile.NIP05
				if err := (nip05.Resolver{}).Verify(ctx, id, account.PublicKey); err != nil {
					return err
				}
				fmt.Println(id, "verified")
				return nil
			},
		},
		{
			Name:  "publish",
			Usage: "publishes the profile to every relay, optionally updating fields first",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name"},
				&cli.StringFlag{Name: "display-name"},
				&cli.StringFlag{Name: "about"},
				&cli.StringFlag{Name: "picture"},
				&cli.StringFlag{Name: "banner"},
				&cli.StringFlag{Name: "website"},
				&cli.StringFlag{Name: "nip05"},
				&cli.StringFlag{Name: "lud16"},
				&cli.DurationFlag{
					Name:  "timeout",
					Usage: "per relay timeout",
					Value: profile.DefaultTimeout,
				},
			},
			Action: func(ctx context.Context, c *cli.Command) error {
				if err := requireConfigured(); err != nil {
					return err
				}

				update := nostr.Profile{}
				for flag, field := range map[string]**string{
					"name":         &update.Name,
					"display-name": &update.DisplayName,
					"about":        &update.About,
					"picture":      &update.Picture,
					"banner":       &update.Banner,
					"website":      &update.Website,
					"nip05":        &update.NIP05,
					"lud16":        &update.LUD16,
				} {
					if c.IsSet(flag) {
						v := c.String(flag)
						*field = &v
					}
				}
				p := account.Profile
				if !update.IsEmpty() {
					p = p.Merge(update)
					if err := config.WriteProfile(source, c.String("channel"), account.ID, p); err != nil {
						return err
					}
				}

				pool := nostr.NewPool(ctx, nostr.PoolOptions{})
				defer pool.Close("done")

				start := time.Now()
				res, err := profile.Publish(ctx, pool, account.SecretKey, account.Relays, p,
					profile.Options{Timeout: c.Duration("timeout")})
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "event\t%s\n", res.EventID.Hex())
				for _, url := range res.Successes {
					fmt.Fprintf(w, "%s\tok\n", url)
				}
				for _, f := range res.Failures {
					fmt.Fprintf(w, "%s\tfailed: %s\n", f.Relay, f.Err)
				}
				w.Flush()

				log.Info().Int("ok", len(res.Successes)).Int("failed", len(res.Failures)).
					Dur("took", time.Since(start)).Msg("published")
				if len(res.Successes) == 0 {
					return fmt.Errorf("no relay accepted the profile")
				}
				return nil
			},
		},
	},
}
