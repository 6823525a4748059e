package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"text/tabwriter"

	"fiatjaf.com/nostrbus/nip11"
	"github.com/urfave/cli/v3"
)

var relays = &cli.Command{
	Name:  "relays",
	Usage: "shows what each configured relay says about itself",
	Action: func(ctx context.Context, c *cli.Command) error {
		infos := make([]nip11.RelayInformationDocument, len(account.Relays))
		errs := make([]error, len(account.Relays))

		wg := sync.WaitGroup{}
		for i, url := range account.Relays {
			wg.Add(1)
			go func() {
				defer wg.Done()
				infos[i], errs[i] = nip11.Fetch(ctx, url)
			}()
		}
		wg.Wait()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "relay\tname\tdms\tauth")
		for i, info := range infos {
			if errs[i] != nil {
				fmt.Fprintf(w, "%s\t(%s)\t?\t?\n", info.URL, errs[i])
				continue
			}
			auth := info.Limitation != nil && info.Limitation.AuthRequired
			fmt.Fprintf(w, "%s\t%s\t%v\t%v\n", info.URL, info.Name, info.Supports(4), auth)
		}
		return w.Flush()
	},
}
