package main

import (
	"context"
	"fmt"

	"fiatjaf.com/nostrbus/nip19"
	"github.com/urfave/cli/v3"
)

var keys = &cli.Command{
	Name:  "keys",
	Usage: "prints the public key of the configured account",
	Action: func(ctx context.Context, c *cli.Command) error {
		if err := requireConfigured(); err != nil {
			return err
		}
		fmt.Println("hex: ", account.PublicKey.Hex())
		fmt.Println("npub:", nip19.EncodeNpub(account.PublicKey))
		return nil
	},
}
