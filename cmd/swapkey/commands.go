package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	cli "github.com/urfave/cli/v2"

	"github.com/alanyoungcy/swapmarket/internal/crypto"
)

var passwordFlag = &cli.StringFlag{
	Name:     "password",
	Usage:    "key file password",
	EnvVars:  []string{"SWAPMARKET_WALLET_KEY_PASSWORD"},
	Required: true,
}

var encryptCmd = &cli.Command{
	Name:      "encrypt",
	Aliases:   []string{"e"},
	Usage:     "Encrypt a hex private key into a key file",
	ArgsUsage: "<output file>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "private-key",
			Usage:    "hex private key, with or without 0x",
			EnvVars:  []string{"SWAPMARKET_WALLET_PRIVATE_KEY"},
			Required: true,
		},
		passwordFlag,
		&cli.BoolFlag{
			Name:  "force",
			Usage: "overwrite an existing file",
		},
	},
	Action: func(c *cli.Context) error {
		out := c.Args().First()
		if out == "" {
			return errors.New("output file is required")
		}
		if _, err := os.Stat(out); err == nil && !c.Bool("force") {
			return fmt.Errorf("%s exists, pass --force to overwrite", out)
		}

		data, err := crypto.EncryptKey(strings.TrimSpace(c.String("private-key")), c.String("password"))
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o600); err != nil {
			return fmt.Errorf("write key file: %w", err)
		}
		addr, err := crypto.KeyFileAddress(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "wrote %s for %s\n", out, addr)
		return nil
	},
}

var addressCmd = &cli.Command{
	Name:      "address",
	Aliases:   []string{"a"},
	Usage:     "Print the account address of a key file",
	ArgsUsage: "<key file>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "verify",
			Usage: "decrypt the key and check it matches the stored address",
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "key file password, needed with --verify",
			EnvVars: []string{"SWAPMARKET_WALLET_KEY_PASSWORD"},
		},
	},
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return errors.New("key file is required")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read key file: %w", err)
		}
		addr, err := crypto.KeyFileAddress(data)
		if err != nil {
			return err
		}

		if c.Bool("verify") {
			key, err := crypto.DecryptKey(data, c.String("password"))
			if err != nil {
				return err
			}
			w, err := crypto.NewWallet(key, 1)
			if err != nil {
				return err
			}
			if !strings.EqualFold(w.Address().Hex(), addr) {
				return fmt.Errorf("key file address %s does not match key %s", addr, w.Address().Hex())
			}
		}
		fmt.Fprintln(c.App.Writer, addr)
		return nil
	},
}
