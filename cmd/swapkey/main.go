// Command swapkey manages the encrypted key file that swapmarket signs
// purchases with.
package main

import (
	"fmt"
	"os"

	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "swapkey: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "swapkey",
		Usage: "encrypt and inspect swapmarket wallet key files",
		Commands: cli.Commands{
			encryptCmd,
			addressCmd,
		},
	}
}
