package main

import (
	"os"

	"github.com/exef-io/exef/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
