package main

import (
	"os"

	"github.com/herculesinc/credo.rate-limiter/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
