package main

import (
	"os"

	"github.com/modelpilot/modelpilot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
