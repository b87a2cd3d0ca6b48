package main

import (
	"os"

	"github.com/cobbzilla/mediagoblin/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
