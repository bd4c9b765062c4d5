// Package main provides the feedctl command-line tool.
package main

import (
	"os"

	"github.com/lvonguyen/feedforge/internal/cli"
)

// Version information (injected at build time via ldflags)
var Version = "dev"

func main() {
	if err := cli.NewRootCmd(cli.Options{Version: Version}).Execute(); err != nil {
		os.Exit(1)
	}
}
