package main

import (
	"os"
	"runtime/debug"

	"github.com/runnerr0/procedura/internal/cli"
)

var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	// go-flags has already printed the error
	if err := cli.Run(version); err != nil {
		os.Exit(1)
	}
}
